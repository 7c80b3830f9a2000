package daemon

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/ylcn91/agentctl/pkg/config"
	"github.com/ylcn91/agentctl/pkg/log"
	"github.com/ylcn91/agentctl/pkg/metrics"
)

// Options tunes daemon startup.
type Options struct {
	BaseDir  string
	LogLevel log.Level
	// LogToFile redirects logging to <baseDir>/daemon.log; the supervisor
	// and foreground runs keep stdout.
	LogToFile bool
}

// Run starts the daemon and blocks until SIGINT/SIGTERM. It owns the pid
// file and, when requested, the log file.
func Run(opts Options) error {
	baseDir := opts.BaseDir
	if baseDir == "" {
		var err error
		baseDir, err = config.BaseDir()
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return fmt.Errorf("create base dir: %w", err)
	}

	logCfg := log.Config{Level: opts.LogLevel, JSONOutput: true}
	var logFile *os.File
	if opts.LogToFile {
		f, err := os.OpenFile(filepath.Join(baseDir, "daemon.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open daemon.log: %w", err)
		}
		logFile = f
		logCfg.Output = f
	}
	log.Init(logCfg)
	if logFile != nil {
		defer logFile.Close()
	}

	if err := config.Migrate(config.Path(baseDir)); err != nil {
		return fmt.Errorf("migrate config: %w", err)
	}

	pidPath := filepath.Join(baseDir, "daemon.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	metrics.Register()

	d, err := New(baseDir)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.StartBackground(); err != nil {
		return err
	}

	srv, err := NewServer(d)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		lg := log.WithComponent("daemon")
		lg.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Shutdown()
	}()

	return srv.Serve()
}
