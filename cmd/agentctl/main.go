package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ylcn91/agentctl/pkg/client"
	"github.com/ylcn91/agentctl/pkg/config"
	"github.com/ylcn91/agentctl/pkg/daemon"
	"github.com/ylcn91/agentctl/pkg/log"
	"github.com/ylcn91/agentctl/pkg/supervisor"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Agentctl - Local coordination hub for coding agents",
	Long: `Agentctl runs a local daemon that coordinates multiple coding agents:
messaging, task handoffs, workspaces, trust, and shared sessions,
served over a UNIX socket with newline-delimited JSON.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Agentctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("dir", "", "base directory (default $AGENTCTL_DIR or ~/.agentctl)")

	daemonCmd.Flags().String("log-level", "info", "log level (debug|info|warn|error)")
	daemonCmd.Flags().Bool("log-file", false, "log to <dir>/daemon.log instead of stdout")

	superviseCmd.Flags().String("log-level", "info", "log level passed to the daemon")

	statusCmd.Flags().String("account", "", "account to authenticate as (required)")
	reloadCmd.Flags().String("account", "", "account to authenticate as (required)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(superviseCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reloadCmd)
}

func baseDirFlag(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("dir")
	if dir != "" {
		return dir, nil
	}
	return config.BaseDir()
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the hub daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		level, _ := cmd.Flags().GetString("log-level")
		toFile, _ := cmd.Flags().GetBool("log-file")
		return daemon.Run(daemon.Options{
			BaseDir:   dir,
			LogLevel:  log.Level(level),
			LogToFile: toFile,
		})
	},
}

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Run the daemon under a restarting supervisor",
	Long: `Start the daemon as a child process and restart it after crashes with
exponential backoff. Gives up when crashes cluster too tightly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %v", err)
		}

		level, _ := cmd.Flags().GetString("log-level")
		argv := []string{self, "daemon", "--log-level", level, "--log-file"}
		if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
			argv = append(argv, "--dir", dir)
		}

		log.Init(log.Config{Level: log.Level(level)})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		return supervisor.New(argv).Run(ctx)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <account>",
	Short: "Mint an authentication token for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account := args[0]
		dir, err := baseDirFlag(cmd)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Join(dir, "tokens"), 0o700); err != nil {
			return fmt.Errorf("create tokens dir: %v", err)
		}

		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generate token: %v", err)
		}
		token := hex.EncodeToString(raw)

		path := config.TokenPath(dir, account)
		if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
			return fmt.Errorf("write token: %v", err)
		}

		fmt.Printf("Token for %s written to %s\n", account, path)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and board summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := hubRequest(cmd, "health_status")
		if err != nil {
			return err
		}
		return printJSON(reply)
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask the daemon to re-read its config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := hubRequest(cmd, "config_reload")
		if err != nil {
			return err
		}
		return printJSON(reply)
	},
}

func hubRequest(cmd *cobra.Command, reqType string) (map[string]any, error) {
	account, _ := cmd.Flags().GetString("account")
	if account == "" {
		return nil, fmt.Errorf("--account is required")
	}
	dir, err := baseDirFlag(cmd)
	if err != nil {
		return nil, err
	}

	c, err := client.Dial(dir, account)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if reqType == "config_reload" {
		return c.ReloadConfig()
	}
	return c.Request(reqType, nil, client.DefaultTimeout)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
