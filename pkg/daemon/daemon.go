package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ylcn91/agentctl/pkg/config"
	"github.com/ylcn91/agentctl/pkg/council"
	"github.com/ylcn91/agentctl/pkg/engine"
	"github.com/ylcn91/agentctl/pkg/events"
	"github.com/ylcn91/agentctl/pkg/log"
	"github.com/ylcn91/agentctl/pkg/session"
	"github.com/ylcn91/agentctl/pkg/sla"
	"github.com/ylcn91/agentctl/pkg/store"
	"github.com/ylcn91/agentctl/pkg/workflow"
	"github.com/ylcn91/agentctl/pkg/workspace"
)

const (
	sessionSweepInterval = 30 * time.Second
	sessionPurgeAfter    = 30 * time.Minute
)

// Daemon wires every subsystem over one base directory.
type Daemon struct {
	BaseDir string

	Messages   *store.MessageStore
	Tasks      *store.TaskStore
	Workspaces *store.WorkspaceStore
	Caps       *store.CapabilityStore
	Knowledge  *store.KnowledgeStore
	SessionDB  *store.SessionStore
	Activity   *store.ActivityStore
	Workflows  *store.WorkflowStore
	Retro      *store.RetroStore
	Trust      *store.TrustStore
	Receipts   *store.ReceiptStore
	Bundles    *store.BundleStore
	Prompts    *store.ScratchStore
	Clipboard  *store.ScratchStore
	Templates  *store.ScratchStore

	Bus       *events.Bus
	Engine    *engine.Engine
	Sessions  *session.Manager
	Worktrees *workspace.Manager
	SLA       *sla.Coordinator
	Runner    *workflow.Executor
	Council   *council.Council

	mu      sync.RWMutex
	cfg     *config.Config
	watcher *config.Watcher
	stopCh  chan struct{}
	stopped sync.Once
}

// New builds the full daemon graph under baseDir. Store open failures are
// fatal; the caller exits.
func New(baseDir string) (*Daemon, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "tokens"), 0o700); err != nil {
		return nil, fmt.Errorf("create tokens dir: %w", err)
	}

	cfg, err := config.Load(config.Path(baseDir))
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		BaseDir: baseDir,
		Bus:     events.NewBus(),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}

	type opener struct {
		name string
		open func() error
	}
	stores := []opener{
		{"messages", func() (err error) { d.Messages, err = store.NewMessageStore(baseDir); return }},
		{"tasks", func() (err error) { d.Tasks, err = store.NewTaskStore(baseDir); return }},
		{"workspaces", func() (err error) { d.Workspaces, err = store.NewWorkspaceStore(baseDir); return }},
		{"capabilities", func() (err error) { d.Caps, err = store.NewCapabilityStore(baseDir); return }},
		{"knowledge", func() (err error) { d.Knowledge, err = store.NewKnowledgeStore(baseDir); return }},
		{"sessions", func() (err error) { d.SessionDB, err = store.NewSessionStore(baseDir); return }},
		{"activity", func() (err error) { d.Activity, err = store.NewActivityStore(baseDir); return }},
		{"workflow", func() (err error) { d.Workflows, err = store.NewWorkflowStore(baseDir); return }},
		{"retro", func() (err error) { d.Retro, err = store.NewRetroStore(baseDir); return }},
		{"trust", func() (err error) { d.Trust, err = store.NewTrustStore(baseDir); return }},
		{"receipts", func() (err error) { d.Receipts, err = store.NewReceiptStore(baseDir); return }},
		{"bundles", func() (err error) { d.Bundles, err = store.NewBundleStore(baseDir); return }},
		{"prompts", func() (err error) { d.Prompts, err = store.NewScratchStore(baseDir, "prompts.json"); return }},
		{"clipboard", func() (err error) { d.Clipboard, err = store.NewScratchStore(baseDir, "clipboard.json"); return }},
		{"templates", func() (err error) { d.Templates, err = store.NewScratchStore(baseDir, "handoff-templates.json"); return }},
	}
	for _, o := range stores {
		if err := o.open(); err != nil {
			return nil, fmt.Errorf("open %s store: %w", o.name, err)
		}
	}

	d.Engine = engine.New(d.Config)
	d.Engine.Messages = d.Messages
	d.Engine.Tasks = d.Tasks
	d.Engine.Trust = d.Trust
	d.Engine.Receipts = d.Receipts
	d.Engine.Caps = d.Caps
	d.Engine.Activity = d.Activity
	d.Engine.Bus = d.Bus

	d.Sessions = session.NewManager()
	d.Worktrees = workspace.NewManager(baseDir, d.Workspaces)
	d.SLA = sla.NewCoordinator(d.Tasks, d.Engine, d.Bus)
	d.Runner = workflow.NewExecutor(filepath.Join(baseDir, "workflows"), d.Workflows, d.Engine.Runner)

	councilCache, err := store.NewScratchStore(baseDir, "council-cache.json")
	if err != nil {
		return nil, fmt.Errorf("open council cache: %w", err)
	}
	d.Council = council.New(d.Config, d.Engine.Runner, councilCache)

	d.subscribeActivity()
	d.subscribeHooks()
	return d, nil
}

// Config returns the live configuration. The watcher swaps it atomically.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// ReloadConfig re-reads the config file and swaps the live copy.
func (d *Daemon) ReloadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Path(d.BaseDir))
	if err != nil {
		return nil, err
	}
	d.swapConfig(cfg)
	return cfg, nil
}

func (d *Daemon) swapConfig(cfg *config.Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	lg := log.WithComponent("daemon")
	lg.Info().Msg("configuration reloaded")
}

// StartBackground launches the periodic loops: the SLA scan, the live-session
// sweeps, and the config watcher.
func (d *Daemon) StartBackground() error {
	if d.Config().FeatureSet().SLAEngine {
		d.SLA.Start()
	}

	go d.sessionSweeper()

	w, err := config.NewWatcher(config.Path(d.BaseDir), d.swapConfig)
	if err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	d.watcher = w
	return nil
}

func (d *Daemon) sessionSweeper() {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	logger := log.WithComponent("sessions")
	for {
		select {
		case <-ticker.C:
			if n := d.Sessions.CleanupStale(); n > 0 {
				logger.Info().Int("count", n).Msg("stale sessions deactivated")
			}
			if n := d.Sessions.PurgeInactive(sessionPurgeAfter); n > 0 {
				logger.Debug().Int("count", n).Msg("inactive sessions purged")
			}
		case <-d.stopCh:
			return
		}
	}
}

// Close stops the loops and releases every store handle.
func (d *Daemon) Close() {
	d.stopped.Do(func() {
		close(d.stopCh)
		if d.watcher != nil {
			d.watcher.Stop()
		}
		d.SLA.Stop()

		for _, c := range []interface{ Close() error }{
			d.Messages, d.Workspaces, d.Caps, d.Knowledge, d.SessionDB,
			d.Activity, d.Workflows, d.Retro, d.Trust, d.Receipts,
		} {
			if err := c.Close(); err != nil {
				lg := log.WithComponent("daemon")
				lg.Warn().Err(err).Msg("store close failed")
			}
		}
	})
}
