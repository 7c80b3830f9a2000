package engine

import (
	"sync"

	"github.com/ylcn91/agentctl/pkg/config"
	"github.com/ylcn91/agentctl/pkg/events"
	"github.com/ylcn91/agentctl/pkg/store"
)

// Engine couples the stores with the task/handoff rules. All mutating
// methods are safe for concurrent use; per-store locking serialises state.
type Engine struct {
	// ConfigFn returns the live configuration; the daemon swaps it on
	// config reload.
	ConfigFn func() *config.Config

	// MaxDepthOverride is the explicit handler config for delegation depth.
	// Zero means unset; precedence is override > config file > default.
	MaxDepthOverride int

	Messages *store.MessageStore
	Tasks    *store.TaskStore
	Trust    *store.TrustStore
	Receipts *store.ReceiptStore
	Caps     *store.CapabilityStore
	Activity *store.ActivityStore
	Bus      *events.Bus

	// Runner executes auto-acceptance commands. Swappable in tests.
	Runner CommandRunner

	mu       sync.Mutex
	reauth   map[string]int // delegator->delegatee single-use depth grants
	progress map[string]Progress
	breakers *breakerSet
}

// New wires an engine over its stores.
func New(cfgFn func() *config.Config) *Engine {
	return &Engine{
		ConfigFn: cfgFn,
		Runner:   execRunner{},
		reauth:   make(map[string]int),
		progress: make(map[string]Progress),
		breakers: newBreakerSet(),
	}
}

func (e *Engine) cfg() *config.Config {
	if e.ConfigFn == nil {
		return config.Default()
	}
	return e.ConfigFn()
}

// maxDelegationDepth resolves the effective depth limit: explicit handler
// config, then the config file, then the built-in default.
func (e *Engine) maxDelegationDepth() int {
	if e.MaxDepthOverride > 0 {
		return e.MaxDepthOverride
	}
	return e.cfg().MaxDelegationDepth()
}
