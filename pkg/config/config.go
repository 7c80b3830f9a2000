package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ylcn91/agentctl/pkg/types"
)

// CurrentSchemaVersion is written by migrations.
const CurrentSchemaVersion = 3

// DefaultMaxDelegationDepth applies when neither the handler config nor the
// config file sets a limit.
const DefaultMaxDelegationDepth = 3

// Features is the closed set of feature flags. All default to off.
type Features struct {
	WorkspaceWorktree bool `json:"workspaceWorktree,omitempty"`
	AutoAcceptance    bool `json:"autoAcceptance,omitempty"`
	CapabilityRouting bool `json:"capabilityRouting,omitempty"`
	SLAEngine         bool `json:"slaEngine,omitempty"`
	GithubIntegration bool `json:"githubIntegration,omitempty"`
	ReviewBundles     bool `json:"reviewBundles,omitempty"`
	KnowledgeIndex    bool `json:"knowledgeIndex,omitempty"`
	Reliability       bool `json:"reliability,omitempty"`
	Workflow          bool `json:"workflow,omitempty"`
	Retro             bool `json:"retro,omitempty"`
	Sessions          bool `json:"sessions,omitempty"`
	Trust             bool `json:"trust,omitempty"`
	Council           bool `json:"council,omitempty"`
	CircuitBreaker    bool `json:"circuitBreaker,omitempty"`
	CognitiveFriction bool `json:"cognitiveFriction,omitempty"`
	EntireMonitoring  bool `json:"entireMonitoring,omitempty"`
}

// Defaults holds account-independent behaviour defaults.
type Defaults struct {
	LaunchInNewWindow  bool               `json:"launchInNewWindow"`
	QuotaPolicy        *types.QuotaPolicy `json:"quotaPolicy,omitempty"`
	MaxDelegationDepth *int               `json:"maxDelegationDepth,omitempty"`
}

// DelegationDepth mirrors the legacy delegationDepth sub-object.
type DelegationDepth struct {
	MaxDepth int `json:"maxDepth,omitempty"`
}

// Entire controls entire-session monitoring.
type Entire struct {
	AutoEnable bool `json:"autoEnable"`
}

// Notifications configures OS notification delivery.
type Notifications struct {
	Enabled bool   `json:"enabled"`
	Sound   string `json:"sound,omitempty"`
}

// GitHub configures the post-acceptance GitHub hook.
type GitHub struct {
	Enabled bool   `json:"enabled"`
	Repo    string `json:"repo,omitempty"`
	Remote  string `json:"remote,omitempty"`
}

// Council configures the multi-model review council.
type Council struct {
	Reviewers []CouncilReviewer `json:"reviewers,omitempty"`
	Quorum    int               `json:"quorum,omitempty"`
}

// CouncilReviewer is one model invocation: an argv-style command.
type CouncilReviewer struct {
	Name    string   `json:"name"`
	Command []string `json:"command"`
}

// Config is the versioned daemon configuration.
type Config struct {
	SchemaVersion   int             `json:"schemaVersion"`
	Accounts        []types.Account `json:"accounts"`
	Entire          Entire          `json:"entire"`
	Notifications   *Notifications  `json:"notifications,omitempty"`
	GitHub          *GitHub         `json:"github,omitempty"`
	Features        *Features       `json:"features,omitempty"`
	Defaults        Defaults        `json:"defaults"`
	DelegationDepth *DelegationDepth `json:"delegationDepth,omitempty"`
	Council         *Council        `json:"council,omitempty"`

	// extra preserves unknown top-level keys across load/save cycles so an
	// older daemon does not strip fields written by a newer one.
	extra map[string]json.RawMessage
}

// Default returns a fresh config with every sub-object present.
func Default() *Config {
	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		Accounts:      []types.Account{},
		Features:      &Features{},
		Defaults:      Defaults{},
	}
}

// FeatureSet returns the configured features, or the zero set when the
// sub-object is absent.
func (c *Config) FeatureSet() Features {
	if c.Features == nil {
		return Features{}
	}
	return *c.Features
}

// MaxDelegationDepth resolves the configured depth limit with the documented
// precedence: defaults.maxDelegationDepth, then delegationDepth.maxDepth,
// then the built-in default.
func (c *Config) MaxDelegationDepth() int {
	if c.Defaults.MaxDelegationDepth != nil && *c.Defaults.MaxDelegationDepth > 0 {
		return *c.Defaults.MaxDelegationDepth
	}
	if c.DelegationDepth != nil && c.DelegationDepth.MaxDepth > 0 {
		return c.DelegationDepth.MaxDepth
	}
	return DefaultMaxDelegationDepth
}

// Account looks up a configured account by name.
func (c *Config) Account(name string) (*types.Account, bool) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], true
		}
	}
	return nil, false
}

// knownKeys are the top-level keys owned by the typed schema.
var knownKeys = map[string]bool{
	"schemaVersion": true, "accounts": true, "entire": true,
	"notifications": true, "github": true, "features": true,
	"defaults": true, "delegationDepth": true, "council": true,
}

// Load reads and tolerantly parses the config at path. A missing file yields
// the defaults. Missing sub-objects are filled; unknown keys are retained
// for the next Save.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		for k, v := range raw {
			if !knownKeys[k] {
				if cfg.extra == nil {
					cfg.extra = make(map[string]json.RawMessage)
				}
				cfg.extra[k] = v
			}
		}
	}

	if cfg.Accounts == nil {
		cfg.Accounts = []types.Account{}
	}
	if cfg.Features == nil {
		cfg.Features = &Features{}
	}
	return cfg, nil
}

// Marshal renders the config as canonical indented JSON, merging preserved
// unknown keys back in.
func (c *Config) Marshal() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	if len(c.extra) > 0 {
		var merged map[string]json.RawMessage
		if err := json.Unmarshal(data, &merged); err != nil {
			return nil, err
		}
		for k, v := range c.extra {
			if _, owned := merged[k]; !owned {
				merged[k] = v
			}
		}
		data, err = json.Marshal(merged)
		if err != nil {
			return nil, err
		}
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return json.MarshalIndent(out, "", "  ")
}

// Save writes the config atomically: temp file in the same directory, then
// rename over the target.
func Save(path string, cfg *Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Migrate upgrades the file at path to the current schema version. The old
// file is backed up to <path>.backup.<oldVersion> first. Migrating an
// already-current file is a no-op.
func Migrate(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	if cfg.SchemaVersion >= CurrentSchemaVersion {
		return nil
	}

	if data, err := os.ReadFile(path); err == nil {
		backup := fmt.Sprintf("%s.backup.%d", path, cfg.SchemaVersion)
		if err := os.WriteFile(backup, data, 0o644); err != nil {
			return fmt.Errorf("write config backup: %w", err)
		}
	}

	cfg.SchemaVersion = CurrentSchemaVersion
	return Save(path, cfg)
}

// BaseDir resolves the daemon base directory: $AGENTCTL_DIR when set,
// otherwise $HOME/.agentctl.
func BaseDir() (string, error) {
	if dir := os.Getenv("AGENTCTL_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve base dir: %w", err)
	}
	return filepath.Join(home, ".agentctl"), nil
}

// Path returns the config file location under baseDir.
func Path(baseDir string) string {
	return filepath.Join(baseDir, "config.json")
}

// TokenPath returns the shared-secret file for an account.
func TokenPath(baseDir, account string) string {
	return filepath.Join(baseDir, "tokens", account+".token")
}
