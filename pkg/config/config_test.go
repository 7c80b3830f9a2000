package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ylcn91/agentctl/pkg/types"
)

// TestLoadMissingFile returns defaults instead of an error.
func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %d", cfg.SchemaVersion)
	}
	if cfg.Accounts == nil || cfg.Features == nil {
		t.Error("defaults missing sub-objects")
	}
}

// TestRoundTripPreservesUnknownKeys verifies keys outside the typed schema
// survive a load/save cycle.
func TestRoundTripPreservesUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"schemaVersion": 3,
		"accounts": [{"name": "alice"}],
		"futureFeature": {"enabled": true, "knobs": [1, 2, 3]}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("saved config not valid JSON: %v", err)
	}
	if _, ok := out["futureFeature"]; !ok {
		t.Error("unknown key dropped on save")
	}
	if _, ok := out["accounts"]; !ok {
		t.Error("accounts missing after save")
	}
}

// TestMaxDelegationDepthPrecedence covers override order: defaults field,
// then the legacy delegationDepth object, then the built-in default.
func TestMaxDelegationDepthPrecedence(t *testing.T) {
	five := 5

	cfg := Default()
	if got := cfg.MaxDelegationDepth(); got != DefaultMaxDelegationDepth {
		t.Errorf("default depth = %d", got)
	}

	cfg.DelegationDepth = &DelegationDepth{MaxDepth: 7}
	if got := cfg.MaxDelegationDepth(); got != 7 {
		t.Errorf("legacy depth = %d, want 7", got)
	}

	cfg.Defaults.MaxDelegationDepth = &five
	if got := cfg.MaxDelegationDepth(); got != 5 {
		t.Errorf("defaults depth = %d, want 5", got)
	}
}

// TestFeatureSetNil tolerates a missing features object.
func TestFeatureSetNil(t *testing.T) {
	cfg := &Config{}
	features := cfg.FeatureSet()
	if features.SLAEngine || features.Council || features.Sessions {
		t.Error("zero feature set should be all off")
	}
}

// TestAccountLookup finds accounts by name.
func TestAccountLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"schemaVersion": 3, "accounts": [{"name": "alice", "provider": "claude-code"}]}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	acct, ok := cfg.Account("alice")
	if !ok || acct.Name != "alice" {
		t.Errorf("Account(alice) = %v, %v", acct, ok)
	}
	if _, ok := cfg.Account("mallory"); ok {
		t.Error("unknown account found")
	}
}

// TestMigrateWritesBackup verifies the old file is preserved and the version
// bumped.
func TestMigrateWritesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{"schemaVersion": 1, "accounts": [{"name": "alice"}], "legacyKnob": true}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Migrate(path); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	backup, err := os.ReadFile(path + ".backup.1")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != raw {
		t.Error("backup content altered")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("migrated version = %d", cfg.SchemaVersion)
	}
	if len(cfg.Accounts) != 1 || cfg.Accounts[0].Name != "alice" {
		t.Error("accounts lost in migration")
	}
}

// TestMigrateCurrentIsNoop leaves an up-to-date file untouched.
func TestMigrateCurrentIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	if err := Migrate(path); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("no-op migration rewrote file")
	}
	if _, err := os.Stat(path + ".backup.3"); !os.IsNotExist(err) {
		t.Error("no-op migration wrote a backup")
	}
}

// TestWatcherNotifiesOnRealChange verifies debounced change notification and
// that an equivalent re-save is suppressed.
func TestWatcherNotifiesOnRealChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { changes <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Stop()

	// Equivalent re-save: same canonical content, no notification expected.
	cfg, _ := Load(path)
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changes:
		t.Fatal("notified for equivalent content")
	case <-time.After(debounceWindow + 400*time.Millisecond):
	}

	// Real change.
	cfg.Accounts = append(cfg.Accounts, types.Account{Name: "alice"})
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-changes:
		if len(got.Accounts) != 1 {
			t.Errorf("notified config has %d accounts", len(got.Accounts))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification for real change")
	}
}
