package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/ylcn91/agentctl/pkg/types"
)

// idPattern guards ids used as file names against path traversal.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ReviewBundle snapshots everything a reviewer needs about one task.
type ReviewBundle struct {
	TaskID      string                       `json:"taskId"`
	GeneratedAt string                       `json:"generatedAt"`
	Task        *types.Task                  `json:"task"`
	Handoff     *types.Message               `json:"handoff,omitempty"`
	Receipts    []*types.VerificationReceipt `json:"receipts,omitempty"`
	Activity    []*types.ActivityEvent       `json:"activity,omitempty"`
}

// BundleStore reads and writes review bundles under
// <baseDir>/review-bundles/<taskId>.json.
type BundleStore struct {
	dir string
	mu  sync.Mutex
}

// NewBundleStore prepares the review-bundles directory under baseDir.
func NewBundleStore(baseDir string) (*BundleStore, error) {
	dir := filepath.Join(baseDir, "review-bundles")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bundle dir: %w", err)
	}
	return &BundleStore{dir: dir}, nil
}

// Put writes a bundle atomically.
func (s *BundleStore) Put(b *ReviewBundle) error {
	if !idPattern.MatchString(b.TaskID) {
		return fmt.Errorf("invalid task id for bundle: %q", b.TaskID)
	}
	if b.GeneratedAt == "" {
		b.GeneratedAt = types.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONFile(filepath.Join(s.dir, b.TaskID+".json"), b)
}

// Get loads the bundle for a task.
func (s *BundleStore) Get(taskID string) (*ReviewBundle, error) {
	if !idPattern.MatchString(taskID) {
		return nil, fmt.Errorf("invalid task id for bundle: %q", taskID)
	}
	var b ReviewBundle
	found, err := readJSONFile(filepath.Join(s.dir, taskID+".json"), &b)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("review bundle not found: %s", taskID)
	}
	return &b, nil
}

// ScratchStore is a named map of opaque strings persisted to one JSON file.
// The prompts, clipboard, and handoff-template stores are all instances.
type ScratchStore struct {
	path string

	mu   sync.RWMutex
	data map[string]string
}

// NewScratchStore loads (or creates) the named JSON file under baseDir.
func NewScratchStore(baseDir, file string) (*ScratchStore, error) {
	s := &ScratchStore{
		path: filepath.Join(baseDir, file),
		data: map[string]string{},
	}
	if _, err := readJSONFile(s.path, &s.data); err != nil {
		return nil, err
	}
	if s.data == nil {
		s.data = map[string]string{}
	}
	return s, nil
}

// Get returns the value for key.
func (s *ScratchStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores key=value and persists.
func (s *ScratchStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return writeJSONFile(s.path, s.data)
}

// Delete removes key and persists.
func (s *ScratchStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return writeJSONFile(s.path, s.data)
}

// Keys lists stored keys.
func (s *ScratchStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}
