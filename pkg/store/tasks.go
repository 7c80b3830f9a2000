package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ylcn91/agentctl/pkg/types"
)

// taskBoardVersion bumps when the tasks.json layout changes; the old file is
// backed up before rewrite.
const taskBoardVersion = 2

// TaskStore is the task board: an in-memory map persisted to tasks.json on
// every mutation (atomic write-temp-then-rename).
type TaskStore struct {
	path string

	mu    sync.RWMutex
	board taskBoard
}

type taskBoard struct {
	Version int                    `json:"version"`
	Tasks   map[string]*types.Task `json:"tasks"`
}

// NewTaskStore loads (or creates) tasks.json under baseDir.
func NewTaskStore(baseDir string) (*TaskStore, error) {
	s := &TaskStore{
		path:  filepath.Join(baseDir, "tasks.json"),
		board: taskBoard{Version: taskBoardVersion, Tasks: map[string]*types.Task{}},
	}

	var loaded taskBoard
	found, err := readJSONFile(s.path, &loaded)
	if err != nil {
		return nil, err
	}
	if found {
		if loaded.Version < taskBoardVersion {
			if err := backupJSONFile(s.path); err != nil {
				return nil, err
			}
		}
		if loaded.Tasks != nil {
			s.board.Tasks = loaded.Tasks
		}
	}
	return s, nil
}

// Create inserts a task. The id must be unique.
func (s *TaskStore) Create(task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task id required")
	}
	if _, exists := s.board.Tasks[task.ID]; exists {
		return fmt.Errorf("task already exists: %s", task.ID)
	}
	if task.CreatedAt == "" {
		task.CreatedAt = types.Now()
	}
	if task.Events == nil {
		task.Events = []types.TaskEvent{}
	}
	s.board.Tasks[task.ID] = task
	return s.persistLocked()
}

// Get returns a copy of the task with the given id.
func (s *TaskStore) Get(id string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.board.Tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	cp := *task
	return &cp, nil
}

// List returns all tasks, optionally filtered by status and assignee.
func (s *TaskStore) List(status types.TaskStatus, assignee string) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Task
	for _, task := range s.board.Tasks {
		if status != "" && task.Status != status {
			continue
		}
		if assignee != "" && task.Assignee != assignee {
			continue
		}
		cp := *task
		out = append(out, &cp)
	}
	return out, nil
}

// Update applies fn to the stored task under the store lock and persists the
// result. fn returning an error aborts without persisting.
func (s *TaskStore) Update(id string, fn func(*types.Task) error) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.board.Tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	if err := fn(task); err != nil {
		return nil, err
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	cp := *task
	return &cp, nil
}

// Link records a labelled edge from task id to another task.
func (s *TaskStore) Link(id, targetID, relation string) (*types.Task, error) {
	if relation == "" {
		relation = "relates-to"
	}
	return s.Update(id, func(task *types.Task) error {
		if _, ok := s.board.Tasks[targetID]; !ok {
			return fmt.Errorf("task not found: %s", targetID)
		}
		for _, l := range task.Links {
			if l.TaskID == targetID && l.Relation == relation {
				return nil // already linked
			}
		}
		task.Links = append(task.Links, types.TaskLink{
			TaskID:   targetID,
			Relation: relation,
			LinkedAt: types.Now(),
		})
		return nil
	})
}

func (s *TaskStore) persistLocked() error {
	return writeJSONFile(s.path, &s.board)
}
