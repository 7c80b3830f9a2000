package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ylcn91/agentctl/pkg/types"
)

// CapabilityStore persists per-account skills and derived routing counters
// in capabilities.db.
type CapabilityStore struct {
	db *sql.DB
}

// NewCapabilityStore opens capabilities.db under baseDir.
func NewCapabilityStore(baseDir string) (*CapabilityStore, error) {
	db, err := openDB(baseDir, "capabilities.db", []string{
		`CREATE TABLE IF NOT EXISTS capabilities (
			account              TEXT PRIMARY KEY,
			skills               TEXT NOT NULL DEFAULT '[]',
			accepted_tasks       INTEGER NOT NULL DEFAULT 0,
			total_tasks          INTEGER NOT NULL DEFAULT 0,
			avg_duration_minutes REAL NOT NULL DEFAULT 0,
			last_activity        TEXT
		)`,
	})
	if err != nil {
		return nil, err
	}
	return &CapabilityStore{db: db}, nil
}

// Close closes the database.
func (s *CapabilityStore) Close() error {
	return s.db.Close()
}

// Get returns the capability row for account. A missing row comes back as a
// zero-valued record, not an error, so routing can score unknown accounts.
func (s *CapabilityStore) Get(account string) (*types.Capability, error) {
	row := s.db.QueryRow(
		`SELECT account, skills, accepted_tasks, total_tasks, avg_duration_minutes, last_activity
		 FROM capabilities WHERE account = ?`, account)

	cap, err := scanCapability(row)
	if err == sql.ErrNoRows {
		return &types.Capability{Account: account, Skills: []string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return cap, nil
}

// SetSkills replaces the declared skill set for account.
func (s *CapabilityStore) SetSkills(account string, skills []string) error {
	data, err := json.Marshal(skills)
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO capabilities (account, skills) VALUES (?, ?)
		 ON CONFLICT(account) DO UPDATE SET skills = excluded.skills`,
		account, string(data))
	if err != nil {
		return fmt.Errorf("set skills: %w", err)
	}
	return nil
}

// RecordOutcome folds one finished task into the derived counters.
// durationMinutes <= 0 leaves the rolling average untouched.
func (s *CapabilityStore) RecordOutcome(account string, accepted bool, durationMinutes float64) error {
	cap, err := s.Get(account)
	if err != nil {
		return err
	}

	cap.TotalTasks++
	if accepted {
		cap.AcceptedTasks++
	}
	if durationMinutes > 0 {
		if cap.AvgDurationMinutes == 0 {
			cap.AvgDurationMinutes = durationMinutes
		} else {
			// simple running mean over total tasks
			cap.AvgDurationMinutes += (durationMinutes - cap.AvgDurationMinutes) / float64(cap.TotalTasks)
		}
	}
	cap.LastActivity = types.Now()

	skills, err := json.Marshal(cap.Skills)
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO capabilities (account, skills, accepted_tasks, total_tasks, avg_duration_minutes, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account) DO UPDATE SET
			accepted_tasks = excluded.accepted_tasks,
			total_tasks = excluded.total_tasks,
			avg_duration_minutes = excluded.avg_duration_minutes,
			last_activity = excluded.last_activity`,
		account, string(skills), cap.AcceptedTasks, cap.TotalTasks,
		cap.AvgDurationMinutes, cap.LastActivity)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// TouchActivity bumps the last-activity timestamp for account.
func (s *CapabilityStore) TouchActivity(account string) error {
	_, err := s.db.Exec(
		`INSERT INTO capabilities (account, last_activity) VALUES (?, ?)
		 ON CONFLICT(account) DO UPDATE SET last_activity = excluded.last_activity`,
		account, types.Now())
	if err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	return nil
}

// List returns every capability row.
func (s *CapabilityStore) List() ([]*types.Capability, error) {
	rows, err := s.db.Query(
		`SELECT account, skills, accepted_tasks, total_tasks, avg_duration_minutes, last_activity
		 FROM capabilities ORDER BY account ASC`)
	if err != nil {
		return nil, fmt.Errorf("list capabilities: %w", err)
	}
	defer rows.Close()

	var out []*types.Capability
	for rows.Next() {
		cap, err := scanCapability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cap)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapability(r rowScanner) (*types.Capability, error) {
	var (
		cap    types.Capability
		skills string
		last   sql.NullString
	)
	err := r.Scan(&cap.Account, &skills, &cap.AcceptedTasks, &cap.TotalTasks,
		&cap.AvgDurationMinutes, &last)
	if err != nil {
		return nil, err
	}
	cap.LastActivity = last.String
	if err := json.Unmarshal([]byte(skills), &cap.Skills); err != nil {
		cap.Skills = []string{}
	}
	return &cap, nil
}
