package store

import (
	"database/sql"
	"fmt"

	"github.com/ylcn91/agentctl/pkg/types"
)

// DefaultTrustScore is where a fresh account starts.
const DefaultTrustScore = 50

// TrustStore persists per-account reputation in trust.db.
type TrustStore struct {
	db *sql.DB
}

// NewTrustStore opens trust.db under baseDir.
func NewTrustStore(baseDir string) (*TrustStore, error) {
	db, err := openDB(baseDir, "trust.db", []string{
		`CREATE TABLE IF NOT EXISTS trust (
			account         TEXT PRIMARY KEY,
			score           INTEGER NOT NULL,
			completed_tasks INTEGER NOT NULL DEFAULT 0,
			failed_tasks    INTEGER NOT NULL DEFAULT 0,
			rejected_tasks  INTEGER NOT NULL DEFAULT 0,
			sla_compliant   INTEGER NOT NULL DEFAULT 0,
			sla_breached    INTEGER NOT NULL DEFAULT 0,
			updated_at      TEXT NOT NULL
		)`,
	})
	if err != nil {
		return nil, err
	}
	return &TrustStore{db: db}, nil
}

// Close closes the database.
func (s *TrustStore) Close() error {
	return s.db.Close()
}

// Get returns the trust record for account, creating the default in memory
// (not on disk) when absent.
func (s *TrustStore) Get(account string) (*types.TrustRecord, error) {
	row := s.db.QueryRow(
		`SELECT account, score, completed_tasks, failed_tasks, rejected_tasks,
			sla_compliant, sla_breached, updated_at
		 FROM trust WHERE account = ?`, account)

	var rec types.TrustRecord
	err := row.Scan(&rec.Account, &rec.Score, &rec.CompletedTasks, &rec.FailedTasks,
		&rec.RejectedTasks, &rec.SLACompliant, &rec.SLABreached, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return &types.TrustRecord{Account: account, Score: DefaultTrustScore}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trust: %w", err)
	}
	return &rec, nil
}

// Put upserts rec.
func (s *TrustStore) Put(rec *types.TrustRecord) error {
	rec.UpdatedAt = types.Now()
	_, err := s.db.Exec(
		`INSERT INTO trust (account, score, completed_tasks, failed_tasks, rejected_tasks,
			sla_compliant, sla_breached, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account) DO UPDATE SET
			score = excluded.score,
			completed_tasks = excluded.completed_tasks,
			failed_tasks = excluded.failed_tasks,
			rejected_tasks = excluded.rejected_tasks,
			sla_compliant = excluded.sla_compliant,
			sla_breached = excluded.sla_breached,
			updated_at = excluded.updated_at`,
		rec.Account, rec.Score, rec.CompletedTasks, rec.FailedTasks,
		rec.RejectedTasks, rec.SLACompliant, rec.SLABreached, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put trust: %w", err)
	}
	return nil
}

// List returns every trust record.
func (s *TrustStore) List() ([]*types.TrustRecord, error) {
	rows, err := s.db.Query(
		`SELECT account, score, completed_tasks, failed_tasks, rejected_tasks,
			sla_compliant, sla_breached, updated_at
		 FROM trust ORDER BY account ASC`)
	if err != nil {
		return nil, fmt.Errorf("list trust: %w", err)
	}
	defer rows.Close()

	var out []*types.TrustRecord
	for rows.Next() {
		var rec types.TrustRecord
		if err := rows.Scan(&rec.Account, &rec.Score, &rec.CompletedTasks,
			&rec.FailedTasks, &rec.RejectedTasks, &rec.SLACompliant,
			&rec.SLABreached, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan trust: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
