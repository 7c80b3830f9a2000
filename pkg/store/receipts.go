package store

import (
	"database/sql"
	"fmt"

	"github.com/ylcn91/agentctl/pkg/types"
)

// ReceiptStore persists immutable verification receipts in receipts.db.
type ReceiptStore struct {
	db *sql.DB
}

// NewReceiptStore opens receipts.db under baseDir.
func NewReceiptStore(baseDir string) (*ReceiptStore, error) {
	db, err := openDB(baseDir, "receipts.db", []string{
		`CREATE TABLE IF NOT EXISTS receipts (
			rowid        INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id      TEXT NOT NULL,
			delegator    TEXT NOT NULL,
			delegatee    TEXT NOT NULL,
			handoff_payload TEXT NOT NULL,
			verdict      TEXT NOT NULL,
			method       TEXT NOT NULL,
			timestamp    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_task ON receipts(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_delegatee ON receipts(delegatee, timestamp)`,
	})
	if err != nil {
		return nil, err
	}
	return &ReceiptStore{db: db}, nil
}

// Close closes the database.
func (s *ReceiptStore) Close() error {
	return s.db.Close()
}

// Add appends a receipt. Receipts are never updated or deleted.
func (s *ReceiptStore) Add(r *types.VerificationReceipt) error {
	if r.Timestamp == "" {
		r.Timestamp = types.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO receipts (task_id, delegator, delegatee, handoff_payload, verdict, method, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.TaskID, r.Delegator, r.Delegatee, r.HandoffPayload,
		string(r.Verdict), string(r.Method), r.Timestamp)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// ByTask returns receipts for a task, oldest first.
func (s *ReceiptStore) ByTask(taskID string) ([]*types.VerificationReceipt, error) {
	return s.query(
		`SELECT task_id, delegator, delegatee, handoff_payload, verdict, method, timestamp
		 FROM receipts WHERE task_id = ? ORDER BY timestamp ASC, rowid ASC`, taskID)
}

// ByDelegatee returns receipts where account did the work, newest first.
func (s *ReceiptStore) ByDelegatee(account string, limit int) ([]*types.VerificationReceipt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(
		`SELECT task_id, delegator, delegatee, handoff_payload, verdict, method, timestamp
		 FROM receipts WHERE delegatee = ?
		 ORDER BY timestamp DESC, rowid DESC LIMIT ?`, account, limit)
}

// ByMethod returns receipts judged by the given method, newest first.
func (s *ReceiptStore) ByMethod(method types.VerificationMethod, limit int) ([]*types.VerificationReceipt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(
		`SELECT task_id, delegator, delegatee, handoff_payload, verdict, method, timestamp
		 FROM receipts WHERE method = ?
		 ORDER BY timestamp DESC, rowid DESC LIMIT ?`, string(method), limit)
}

func (s *ReceiptStore) query(q string, args ...any) ([]*types.VerificationReceipt, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var out []*types.VerificationReceipt
	for rows.Next() {
		var r types.VerificationReceipt
		var verdict, method string
		if err := rows.Scan(&r.TaskID, &r.Delegator, &r.Delegatee, &r.HandoffPayload,
			&verdict, &method, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		r.Verdict = types.Verdict(verdict)
		r.Method = types.VerificationMethod(method)
		out = append(out, &r)
	}
	return out, rows.Err()
}
