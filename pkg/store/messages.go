package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ylcn91/agentctl/pkg/types"
)

// MessageStore persists inter-account messages in messages.db. Messages are
// immutable except for the read flag. Ordering within a recipient is by
// timestamp then insertion order (rowid).
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore opens messages.db under baseDir.
func NewMessageStore(baseDir string) (*MessageStore, error) {
	db, err := openDB(baseDir, "messages.db", []string{
		`CREATE TABLE IF NOT EXISTS messages (
			rowid     INTEGER PRIMARY KEY AUTOINCREMENT,
			id        TEXT NOT NULL UNIQUE,
			sender    TEXT NOT NULL,
			recipient TEXT NOT NULL,
			type      TEXT NOT NULL,
			content   TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			read      INTEGER NOT NULL DEFAULT 0,
			context   TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(recipient, read)`,
	})
	if err != nil {
		return nil, err
	}
	return &MessageStore{db: db}, nil
}

// Close closes the database.
func (s *MessageStore) Close() error {
	return s.db.Close()
}

// AddMessage inserts msg, assigning an id when absent, and returns the id.
func (s *MessageStore) AddMessage(msg *types.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = types.NewID()
	}
	if msg.Timestamp == "" {
		msg.Timestamp = types.Now()
	}
	if msg.Type == "" {
		msg.Type = types.MessageTypeMessage
	}

	var ctx any
	if len(msg.Context) > 0 {
		data, err := json.Marshal(msg.Context)
		if err != nil {
			return "", fmt.Errorf("marshal message context: %w", err)
		}
		ctx = string(data)
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (id, sender, recipient, type, content, timestamp, read, context)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.From, msg.To, string(msg.Type), msg.Content, msg.Timestamp,
		boolInt(msg.Read), ctx,
	)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return msg.ID, nil
}

// GetUnreadMessages returns to's unread messages, ascending by timestamp.
func (s *MessageStore) GetUnreadMessages(to string) ([]*types.Message, error) {
	return s.query(
		`SELECT id, sender, recipient, type, content, timestamp, read, context
		 FROM messages WHERE recipient = ? AND read = 0
		 ORDER BY timestamp ASC, rowid ASC`, to)
}

// GetMessages returns to's messages, newest first, paginated.
func (s *MessageStore) GetMessages(to string, limit, offset int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(
		`SELECT id, sender, recipient, type, content, timestamp, read, context
		 FROM messages WHERE recipient = ?
		 ORDER BY timestamp DESC, rowid DESC LIMIT ? OFFSET ?`, to, limit, offset)
}

// GetMessage fetches a single message by id.
func (s *MessageStore) GetMessage(id string) (*types.Message, error) {
	msgs, err := s.query(
		`SELECT id, sender, recipient, type, content, timestamp, read, context
		 FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message not found: %s", id)
	}
	return msgs[0], nil
}

// GetHandoffs returns to's handoff messages, newest first.
func (s *MessageStore) GetHandoffs(to string) ([]*types.Message, error) {
	return s.query(
		`SELECT id, sender, recipient, type, content, timestamp, read, context
		 FROM messages WHERE recipient = ? AND type = ?
		 ORDER BY timestamp DESC, rowid DESC`, to, string(types.MessageTypeHandoff))
}

// MarkAllRead flags every message to the recipient as read.
func (s *MessageStore) MarkAllRead(to string) error {
	_, err := s.db.Exec(`UPDATE messages SET read = 1 WHERE recipient = ?`, to)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// CountUnread returns the number of unread messages for the recipient.
func (s *MessageStore) CountUnread(to string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE recipient = ? AND read = 0`, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// ArchiveOld deletes read messages older than the cutoff and returns how
// many were removed. Unread messages are never archived.
func (s *MessageStore) ArchiveOld(days int) (int, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := types.FormatTime(time.Now().AddDate(0, 0, -days))
	res, err := s.db.Exec(
		`DELETE FROM messages WHERE read = 1 AND timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *MessageStore) query(q string, args ...any) ([]*types.Message, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		var (
			m    types.Message
			read int
			ctx  sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Type, &m.Content,
			&m.Timestamp, &read, &ctx); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Read = read != 0
		if ctx.Valid && ctx.String != "" {
			_ = json.Unmarshal([]byte(ctx.String), &m.Context)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
