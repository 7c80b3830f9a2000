package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ylcn91/agentctl/pkg/types"
)

// StaleAfter is how long every member can go without a ping before
// CleanupStale marks the session inactive.
const StaleAfter = 90 * time.Second

// ErrSelfPairing is returned when an account tries to pair with itself.
var ErrSelfPairing = errors.New("Cannot create session with yourself")

// Session is one live pair. Membership is {Initiator, Participant}.
type Session struct {
	ID          string           `json:"id"`
	Initiator   string           `json:"initiator"`
	Participant string           `json:"participant"`
	Workspace   string           `json:"workspace,omitempty"`
	StartedAt   string           `json:"startedAt"`
	Active      bool             `json:"active"`
	Joined      bool             `json:"joined"`
	LastPing    map[string]int64 `json:"lastPing"`
}

// Update is one opaque payload broadcast into a session.
type Update struct {
	From      string `json:"from"`
	Data      string `json:"data"`
	Timestamp string `json:"timestamp"`
}

type cursorKey struct {
	sessionID string
	reader    string
}

// Manager owns all live sessions and per-reader cursors.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	updates  map[string][]Update
	cursors  map[cursorKey]int
	now      func() time.Time
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		updates:  make(map[string][]Update),
		cursors:  make(map[cursorKey]int),
		now:      time.Now,
	}
}

// CreateSession starts a live pair. Self-pairing is rejected. The initiator
// gets an immediate ping mark.
func (m *Manager) CreateSession(initiator, participant, workspace string) (*Session, error) {
	if initiator == participant {
		return nil, ErrSelfPairing
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := &Session{
		ID:          types.NewID(),
		Initiator:   initiator,
		Participant: participant,
		Workspace:   workspace,
		StartedAt:   types.FormatTime(now),
		Active:      true,
		LastPing:    map[string]int64{initiator: now.UnixMilli()},
	}
	m.sessions[s.ID] = s
	return s, nil
}

// JoinSession marks the participant as joined. Only the configured
// participant may join, and only while the session is active. Joining twice
// is a no-op.
func (m *Manager) JoinSession(id, account string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if !s.Active {
		return nil, fmt.Errorf("session is not active")
	}
	if account != s.Participant {
		return nil, fmt.Errorf("only the invited participant can join")
	}
	s.Joined = true
	s.LastPing[account] = m.now().UnixMilli()
	return s, nil
}

// AddUpdate appends an update when from is a member of an active session.
// Returns whether the update was stored.
func (m *Manager) AddUpdate(id, from, data string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || !s.Active || !isMember(s, from) {
		return false
	}
	m.updates[id] = append(m.updates[id], Update{
		From:      from,
		Data:      data,
		Timestamp: types.FormatTime(m.now()),
	})
	return true
}

// GetUpdates returns updates past the reader's cursor and advances it.
// Non-members get nothing.
func (m *Manager) GetUpdates(id, reader string) []Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || !isMember(s, reader) {
		return nil
	}

	all := m.updates[id]
	key := cursorKey{sessionID: id, reader: reader}
	cursor := m.cursors[key]
	if cursor >= len(all) {
		return nil
	}
	out := make([]Update, len(all)-cursor)
	copy(out, all[cursor:])
	m.cursors[key] = len(all)
	return out
}

// RecordPing refreshes lastPing for a member of an active session. Returns
// false for non-members and inactive sessions.
func (m *Manager) RecordPing(id, account string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || !s.Active || !isMember(s, account) {
		return false
	}
	s.LastPing[account] = m.now().UnixMilli()
	return true
}

// Get returns the session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ForAccount returns the sessions the account belongs to.
func (m *Manager) ForAccount(account string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Session
	for _, s := range m.sessions {
		if isMember(s, account) {
			out = append(out, s)
		}
	}
	return out
}

// EndSession deactivates a session on behalf of a member. Idempotent;
// non-members get an error and no mutation.
func (m *Manager) EndSession(id, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	if !isMember(s, account) {
		return fmt.Errorf("not a session member")
	}
	s.Active = false
	return nil
}

// CleanupStale deactivates sessions where every member's last ping is older
// than StaleAfter. Returns how many sessions were deactivated.
func (m *Manager) CleanupStale() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-StaleAfter).UnixMilli()
	n := 0
	for _, s := range m.sessions {
		if !s.Active {
			continue
		}
		stale := true
		for _, ping := range s.LastPing {
			if ping >= cutoff {
				stale = false
				break
			}
		}
		if len(s.LastPing) == 0 {
			stale = true
		}
		if stale {
			s.Active = false
			n++
		}
	}
	return n
}

// PurgeInactive drops inactive sessions older than olderThan from every map,
// including their update buffers and read cursors. Active sessions are
// never purged.
func (m *Manager) PurgeInactive(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	n := 0
	for id, s := range m.sessions {
		if s.Active {
			continue
		}
		started, err := types.ParseTime(s.StartedAt)
		if err == nil && started.After(cutoff) {
			continue
		}
		delete(m.sessions, id)
		delete(m.updates, id)
		for key := range m.cursors {
			if key.sessionID == id {
				delete(m.cursors, key)
			}
		}
		n++
	}
	return n
}

// ActiveCount returns the number of active sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.Active {
			n++
		}
	}
	return n
}

func isMember(s *Session, account string) bool {
	return account == s.Initiator || account == s.Participant
}
