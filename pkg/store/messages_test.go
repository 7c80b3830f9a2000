package store

import (
	"testing"
	"time"

	"github.com/ylcn91/agentctl/pkg/types"
)

func newTestMessageStore(t *testing.T) *MessageStore {
	t.Helper()
	s, err := NewMessageStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewMessageStore() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestAddAndReadMessages covers queueing, unread ordering, and mark-read.
func TestAddAndReadMessages(t *testing.T) {
	s := newTestMessageStore(t)

	for _, content := range []string{"first", "second", "third"} {
		if _, err := s.AddMessage(&types.Message{
			From: "alice", To: "bob", Content: content,
		}); err != nil {
			t.Fatalf("AddMessage(%s) error: %v", content, err)
		}
	}

	unread, err := s.GetUnreadMessages("bob")
	if err != nil {
		t.Fatalf("GetUnreadMessages() error: %v", err)
	}
	if len(unread) != 3 {
		t.Fatalf("unread = %d, want 3", len(unread))
	}
	// Oldest first for unread.
	if unread[0].Content != "first" || unread[2].Content != "third" {
		t.Errorf("unread order wrong: %s .. %s", unread[0].Content, unread[2].Content)
	}

	n, err := s.CountUnread("bob")
	if err != nil || n != 3 {
		t.Errorf("CountUnread() = %d, %v", n, err)
	}

	if err := s.MarkAllRead("bob"); err != nil {
		t.Fatalf("MarkAllRead() error: %v", err)
	}
	n, _ = s.CountUnread("bob")
	if n != 0 {
		t.Errorf("CountUnread() after mark = %d", n)
	}

	// Full history is newest first.
	all, err := s.GetMessages("bob", 10, 0)
	if err != nil {
		t.Fatalf("GetMessages() error: %v", err)
	}
	if len(all) != 3 || all[0].Content != "third" {
		t.Errorf("history order wrong")
	}
}

// TestSelfMessage verifies an account can message itself.
func TestSelfMessage(t *testing.T) {
	s := newTestMessageStore(t)
	if _, err := s.AddMessage(&types.Message{From: "alice", To: "alice", Content: "note to self"}); err != nil {
		t.Fatalf("self message rejected: %v", err)
	}
	unread, _ := s.GetUnreadMessages("alice")
	if len(unread) != 1 {
		t.Errorf("unread = %d, want 1", len(unread))
	}
}

// TestMessagesIsolatedPerRecipient verifies recipients never see each other's
// mail.
func TestMessagesIsolatedPerRecipient(t *testing.T) {
	s := newTestMessageStore(t)
	s.AddMessage(&types.Message{From: "alice", To: "bob", Content: "for bob"})
	s.AddMessage(&types.Message{From: "alice", To: "carol", Content: "for carol"})

	bob, _ := s.GetUnreadMessages("bob")
	if len(bob) != 1 || bob[0].Content != "for bob" {
		t.Errorf("bob sees: %v", bob)
	}
	carol, _ := s.GetUnreadMessages("carol")
	if len(carol) != 1 || carol[0].Content != "for carol" {
		t.Errorf("carol sees: %v", carol)
	}
}

// TestGetHandoffs filters by message type.
func TestGetHandoffs(t *testing.T) {
	s := newTestMessageStore(t)
	s.AddMessage(&types.Message{From: "alice", To: "bob", Content: "chat"})
	id, err := s.AddMessage(&types.Message{
		From: "alice", To: "bob", Type: types.MessageTypeHandoff, Content: `{"goal":"x"}`,
	})
	if err != nil {
		t.Fatal(err)
	}

	handoffs, err := s.GetHandoffs("bob")
	if err != nil {
		t.Fatalf("GetHandoffs() error: %v", err)
	}
	if len(handoffs) != 1 || handoffs[0].ID != id {
		t.Errorf("handoffs = %v", handoffs)
	}

	msg, err := s.GetMessage(id)
	if err != nil || msg.Type != types.MessageTypeHandoff {
		t.Errorf("GetMessage(%s) = %v, %v", id, msg, err)
	}
}

// TestArchiveOldSparesUnread verifies archiving only removes read messages
// past the cutoff.
func TestArchiveOldSparesUnread(t *testing.T) {
	s := newTestMessageStore(t)

	old := types.FormatTime(time.Now().AddDate(0, 0, -60))
	s.AddMessage(&types.Message{From: "a", To: "bob", Content: "old unread", Timestamp: old})
	s.AddMessage(&types.Message{From: "a", To: "bob", Content: "old read", Timestamp: old, Read: true})
	s.AddMessage(&types.Message{From: "a", To: "bob", Content: "fresh read", Read: true})

	n, err := s.ArchiveOld(30)
	if err != nil {
		t.Fatalf("ArchiveOld() error: %v", err)
	}
	if n != 1 {
		t.Errorf("archived %d, want 1", n)
	}

	// Archiving again removes nothing.
	n, _ = s.ArchiveOld(30)
	if n != 0 {
		t.Errorf("second archive removed %d", n)
	}

	all, _ := s.GetMessages("bob", 10, 0)
	if len(all) != 2 {
		t.Errorf("remaining = %d, want 2", len(all))
	}
}
