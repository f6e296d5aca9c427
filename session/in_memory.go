package session

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/next-unicorn-dev/canvas/core"
)

// InMemoryStore is a volatile Store backed by process local maps. It is safe
// for concurrent access. Messages are kept in their JSON encoding so reads
// return fresh values, exactly as a durable backend would.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]ChatSession
	messages map[string][]StoredMessage
	nextID   int64
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]ChatSession),
		messages: make(map[string][]StoredMessage),
	}
}

// CreateSession stores s. Creating an existing id overwrites its metadata
// and keeps its messages.
func (s *InMemoryStore) CreateSession(_ context.Context, cs ChatSession) error {
	now := time.Now().UTC()
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = now
	}
	cs.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[cs.ID] = cs
	return nil
}

// GetSession returns the session or ErrSessionNotFound.
func (s *InMemoryStore) GetSession(_ context.Context, id string) (ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.sessions[id]
	if !ok {
		return ChatSession{}, ErrSessionNotFound
	}
	return cs, nil
}

// AppendMessage appends msg to the session's log.
func (s *InMemoryStore) AppendMessage(_ context.Context, sessionID string, msg core.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.messages[sessionID] = append(s.messages[sessionID], StoredMessage{
		ID:        s.nextID,
		SessionID: sessionID,
		Role:      msg.Role,
		Message:   string(data),
		CreatedAt: now,
	})
	if cs, ok := s.sessions[sessionID]; ok {
		cs.UpdatedAt = now
		s.sessions[sessionID] = cs
	}
	return nil
}

// ListMessages decodes the session's log in insertion order. Rows that no
// longer decode are skipped.
func (s *InMemoryStore) ListMessages(_ context.Context, sessionID string) ([]core.Message, error) {
	s.mu.RLock()
	rows := slices.Clone(s.messages[sessionID])
	s.mu.RUnlock()

	return decodeRows(rows), nil
}

// ListSessions returns the canvas's sessions, most recently updated first.
// An empty canvasID lists every session.
func (s *InMemoryStore) ListSessions(_ context.Context, canvasID string) ([]ChatSession, error) {
	s.mu.RLock()
	out := make([]ChatSession, 0, len(s.sessions))
	for _, cs := range s.sessions {
		if canvasID == "" || cs.CanvasID == canvasID {
			out = append(out, cs)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b ChatSession) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Rows returns the raw rows of a session.
func (s *InMemoryStore) Rows(sessionID string) []StoredMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages[sessionID])
}

func decodeRows(rows []StoredMessage) []core.Message {
	out := make([]core.Message, 0, len(rows))
	for _, row := range rows {
		var msg core.Message
		if err := json.Unmarshal([]byte(row.Message), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

var _ Store = (*InMemoryStore)(nil)
