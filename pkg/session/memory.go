package session

import (
	"context"
	"sort"
	"sync"

	"github.com/harun/printdesk/internal/observability"
)

// MemoryStore keeps sessions in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
	}
}

// Get implements Store
func (m *MemoryStore) Get(ctx context.Context, conversationID string) (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[conversationID]
	return s, ok, nil
}

// Set implements Store
func (m *MemoryStore) Set(ctx context.Context, conversationID string, s Session) error {
	if err := validateSet(conversationID, s); err != nil {
		return err
	}
	s.ConversationID = conversationID

	m.mu.Lock()
	m.sessions[conversationID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	return nil
}

// Delete implements Store
func (m *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	delete(m.sessions, conversationID)
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	return nil
}

// List implements Store, ordered by last update
func (m *MemoryStore) List(ctx context.Context) ([]Session, error) {
	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ConversationID < out[j].ConversationID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}
