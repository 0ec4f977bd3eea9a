package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*State
}

// NewMemoryStore keeps sessions for ttl. A zero ttl never expires them.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*State),
	}
}

func (s *MemoryStore) Save(_ context.Context, data *State) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpired()

	data.ID = uuid.New().String()
	if data.CreatedAt.IsZero() {
		data.CreatedAt = s.now()
	}
	s.sessions[data.ID] = data

	return data.ID, nil
}

func (s *MemoryStore) Consume(_ context.Context, id string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.sessions, id)

	if s.expired(data) {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemoryStore) expired(data *State) bool {
	return s.ttl > 0 && s.now().Sub(data.CreatedAt) > s.ttl
}

// caller holds mu
func (s *MemoryStore) evictExpired() {
	for id, data := range s.sessions {
		if s.expired(data) {
			delete(s.sessions, id)
		}
	}
}
