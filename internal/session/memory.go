package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process with TTL eviction on access.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
	lastGC   time.Time
	gcEvery  time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
		gcEvery:  time.Minute,
	}
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) getLocked(id string) (*Session, bool) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if !m.now().Before(s.ExpiresAt) {
		delete(m.sessions, id)
		return nil, false
	}
	return s, true
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.getLocked(id)
	if !ok {
		return nil, errNotFound(id)
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Take(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.getLocked(id)
	if !ok {
		return nil, errNotFound(id)
	}
	delete(m.sessions, id)
	return s, nil
}

func (m *MemoryStore) Expire(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len reports live sessions. Expired entries still count until swept.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MemoryStore) cleanupLocked() {
	now := m.now()
	if now.Sub(m.lastGC) < m.gcEvery {
		return
	}
	m.lastGC = now
	for id, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, id)
		}
	}
}
