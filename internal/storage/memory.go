package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/auth-relay/internal/log"
)

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Sweeper = (*MemoryStorage)(nil)
)

type memoryEntry struct {
	state     AuthenticationState
	expiresAt time.Time
}

// MemoryStorage keeps handshake records in process memory. Every operation
// runs under one mutex, which makes Pop trivially linearizable.
type MemoryStorage struct {
	mu     sync.Mutex
	states map[string]*memoryEntry
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryStorage creates a memory store; ttl <= 0 keeps records until popped
func NewMemoryStorage(ttl time.Duration) *MemoryStorage {
	return &MemoryStorage{
		states: make(map[string]*memoryEntry),
		ttl:    ttl,
		now:    time.Now,
	}
}

// lookup returns a live entry; expired entries are dropped on the way.
// Callers hold s.mu.
func (s *MemoryStorage) lookup(stateID string) (*memoryEntry, bool) {
	entry, ok := s.states[stateID]
	if !ok {
		return nil, false
	}
	if expired(entry.expiresAt, s.now()) {
		delete(s.states, stateID)
		return nil, false
	}
	return entry, true
}

func (s *MemoryStorage) Create(_ context.Context, stateID string) (*AuthenticationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[stateID] = &memoryEntry{
		state:     AuthenticationState{State: stateID},
		expiresAt: expiry(s.now(), s.ttl),
	}
	return &AuthenticationState{State: stateID}, nil
}

func (s *MemoryStorage) Get(_ context.Context, stateID string) (*AuthenticationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(stateID); !ok {
		return nil, ErrStateNotFound
	}
	return &AuthenticationState{State: stateID}, nil
}

func (s *MemoryStorage) Update(_ context.Context, state *AuthenticationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookup(state.State)
	if !ok {
		return ErrStateNotFound
	}
	entry.state.AccessToken = state.AccessToken
	entry.state.RefreshToken = state.RefreshToken
	entry.state.IDToken = state.IDToken
	return nil
}

func (s *MemoryStorage) Pop(_ context.Context, stateID, refreshToken string) (*AuthenticationState, error) {
	if refreshToken == "" {
		return nil, ErrPopConditionFailed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookup(stateID)
	if !ok || entry.state.RefreshToken != refreshToken {
		return nil, ErrPopConditionFailed
	}
	delete(s.states, stateID)

	popped := entry.state
	return &popped, nil
}

// DeleteExpired drops every expired record and reports how many were removed
func (s *MemoryStorage) DeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, entry := range s.states {
		if expired(entry.expiresAt, now) {
			delete(s.states, id)
			removed++
		}
	}
	if removed > 0 {
		log.LogTraceWithFields("storage", "Dropped expired handshake records", map[string]any{"count": removed})
	}
	return removed, nil
}

// Len reports the number of stored records, expired ones included
func (s *MemoryStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func (s *MemoryStorage) Close() error {
	return nil
}
