package realtime

import (
	"sync"
	"time"

	"nexttrain/internal/feed"
)

// Store holds the latest feed snapshot in a thread-safe manner.
type Store struct {
	mu        sync.RWMutex
	snap      feed.Snapshot
	fetchedAt time.Time

	ready     chan struct{}
	readyOnce sync.Once
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{ready: make(chan struct{})}
}

// Set replaces the snapshot.
func (s *Store) Set(snap feed.Snapshot, fetchedAt time.Time) {
	s.mu.Lock()
	s.snap = snap
	s.fetchedAt = fetchedAt
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
}

// Snapshot returns the latest snapshot and when it was fetched.
// The zero time means nothing has been fetched yet.
func (s *Store) Snapshot() (feed.Snapshot, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.fetchedAt
}

// Ready is closed once the first snapshot is stored.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}
