// Package store is the boundary to the external low-latency snapshot
// store used for crash recovery and broadcast fan-out. The simulation
// core only depends on the interface; the in-memory implementation
// backs tests and single-node deployments.
package store

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no snapshot exists for a match.
var ErrNotFound = errors.New("store: snapshot not found")

// SnapshotStore persists the latest serialized state per match.
// Implementations must be safe for concurrent use; Put is called once
// per tick per live match and must stay cheap.
type SnapshotStore interface {
	Put(ctx context.Context, matchID string, tick uint64, data []byte) error
	Get(ctx context.Context, matchID string) (data []byte, tick uint64, err error)
	Delete(ctx context.Context, matchID string) error
}

type entry struct {
	tick uint64
	data []byte
}

// MemoryStore is a process-local SnapshotStore keeping only the most
// recent snapshot per match.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry)}
}

// Put stores the snapshot if it is at least as new as the stored one.
// Late retries from a previous tick never overwrite fresher data.
func (s *MemoryStore) Put(_ context.Context, matchID string, tick uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[matchID]; ok && cur.tick > tick {
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.entries[matchID] = entry{tick: tick, data: buf}
	return nil
}

// Get returns the latest snapshot for the match.
func (s *MemoryStore) Get(_ context.Context, matchID string) ([]byte, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.entries[matchID]
	if !ok {
		return nil, 0, ErrNotFound
	}
	buf := make([]byte, len(cur.data))
	copy(buf, cur.data)
	return buf, cur.tick, nil
}

// Delete drops the match's snapshot.
func (s *MemoryStore) Delete(_ context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, matchID)
	return nil
}
