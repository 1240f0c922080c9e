package state

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu     sync.Mutex
	stats  Stats
	chunk  int
	hasChk bool
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memoryStore{}
}

var _ Store = (*memoryStore)(nil)

func (m *memoryStore) RecordSession(_ context.Context, rec SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Sessions++
	switch rec.Reason {
	case "idle":
		m.stats.IdleDisconnects++
	case "error":
		m.stats.Errors++
	}
	m.stats.BytesNearToFar += rec.NearToFar
	m.stats.BytesFarToNear += rec.FarToNear
	m.stats.Recent = append([]SessionRecord{rec}, m.stats.Recent...)
	if len(m.stats.Recent) > RecentLimit {
		m.stats.Recent = m.stats.Recent[:RecentLimit]
	}
	return nil
}

func (m *memoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stats
	st.Recent = append([]SessionRecord(nil), m.stats.Recent...)
	return st, nil
}

func (m *memoryStore) LoadChunkSize(_ context.Context) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunk, m.hasChk, nil
}

func (m *memoryStore) SaveChunkSize(_ context.Context, size int) error {
	m.mu.Lock()
	m.chunk = size
	m.hasChk = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Close() error { return nil }
