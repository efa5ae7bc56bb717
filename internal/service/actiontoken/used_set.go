package actiontoken

import (
	"context"
	"sync"
	"time"
)

// MemoryUsedSet is a process-local UsedTokenSet. Single-use only holds
// within one instance; multi-instance deployments use the Redis set.
type MemoryUsedSet struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryUsedSet() *MemoryUsedSet {
	return &MemoryUsedSet{entries: make(map[string]time.Time)}
}

func (m *MemoryUsedSet) MarkUsed(ctx context.Context, tokenID string, retainUntil time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[tokenID]; ok {
		return false, nil
	}
	m.entries[tokenID] = retainUntil
	return true, nil
}

func (m *MemoryUsedSet) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, until := range m.entries {
		if until.Before(cutoff) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryUsedSet) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
