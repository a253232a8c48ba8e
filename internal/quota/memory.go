package quota

import (
	"context"
	"sync"
	"time"
)

type usageKey struct {
	caller string
	day    time.Time
}

// MemoryStore keeps usage in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	used map[usageKey]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{used: make(map[usageKey]int)}
}

func (m *MemoryStore) Used(_ context.Context, callerID string, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[usageKey{callerID, Day(day)}], nil
}

func (m *MemoryStore) Reserve(_ context.Context, callerID string, day time.Time, want, limit int) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := usageKey{callerID, Day(day)}
	granted := clamp(want, limit, m.used[k])
	m.used[k] += granted
	return granted, m.used[k], nil
}

func (m *MemoryStore) Release(_ context.Context, callerID string, day time.Time, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := usageKey{callerID, Day(day)}
	m.used[k] -= n
	if m.used[k] < 0 {
		m.used[k] = 0
	}
	return nil
}

// clamp is the grant for want against limit given used.
func clamp(want, limit, used int) int {
	if want <= 0 {
		return 0
	}
	if limit == Unbounded {
		return want
	}
	remaining := limit - used
	if remaining <= 0 {
		return 0
	}
	if want > remaining {
		return remaining
	}
	return want
}
