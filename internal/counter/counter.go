// Package counter keeps per-adapter message counters outside the process so
// they survive restarts and aggregate across instances.
package counter

import (
	"context"
	"sort"
	"sync"
)

// Counter names maintained by the consumer.
const (
	MessagesTotal  = "messages.total"
	ResultsSuccess = "results.success"
	ResultsError   = "results.error"
)

// OperationCounter names the per-operation message counter.
func OperationCounter(operation string) string {
	return "messages." + operation
}

// Store increments and reads named counters. Implementations must be safe for
// concurrent use.
type Store interface {
	Increment(ctx context.Context, name string) (int64, error)
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// MemoryStore is a process-local Store for the in-process transport and tests.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int64)}
}

func (m *MemoryStore) Increment(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
	return m.counts[name], nil
}

func (m *MemoryStore) Snapshot(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out, nil
}

// SortedNames returns the keys of a snapshot in order.
func SortedNames(snapshot map[string]int64) []string {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
