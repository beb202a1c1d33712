// Package deduper guards against duplicate records, in memory for
// single runs or backed by sqlite when dedup must survive restarts.
package deduper

import (
	"context"
	"sync"
)

// Deduper records keys it has seen. AddIfNotExists returns true when
// the key was new.
type Deduper interface {
	AddIfNotExists(ctx context.Context, key string) bool
}

type memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New returns an in-memory deduper.
func New() Deduper {
	return &memory{seen: make(map[string]struct{})}
}

func (m *memory) AddIfNotExists(_ context.Context, key string) bool {
	if key == "" {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[key]; ok {
		return false
	}

	m.seen[key] = struct{}{}

	return true
}
