// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"

	"github.com/weftworks/weft/pkg/core"
)

// InMemory is a process-local backend. Contents do not survive restarts.
type InMemory struct {
	mu      sync.RWMutex
	entries []core.MemoryEntry
}

// NewInMemory creates an empty in-process backend.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Store appends one entry.
func (m *InMemory) Store(_ context.Context, entry core.MemoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *InMemory) Query(_ context.Context, criteria string, limit int) ([]core.MemoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return rank(m.entries, criteria, limit), nil
}
