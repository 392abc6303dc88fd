// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"

	"github.com/weftworks/weft/pkg/core"
)

// Static is a read-only backend seeded from the manifest. Useful for
// pinned context such as style guides.
type Static struct {
	entries []core.MemoryEntry
}

// NewStatic creates a static backend from literal entries.
func NewStatic(contents []string) *Static {
	entries := make([]core.MemoryEntry, len(contents))
	for i, content := range contents {
		entries[i] = core.MemoryEntry{Content: content}
	}
	return &Static{entries: entries}
}

func (s *Static) Query(_ context.Context, criteria string, limit int) ([]core.MemoryEntry, error) {
	return rank(s.entries, criteria, limit), nil
}
