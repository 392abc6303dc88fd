// SPDX-License-Identifier: Apache-2.0

// Package memory provides the pluggable memory backends agents recall
// context from: static, inmemory, file, kv (SQLite), and vector (Qdrant).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/llm"
	"github.com/weftworks/weft/pkg/manifest"
)

// Store is the optional write side of a memory backend.
type Store interface {
	core.Memory
	Store(ctx context.Context, entry core.MemoryEntry) error
}

// New builds a backend from its definition. Vector memories need an
// embedder; when the definition carries its own embedding capability an
// Ollama embedder is constructed from it.
func New(ctx context.Context, def *manifest.MemoryDef) (core.Memory, error) {
	switch def.Kind {
	case "static":
		return NewStatic(def.Entries), nil
	case "inmemory":
		return NewInMemory(), nil
	case "file":
		if def.Path == "" {
			return nil, errors.Newf(errors.CodeMissingProperty, "memories/%s: file memory requires a path", def.Name)
		}
		return NewFileStore(def.Path), nil
	case "kv":
		if def.DSN == "" {
			return nil, errors.Newf(errors.CodeMissingProperty, "memories/%s: kv memory requires a dsn", def.Name)
		}
		return OpenKV(def.DSN)
	case "vector":
		if def.Addr == "" || def.Collection == "" {
			return nil, errors.Newf(errors.CodeMissingProperty,
				"memories/%s: vector memory requires addr and collection", def.Name)
		}
		if def.Embedder == nil {
			return nil, errors.Newf(errors.CodeMissingProperty,
				"memories/%s: vector memory requires an embedder capability", def.Name)
		}
		embedder := llm.NewOllamaEmbedder(def.Embedder.BaseURL, def.Embedder.Model)
		return DialVector(ctx, def.Addr, def.Collection, embedder)
	default:
		return nil, errors.Newf(errors.CodeMissingProperty, "memories/%s: unknown memory kind %q", def.Name, def.Kind)
	}
}

// Resolver returns a lazily-constructing, caching resolver over the
// resolved manifest, suitable for the agent invoker.
func Resolver(resolved *manifest.Resolved) func(ctx context.Context, name string) (core.Memory, error) {
	var mu sync.Mutex
	cache := make(map[string]core.Memory)
	return func(ctx context.Context, name string) (core.Memory, error) {
		mu.Lock()
		defer mu.Unlock()
		if backend, ok := cache[name]; ok {
			return backend, nil
		}
		def, err := resolved.Memory(name)
		if err != nil {
			return nil, err
		}
		backend, err := New(ctx, def)
		if err != nil {
			return nil, err
		}
		cache[name] = backend
		return backend, nil
	}
}

// rank filters entries by case-insensitive substring match against the
// criteria and caps the result. Empty criteria matches everything; order
// is most recent first.
func rank(entries []core.MemoryEntry, criteria string, limit int) []core.MemoryEntry {
	needle := strings.ToLower(strings.TrimSpace(criteria))
	matched := make([]core.MemoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if needle == "" || strings.Contains(strings.ToLower(entries[i].Content), needle) {
			matched = append(matched, entries[i])
		}
	}
	// Relevance beats recency when scores are present.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Score > matched[j].Score
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}
