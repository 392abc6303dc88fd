// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
)

// FileStore persists entries as JSON lines. Reads scan the whole file;
// intended for small, durable memories, not high-volume logs.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed memory store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Store appends a JSON-encoded entry to the file.
func (f *FileStore) Store(_ context.Context, entry core.MemoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.New(errors.CodeMemoryError, "cannot create memory directory", err)
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return errors.New(errors.CodeMemoryError, "cannot open memory file", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(entry); err != nil {
		return errors.New(errors.CodeMemoryError, "cannot encode memory entry", err)
	}
	return nil
}

func (f *FileStore) Query(_ context.Context, criteria string, limit int) ([]core.MemoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(errors.CodeMemoryError, "cannot open memory file", err)
	}
	defer file.Close()

	var entries []core.MemoryEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry core.MemoryEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, errors.New(errors.CodeMemoryError, "corrupt memory entry", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(errors.CodeMemoryError, "cannot read memory file", err)
	}
	return rank(entries, criteria, limit), nil
}
