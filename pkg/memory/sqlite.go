// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"time"

	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"

	_ "modernc.org/sqlite"
)

const memoryTable = "weft_memory"

// KVStore persists entries in a SQLite database.
type KVStore struct {
	db *sql.DB
}

// OpenKV opens (or creates) a SQLite-backed store at the given DSN.
func OpenKV(dsn string) (*KVStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "cannot open sqlite memory", err)
	}
	return NewKVStore(db)
}

// NewKVStore wraps an existing database handle and ensures the schema.
func NewKVStore(db *sql.DB) (*KVStore, error) {
	if db == nil {
		return nil, errors.Newf(errors.CodeMemoryError, "db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + memoryTable + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_` + memoryTable + `_created ON ` + memoryTable + `(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errors.New(errors.CodeMemoryError, "cannot ensure memory schema", err)
		}
	}
	return &KVStore{db: db}, nil
}

// Store inserts one entry.
func (s *KVStore) Store(ctx context.Context, entry core.MemoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+memoryTable+` (content, created_at) VALUES (?, ?)`,
		entry.Content, time.Now().UnixMilli())
	if err != nil {
		return errors.New(errors.CodeMemoryError, "cannot store memory entry", err)
	}
	return nil
}

// Query returns entries matching the criteria as a substring, most
// recent first. Empty criteria returns the most recent entries.
func (s *KVStore) Query(ctx context.Context, criteria string, limit int) ([]core.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM `+memoryTable+`
		 WHERE (? = '' OR content LIKE '%' || ? || '%')
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		criteria, criteria, limit)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "cannot query memory", err)
	}
	defer rows.Close()

	var entries []core.MemoryEntry
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, errors.New(errors.CodeMemoryError, "cannot scan memory entry", err)
		}
		entries = append(entries, core.MemoryEntry{Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeMemoryError, "cannot read memory rows", err)
	}
	return entries, nil
}

// Close releases the underlying database handle.
func (s *KVStore) Close() error { return s.db.Close() }
