package kv

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager hands out buckets by name and remembers them.
type Manager struct {
	db      *sql.DB
	buckets map[string]Bucket
	mu      sync.Mutex
}

// NewManager creates a new KV manager. A nil db restricts it to memory buckets.
func NewManager(db *sql.DB) *Manager {
	return &Manager{
		db:      db,
		buckets: make(map[string]Bucket),
	}
}

// Bucket returns a bucket by name, creating it if it doesn't exist.
// If persistent is true and a database is attached, the bucket is backed by SQLite.
func (m *Manager) Bucket(name string, persistent bool) Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bucket, ok := m.buckets[name]; ok {
		return bucket
	}

	var bucket Bucket
	if persistent && m.db != nil {
		bucket = NewSQLiteBucket(m.db, name)
	} else {
		bucket = NewMemoryBucket(name)
	}
	m.buckets[name] = bucket

	log.Debug().
		Str("bucket", name).
		Bool("persistent", bucket.IsPersistent()).
		Msg("Opened KV bucket")

	return bucket
}

// List returns all bucket names, including persistent ones not opened yet.
func (m *Manager) List() ([]string, error) {
	m.mu.Lock()
	seen := make(map[string]bool, len(m.buckets))
	for name := range m.buckets {
		seen[name] = true
	}
	m.mu.Unlock()

	if m.db != nil {
		rows, err := m.db.Query(`SELECT DISTINCT bucket FROM kv_store`)
		if err != nil {
			return nil, fmt.Errorf("failed to list buckets: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, fmt.Errorf("failed to scan bucket name: %w", err)
			}
			seen[name] = true
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ClearAll empties every bucket, persistent or not.
func (m *Manager) ClearAll() error {
	m.mu.Lock()
	for _, b := range m.buckets {
		if err := b.Clear(); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.mu.Unlock()

	if m.db != nil {
		if _, err := m.db.Exec(`DELETE FROM kv_store`); err != nil {
			return fmt.Errorf("failed to clear kv store: %w", err)
		}
	}
	return nil
}
