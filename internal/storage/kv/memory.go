package kv

import "sync"

// MemoryBucket is an in-memory bucket (not persisted).
type MemoryBucket struct {
	name    string
	entries map[string]any
	mu      sync.RWMutex
}

// NewMemoryBucket creates a new in-memory bucket.
func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{
		name:    name,
		entries: make(map[string]any),
	}
}

// Name returns the bucket name.
func (b *MemoryBucket) Name() string {
	return b.name
}

// IsPersistent returns false (memory buckets are not persistent).
func (b *MemoryBucket) IsPersistent() bool {
	return false
}

// Store saves a value with the given key.
func (b *MemoryBucket) Store(key string, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[key] = value
	return nil
}

// Get retrieves a value by key.
func (b *MemoryBucket) Get(key string) (any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.entries[key], nil
}

// Exists returns true if the key exists.
func (b *MemoryBucket) Exists(key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.entries[key]
	return ok, nil
}

// Delete removes a key from the bucket.
func (b *MemoryBucket) Delete(key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.entries[key]
	delete(b.entries, key)
	return ok, nil
}

// Keys returns all keys in the bucket.
func (b *MemoryBucket) Keys() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	return keys, nil
}

// Clear removes all keys from the bucket.
func (b *MemoryBucket) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[string]any)
	return nil
}
