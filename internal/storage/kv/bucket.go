// Package kv provides named key-value buckets with SQLite persistence and in-memory options.
//
// The master switch of a lighting group keeps the last relay states in a
// persistent bucket so they survive a restart of the daemon.
package kv

// Bucket is the interface for key-value storage operations.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// IsPersistent returns true if the bucket is backed by SQLite.
	IsPersistent() bool

	// Store saves a JSON-serialisable value with the given key.
	Store(key string, value any) error

	// Get retrieves a value by key. Returns nil if the key doesn't exist.
	Get(key string) (any, error)

	// Exists returns true if the key exists.
	Exists(key string) (bool, error)

	// Delete removes a key from the bucket.
	// Returns true if the key existed.
	Delete(key string) (bool, error)

	// Keys returns all keys in the bucket.
	Keys() ([]string, error)

	// Clear removes all keys from the bucket.
	Clear() error
}

// GetBool reads a boolean value. A missing key or a non-boolean value reads as false.
func GetBool(b Bucket, key string) (bool, error) {
	v, err := b.Get(key)
	if err != nil {
		return false, err
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		return x != 0, nil
	default:
		return false, nil
	}
}
