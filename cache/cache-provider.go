package cache

import (
	"time"

	"github.com/jmgilman/go/errors"
)

// CacheProvider is a persistent, namespaced store of serialized HTTP responses.
// Every namespace is an independent key space, usually one generation of one
// group of assets (e.g. `app-v2-cdn`).
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Open returns a handle to the namespace, creating it if it does not exist.
	// It only fails for malformed names.
	Open(namespace string) (Cache, error)
	// Delete removes the namespace and all its entries.
	// The boolean is false if the namespace did not exist.
	Delete(namespace string) (bool, error)
	// Namespaces returns the names of all namespaces, sorted.
	Namespaces() ([]string, error)
	// Count returns the number of entries in the namespace without creating it.
	// The boolean is false if the namespace does not exist.
	Count(namespace string) (int, bool, error)
	// Match searches the given namespaces in order and returns the first entry
	// stored under the key. Namespaces that do not exist are skipped, not created.
	Match(namespaces []string, key string) (CacheEntry, bool, error)
	// Close releases the resources held by the provider.
	Close() error
}

// Cache is a handle to a single namespace.
// Writes replace: a namespace never holds two entries for the same key.
type Cache interface {
	// Name returns the namespace name.
	Name() string
	// Put stores the entry, replacing any entry with the same key.
	// A deleted namespace is recreated by a write through a stale handle.
	Put(CacheEntry) error
	// PutAll stores all entries or none of them.
	PutAll([]CacheEntry) error
	// Match returns the entry stored under the key, if any.
	Match(key string) (CacheEntry, bool, error)
	// Keys returns the keys of all entries, sorted.
	Keys() ([]string, error)
	// Count returns the number of entries.
	Count() (int, error)
}

type CacheEntry struct {
	Key      string
	StoredAt time.Time
	// HTTP/1.1 representation of the stored response.
	Bytes []byte
}

// ValidateName checks that a namespace name is well formed:
// non-empty and free of control characters.
func ValidateName(name string) error {
	if name == "" {
		return errors.New(errors.CodeInvalidInput, "empty namespace name")
	}
	for _, c := range name {
		if c < 32 || c == 127 {
			return errors.Newf(errors.CodeInvalidInput, "namespace name %q contains control characters", name)
		}
	}
	return nil
}

func storageError(err error, namespace, message string) error {
	if err == nil {
		return nil
	}
	return errors.WithContext(errors.Wrap(err, errors.CodeDatabase, message), "namespace", namespace)
}
