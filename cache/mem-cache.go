package cache

import (
	"sort"
	"sync"
)

// MemCache keeps namespaces in memory. It is meant for tests and for
// clients that do not need the cache to outlive the process.
type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]map[string]CacheEntry
}

func NewMemCache() *MemCache {
	return &MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]CacheEntry),
	}
}

func (m *MemCache) Open(namespace string) (Cache, error) {
	if err := ValidateName(namespace); err != nil {
		return nil, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[namespace]; !ok {
		m.db[namespace] = make(map[string]CacheEntry)
	}
	return &memNamespace{m: m, name: namespace}, nil
}

func (m *MemCache) Delete(namespace string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.db[namespace]
	delete(m.db, namespace)
	return ok, nil
}

func (m *MemCache) Namespaces() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemCache) Count(namespace string) (int, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ns, ok := m.db[namespace]
	return len(ns), ok, nil
}

func (m *MemCache) Match(namespaces []string, key string) (CacheEntry, bool, error) {
	for _, namespace := range namespaces {
		n := &memNamespace{m: m, name: namespace}
		if ce, ok, _ := n.Match(key); ok {
			return ce, true, nil
		}
	}
	return CacheEntry{}, false, nil
}

func (m *MemCache) Close() error {
	return nil
}

type memNamespace struct {
	m    *MemCache
	name string
}

func (n *memNamespace) Name() string {
	return n.name
}

func (n *memNamespace) Put(ce CacheEntry) error {
	return n.PutAll([]CacheEntry{ce})
}

func (n *memNamespace) PutAll(entries []CacheEntry) error {
	n.m.mutex.Lock()
	defer n.m.mutex.Unlock()
	ns, ok := n.m.db[n.name]
	if !ok {
		ns = make(map[string]CacheEntry)
		n.m.db[n.name] = ns
	}
	for _, ce := range entries {
		ce.Bytes = append([]byte(nil), ce.Bytes...)
		ns[ce.Key] = ce
	}
	return nil
}

func (n *memNamespace) Match(key string) (CacheEntry, bool, error) {
	n.m.mutex.RLock()
	defer n.m.mutex.RUnlock()
	ce, ok := n.m.db[n.name][key]
	if !ok {
		return CacheEntry{}, false, nil
	}
	ce.Bytes = append([]byte(nil), ce.Bytes...)
	return ce, true, nil
}

func (n *memNamespace) Keys() ([]string, error) {
	n.m.mutex.RLock()
	defer n.m.mutex.RUnlock()
	keys := make([]string, 0, len(n.m.db[n.name]))
	for key := range n.m.db[n.name] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (n *memNamespace) Count() (int, error) {
	n.m.mutex.RLock()
	defer n.m.mutex.RUnlock()
	return len(n.m.db[n.name]), nil
}
