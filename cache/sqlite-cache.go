package cache

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmgilman/go/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
)

var memoryDBCounter atomic.Int64

// SQLiteCache stores namespaces in a SQLite database.
// Response bytes are stored zstd-compressed together with their digest,
// which is verified when an entry is read.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	encoder    *zstd.Encoder
	decoder    *zstd.Decoder
}

// NewSQLiteCache opens a cache with the given filename as the db.
// If the file name is empty or "memory", a new private in-memory db is opened.
func NewSQLiteCache(filename string) (*SQLiteCache, error) {
	inMemory := filename == "" || filename == "memory"
	if inMemory {
		filename = fmt.Sprintf("file:offline-cache-%d?mode=memory&cache=shared", memoryDBCounter.Add(1))
	}
	if !strings.Contains(filename, "?") {
		filename += "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "could not open cache db")
	}
	// the in-memory db lives as long as its connection, and a shared cache
	// reports table locks instead of waiting for them
	if inMemory {
		db.SetMaxOpenConns(1)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS namespaces (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			digest TEXT,
			bytes BLOB,
			PRIMARY KEY (namespace, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, errors.CodeDatabase, "could not initialize cache db")
		}
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CodeInternal, "could not create zstd encoder")
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CodeInternal, "could not create zstd decoder")
	}
	return &SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
		encoder:    encoder,
		decoder:    decoder,
	}, nil
}

func (s *SQLiteCache) Open(namespace string) (Cache, error) {
	if err := ValidateName(namespace); err != nil {
		return nil, err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO namespaces (name, created_at) VALUES (?, ?)",
		namespace, time.Now().Unix())
	if err != nil {
		return nil, storageError(err, namespace, "could not open namespace")
	}
	return &sqliteNamespace{s: s, name: namespace}, nil
}

func (s *SQLiteCache) Delete(namespace string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, storageError(err, namespace, "could not delete namespace")
	}
	defer tx.Rollback()
	result, err := tx.Exec("DELETE FROM namespaces WHERE name = ?", namespace)
	if err != nil {
		return false, storageError(err, namespace, "could not delete namespace")
	}
	if _, err := tx.Exec("DELETE FROM entries WHERE namespace = ?", namespace); err != nil {
		return false, storageError(err, namespace, "could not delete namespace entries")
	}
	if err := tx.Commit(); err != nil {
		return false, storageError(err, namespace, "could not delete namespace")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, storageError(err, namespace, "could not delete namespace")
	}
	return rows > 0, nil
}

func (s *SQLiteCache) Namespaces() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM namespaces ORDER BY name")
	if err != nil {
		return nil, storageError(err, "", "could not list namespaces")
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, storageError(err, "", "could not list namespaces")
		}
		names = append(names, name)
	}
	return names, storageError(rows.Err(), "", "could not list namespaces")
}

func (s *SQLiteCache) Count(namespace string) (int, bool, error) {
	var count int
	err := s.db.QueryRow("SELECT (SELECT COUNT(*) FROM entries WHERE entries.namespace = namespaces.name) FROM namespaces WHERE name = ?",
		namespace).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storageError(err, namespace, "could not count entries")
	}
	return count, true, nil
}

func (s *SQLiteCache) Match(namespaces []string, key string) (CacheEntry, bool, error) {
	for _, namespace := range namespaces {
		n := &sqliteNamespace{s: s, name: namespace}
		if ce, ok, err := n.Match(key); err != nil || ok {
			return ce, ok, err
		}
	}
	return CacheEntry{}, false, nil
}

func (s *SQLiteCache) Close() error {
	s.decoder.Close()
	return s.db.Close()
}

type sqliteNamespace struct {
	s    *SQLiteCache
	name string
}

func (n *sqliteNamespace) Name() string {
	return n.name
}

func (n *sqliteNamespace) Put(ce CacheEntry) error {
	return n.PutAll([]CacheEntry{ce})
}

func (n *sqliteNamespace) PutAll(entries []CacheEntry) error {
	n.s.writeMutex.Lock()
	defer n.s.writeMutex.Unlock()
	tx, err := n.s.db.Begin()
	if err != nil {
		return storageError(err, n.name, "could not write to cache")
	}
	defer tx.Rollback()
	_, err = tx.Exec("INSERT OR IGNORE INTO namespaces (name, created_at) VALUES (?, ?)",
		n.name, time.Now().Unix())
	if err != nil {
		return storageError(err, n.name, "could not write to cache")
	}
	for _, ce := range entries {
		_, err := tx.Exec(`INSERT OR REPLACE INTO entries
			(namespace, key, stored_at, digest, bytes) VALUES (?, ?, ?, ?, ?)`,
			n.name, ce.Key, ce.StoredAt.UnixMilli(), digest.FromBytes(ce.Bytes).String(),
			n.s.encoder.EncodeAll(ce.Bytes, nil))
		if err != nil {
			return errors.WithContext(storageError(err, n.name, "could not write to cache"), "key", ce.Key)
		}
	}
	return storageError(tx.Commit(), n.name, "could not write to cache")
}

func (n *sqliteNamespace) Match(key string) (CacheEntry, bool, error) {
	var (
		storedAt   int64
		dgst       string
		compressed []byte
	)
	err := n.s.db.QueryRow("SELECT stored_at, digest, bytes FROM entries WHERE namespace = ? AND key = ?",
		n.name, key).Scan(&storedAt, &dgst, &compressed)
	if err == sql.ErrNoRows {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, storageError(err, n.name, "could not read from cache")
	}
	bytes, err := n.s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return CacheEntry{}, false, storageError(err, n.name, "could not decompress cache entry")
	}
	if expected := digest.Digest(dgst); expected.Validate() != nil || expected.Algorithm().FromBytes(bytes) != expected {
		return CacheEntry{}, false, errors.WithContext(
			errors.Newf(errors.CodeDatabase, "cache entry %s is corrupt", key), "namespace", n.name)
	}
	return CacheEntry{
		Key:      key,
		StoredAt: time.UnixMilli(storedAt),
		Bytes:    bytes,
	}, true, nil
}

func (n *sqliteNamespace) Keys() ([]string, error) {
	rows, err := n.s.db.Query("SELECT key FROM entries WHERE namespace = ? ORDER BY key", n.name)
	if err != nil {
		return nil, storageError(err, n.name, "could not list keys")
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, storageError(err, n.name, "could not list keys")
		}
		keys = append(keys, key)
	}
	return keys, storageError(rows.Err(), n.name, "could not list keys")
}

func (n *sqliteNamespace) Count() (int, error) {
	var count int
	err := n.s.db.QueryRow("SELECT COUNT(*) FROM entries WHERE namespace = ?", n.name).Scan(&count)
	return count, storageError(err, n.name, "could not count entries")
}
