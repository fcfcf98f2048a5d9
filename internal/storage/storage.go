// Package storage is the key-value persistence used for the accessory cache
// and plugin data. Values are whole documents; every Set replaces the
// previous value of the key.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned by Get for keys without a value.
var ErrNotFound = errors.New("key not found")

// Store is a key to document store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open returns the store for the given driver name ("file" or "sqlite")
// rooted at dir.
func Open(driver, dir string) (Store, error) {
	switch driver {
	case "", "file":
		return NewFileStore(dir)
	case "sqlite":
		return NewSQLiteStore(filepath.Join(dir, "homebridge.db"))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// MemoryStore keeps documents in memory. Used in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	writes map[string]int
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		writes: make(map[string]int),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.values[key] = v
	m.writes[key]++
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Writes reports how often key was written.
func (m *MemoryStore) Writes(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes[key]
}

// WriteFileAtomic replaces path with data so that readers see either the old
// or the new content, never a partial write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
