package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Package storage provides the persistent key/value backend behind the feed cache.

// ErrQuotaExceeded is returned when a value is larger than the backend accepts.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Store is a byte-oriented key/value store. Implementations are safe for concurrent use.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	// DeletePrefix removes every key starting with prefix and reports how many were removed.
	DeletePrefix(prefix string) (int, error)
	Close() error
}

// Options controls limits for concrete store implementations.
type Options struct {
	// MaxValueBytes rejects larger values with ErrQuotaExceeded. Zero means unlimited.
	MaxValueBytes int64
}

const (
	TypeBBolt  = "bbolt"
	TypeSQLite = "sqlite"
	TypeMemory = "memory"
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))

	switch typ {
	case "", "none", "disabled":
		return noopStore{}, nil
	case TypeMemory:
		return NewMemoryStore(opts), nil
	case TypeBBolt:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	case TypeSQLite:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("sqlite storage requires a path")
		}
		return openSQLite(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func checkQuota(opts Options, value []byte) error {
	if opts.MaxValueBytes > 0 && int64(len(value)) > opts.MaxValueBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrQuotaExceeded, len(value), opts.MaxValueBytes)
	}
	return nil
}

type noopStore struct{}

func (noopStore) Get(string) ([]byte, bool, error) { return nil, false, nil }
func (noopStore) Put(string, []byte) error         { return nil }
func (noopStore) Delete(string) error              { return nil }
func (noopStore) DeletePrefix(string) (int, error) { return 0, nil }
func (noopStore) Close() error                     { return nil }

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	opts Options
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte), opts: opts}
}

func (m *MemoryStore) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Put(key string, value []byte) error {
	if err := checkQuota(m.opts, value); err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeletePrefix(prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryStore) Close() error { return nil }
