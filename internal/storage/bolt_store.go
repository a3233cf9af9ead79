package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const kvBucket = "kv"

// boltStore implements a Store backed by BoltDB.
type boltStore struct {
	db   *bolt.DB
	opts Options
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(kvBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	return &boltStore{db: db, opts: opts}, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Get returns a copy of the value stored under key.
func (b *boltStore) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kvBucket))
		if bucket == nil {
			return fmt.Errorf("kv bucket missing")
		}
		if v := bucket.Get([]byte(key)); v != nil {
			// bbolt values are only valid for the life of the transaction
			out = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (b *boltStore) Put(key string, value []byte) error {
	if err := checkQuota(b.opts, value); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kvBucket))
		if bucket == nil {
			return fmt.Errorf("kv bucket missing")
		}
		return bucket.Put([]byte(key), value)
	})
}

func (b *boltStore) Delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kvBucket))
		if bucket == nil {
			return fmt.Errorf("kv bucket missing")
		}
		return bucket.Delete([]byte(key))
	})
}

// DeletePrefix walks the sorted key space from prefix and removes matches.
func (b *boltStore) DeletePrefix(prefix string) (int, error) {
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kvBucket))
		if bucket == nil {
			return fmt.Errorf("kv bucket missing")
		}

		p := []byte(prefix)
		cursor := bucket.Cursor()
		for k, _ := cursor.Seek(p); k != nil && bytes.HasPrefix(k, p); {
			if err := cursor.Delete(); err != nil {
				return err
			}
			removed++
			// cursor position is unspecified after Delete, so seek again
			k, _ = cursor.Seek(p)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
