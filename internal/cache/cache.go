// Package cache stores translated text in a badger key-value store so that
// repeated utterances (a final frequently repeats its last interim) skip the
// remote translator.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const DefaultTTL = time.Hour

// Entry is one cached translation.
type Entry struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Cache struct {
	db *badger.DB
}

// Open opens (or creates) the cache at path. An empty path keeps the cache
// in memory for the lifetime of the process.
func Open(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if strings.TrimSpace(path) == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open translation cache: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// GenerateKey hashes the parts into a fixed-size key.
func GenerateKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) Get(key string) (*Entry, bool) {
	var entry Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, false
	}
	return &entry, true
}

// Set stores entry under key; ttl <= 0 keeps it until the store is closed
// (in memory) or forever (on disk).
func (c *Cache) Set(key string, entry *Entry, ttl time.Duration) error {
	if entry == nil {
		return errors.New("cache entry is nil")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}
