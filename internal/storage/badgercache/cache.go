// Package badgercache provides a BadgerDB-backed implementation of the
// storage.SnapshotCache interface. The cache holds a single snapshot of
// all collections under a fixed key and is strictly best-effort: the
// app keeps working purely in-memory if local storage misbehaves.
package badgercache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/mmynk/pouch/internal/models"
	"github.com/mmynk/pouch/internal/storage"
)

// Ensure Cache implements storage.SnapshotCache
var _ storage.SnapshotCache = (*Cache)(nil)

// snapshotKey is the fixed key the snapshot lives under. One snapshot
// per app instance, overwritten wholesale on every save.
var snapshotKey = []byte("snapshot")

// Cache implements storage.SnapshotCache using BadgerDB.
type Cache struct {
	db     *badger.DB
	logger *slog.Logger
}

// Config holds configuration for the cache store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory
	// is true.
	Path string

	// InMemory enables in-memory mode, useful for testing.
	InMemory bool

	// Logger receives cache diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Open creates and opens the cache store.
func Open(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("path is required for a persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	// Badger's own chatter is noise at this scale.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Save persists the snapshot, overwriting any prior value. Failures
// are logged and swallowed: the cache mirrors in-memory state, so a
// lost write costs nothing but a colder start next launch.
func (c *Cache) Save(snapshot *models.Snapshot) {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error("failed to encode snapshot", "error", err)
		return
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, encoded)
	})
	if err != nil {
		c.logger.Error("failed to save snapshot", "error", err)
		return
	}
	c.logger.Debug("snapshot saved", "bytes", len(encoded))
}

// Load returns the most recently saved snapshot, or ok=false if none
// exists (first run) or storage is unavailable.
func (c *Cache) Load() (*models.Snapshot, bool) {
	var snapshot models.Snapshot
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snapshot)
		})
	})
	if err != nil {
		if err != badger.ErrKeyNotFound {
			c.logger.Warn("failed to load snapshot", "error", err)
		}
		return nil, false
	}
	return &snapshot, true
}
