// Package modcache caches Move modules fetched from a fullnode in badger and
// resolves batches of module ids concurrently.
package modcache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/aperturerobotics/go-aptos-composer-wasi/moveabi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/node"
)

// ErrNotFound is returned by Get for modules that are not cached.
var ErrNotFound = errors.New("module not cached")

// Cache stores module bytecode and ABIs keyed by network and module id.
type Cache struct {
	db  *badger.DB
	log *zap.Logger
}

// Open opens or creates a cache in dir.
func Open(dir string, log *zap.Logger) (*Cache, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	return open(opts, log)
}

// OpenInMemory opens a cache that is never written to disk.
func OpenInMemory(log *zap.Logger) (*Cache, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts, log)
}

func open(opts badger.Options, log *zap.Logger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open module cache: %w", err)
	}
	return &Cache{db: db, log: log}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// CanonicalID normalizes "address::name" to the AIP-40 address form.
func CanonicalID(moduleID string) (string, error) {
	addr, name, err := node.SplitModuleID(moduleID)
	if err != nil {
		return "", err
	}
	return addr.String() + "::" + name, nil
}

func key(network, moduleID string) ([]byte, error) {
	id, err := CanonicalID(moduleID)
	if err != nil {
		return nil, err
	}
	return []byte("module:" + network + ":" + id), nil
}

// Get returns a cached module.
func (c *Cache) Get(network, moduleID string) (*moveabi.MoveModuleBytecode, error) {
	k, err := key(network, moduleID)
	if err != nil {
		return nil, err
	}

	var mod moveabi.MoveModuleBytecode
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &mod)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotFound, moduleID, network)
	}
	if err != nil {
		return nil, fmt.Errorf("read cached module %s: %w", moduleID, err)
	}
	return &mod, nil
}

// Put stores mod under its ABI's module id.
func (c *Cache) Put(network string, mod *moveabi.MoveModuleBytecode) error {
	if mod == nil || mod.ABI == nil {
		return errors.New("cannot cache a module without an ABI")
	}
	k, err := key(network, mod.ID())
	if err != nil {
		return err
	}
	data, err := json.Marshal(mod)
	if err != nil {
		return fmt.Errorf("failed to marshal module: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, data)
	})
	if err != nil {
		return fmt.Errorf("failed to store module %s: %w", mod.ID(), err)
	}
	c.log.Debug("cached module", zap.String("network", network), zap.String("module", mod.ID()))
	return nil
}

// List returns the ids of every module cached for network.
func (c *Cache) List(network string) ([]string, error) {
	prefix := []byte("module:" + network + ":")
	var ids []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return ids, err
}
