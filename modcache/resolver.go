package modcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aperturerobotics/go-aptos-composer-wasi/moveabi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/movetype"
	"github.com/aperturerobotics/go-aptos-composer-wasi/node"
)

// Fetcher loads a module from a fullnode. *node.Client implements it.
type Fetcher interface {
	GetModule(ctx context.Context, address movetype.Address, name string, ledgerVersion uint64) (*moveabi.MoveModuleBytecode, error)
}

// DefaultConcurrency bounds parallel fetches.
const DefaultConcurrency = 8

// Resolver finds modules in the cache first and fetches the rest.
type Resolver struct {
	// Network names the cache partition.
	Network string
	// Cache is optional.
	Cache *Cache
	// Fetcher is optional; without one only cached modules resolve.
	Fetcher Fetcher
	// Concurrency defaults to DefaultConcurrency.
	Concurrency int
	// Log defaults to no-op.
	Log *zap.Logger
}

func (r *Resolver) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// ResolveOne resolves a single module id.
func (r *Resolver) ResolveOne(ctx context.Context, moduleID string) (*moveabi.MoveModuleBytecode, error) {
	mods, err := r.Resolve(ctx, []string{moduleID})
	if err != nil {
		return nil, err
	}
	id, _ := CanonicalID(moduleID)
	return mods[id], nil
}

// Resolve returns every requested module keyed by CanonicalID. Duplicate ids
// are fetched once.
func (r *Resolver) Resolve(ctx context.Context, moduleIDs []string) (map[string]*moveabi.MoveModuleBytecode, error) {
	wanted := make([]string, 0, len(moduleIDs))
	seen := make(map[string]bool, len(moduleIDs))
	for _, raw := range moduleIDs {
		id, err := CanonicalID(raw)
		if err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			wanted = append(wanted, id)
		}
	}

	var mu sync.Mutex
	out := make(map[string]*moveabi.MoveModuleBytecode, len(wanted))
	limit := r.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for _, id := range wanted {
		eg.Go(func() error {
			mod, err := r.resolve(egCtx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = mod
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, id string) (*moveabi.MoveModuleBytecode, error) {
	if r.Cache != nil {
		mod, err := r.Cache.Get(r.Network, id)
		if err == nil {
			return mod, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if r.Fetcher == nil {
		return nil, fmt.Errorf("%w: %s on %s and no fetcher configured", ErrNotFound, id, r.Network)
	}

	addr, name, _ := node.SplitModuleID(id)
	mod, err := r.Fetcher.GetModule(ctx, addr, name, 0)
	if err != nil {
		return nil, err
	}
	r.logger().Debug("fetched module", zap.String("network", r.Network), zap.String("module", id))

	if r.Cache != nil {
		if err := r.Cache.Put(r.Network, mod); err != nil {
			r.logger().Warn("failed to cache module", zap.String("module", id), zap.Error(err))
		}
	}
	return mod, nil
}
