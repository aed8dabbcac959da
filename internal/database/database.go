// Package database defines the backend-neutral SQL executor used by the
// provisioner, loader and validator.
//
// Backends register a Factory under their Driver name from an init
// function; callers blank-import the backends they need and call Open.
//
// Usage:
//
//	import _ "github.com/koustreak/csvingest/internal/database/postgres"
//
//	db, err := database.Open(ctx, database.DefaultConfig(dsn))
//	if err != nil { ... }
//	defer db.Close()
package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/koustreak/csvingest/internal/errs"
)

// Factory opens a connection pool for one backend.
type Factory func(ctx context.Context, cfg *Config) (DB, error)

var (
	registryMu sync.RWMutex
	registry   = map[Driver]Factory{}
)

// Register makes a backend available under driver. It panics when the
// factory is nil or the driver is registered twice.
func Register(driver Driver, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if f == nil {
		panic("database: Register factory is nil")
	}
	if _, dup := registry[driver]; dup {
		panic(fmt.Sprintf("database: Register called twice for driver %q", driver))
	}
	registry[driver] = f
}

// Open looks up the factory for cfg.Driver and opens a pool with it.
func Open(ctx context.Context, cfg *Config) (DB, error) {
	if cfg == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "database config is nil")
	}

	registryMu.RLock()
	f, ok := registry[cfg.Driver]
	registryMu.RUnlock()

	if !ok {
		return nil, errs.Newf(errs.ErrKindInvalidInput,
			"unknown database driver %q (registered: %v)", cfg.Driver, Drivers())
	}
	return f(ctx, cfg)
}

// Drivers returns the registered driver names in sorted order.
func Drivers() []Driver {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Driver, 0, len(registry))
	for d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
