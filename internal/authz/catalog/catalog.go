// Package catalog holds the current permission reference snapshot and keeps it
// fresh. Readers never block: they load an immutable pointer.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"aegis/internal/authz/store"
)

// Catalog owns the active reference snapshot.
type Catalog struct {
	loader  store.Loader
	current atomic.Pointer[store.Snapshot]
	clock   func() time.Time
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// WithMetrics sets refresh metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Catalog) {
		c.metrics = m
	}
}

// WithClock overrides the time source stamped on snapshots.
func WithClock(clock func() time.Time) Option {
	return func(c *Catalog) {
		c.clock = clock
	}
}

// New creates an empty catalog. Until the first successful Refresh, Snapshot
// returns nil and every evaluation denies.
func New(loader store.Loader, opts ...Option) *Catalog {
	c := &Catalog{
		loader: loader,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the active snapshot, or nil before the first load.
func (c *Catalog) Snapshot() *store.Snapshot {
	return c.current.Load()
}

// Refresh loads reference data and swaps it in atomically. On failure the
// previous snapshot stays active.
func (c *Catalog) Refresh(ctx context.Context) error {
	start := time.Now()
	data, err := c.loader.Load(ctx)
	if err != nil {
		c.metrics.IncRefresh("error")
		return fmt.Errorf("load reference data: %w", err)
	}
	snap := store.NewSnapshot(data, c.clock())
	c.current.Store(snap)

	perms, roles, grants := snap.Size()
	c.metrics.IncRefresh("ok")
	c.metrics.ObserveRefresh(time.Since(start))
	c.metrics.SetSize(perms, roles, grants)
	c.logger.DebugContext(ctx, "reference snapshot refreshed",
		"permissions", perms,
		"roles", roles,
		"user_grants", grants,
	)
	return nil
}

// Run refreshes every interval until ctx is done. Refresh failures are logged
// and the stale snapshot keeps serving; grant expiry is still checked per call.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.WarnContext(ctx, "reference snapshot refresh failed", "error", err)
			}
		}
	}
}
