package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultLocalTTL = 5 * time.Minute

// New builds the cache named by cfg.Type. "memory" is a process-local LRU.
// "redis" is shared across API and worker processes, optionally fronted by
// a local LRU when two_phase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		remote, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return remote, nil
		}
		return NewTiered(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Tiered reads a local L1 before a shared L2.
//
// L2 failures degrade to L1-only operation: a failed read is a miss and a
// failed write still leaves the L1 copy. Snapshots can always be rebuilt by
// retraining, so a Redis outage never fails a forecast.
type Tiered struct {
	local  domain.Cache
	remote domain.Cache
	l1TTL  time.Duration
}

// NewTiered layers local over remote. L1 entries live at most l1TTL.
func NewTiered(local, remote domain.Cache, l1TTL time.Duration) *Tiered {
	if l1TTL <= 0 {
		l1TTL = defaultLocalTTL
	}
	return &Tiered{local: local, remote: remote, l1TTL: l1TTL}
}

func (c *Tiered) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		slog.Warn("shared cache read failed",
			"tenant_id", tenantID,
			"key", key,
			"error", err,
		)
		return nil, nil
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes L1 then L2. The L1 copy never outlives ttl.
func (c *Tiered) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, min(ttl, c.l1TTL)); err != nil {
		return err
	}
	if err := c.remote.Set(ctx, tenantID, key, value, ttl); err != nil {
		slog.Warn("shared cache write failed",
			"tenant_id", tenantID,
			"key", key,
			"error", err,
		)
	}
	return nil
}

// Delete must reach both tiers, otherwise a stale model survives in L2.
func (c *Tiered) Delete(ctx context.Context, tenantID, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// Ping reports L2 health; L1 cannot fail.
func (c *Tiered) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("shared cache: %w", err)
	}
	return nil
}

func (c *Tiered) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}
