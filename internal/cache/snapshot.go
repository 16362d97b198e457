package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SnapshotStore keeps the latest trained model per tenant and branch.
// Concurrent loads of the same snapshot share one cache read.
type SnapshotStore struct {
	cache domain.Cache
	ttl   time.Duration
	loads singleflight.Group
}

// NewSnapshotStore stores snapshots in c. Entries expire after ttl, which is
// the model freshness window.
func NewSnapshotStore(c domain.Cache, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{cache: c, ttl: ttl}
}

// SnapshotKey is the cache key of a branch's model. An empty branch is the
// whole tenant and gets the bare prefix, which no branch key can equal.
func SnapshotKey(branchID string) string {
	if branchID == "" {
		return "model"
	}
	return "model:" + branchID
}

// Load returns nil, nil when no snapshot is cached.
func (s *SnapshotStore) Load(ctx context.Context, tenantID, branchID string) (*domain.ModelSnapshot, error) {
	key := SnapshotKey(branchID)
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := s.loads.Do(tenantID+"/"+key, func() (any, error) {
		raw, err := s.cache.Get(loadCtx, tenantID, key)
		if err != nil || raw == nil {
			return nil, err
		}
		var snap domain.ModelSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("corrupt model snapshot %s: %w", key, err)
		}
		return &snap, nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	// Callers mutate the metrics; never hand out the shared value.
	snap := *v.(*domain.ModelSnapshot)
	return &snap, nil
}

// Save caches snap for the branch until the freshness window passes.
func (s *SnapshotStore) Save(ctx context.Context, tenantID, branchID string, snap domain.ModelSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, tenantID, SnapshotKey(branchID), raw, s.ttl)
}

// Invalidate drops the cached model so the next read falls back to history.
func (s *SnapshotStore) Invalidate(ctx context.Context, tenantID, branchID string) error {
	return s.cache.Delete(ctx, tenantID, SnapshotKey(branchID))
}
