package domain

import (
	"context"
	"time"
)

// Cache stores opaque values per tenant with an expiry. It holds trained
// model snapshots; every value can be rebuilt, so callers treat a failure
// like a miss where they can.
type Cache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, tenantID, key string) ([]byte, error)
	Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, tenantID, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and tunes the snapshot cache.
type CacheConfig struct {
	// Type is "memory" (single process) or "redis" (shared).
	Type string `yaml:"type" json:"type"`

	// LocalMaxSize bounds the in-process LRU, also used as L1 over Redis.
	LocalMaxSize int `yaml:"local_max_size" json:"localMaxSize"`
	// LocalTTL caps how long L1 keeps a copy of a Redis entry.
	LocalTTL time.Duration `yaml:"local_ttl" json:"localTtl"`

	RedisAddr     string `yaml:"redis_addr" json:"redisAddr"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redisDb"`

	// EnableTwoPhase puts the local LRU in front of Redis.
	EnableTwoPhase bool `yaml:"two_phase" json:"twoPhase"`
}
