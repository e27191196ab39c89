package core

import (
	"context"
	"time"
)

type StoreMode string

const (
	StoreMemory StoreMode = "memory"
	StoreRedis  StoreMode = "redis"
)

// KV is a minimal key-value interface for short-lived client state such as cached tokens.
// Implementations should honor TTL on Set and treat missing keys as (found=false, err=nil).
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
