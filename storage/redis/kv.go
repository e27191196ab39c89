package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is a Redis-backed key-value store with TTL support. Sharing one Redis
// between client replicas lets them reuse a single cached token per scope.
type KV struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewKV(rdb redis.UniversalClient) *KV {
	return &KV{rdb: rdb, prefix: "planauth:"}
}

// WithPrefix namespaces every key. The default prefix is "planauth:".
func (k *KV) WithPrefix(prefix string) *KV { k.prefix = prefix; return k }

// NewKVFromURL parses a redis:// URL and returns a store backed by a new client.
func NewKVFromURL(url string) (*KV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewKV(redis.NewClient(opts)), nil
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := k.rdb.Get(ctx, k.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return k.rdb.Set(ctx, k.prefix+key, value, ttl).Err()
}

func (k *KV) Del(ctx context.Context, key string) error {
	return k.rdb.Del(ctx, k.prefix+key).Err()
}

// Close releases the underlying client.
func (k *KV) Close() error { return k.rdb.Close() }
