package memorystore

import (
	"context"
	"sync"
	"time"
)

type kvItem struct {
	value   []byte
	expires time.Time
}

// KV is an in-memory key-value store with TTL support, used as the default token cache.
// It is only shared within a single process.
type KV struct {
	mu    sync.Mutex
	items map[string]kvItem
	now   func() time.Time
}

func NewKV() *KV {
	return &KV{items: make(map[string]kvItem), now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (k *KV) WithClock(now func() time.Time) *KV {
	if now != nil {
		k.now = now
	}
	return k
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	it, ok := k.items[key]
	if !ok {
		return nil, false, nil
	}
	if !it.expires.IsZero() && !k.now().Before(it.expires) {
		delete(k.items, key)
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = k.now().Add(ttl)
	}
	k.items[key] = kvItem{value: append([]byte(nil), value...), expires: exp}
	return nil
}

func (k *KV) Del(ctx context.Context, key string) error {
	_ = ctx
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.items, key)
	return nil
}

// Len reports the number of unexpired entries.
func (k *KV) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	now := k.now()
	for key, it := range k.items {
		if !it.expires.IsZero() && !now.Before(it.expires) {
			delete(k.items, key)
			continue
		}
		n++
	}
	return n
}
