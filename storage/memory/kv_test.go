package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKV_SetGetDel(t *testing.T) {
	ctx := context.Background()
	kv := NewKV()

	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), 0))
	got, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(got))

	require.NoError(t, kv.Del(ctx, "k"))
	_, ok, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKV_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	kv := NewKV().WithClock(func() time.Time { return now })

	require.NoError(t, kv.Set(ctx, "token", []byte("abc"), time.Minute))
	require.Equal(t, 1, kv.Len())

	now = now.Add(59 * time.Second)
	_, ok, err := kv.Get(ctx, "token")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(time.Second)
	_, ok, err = kv.Get(ctx, "token")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, kv.Len())
}

func TestKV_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	kv := NewKV()
	in := []byte("abc")
	require.NoError(t, kv.Set(ctx, "k", in, 0))
	in[0] = 'x'

	got, _, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
	got[0] = 'y'

	again, _, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(again))
}
