package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client)
	t.Cleanup(r.Close)
	return r, mr
}

func TestRedis_GetSet(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	r.Set(ctx, "enrich:clearbit:techstart.com.br:abcd1234", []byte(`{"legal_name":"TechStart LTDA"}`), time.Hour)

	got, ok := r.Get(ctx, "enrich:clearbit:techstart.com.br:abcd1234")
	require.True(t, ok)
	assert.JSONEq(t, `{"legal_name":"TechStart LTDA"}`, string(got))
}

func TestRedis_TTLExpiry(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	r.Set(ctx, "k", []byte("v"), time.Hour)
	_, ok := r.Get(ctx, "k")
	require.True(t, ok)

	mr.FastForward(2 * time.Hour)

	_, ok = r.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedis_MissCounted(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	r.Set(ctx, "k", []byte("v"), time.Hour)
	r.Get(ctx, "k")
	r.Get(ctx, "absent")

	s := r.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
}

func TestRedis_Delete(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	r.Set(ctx, "k", []byte("v"), time.Hour)
	r.Delete(ctx, "k")

	_, ok := r.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedis_ServerDownDegradesToMiss(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client)
	t.Cleanup(r.Close)

	ctx := context.Background()
	r.Set(ctx, "k", []byte("v"), time.Hour)

	mr.Close()

	_, ok := r.Get(ctx, "k")
	assert.False(t, ok, "a dead hot tier must read as a miss, not an error")
	r.Set(ctx, "k2", []byte("v2"), time.Hour)
	r.Delete(ctx, "k")
}
