package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =====================
// redisClient の差し替え
// =====================

type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	ttl     map[string]time.Duration
	deleted [][]string
	delErr  error
	getErr  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := value.([]byte)
	f.data[key] = string(b)
	f.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, keys)
	if f.delErr != nil {
		return redis.NewIntResult(0, f.delErr)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

type cachedOrder struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func TestRedisCache_SetGet(t *testing.T) {
	fr := newFakeRedis()
	c := NewRedisCache(fr, zaptest.NewLogger(t))
	defer c.Close()
	ctx := context.Background()

	var got cachedOrder
	hit, err := c.GetJSON(ctx, "orders:1", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.SetJSON(ctx, "orders:1", cachedOrder{ID: 1, Status: "Pending"}, time.Minute))
	assert.Equal(t, time.Minute, fr.ttl["orders:1"])

	hit, err = c.GetJSON(ctx, "orders:1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, cachedOrder{ID: 1, Status: "Pending"}, got)
}

func TestRedisCache_GetErrors(t *testing.T) {
	fr := newFakeRedis()
	c := NewRedisCache(fr, zaptest.NewLogger(t))
	defer c.Close()
	ctx := context.Background()

	fr.data["broken"] = "{not json"
	var got cachedOrder
	hit, err := c.GetJSON(ctx, "broken", &got)
	assert.Error(t, err)
	assert.False(t, hit)

	fr.getErr = errors.New("connection refused")
	hit, err = c.GetJSON(ctx, "orders:1", &got)
	assert.ErrorContains(t, err, "connection refused")
	assert.False(t, hit)
}

func TestRedisCache_InvalidateFlushedOnClose(t *testing.T) {
	fr := newFakeRedis()
	c := NewRedisCache(fr, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "orders:1", cachedOrder{ID: 1}, time.Minute))
	require.NoError(t, c.SetJSON(ctx, "vouchers:active", []int{1}, time.Minute))

	c.Invalidate(ctx, "orders:1", "vouchers:active")
	c.Invalidate(ctx)
	c.Close()

	assert.False(t, fr.has("orders:1"))
	assert.False(t, fr.has("vouchers:active"))
	assert.Equal(t, [][]string{{"orders:1", "vouchers:active"}}, fr.deleted)

	// 閉じた後は何もしない
	c.Invalidate(ctx, "orders:2")
	c.Close()
	assert.Len(t, fr.deleted, 1)
}

func TestRedisCache_InvalidateErrorIsLogged(t *testing.T) {
	fr := newFakeRedis()
	fr.delErr = errors.New("timeout")
	c := NewRedisCache(fr, zaptest.NewLogger(t))

	c.Invalidate(context.Background(), "orders:1")
	c.Close()

	assert.Len(t, fr.deleted, 1)
}
