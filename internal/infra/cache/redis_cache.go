package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	invalidateQueueSize = 256
	invalidateTimeout   = 2 * time.Second
)

// RedisCache が使うコマンドだけ（テストで差し替える）
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache は JSON で値を持つ読み取りキャッシュ。
// 削除はバックグラウンドの1本のワーカーで行い、呼び出し側は待たない
type RedisCache struct {
	client redisClient
	log    *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan []string
	wg     sync.WaitGroup
}

// Dial は REDIS_URL から接続して疎通確認まで行う
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func NewRedisCache(client redisClient, log *zap.Logger) *RedisCache {
	c := &RedisCache{
		client: client,
		log:    log,
		queue:  make(chan []string, invalidateQueueSize),
	}
	c.wg.Add(1)
	go c.runInvalidator()
	return c
}

func (c *RedisCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		// 壊れた値は無かったことにする
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Invalidate は削除を予約するだけ。キューが一杯なら諦める（TTL で消える）
func (c *RedisCache) Invalidate(_ context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}

	select {
	case c.queue <- append([]string(nil), keys...):
	default:
		c.log.Warn("cache invalidation queue full, dropping", zap.Strings("keys", keys))
	}
}

func (c *RedisCache) runInvalidator() {
	defer c.wg.Done()
	for keys := range c.queue {
		ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.log.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
		}
		cancel()
	}
}

// Close は予約済みの削除を流し切ってからワーカーを止める
func (c *RedisCache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	c.wg.Wait()
}
