package usecase

import (
	"context"
	"strconv"
	"time"

	"storefront/internal/domain/model"

	"github.com/google/uuid"
)

// 読み取りキャッシュ。失敗してもDBにフォールバックするので、エラーは握りつぶしてよい
type Cache interface {
	// ヒットしたら dst に詰めて true
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	// 削除は非同期。呼び出し側をブロックしない
	Invalidate(ctx context.Context, keys ...string)
}

// 注文イベントの送信先（best-effort）
type EventPublisher interface {
	Publish(ctx context.Context, ev model.OrderEvent) error
}

// UUID 等のIDを作る約束
type IDGenerator interface {
	NewID() string
}

// 現在の時間
type Clock interface {
	Now() time.Time
}

// キャッシュキー
const (
	ProductsCacheKey       = "products:all"
	ActiveVouchersCacheKey = "vouchers:active"
)

func OrdersCacheKey(userID int64) string {
	return "orders:" + strconv.FormatInt(userID, 10)
}

func MyVouchersCacheKey(userID int64) string {
	return "vouchers:user:" + strconv.FormatInt(userID, 10)
}

// キャッシュ無し構成用
type NopCache struct{}

func (NopCache) GetJSON(context.Context, string, any) (bool, error) { return false, nil }
func (NopCache) SetJSON(context.Context, string, any, time.Duration) error { return nil }
func (NopCache) Invalidate(context.Context, ...string) {}

// ブローカー無し構成用
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.OrderEvent) error { return nil }

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }
