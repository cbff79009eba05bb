package usecase

import (
	"context"
	"time"

	"storefront/internal/domain/model"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Notifier はコミット後の副作用（キャッシュ削除・イベント送信）をまとめたもの。
// どちらも失敗しても注文処理自体は成功扱い
type Notifier struct {
	cache    Cache
	cacheTTL time.Duration
	events   EventPublisher
	ids      IDGenerator
	clock    Clock
	log      *zap.Logger
}

// DI
func NewNotifier(cache Cache, cacheTTL time.Duration, events EventPublisher, ids IDGenerator, clock Clock, log *zap.Logger) *Notifier {
	if cache == nil {
		cache = NopCache{}
	}
	if events == nil {
		events = NopPublisher{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{cache: cache, cacheTTL: cacheTTL, events: events, ids: ids, clock: clock, log: log}
}

func (n *Notifier) orderChanged(ctx context.Context, typ model.OrderEventType, o model.Order, keys ...string) {
	if len(keys) > 0 {
		n.cache.Invalidate(ctx, keys...)
	}

	ev := model.OrderEvent{
		ID:            n.ids.NewID(),
		Type:          typ,
		OrderID:       o.ID,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		FinalAmount:   o.FinalAmount,
		OccurredAt:    n.clock.Now(),
	}
	if err := n.events.Publish(ctx, ev); err != nil {
		n.log.Warn("publish order event failed",
			zap.String("type", string(typ)),
			zap.Int64("order_id", o.ID),
			zap.Error(err),
		)
	}
}

// read-through。キャッシュ側の失敗はログだけ残してDBを読む
func (n *Notifier) cached(ctx context.Context, key string, dst any, load func() error) error {
	hit, err := n.cache.GetJSON(ctx, key, dst)
	if err != nil {
		n.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if hit {
		return nil
	}
	if err := load(); err != nil {
		return err
	}
	if err := n.cache.SetJSON(ctx, key, dst, n.cacheTTL); err != nil {
		n.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (n *Notifier) invalidate(ctx context.Context, keys ...string) {
	n.cache.Invalidate(ctx, keys...)
}

func (n *Notifier) now() time.Time {
	return n.clock.Now()
}

// failed は usecase の失敗をログに残してそのまま返す。
// 想定外（5xx）は原因付きで Error、業務エラーは Info
func (n *Notifier) failed(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	fields := []zap.Field{zap.String("op", op)}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}

	he, ok := AsHTTPError(err)
	if !ok || he.Status >= 500 {
		cause := err
		if ok && he.Err != nil {
			cause = he.Err
		}
		n.log.Error("usecase failed", append(fields, zap.Error(cause))...)
		return err
	}
	n.log.Info("usecase rejected", append(fields,
		zap.String("code", string(he.Code)),
		zap.String("message", he.Message),
	)...)
	return err
}
