package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront/internal/usecase"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const maxConfirmAttempts = 3

// kafka.Reader のうち使うものだけ
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, in usecase.ConfirmPaymentInput) (usecase.ConfirmPaymentOutput, error)
}

// PaymentConsumer は決済結果トピックを読んで支払い状態を確定する
type PaymentConsumer struct {
	r       messageReader
	payment PaymentConfirmer
	log     *zap.Logger
	backoff time.Duration
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

func NewPaymentConsumer(r messageReader, payment PaymentConfirmer, log *zap.Logger) *PaymentConsumer {
	return &PaymentConsumer{r: r, payment: payment, log: log, backoff: 200 * time.Millisecond}
}

// DecodePaymentResult は {"order_id", "success", "transaction_no"} を読む
func DecodePaymentResult(msg kafka.Message) (usecase.ConfirmPaymentInput, error) {
	var in usecase.ConfirmPaymentInput
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		return usecase.ConfirmPaymentInput{}, fmt.Errorf("decode payment result: %w", err)
	}
	if in.OrderID <= 0 {
		return usecase.ConfirmPaymentInput{}, errors.New("decode payment result: missing order_id")
	}
	return in, nil
}

// Run は ctx が終わるまで読み続ける。ctx 終了は正常終了扱い
func (c *PaymentConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch payment result: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("commit payment result failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *PaymentConsumer) handle(ctx context.Context, msg kafka.Message) {
	in, err := DecodePaymentResult(msg)
	if err != nil {
		// 読めないメッセージは飛ばす
		c.log.Warn("skip malformed payment result", zap.Int64("offset", msg.Offset), zap.Error(err))
		return
	}

	msgCtx := otel.GetTextMapPropagator().Extract(ctx, (*headerCarrier)(&msg.Headers))

	for attempt := 1; ; attempt++ {
		out, err := c.payment.ConfirmPayment(msgCtx, in)
		if err == nil {
			c.log.Info("payment result applied",
				zap.Int64("order_id", out.OrderID),
				zap.String("payment_status", out.PaymentStatus),
				zap.Bool("changed", out.Changed),
			)
			return
		}

		// 業務エラー（注文なし等）は再試行しても同じ
		if he, ok := usecase.AsHTTPError(err); ok && he.Status < 500 {
			c.log.Warn("payment result rejected", zap.Int64("order_id", in.OrderID), zap.String("code", string(he.Code)))
			return
		}
		if attempt >= maxConfirmAttempts {
			c.log.Error("payment result failed", zap.Int64("order_id", in.OrderID), zap.Int("attempts", attempt), zap.Error(err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
}

func (c *PaymentConsumer) Close() error {
	return c.r.Close()
}
