package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"storefront/internal/domain/model"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

const headerEventType = "event-type"

// kafka.Writer のうち使うものだけ
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher は注文イベントを KAFKA_ORDER_TOPIC に流す。
// キーは注文IDなので同じ注文のイベントは同じパーティションに乗る
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaWriter は非同期送信の Writer を作る（送信失敗は Completion でログ）
func NewKafkaWriter(brokers []string, topic string, onError func(error)) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(_ []kafka.Message, err error) {
			if err != nil && onError != nil {
				onError(err)
			}
		},
	}
}

func NewKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev model.OrderEvent) error {
	msg, err := EncodeOrderEvent(ctx, ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", ev.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// EncodeOrderEvent はイベントを JSON にし、トレース文脈をヘッダに載せる
func EncodeOrderEvent(ctx context.Context, ev model.OrderEvent) (kafka.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode order event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.OrderID, 10)),
		Value: b,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(ev.Type)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(&msg.Headers))
	return msg, nil
}

// DecodeOrderEvent は購読側（と確認用）
func DecodeOrderEvent(msg kafka.Message) (model.OrderEvent, error) {
	var ev model.OrderEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return model.OrderEvent{}, fmt.Errorf("decode order event: %w", err)
	}
	return ev, nil
}
