package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderEventType string

const (
	OrderEventCreated        OrderEventType = "order.created"
	OrderEventCancelled      OrderEventType = "order.cancelled"
	OrderEventStatusChanged  OrderEventType = "order.status_changed"
	OrderEventPaymentUpdated OrderEventType = "order.payment_updated"
)

// コミット後に外へ流す注文イベント
type OrderEvent struct {
	ID            string          `json:"id"`
	Type          OrderEventType  `json:"type"`
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	FinalAmount   decimal.Decimal `json:"final_amount"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
