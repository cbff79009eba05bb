package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 配送ステータス
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusCompleted  OrderStatus = "Completed"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

// 支払いステータス（配送とは独立）
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "Pending"
	PaymentStatusPaid    PaymentStatus = "Paid"
	PaymentStatusFailed  PaymentStatus = "Failed"
)

// 許可される遷移。ここに無いものは全部NG
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusCancelled},
}

// ParseOrderStatus は文字列を OrderStatus に変換する。
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch st := OrderStatus(s); st {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled:
		return st, true
	}
	return "", false
}

// 終端（Completed / Cancelled）からは動かない
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, to := range orderTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed
}

type Order struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64           `gorm:"not null;index;uniqueIndex:idx_orders_user_idem,priority:1" json:"user_id"`
	AddressID      int64           `gorm:"not null" json:"address_id"`
	ShipMethod     string          `gorm:"type:varchar(50)" json:"ship_method"`
	PaymentMethod  string          `gorm:"type:varchar(50)" json:"payment_method"`
	Note           string          `gorm:"type:text" json:"note"`
	Status         OrderStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentStatus  PaymentStatus   `gorm:"type:varchar(20);not null" json:"payment_status"`
	PaymentTxnNo   *string         `gorm:"type:varchar(100)" json:"payment_txn_no,omitempty"`
	TotalAmount    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"discount_amount"`
	FinalAmount    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"final_amount"`
	VoucherID      *int64          `gorm:"index" json:"voucher_id,omitempty"`
	UserVoucherID  *int64          `json:"user_voucher_id,omitempty"`
	IdempotencyKey *string         `gorm:"type:varchar(255);uniqueIndex:idx_orders_user_idem,priority:2" json:"-"`
	CreatedAt      time.Time       `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
