package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 注文明細。価格は注文時点のスナップショットで、作成後は変更しない
type OrderItem struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID           int64           `gorm:"not null;index" json:"order_id"`
	ProductID         int64           `gorm:"not null;index" json:"product_id"`
	VariantID         int64           `gorm:"not null;index" json:"variant_id"`
	NameSnapshot      string          `gorm:"type:varchar(255);not null" json:"name_snapshot"`
	UnitPriceSnapshot decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price_snapshot"`
	Quantity          int64           `gorm:"not null;check:quantity > 0" json:"quantity"`
	CreatedAt         time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
}

// 明細の小計
func (it OrderItem) LineTotal() decimal.Decimal {
	return it.UnitPriceSnapshot.Mul(decimal.NewFromInt(it.Quantity))
}

// OrderTotal は明細のスナップショット価格 × 数量の合計。
func OrderTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}
