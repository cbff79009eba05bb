package model

import "time"

type StockMovementReason string

const (
	StockMovementReserve StockMovementReason = "order_reserve"
	StockMovementRelease StockMovementReason = "order_release"
	StockMovementAdjust  StockMovementReason = "admin_adjust"
)

// 在庫の増減履歴（台帳）。予約・戻しのたびに1バリアント1行
type StockMovement struct {
	ID        int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	VariantID int64               `gorm:"not null;index" json:"variant_id"`
	ProductID int64               `gorm:"not null;index" json:"product_id"`
	OrderID   int64               `gorm:"not null;index" json:"order_id"` // 管理者調整は 0
	Delta     int64               `gorm:"not null" json:"delta"`
	Reason    StockMovementReason `gorm:"type:varchar(30);not null" json:"reason"`
	Note      string              `gorm:"type:varchar(255)" json:"note,omitempty"`
	CreatedAt time.Time           `gorm:"not null;autoCreateTime" json:"created_at"`
}
