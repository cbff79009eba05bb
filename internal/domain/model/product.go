package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 在庫から導出する状態
type StockStatus string

const (
	StockStatusInStock    StockStatus = "in-stock"
	StockStatusOutOfStock StockStatus = "out-of-stock"
)

// StockStatusFor は在庫数から状態を決める。
func StockStatusFor(stock int64) StockStatus {
	if stock <= 0 {
		return StockStatusOutOfStock
	}
	return StockStatusInStock
}

// 商品。Stock は全バリアント在庫の合計（台帳だけが更新する）
type Product struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string          `gorm:"type:varchar(255);not null" json:"name"`
	CurrentPrice decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"current_price"`
	Stock        int64           `gorm:"not null;default:0;check:stock >= 0" json:"stock"`
	Status       StockStatus     `gorm:"type:varchar(50);not null" json:"status"`
	IsActive     bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `gorm:"index" json:"-"`
}

// サイズ・色ごとの購入単位（SKU）
type ProductVariant struct {
	ID        int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64       `gorm:"not null;index" json:"product_id"`
	SKU       string      `gorm:"type:varchar(20);not null" json:"sku"`
	Size      string      `gorm:"type:varchar(3)" json:"size"`
	Color     string      `gorm:"type:varchar(15)" json:"color"`
	Stock     int64       `gorm:"not null;default:0;check:stock >= 0" json:"stock"`
	Status    StockStatus `gorm:"type:varchar(50);not null" json:"status"`
	CreatedAt time.Time   `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time   `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
