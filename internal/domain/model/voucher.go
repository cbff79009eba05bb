package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountTypePercent DiscountType = "percent"
	DiscountTypeFixed   DiscountType = "fixed"
)

// 割引の定義
type Voucher struct {
	ID             int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	Code           string           `gorm:"type:varchar(50);not null;uniqueIndex" json:"code"`
	DiscountType   DiscountType     `gorm:"type:varchar(10);not null" json:"discount_type"`
	DiscountValue  decimal.Decimal  `gorm:"type:numeric(10,2);not null" json:"discount_value"`
	MinOrderAmount decimal.Decimal  `gorm:"type:numeric(10,2);not null;default:0" json:"min_order_amount"`
	MaxDiscount    *decimal.Decimal `gorm:"type:numeric(10,2)" json:"max_discount,omitempty"`
	Quantity       int64            `gorm:"not null" json:"quantity"`
	UsedCount      int64            `gorm:"not null;default:0;check:used_count >= 0" json:"used_count"`
	StartDate      time.Time        `gorm:"not null" json:"start_date"`
	EndDate        time.Time        `gorm:"not null" json:"end_date"`
	IsActive       bool             `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time        `gorm:"not null;autoCreateTime" json:"created_at"`
}

// IsValid: 有効フラグ・期間内・残数あり
func (v Voucher) IsValid(now time.Time) bool {
	return v.IsActive &&
		!now.Before(v.StartDate) &&
		!now.After(v.EndDate) &&
		v.UsedCount < v.Quantity
}

// Discount は注文合計に対する割引額を返す（合計は超えない）。
func (v Voucher) Discount(total decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch v.DiscountType {
	case DiscountTypePercent:
		d = total.Mul(v.DiscountValue).Div(decimal.NewFromInt(100))
		if v.MaxDiscount != nil && d.GreaterThan(*v.MaxDiscount) {
			d = *v.MaxDiscount
		}
	default:
		d = v.DiscountValue
	}
	d = d.Round(2)
	if d.GreaterThan(total) {
		return total
	}
	return d
}

// FinalAmount = max(total - discount, 0)
func FinalAmount(total, discount decimal.Decimal) decimal.Decimal {
	final := total.Sub(discount)
	if final.IsNegative() {
		return decimal.Zero
	}
	return final
}

// ユーザーごとの取得・使用記録（user_id, voucher_id は一意）
type UserVoucher struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64      `gorm:"not null;uniqueIndex:idx_user_voucher,priority:1" json:"user_id"`
	VoucherID   int64      `gorm:"not null;uniqueIndex:idx_user_voucher,priority:2;index" json:"voucher_id"`
	IsUsed      bool       `gorm:"not null;default:false" json:"is_used"`
	CollectedAt time.Time  `gorm:"not null" json:"collected_at"`
	UsedAt      *time.Time `json:"used_at"`
}
