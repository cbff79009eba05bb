package validator

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"storefront/internal/domain/model"
	"storefront/internal/usecase"

	"github.com/shopspring/decimal"
)

const (
	maxOrderLines     = 100
	maxMethodLength   = 50
	maxNoteLength     = 1000
	maxIdempotencyKey = 255
)

var (
	voucherCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,50}$`)
	hundred            = decimal.NewFromInt(100)
)

type orderValidator struct{}

// Usecaseは interface を依存注入
func NewOrderValidator() usecase.OrderValidator {
	return orderValidator{}
}

func NewVoucherValidator() usecase.VoucherValidator {
	return orderValidator{}
}

// 注文作成の入力を検証（在庫・価格はここでは見ない）
func (orderValidator) ValidatePlaceOrder(in usecase.PlaceOrderInput) error {
	if len(in.Items) == 0 {
		return invalid("items must not be empty")
	}
	if len(in.Items) > maxOrderLines {
		return invalid(fmt.Sprintf("too many items (max %d)", maxOrderLines))
	}

	seen := make(map[int64]bool, len(in.Items))
	for i, it := range in.Items {
		if it.VariantID <= 0 {
			return invalid(fmt.Sprintf("items[%d].variant_id is invalid", i))
		}
		if it.Quantity <= 0 {
			return invalid(fmt.Sprintf("items[%d].quantity must be positive", i))
		}
		// 同じバリアントは1行にまとめてもらう
		if seen[it.VariantID] {
			return invalid(fmt.Sprintf("items[%d].variant_id is duplicated", i))
		}
		seen[it.VariantID] = true
	}

	if in.AddressID <= 0 {
		return invalid("invalid address_id")
	}
	if in.VoucherID != nil && *in.VoucherID <= 0 {
		return invalid("invalid voucher_id")
	}
	if len(strings.TrimSpace(in.ShipMethod)) > maxMethodLength {
		return invalid("ship_method too long")
	}
	if len(strings.TrimSpace(in.PaymentMethod)) > maxMethodLength {
		return invalid("payment_method too long")
	}
	if len(strings.TrimSpace(in.Note)) > maxNoteLength {
		return invalid("note too long")
	}
	if len(strings.TrimSpace(in.IdempotencyKey)) > maxIdempotencyKey {
		return invalid("invalid idempotency_key")
	}
	return nil
}

// バウチャー作成の入力を検証
func (orderValidator) ValidateCreateVoucher(in usecase.CreateVoucherInput) error {
	if !voucherCodePattern.MatchString(strings.TrimSpace(in.Code)) {
		return invalid("invalid code")
	}

	switch model.DiscountType(in.DiscountType) {
	case model.DiscountTypePercent:
		if in.DiscountValue.GreaterThan(hundred) {
			return invalid("percent discount must be <= 100")
		}
	case model.DiscountTypeFixed:
	default:
		return invalid("invalid discount_type")
	}

	if !in.DiscountValue.IsPositive() {
		return invalid("discount_value must be positive")
	}
	if in.MinOrderAmount.IsNegative() {
		return invalid("min_order_amount must be >= 0")
	}
	if in.MaxDiscount != nil && !in.MaxDiscount.IsPositive() {
		return invalid("max_discount must be positive")
	}
	if in.Quantity <= 0 {
		return invalid("quantity must be positive")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() || !in.StartDate.Before(in.EndDate) {
		return invalid("start_date must be before end_date")
	}
	return nil
}

func invalid(msg string) error {
	return usecase.NewHTTPError(http.StatusBadRequest, msg)
}
