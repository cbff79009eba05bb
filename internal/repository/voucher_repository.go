package repository

import (
	"context"
	"time"

	"storefront/internal/domain/model"
)

type VoucherRepository interface {
	Create(ctx context.Context, v model.Voucher) (model.Voucher, error)
	FindByID(ctx context.Context, voucherID int64) (model.Voucher, error)

	// 有効期間内・有効・残数ありのもの（end_date 昇順）
	ListActive(ctx context.Context, now time.Time) ([]model.Voucher, error)
	// ユーザーが取得済みで未使用・有効なもの
	ListCollectedActive(ctx context.Context, userID int64, now time.Time) ([]model.Voucher, error)

	// 行ロック付き取得
	FindByIDForUpdate(ctx context.Context, voucherID int64) (model.Voucher, error)
	FindRedemptionForUpdate(ctx context.Context, userID, voucherID int64) (model.UserVoucher, error)
	FindRedemptionByIDForUpdate(ctx context.Context, redemptionID int64) (model.UserVoucher, error)

	// 取得記録の作成。既にあれば ErrConflict
	CreateRedemption(ctx context.Context, uv model.UserVoucher) (model.UserVoucher, error)

	// used / used_at の更新
	SetRedemptionUsed(ctx context.Context, redemptionID int64, used bool, usedAt *time.Time) error

	// used_count を +1（上限なら ErrConditionFailed）/ -1（0未満にはしない）
	IncrementUsedCount(ctx context.Context, voucherID int64) error
	DecrementUsedCount(ctx context.Context, voucherID int64) error
}
