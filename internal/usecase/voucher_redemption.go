package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

// ロック済みのバウチャーと、そのユーザーの取得記録
type lockedVoucher struct {
	voucher    model.Voucher
	redemption model.UserVoucher
}

// バウチャー行 → 取得記録 の順でロックして使えるか判定する
func lockVoucherForUse(ctx context.Context, vr repo.VoucherRepository, voucherID, userID int64, now time.Time) (lockedVoucher, error) {
	v, err := vr.FindByIDForUpdate(ctx, voucherID)
	if errors.Is(err, repo.ErrNotFound) {
		return lockedVoucher{}, &HTTPError{Status: http.StatusNotFound, Code: CodeVoucherNotFound, Message: "voucher not found"}
	}
	if err != nil {
		return lockedVoucher{}, systemError(err)
	}

	uv, err := vr.FindRedemptionForUpdate(ctx, userID, voucherID)
	if errors.Is(err, repo.ErrNotFound) {
		return lockedVoucher{}, voucherInvalidError("voucher not collected")
	}
	if err != nil {
		return lockedVoucher{}, systemError(err)
	}
	if uv.IsUsed {
		return lockedVoucher{}, &HTTPError{Status: http.StatusBadRequest, Code: CodeVoucherAlreadyUsed, Message: "voucher already used"}
	}
	if !v.IsValid(now) {
		return lockedVoucher{}, voucherInvalidError("voucher is not valid")
	}
	return lockedVoucher{voucher: v, redemption: uv}, nil
}

// 使用済みにして used_count +1
func commitVoucherUsage(ctx context.Context, vr repo.VoucherRepository, lv lockedVoucher, now time.Time) error {
	if err := vr.SetRedemptionUsed(ctx, lv.redemption.ID, true, &now); err != nil {
		return systemError(err)
	}
	if err := vr.IncrementUsedCount(ctx, lv.voucher.ID); err != nil {
		if errors.Is(err, repo.ErrConditionFailed) {
			return voucherInvalidError("voucher is not valid")
		}
		return systemError(err)
	}
	return nil
}

// キャンセル時の戻し。取得記録が使用済みのときだけ戻す（二重に戻さない）
func revertVoucherUsage(ctx context.Context, vr repo.VoucherRepository, voucherID, redemptionID int64) error {
	// 作成時と同じ順（バウチャー → 取得記録）
	if _, err := vr.FindByIDForUpdate(ctx, voucherID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return systemError(err)
	}
	uv, err := vr.FindRedemptionByIDForUpdate(ctx, redemptionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return systemError(err)
	}
	if !uv.IsUsed {
		return nil
	}
	if err := vr.SetRedemptionUsed(ctx, uv.ID, false, nil); err != nil {
		return systemError(err)
	}
	if err := vr.DecrementUsedCount(ctx, uv.VoucherID); err != nil {
		return systemError(err)
	}
	return nil
}
