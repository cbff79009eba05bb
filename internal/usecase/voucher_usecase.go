package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"github.com/shopspring/decimal"
)

// バウチャー作成入力の形式チェック
type VoucherValidator interface {
	ValidateCreateVoucher(in CreateVoucherInput) error
}

type VoucherUsecase struct {
	tx        repo.TransactionManager
	validator VoucherValidator
	notify    *Notifier
}

func NewVoucherUsecase(tx repo.TransactionManager, validator VoucherValidator, notify *Notifier) *VoucherUsecase {
	return &VoucherUsecase{tx: tx, validator: validator, notify: notify}
}

type CreateVoucherInput struct {
	Code           string
	DiscountType   string
	DiscountValue  decimal.Decimal
	MinOrderAmount decimal.Decimal
	MaxDiscount    *decimal.Decimal
	Quantity       int64
	StartDate      time.Time
	EndDate        time.Time
}

type VoucherOutput struct {
	ID             int64            `json:"id"`
	Code           string           `json:"code"`
	DiscountType   string           `json:"discount_type"`
	DiscountValue  decimal.Decimal  `json:"discount_value"`
	MinOrderAmount decimal.Decimal  `json:"min_order_amount"`
	MaxDiscount    *decimal.Decimal `json:"max_discount,omitempty"`
	Remaining      int64            `json:"remaining"`
	StartDate      time.Time        `json:"start_date"`
	EndDate        time.Time        `json:"end_date"`
}

type CollectVoucherOutput struct {
	VoucherID   int64     `json:"voucher_id"`
	CollectedAt time.Time `json:"collected_at"`
}

// 有効なバウチャー一覧（vouchers:active でキャッシュ）
func (u *VoucherUsecase) ListActive(ctx context.Context) ([]VoucherOutput, error) {
	var outs []VoucherOutput
	err := u.notify.cached(ctx, ActiveVouchersCacheKey, &outs, func() error {
		return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			vs, err := r.Vouchers().ListActive(ctx, u.notify.now())
			if err != nil {
				return systemError(err)
			}
			outs = toVoucherOutputs(vs)
			return nil
		})
	})
	if err != nil {
		return []VoucherOutput{}, u.notify.failed(ctx, "VoucherUsecase.ListActive", asUsecaseError(err))
	}
	return outs, nil
}

// 取得済み・未使用・有効なもの
func (u *VoucherUsecase) ListMine(ctx context.Context, userID int64) ([]VoucherOutput, error) {
	if userID <= 0 {
		return []VoucherOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var outs []VoucherOutput
	err := u.notify.cached(ctx, MyVouchersCacheKey(userID), &outs, func() error {
		return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			vs, err := r.Vouchers().ListCollectedActive(ctx, userID, u.notify.now())
			if err != nil {
				return systemError(err)
			}
			outs = toVoucherOutputs(vs)
			return nil
		})
	})
	if err != nil {
		return []VoucherOutput{}, u.notify.failed(ctx, "VoucherUsecase.ListMine", asUsecaseError(err))
	}
	return outs, nil
}

// Collect はユーザーの取得記録を作る（1ユーザー1枚）
func (u *VoucherUsecase) Collect(ctx context.Context, userID int64, voucherID int64) (CollectVoucherOutput, error) {
	if userID <= 0 {
		return CollectVoucherOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if voucherID <= 0 {
		return CollectVoucherOutput{}, validationError("invalid id")
	}

	var out CollectVoucherOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		v, err := r.Vouchers().FindByID(ctx, voucherID)
		if errors.Is(err, repo.ErrNotFound) {
			return &HTTPError{Status: http.StatusNotFound, Code: CodeVoucherNotFound, Message: "voucher not found"}
		}
		if err != nil {
			return systemError(err)
		}
		now := u.notify.now()
		if !v.IsValid(now) {
			return voucherInvalidError("voucher is not valid")
		}

		uv, err := r.Vouchers().CreateRedemption(ctx, model.UserVoucher{
			UserID:      userID,
			VoucherID:   voucherID,
			CollectedAt: now,
		})
		if errors.Is(err, repo.ErrConflict) {
			return NewHTTPError(http.StatusConflict, "voucher already collected")
		}
		if err != nil {
			return systemError(err)
		}
		out = CollectVoucherOutput{VoucherID: uv.VoucherID, CollectedAt: uv.CollectedAt}
		return nil
	})
	if err != nil {
		return CollectVoucherOutput{}, u.notify.failed(ctx, "VoucherUsecase.Collect", asUsecaseError(err))
	}

	u.notify.invalidate(ctx, MyVouchersCacheKey(userID))
	return out, nil
}

// AdminCreate は管理者がバウチャー定義を作る（監査ログ付き）
func (u *VoucherUsecase) AdminCreate(ctx context.Context, actorAdminUserID int64, in CreateVoucherInput) (VoucherOutput, error) {
	if actorAdminUserID <= 0 {
		return VoucherOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if err := u.validator.ValidateCreateVoucher(in); err != nil {
		return VoucherOutput{}, err
	}

	var out VoucherOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		now := u.notify.now()
		v, err := r.Vouchers().Create(ctx, model.Voucher{
			Code:           strings.ToUpper(strings.TrimSpace(in.Code)),
			DiscountType:   model.DiscountType(in.DiscountType),
			DiscountValue:  in.DiscountValue,
			MinOrderAmount: in.MinOrderAmount,
			MaxDiscount:    in.MaxDiscount,
			Quantity:       in.Quantity,
			StartDate:      in.StartDate,
			EndDate:        in.EndDate,
			IsActive:       true,
			CreatedAt:      now,
		})
		if errors.Is(err, repo.ErrConflict) {
			return NewHTTPError(http.StatusConflict, "voucher code already exists")
		}
		if err != nil {
			return systemError(err)
		}

		after, _ := json.Marshal(v)
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorAdminUserID,
			Action:       model.AuditActionCreateVoucher,
			ResourceType: model.AuditResourceVoucher,
			ResourceID:   v.ID,
			AfterJSON:    string(after),
			CreatedAt:    now,
		}); err != nil {
			return systemError(err)
		}

		out = toVoucherOutput(v)
		return nil
	})
	if err != nil {
		return VoucherOutput{}, u.notify.failed(ctx, "VoucherUsecase.AdminCreate", asUsecaseError(err))
	}

	u.notify.invalidate(ctx, ActiveVouchersCacheKey)
	return out, nil
}

func toVoucherOutput(v model.Voucher) VoucherOutput {
	remaining := v.Quantity - v.UsedCount
	if remaining < 0 {
		remaining = 0
	}
	return VoucherOutput{
		ID:             v.ID,
		Code:           v.Code,
		DiscountType:   string(v.DiscountType),
		DiscountValue:  v.DiscountValue,
		MinOrderAmount: v.MinOrderAmount,
		MaxDiscount:    v.MaxDiscount,
		Remaining:      remaining,
		StartDate:      v.StartDate,
		EndDate:        v.EndDate,
	}
}

func toVoucherOutputs(vs []model.Voucher) []VoucherOutput {
	outs := make([]VoucherOutput, 0, len(vs))
	for _, v := range vs {
		outs = append(outs, toVoucherOutput(v))
	}
	return outs
}
