package repository

import (
	"context"
	"errors"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VoucherGormRepository struct {
	db *gorm.DB
}

func NewVoucherGormRepository(db *gorm.DB) *VoucherGormRepository {
	return &VoucherGormRepository{db: db}
}

func (r *VoucherGormRepository) Create(ctx context.Context, v model.Voucher) (model.Voucher, error) {
	if err := r.db.WithContext(ctx).Create(&v).Error; err != nil {
		if isDuplicate(err) {
			return model.Voucher{}, repo.ErrConflict
		}
		return model.Voucher{}, err
	}
	return v, nil
}

func (r *VoucherGormRepository) FindByID(ctx context.Context, voucherID int64) (model.Voucher, error) {
	var v model.Voucher
	err := r.db.WithContext(ctx).Where("id = ?", voucherID).First(&v).Error
	if isNotFound(err) {
		return model.Voucher{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Voucher{}, err
	}
	return v, nil
}

// 有効期間内・有効・残数あり
func activeVouchers(db *gorm.DB, now time.Time) *gorm.DB {
	return db.Where("vouchers.is_active = ? AND vouchers.start_date <= ? AND vouchers.end_date >= ? AND vouchers.used_count < vouchers.quantity",
		true, now, now)
}

func (r *VoucherGormRepository) ListActive(ctx context.Context, now time.Time) ([]model.Voucher, error) {
	var list []model.Voucher
	err := activeVouchers(r.db.WithContext(ctx).Model(&model.Voucher{}), now).
		Order("vouchers.end_date asc, vouchers.id asc").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *VoucherGormRepository) ListCollectedActive(ctx context.Context, userID int64, now time.Time) ([]model.Voucher, error) {
	var list []model.Voucher
	err := activeVouchers(r.db.WithContext(ctx).Model(&model.Voucher{}), now).
		Joins("JOIN user_vouchers uv ON uv.voucher_id = vouchers.id").
		Where("uv.user_id = ? AND uv.is_used = ?", userID, false).
		Order("vouchers.end_date asc, vouchers.id asc").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// SELECT ... FOR UPDATE
func (r *VoucherGormRepository) FindByIDForUpdate(ctx context.Context, voucherID int64) (model.Voucher, error) {
	var v model.Voucher
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", voucherID).
		First(&v).Error
	if isNotFound(err) {
		return model.Voucher{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Voucher{}, err
	}
	return v, nil
}

func (r *VoucherGormRepository) FindRedemptionForUpdate(ctx context.Context, userID, voucherID int64) (model.UserVoucher, error) {
	var uv model.UserVoucher
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND voucher_id = ?", userID, voucherID).
		First(&uv).Error
	if isNotFound(err) {
		return model.UserVoucher{}, repo.ErrNotFound
	}
	if err != nil {
		return model.UserVoucher{}, err
	}
	return uv, nil
}

func (r *VoucherGormRepository) FindRedemptionByIDForUpdate(ctx context.Context, redemptionID int64) (model.UserVoucher, error) {
	var uv model.UserVoucher
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", redemptionID).
		First(&uv).Error
	if isNotFound(err) {
		return model.UserVoucher{}, repo.ErrNotFound
	}
	if err != nil {
		return model.UserVoucher{}, err
	}
	return uv, nil
}

func (r *VoucherGormRepository) CreateRedemption(ctx context.Context, uv model.UserVoucher) (model.UserVoucher, error) {
	if err := r.db.WithContext(ctx).Create(&uv).Error; err != nil {
		if isDuplicate(err) {
			return model.UserVoucher{}, repo.ErrConflict
		}
		return model.UserVoucher{}, err
	}
	return uv, nil
}

func (r *VoucherGormRepository) SetRedemptionUsed(ctx context.Context, redemptionID int64, used bool, usedAt *time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.UserVoucher{}).
		Where("id = ?", redemptionID).
		Updates(map[string]any{"is_used": used, "used_at": usedAt})

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 上限に達していたら ErrConditionFailed
func (r *VoucherGormRepository) IncrementUsedCount(ctx context.Context, voucherID int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.Voucher{}).
		Where("id = ? AND used_count < quantity", voucherID).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrConditionFailed
	}
	return nil
}

// 0 のときは何もしない
func (r *VoucherGormRepository) DecrementUsedCount(ctx context.Context, voucherID int64) error {
	err := r.db.WithContext(ctx).
		Model(&model.Voucher{}).
		Where("id = ? AND used_count > 0", voucherID).
		UpdateColumn("used_count", gorm.Expr("used_count - 1")).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return nil
}
