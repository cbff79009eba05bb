package repository

import (
	"context"
	"errors"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InventoryGormRepository struct {
	db *gorm.DB
}

func NewInventoryGormRepository(db *gorm.DB) *InventoryGormRepository {
	return &InventoryGormRepository{db: db}
}

// バリアントの所属（ロックなし）
func (r *InventoryGormRepository) ProductIDsOfVariants(ctx context.Context, variantIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(variantIDs))
	if len(variantIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		ID        int64
		ProductID int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.ProductVariant{}).
		Select("id", "product_id").
		Where("id IN ?", variantIDs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row.ProductID
	}
	return out, nil
}

// SELECT ... FOR UPDATE（id 昇順）
func (r *InventoryGormRepository) LockVariantsOfProducts(ctx context.Context, productIDs []int64) ([]model.ProductVariant, error) {
	var list []model.ProductVariant
	if len(productIDs) == 0 {
		return list, nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id IN ?", productIDs).
		Order("id asc").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// 論理削除済みの商品もロック対象（在庫の集計は続ける）
func (r *InventoryGormRepository) LockProducts(ctx context.Context, productIDs []int64) ([]model.Product, error) {
	var list []model.Product
	if len(productIDs) == 0 {
		return list, nil
	}
	err := r.db.WithContext(ctx).
		Unscoped().
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", productIDs).
		Order("id asc").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// 在庫が足りるときだけ動かす（stock + delta >= 0）
func (r *InventoryGormRepository) AdjustVariantStock(ctx context.Context, variantID int64, delta int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.ProductVariant{}).
		Where("id = ? AND stock + ? >= 0", variantID, delta).
		Updates(map[string]any{
			"stock": gorm.Expr("stock + ?", delta),
			"status": gorm.Expr("CASE WHEN stock + ? > 0 THEN ? ELSE ? END",
				delta, model.StockStatusInStock, model.StockStatusOutOfStock),
		})

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 行が無いのか在庫不足なのかを分ける
		var n int64
		if err := r.db.WithContext(ctx).Model(&model.ProductVariant{}).Where("id = ?", variantID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return repo.ErrNotFound
		}
		return repo.ErrConditionFailed
	}
	return nil
}

func (r *InventoryGormRepository) SumVariantStock(ctx context.Context, productID int64) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.ProductVariant{}).
		Select("COALESCE(SUM(stock), 0)").
		Where("product_id = ?", productID).
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	return sum, nil
}

func (r *InventoryGormRepository) SetProductStock(ctx context.Context, productID int64, stock int64, status model.StockStatus) error {
	res := r.db.WithContext(ctx).
		Unscoped().
		Model(&model.Product{}).
		Where("id = ?", productID).
		Updates(map[string]any{"stock": stock, "status": status})

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 台帳履歴作成
func (r *InventoryGormRepository) CreateMovements(ctx context.Context, movements []model.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&movements).Error; err != nil {
		return err
	}
	return nil
}

// 参照用（ロックなし）。論理削除・販売停止の商品は出さない
func (r *InventoryGormRepository) ListActiveStock(ctx context.Context, productIDs []int64) ([]model.Product, []model.ProductVariant, error) {
	products := []model.Product{}
	q := r.db.WithContext(ctx).Where("is_active = ?", true)
	if len(productIDs) > 0 {
		q = q.Where("id IN ?", productIDs)
	}
	if err := q.Order("id asc").Find(&products).Error; err != nil {
		return nil, nil, err
	}

	variants := []model.ProductVariant{}
	if len(products) == 0 {
		return products, variants, nil
	}
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	err := r.db.WithContext(ctx).
		Where("product_id IN ?", ids).
		Order("id asc").
		Find(&variants).Error
	if err != nil {
		return nil, nil, err
	}
	return products, variants, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// gorm.Config{TranslateError: true} 前提
func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
