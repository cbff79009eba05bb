package usecase

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const maxAdjustReasonLen = 255

type InventoryUsecase struct {
	tx     repo.TransactionManager
	notify *Notifier
}

// DI
func NewInventoryUsecase(tx repo.TransactionManager, notify *Notifier) *InventoryUsecase {
	return &InventoryUsecase{tx: tx, notify: notify}
}

type VariantStockOutput struct {
	VariantID int64  `json:"variant_id"`
	SKU       string `json:"sku"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	Stock     int64  `json:"stock"`
	Status    string `json:"status"`
}

type ProductStockOutput struct {
	ProductID int64                `json:"product_id"`
	Name      string               `json:"name"`
	Price     decimal.Decimal      `json:"price"`
	Stock     int64                `json:"stock"`
	Status    string               `json:"status"`
	Variants  []VariantStockOutput `json:"variants"`
}

// 管理者の在庫調整入力（Delta は符号付き）
type AdjustStockInput struct {
	VariantID int64
	Delta     int64
	Reason    string
}

type AdjustStockOutput struct {
	VariantID     int64  `json:"variant_id"`
	ProductID     int64  `json:"product_id"`
	VariantStock  int64  `json:"variant_stock"`
	ProductStock  int64  `json:"product_stock"`
	ProductStatus string `json:"product_status"`
}

// ListStock は販売中の全商品の在庫（products:all でキャッシュ）
func (u *InventoryUsecase) ListStock(ctx context.Context) ([]ProductStockOutput, error) {
	var outs []ProductStockOutput
	err := u.notify.cached(ctx, ProductsCacheKey, &outs, func() error {
		return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			products, variants, err := r.Inventory().ListActiveStock(ctx, nil)
			if err != nil {
				return systemError(err)
			}
			outs = toProductStockOutputs(products, variants)
			return nil
		})
	})
	if err != nil {
		return []ProductStockOutput{}, u.notify.failed(ctx, "InventoryUsecase.ListStock", asUsecaseError(err))
	}
	return outs, nil
}

func (u *InventoryUsecase) GetProductStock(ctx context.Context, productID int64) (ProductStockOutput, error) {
	if productID <= 0 {
		return ProductStockOutput{}, validationError("invalid product id")
	}

	var out ProductStockOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		products, variants, err := r.Inventory().ListActiveStock(ctx, []int64{productID})
		if err != nil {
			return systemError(err)
		}
		// 販売停止も見つからない扱い
		if len(products) == 0 {
			return NewHTTPError(http.StatusNotFound, "product not found")
		}
		out = toProductStockOutputs(products, variants)[0]
		return nil
	})
	if err != nil {
		return ProductStockOutput{}, u.notify.failed(ctx, "InventoryUsecase.GetProductStock", asUsecaseError(err))
	}
	return out, nil
}

// AdminAdjustStock は入荷・棚卸しなどでバリアント在庫を増減する。
// 注文と同じ順でロックし、商品在庫を集計し直して台帳と監査ログを残す
func (u *InventoryUsecase) AdminAdjustStock(ctx context.Context, actorAdminUserID int64, in AdjustStockInput) (out AdjustStockOutput, err error) {
	ctx, span := startSpan(ctx, "InventoryUsecase.AdminAdjustStock",
		attribute.Int64("variant.id", in.VariantID),
		attribute.Int64("stock.delta", in.Delta),
	)
	defer func() { endSpan(span, u.notify.failed(ctx, "InventoryUsecase.AdminAdjustStock", err)) }()

	if actorAdminUserID <= 0 {
		return AdjustStockOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if in.VariantID <= 0 {
		return AdjustStockOutput{}, validationError("invalid variant id")
	}
	if in.Delta == 0 {
		return AdjustStockOutput{}, validationError("delta must not be 0")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return AdjustStockOutput{}, validationError("reason required")
	}
	if len(reason) > maxAdjustReasonLen {
		return AdjustStockOutput{}, validationError("reason too long")
	}

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		stock, missing, err := lockStock(ctx, r.Inventory(), []StockLine{{VariantID: in.VariantID, Quantity: in.Delta}})
		if err != nil {
			return systemError(err)
		}
		if len(missing) > 0 {
			return NewHTTPError(http.StatusNotFound, "variant not found")
		}

		before := stock.Variant(in.VariantID)
		if err := stock.Adjust(ctx, reason); err != nil {
			return err
		}
		after := stock.Variant(in.VariantID)
		product := stock.Product(after.ProductID)

		beforeJSON, _ := json.Marshal(map[string]any{"stock": before.Stock})
		afterJSON, _ := json.Marshal(map[string]any{"stock": after.Stock, "delta": in.Delta, "reason": reason})
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorAdminUserID,
			Action:       model.AuditActionAdjustStock,
			ResourceType: model.AuditResourceVariant,
			ResourceID:   in.VariantID,
			BeforeJSON:   string(beforeJSON),
			AfterJSON:    string(afterJSON),
			CreatedAt:    u.notify.now(),
		}); err != nil {
			return systemError(err)
		}

		out = AdjustStockOutput{
			VariantID:     after.ID,
			ProductID:     product.ID,
			VariantStock:  after.Stock,
			ProductStock:  product.Stock,
			ProductStatus: string(product.Status),
		}
		return nil
	})
	if err != nil {
		return AdjustStockOutput{}, asUsecaseError(err)
	}

	u.notify.invalidate(ctx, ProductsCacheKey)
	return out, nil
}

func toProductStockOutputs(products []model.Product, variants []model.ProductVariant) []ProductStockOutput {
	byProduct := make(map[int64][]VariantStockOutput, len(products))
	for _, v := range variants {
		byProduct[v.ProductID] = append(byProduct[v.ProductID], VariantStockOutput{
			VariantID: v.ID,
			SKU:       v.SKU,
			Size:      v.Size,
			Color:     v.Color,
			Stock:     v.Stock,
			Status:    string(v.Status),
		})
	}

	outs := make([]ProductStockOutput, 0, len(products))
	for _, p := range products {
		vs := byProduct[p.ID]
		if vs == nil {
			vs = []VariantStockOutput{}
		}
		outs = append(outs, ProductStockOutput{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.CurrentPrice,
			Stock:     p.Stock,
			Status:    string(p.Status),
			Variants:  vs,
		})
	}
	return outs
}
