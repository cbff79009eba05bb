package repository

import (
	"context"

	"storefront/internal/domain/model"
)

// 在庫台帳の永続化。Lock系はトランザクション内でだけ意味がある
type InventoryRepository interface {
	// バリアントID -> 商品ID（ロックなしの参照。所属は変わらない前提）
	ProductIDsOfVariants(ctx context.Context, variantIDs []int64) (map[int64]int64, error)

	// 商品に属する全バリアントを id 昇順で行ロック
	LockVariantsOfProducts(ctx context.Context, productIDs []int64) ([]model.ProductVariant, error)

	// 商品を id 昇順で行ロック
	LockProducts(ctx context.Context, productIDs []int64) ([]model.Product, error)

	// 在庫を delta だけ増減。結果が負になるなら ErrConditionFailed
	AdjustVariantStock(ctx context.Context, variantID int64, delta int64) error

	// 商品に属するバリアント在庫の合計
	SumVariantStock(ctx context.Context, productID int64) (int64, error)

	// 商品の集計在庫と状態を書き込む
	SetProductStock(ctx context.Context, productID int64, stock int64, status model.StockStatus) error

	// 台帳履歴
	CreateMovements(ctx context.Context, movements []model.StockMovement) error

	// 販売中の商品とそのバリアント（ロックなし、id 昇順）。productIDs が空なら全件
	ListActiveStock(ctx context.Context, productIDs []int64) ([]model.Product, []model.ProductVariant, error)
}
