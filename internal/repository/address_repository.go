package repository

import (
	"context"

	"storefront/internal/domain/model"
)

// 住所録は外部の持ち物。注文は存在と所有だけ見る
type AddressRepository interface {
	//住所IDから住所を1件取得（無ければ ErrNotFound）
	FindByID(ctx context.Context, addressID int64) (model.Address, error)
}
