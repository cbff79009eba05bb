package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

// 在庫を動かす1行分
type StockLine struct {
	VariantID int64
	Quantity  int64
}

// LockedStock は同じトランザクション内でロック済みの在庫。
// ロック順は バリアント（id 昇順）→ 商品（id 昇順）で全経路共通
type LockedStock struct {
	inv        repo.InventoryRepository
	lines      []StockLine
	productIDs []int64
	variants   map[int64]model.ProductVariant
	products   map[int64]model.Product
}

// lockStock は lines に出てくるバリアントが属する商品の、全バリアントと商品自体を行ロックする。
// 集計し直す兄弟バリアントも押さえるため、要求より広くロックする。
// 見つからなかったバリアントIDは missing で返す
func lockStock(ctx context.Context, inv repo.InventoryRepository, lines []StockLine) (*LockedStock, []int64, error) {
	merged := mergeStockLines(lines)

	variantIDs := make([]int64, 0, len(merged))
	for _, l := range merged {
		variantIDs = append(variantIDs, l.VariantID)
	}

	// 所属の参照だけはロック無しで先に読む
	owners, err := inv.ProductIDsOfVariants(ctx, variantIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve variants: %w", err)
	}

	var missing []int64
	seen := make(map[int64]bool, len(owners))
	productIDs := make([]int64, 0, len(owners))
	for _, id := range variantIDs {
		pid, ok := owners[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if !seen[pid] {
			seen[pid] = true
			productIDs = append(productIDs, pid)
		}
	}
	if len(missing) > 0 {
		return nil, missing, nil
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	variants, err := inv.LockVariantsOfProducts(ctx, productIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("lock variants: %w", err)
	}
	products, err := inv.LockProducts(ctx, productIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("lock products: %w", err)
	}

	s := &LockedStock{
		inv:        inv,
		lines:      merged,
		productIDs: productIDs,
		variants:   make(map[int64]model.ProductVariant, len(variants)),
		products:   make(map[int64]model.Product, len(products)),
	}
	for _, v := range variants {
		s.variants[v.ID] = v
	}
	for _, p := range products {
		s.products[p.ID] = p
	}

	// ロック前の参照と食い違った（削除された等）
	for _, l := range merged {
		v, ok := s.variants[l.VariantID]
		if !ok {
			missing = append(missing, l.VariantID)
			continue
		}
		if _, ok := s.products[v.ProductID]; !ok {
			missing = append(missing, l.VariantID)
		}
	}
	if len(missing) > 0 {
		return nil, missing, nil
	}
	return s, nil, nil
}

// 同じバリアントの行はまとめる（id 昇順）
func mergeStockLines(lines []StockLine) []StockLine {
	qty := make(map[int64]int64, len(lines))
	order := make([]int64, 0, len(lines))
	for _, l := range lines {
		if _, ok := qty[l.VariantID]; !ok {
			order = append(order, l.VariantID)
		}
		qty[l.VariantID] += l.Quantity
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]StockLine, 0, len(order))
	for _, id := range order {
		out = append(out, StockLine{VariantID: id, Quantity: qty[id]})
	}
	return out
}

func (s *LockedStock) Variant(id int64) model.ProductVariant {
	return s.variants[id]
}

func (s *LockedStock) Product(id int64) model.Product {
	return s.products[id]
}

// 要求行に対応する商品（id 昇順）
func (s *LockedStock) Products() []model.Product {
	out := make([]model.Product, 0, len(s.productIDs))
	for _, id := range s.productIDs {
		out = append(out, s.products[id])
	}
	return out
}

// Shortages は足りない行を全部返す（1行目で止めない）
func (s *LockedStock) Shortages() []StockShortage {
	var out []StockShortage
	for _, l := range s.lines {
		v := s.variants[l.VariantID]
		if l.Quantity > v.Stock {
			out = append(out, StockShortage{
				VariantID: l.VariantID,
				Available: v.Stock,
				Requested: l.Quantity,
			})
		}
	}
	return out
}

// Reserve は全行を減算し、商品在庫を集計し直す。1行でも足りなければ何もしない
func (s *LockedStock) Reserve(ctx context.Context, orderID int64) error {
	if sh := s.Shortages(); len(sh) > 0 {
		return insufficientStockError(sh)
	}
	for _, l := range s.lines {
		if err := s.inv.AdjustVariantStock(ctx, l.VariantID, -l.Quantity); err != nil {
			if errors.Is(err, repo.ErrConditionFailed) {
				v := s.variants[l.VariantID]
				return insufficientStockError([]StockShortage{{VariantID: l.VariantID, Available: v.Stock, Requested: l.Quantity}})
			}
			return systemError(err)
		}
		v := s.variants[l.VariantID]
		v.Stock -= l.Quantity
		v.Status = model.StockStatusFor(v.Stock)
		s.variants[l.VariantID] = v
	}
	return s.finish(ctx, orderID, -1, model.StockMovementReserve, "")
}

// Release は全行を戻す（キャンセル時）
func (s *LockedStock) Release(ctx context.Context, orderID int64) error {
	for _, l := range s.lines {
		if err := s.inv.AdjustVariantStock(ctx, l.VariantID, l.Quantity); err != nil {
			return systemError(err)
		}
		v := s.variants[l.VariantID]
		v.Stock += l.Quantity
		v.Status = model.StockStatusFor(v.Stock)
		s.variants[l.VariantID] = v
	}
	return s.finish(ctx, orderID, 1, model.StockMovementRelease, "")
}

// Adjust は管理者の手動調整。Quantity は符号付きで、どれか1行でも負になるなら何もしない
func (s *LockedStock) Adjust(ctx context.Context, note string) error {
	var short []StockShortage
	for _, l := range s.lines {
		if v := s.variants[l.VariantID]; v.Stock+l.Quantity < 0 {
			short = append(short, StockShortage{VariantID: l.VariantID, Available: v.Stock, Requested: -l.Quantity})
		}
	}
	if len(short) > 0 {
		return insufficientStockError(short)
	}

	for _, l := range s.lines {
		if err := s.inv.AdjustVariantStock(ctx, l.VariantID, l.Quantity); err != nil {
			return systemError(err)
		}
		v := s.variants[l.VariantID]
		v.Stock += l.Quantity
		v.Status = model.StockStatusFor(v.Stock)
		s.variants[l.VariantID] = v
	}
	return s.finish(ctx, 0, 1, model.StockMovementAdjust, note)
}

// 商品在庫 = バリアント在庫の合計。差分ではなく毎回数え直す
func (s *LockedStock) finish(ctx context.Context, orderID int64, sign int64, reason model.StockMovementReason, note string) error {
	for _, pid := range s.productIDs {
		sum, err := s.inv.SumVariantStock(ctx, pid)
		if err != nil {
			return systemError(err)
		}
		status := model.StockStatusFor(sum)
		if err := s.inv.SetProductStock(ctx, pid, sum, status); err != nil {
			return systemError(err)
		}
		p := s.products[pid]
		p.Stock = sum
		p.Status = status
		s.products[pid] = p
	}

	movements := make([]model.StockMovement, 0, len(s.lines))
	for _, l := range s.lines {
		movements = append(movements, model.StockMovement{
			VariantID: l.VariantID,
			ProductID: s.variants[l.VariantID].ProductID,
			OrderID:   orderID,
			Delta:     sign * l.Quantity,
			Reason:    reason,
			Note:      note,
		})
	}
	if err := s.inv.CreateMovements(ctx, movements); err != nil {
		return systemError(err)
	}
	return nil
}
