package memory

import (
	"context"
	"sort"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

// ---- inventory ----

type inventoryRepo struct {
	st  *state
	now func() time.Time
}

func (r *inventoryRepo) ProductIDsOfVariants(_ context.Context, variantIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(variantIDs))
	for _, id := range variantIDs {
		if v, ok := r.st.variants[id]; ok {
			out[id] = v.ProductID
		}
	}
	return out, nil
}

func (r *inventoryRepo) LockVariantsOfProducts(_ context.Context, productIDs []int64) ([]model.ProductVariant, error) {
	want := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		want[id] = true
	}
	var list []model.ProductVariant
	for _, v := range r.st.variants {
		if want[v.ProductID] {
			list = append(list, v)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r *inventoryRepo) LockProducts(_ context.Context, productIDs []int64) ([]model.Product, error) {
	var list []model.Product
	for _, id := range productIDs {
		if p, ok := r.st.products[id]; ok {
			list = append(list, p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r *inventoryRepo) AdjustVariantStock(_ context.Context, variantID int64, delta int64) error {
	v, ok := r.st.variants[variantID]
	if !ok {
		return repo.ErrNotFound
	}
	if v.Stock+delta < 0 {
		return repo.ErrConditionFailed
	}
	v.Stock += delta
	v.Status = model.StockStatusFor(v.Stock)
	v.UpdatedAt = r.now()
	r.st.variants[variantID] = v
	return nil
}

func (r *inventoryRepo) SumVariantStock(_ context.Context, productID int64) (int64, error) {
	var sum int64
	for _, v := range r.st.variants {
		if v.ProductID == productID {
			sum += v.Stock
		}
	}
	return sum, nil
}

func (r *inventoryRepo) SetProductStock(_ context.Context, productID int64, stock int64, status model.StockStatus) error {
	p, ok := r.st.products[productID]
	if !ok {
		return repo.ErrNotFound
	}
	p.Stock = stock
	p.Status = status
	p.UpdatedAt = r.now()
	r.st.products[productID] = p
	return nil
}

func (r *inventoryRepo) CreateMovements(_ context.Context, movements []model.StockMovement) error {
	for _, m := range movements {
		m.ID = r.st.nextID("stock_movements")
		if m.CreatedAt.IsZero() {
			m.CreatedAt = r.now()
		}
		r.st.movements = append(r.st.movements, m)
	}
	return nil
}

func (r *inventoryRepo) ListActiveStock(_ context.Context, productIDs []int64) ([]model.Product, []model.ProductVariant, error) {
	want := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		want[id] = true
	}

	products := []model.Product{}
	active := map[int64]bool{}
	for _, p := range r.st.products {
		if !p.IsActive || (len(want) > 0 && !want[p.ID]) {
			continue
		}
		products = append(products, p)
		active[p.ID] = true
	}
	variants := []model.ProductVariant{}
	for _, v := range r.st.variants {
		if active[v.ProductID] {
			variants = append(variants, v)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	sort.Slice(variants, func(i, j int) bool { return variants[i].ID < variants[j].ID })
	return products, variants, nil
}

// ---- orders ----

type orderRepo struct {
	st  *state
	now func() time.Time
}

func (r *orderRepo) FindByID(_ context.Context, orderID int64) (model.Order, error) {
	o, ok := r.st.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

// ストア全体が直列なので FOR UPDATE は通常の取得と同じ
func (r *orderRepo) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	return r.FindByID(ctx, orderID)
}

func (r *orderRepo) ListByUserID(_ context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	var list []model.Order
	for _, o := range r.st.orders {
		if o.UserID == userID {
			list = append(list, o)
		}
	}
	return paginate(list, page, limit)
}

func (r *orderRepo) Create(_ context.Context, order model.Order) (int64, error) {
	if order.IdempotencyKey != nil {
		for _, o := range r.st.orders {
			if o.UserID == order.UserID && o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return 0, repo.ErrConflict
			}
		}
	}
	order.ID = r.st.nextID("orders")
	now := r.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	r.st.orders[order.ID] = order
	return order.ID, nil
}

func (r *orderRepo) UpdateStatus(_ context.Context, orderID int64, status model.OrderStatus, note *string) error {
	o, ok := r.st.orders[orderID]
	if !ok {
		return repo.ErrNotFound
	}
	o.Status = status
	if note != nil {
		o.Note = *note
	}
	o.UpdatedAt = r.now()
	r.st.orders[orderID] = o
	return nil
}

func (r *orderRepo) UpdatePayment(_ context.Context, orderID int64, status model.PaymentStatus, txnNo *string) error {
	o, ok := r.st.orders[orderID]
	if !ok {
		return repo.ErrNotFound
	}
	o.PaymentStatus = status
	if txnNo != nil {
		no := *txnNo
		o.PaymentTxnNo = &no
	}
	o.UpdatedAt = r.now()
	r.st.orders[orderID] = o
	return nil
}

func (r *orderRepo) FindByIdempotencyKey(_ context.Context, userID int64, key string) (model.Order, bool, error) {
	for _, o := range r.st.orders {
		if o.UserID == userID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

func (r *orderRepo) ListAdmin(_ context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	var list []model.Order
	for _, o := range r.st.orders {
		if f.Status != "" && string(o.Status) != f.Status {
			continue
		}
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			continue
		}
		list = append(list, o)
	}
	return paginate(list, f.Page, f.Limit)
}

// id 降順でページング
func paginate(list []model.Order, page, limit int) ([]model.Order, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })

	total := int64(len(list))
	start := (page - 1) * limit
	if start >= len(list) {
		return []model.Order{}, total, nil
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	return list[start:end], total, nil
}

// ---- order items ----

type orderItemRepo struct {
	st  *state
	now func() time.Time
}

func (r *orderItemRepo) CreateBulk(_ context.Context, orderID int64, items []model.OrderItem) error {
	for _, it := range items {
		it.ID = r.st.nextID("order_items")
		it.OrderID = orderID
		if it.CreatedAt.IsZero() {
			it.CreatedAt = r.now()
		}
		r.st.items[it.ID] = it
	}
	return nil
}

func (r *orderItemRepo) ListByOrderID(_ context.Context, orderID int64) ([]model.OrderItem, error) {
	list := []model.OrderItem{}
	for _, it := range r.st.items {
		if it.OrderID == orderID {
			list = append(list, it)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// ---- vouchers ----

type voucherRepo struct {
	st  *state
	now func() time.Time
}

func (r *voucherRepo) Create(_ context.Context, v model.Voucher) (model.Voucher, error) {
	for _, ex := range r.st.vouchers {
		if ex.Code == v.Code {
			return model.Voucher{}, repo.ErrConflict
		}
	}
	v.ID = r.st.nextID("vouchers")
	if v.CreatedAt.IsZero() {
		v.CreatedAt = r.now()
	}
	r.st.vouchers[v.ID] = v
	return v, nil
}

func (r *voucherRepo) FindByID(_ context.Context, voucherID int64) (model.Voucher, error) {
	v, ok := r.st.vouchers[voucherID]
	if !ok {
		return model.Voucher{}, repo.ErrNotFound
	}
	return v, nil
}

func (r *voucherRepo) ListActive(_ context.Context, now time.Time) ([]model.Voucher, error) {
	list := []model.Voucher{}
	for _, v := range r.st.vouchers {
		if v.IsValid(now) {
			list = append(list, v)
		}
	}
	sortVouchers(list)
	return list, nil
}

func (r *voucherRepo) ListCollectedActive(_ context.Context, userID int64, now time.Time) ([]model.Voucher, error) {
	list := []model.Voucher{}
	for _, uv := range r.st.redemptions {
		if uv.UserID != userID || uv.IsUsed {
			continue
		}
		if v, ok := r.st.vouchers[uv.VoucherID]; ok && v.IsValid(now) {
			list = append(list, v)
		}
	}
	sortVouchers(list)
	return list, nil
}

func sortVouchers(list []model.Voucher) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].EndDate.Equal(list[j].EndDate) {
			return list[i].EndDate.Before(list[j].EndDate)
		}
		return list[i].ID < list[j].ID
	})
}

func (r *voucherRepo) FindByIDForUpdate(ctx context.Context, voucherID int64) (model.Voucher, error) {
	return r.FindByID(ctx, voucherID)
}

func (r *voucherRepo) FindRedemptionForUpdate(_ context.Context, userID, voucherID int64) (model.UserVoucher, error) {
	for _, uv := range r.st.redemptions {
		if uv.UserID == userID && uv.VoucherID == voucherID {
			return uv, nil
		}
	}
	return model.UserVoucher{}, repo.ErrNotFound
}

func (r *voucherRepo) FindRedemptionByIDForUpdate(_ context.Context, redemptionID int64) (model.UserVoucher, error) {
	uv, ok := r.st.redemptions[redemptionID]
	if !ok {
		return model.UserVoucher{}, repo.ErrNotFound
	}
	return uv, nil
}

func (r *voucherRepo) CreateRedemption(_ context.Context, uv model.UserVoucher) (model.UserVoucher, error) {
	for _, ex := range r.st.redemptions {
		if ex.UserID == uv.UserID && ex.VoucherID == uv.VoucherID {
			return model.UserVoucher{}, repo.ErrConflict
		}
	}
	uv.ID = r.st.nextID("user_vouchers")
	if uv.CollectedAt.IsZero() {
		uv.CollectedAt = r.now()
	}
	r.st.redemptions[uv.ID] = uv
	return uv, nil
}

func (r *voucherRepo) SetRedemptionUsed(_ context.Context, redemptionID int64, used bool, usedAt *time.Time) error {
	uv, ok := r.st.redemptions[redemptionID]
	if !ok {
		return repo.ErrNotFound
	}
	uv.IsUsed = used
	uv.UsedAt = nil
	if usedAt != nil {
		t := *usedAt
		uv.UsedAt = &t
	}
	r.st.redemptions[redemptionID] = uv
	return nil
}

func (r *voucherRepo) IncrementUsedCount(_ context.Context, voucherID int64) error {
	v, ok := r.st.vouchers[voucherID]
	if !ok || v.UsedCount >= v.Quantity {
		return repo.ErrConditionFailed
	}
	v.UsedCount++
	r.st.vouchers[voucherID] = v
	return nil
}

func (r *voucherRepo) DecrementUsedCount(_ context.Context, voucherID int64) error {
	v, ok := r.st.vouchers[voucherID]
	if !ok || v.UsedCount <= 0 {
		return nil
	}
	v.UsedCount--
	r.st.vouchers[voucherID] = v
	return nil
}

// ---- audit logs ----

type auditLogRepo struct {
	st  *state
	now func() time.Time
}

func (r *auditLogRepo) Create(_ context.Context, log model.AuditLog) error {
	log.ID = r.st.nextID("audit_logs")
	if log.CreatedAt.IsZero() {
		log.CreatedAt = r.now()
	}
	r.st.auditLogs = append(r.st.auditLogs, log)
	return nil
}
