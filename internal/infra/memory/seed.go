package memory

import (
	"sort"
	"time"

	"storefront/internal/domain/model"

	"github.com/shopspring/decimal"
)

// 初期データ投入と中身の確認用（テスト・開発用）

func (s *Store) AddUser(u model.User) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.st.nextID("users")
	} else if u.ID > s.st.seq["users"] {
		s.st.seq["users"] = u.ID
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	s.st.users[u.ID] = u
	return u
}

func (s *Store) AddAddress(a model.Address) model.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.st.nextID("addresses")
	s.st.addresses[a.ID] = a
	return a
}

// AddProduct は商品とバリアントを登録し、商品在庫をバリアントの合計にそろえる
func (s *Store) AddProduct(p model.Product, variants ...model.ProductVariant) (model.Product, []model.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.st.nextID("products")
	var sum int64
	out := make([]model.ProductVariant, 0, len(variants))
	for _, v := range variants {
		v.ID = s.st.nextID("product_variants")
		v.ProductID = p.ID
		v.Status = model.StockStatusFor(v.Stock)
		s.st.variants[v.ID] = v
		sum += v.Stock
		out = append(out, v)
	}
	p.Stock = sum
	p.Status = model.StockStatusFor(sum)
	s.st.products[p.ID] = p
	return p, out
}

func (s *Store) AddVoucher(v model.Voucher) model.Voucher {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = s.st.nextID("vouchers")
	s.st.vouchers[v.ID] = v
	return v
}

func (s *Store) AddRedemption(uv model.UserVoucher) model.UserVoucher {
	s.mu.Lock()
	defer s.mu.Unlock()
	uv.ID = s.st.nextID("user_vouchers")
	s.st.redemptions[uv.ID] = uv
	return uv
}

func (s *Store) Variant(id int64) (model.ProductVariant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.st.variants[id]
	return v, ok
}

func (s *Store) Product(id int64) (model.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	return p, ok
}

func (s *Store) Voucher(id int64) (model.Voucher, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.st.vouchers[id]
	return v, ok
}

func (s *Store) Redemption(userID, voucherID int64) (model.UserVoucher, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uv := range s.st.redemptions {
		if uv.UserID == userID && uv.VoucherID == voucherID {
			return uv, true
		}
	}
	return model.UserVoucher{}, false
}

func (s *Store) Order(id int64) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	return o, ok
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

func (s *Store) Movements() []model.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.StockMovement(nil), s.st.movements...)
}

func (s *Store) AuditLogs() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditLog(nil), s.st.auditLogs...)
}

// 商品ごとに「商品在庫 = バリアント在庫の合計」が成り立っていない商品IDを返す
func (s *Store) StockMismatches() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := map[int64]int64{}
	for _, v := range s.st.variants {
		sums[v.ProductID] += v.Stock
	}
	var bad []int64
	for id, p := range s.st.products {
		if p.Stock != sums[id] || p.Status != model.StockStatusFor(p.Stock) {
			bad = append(bad, id)
		}
	}
	sort.Slice(bad, func(i, j int) bool { return bad[i] < bad[j] })
	return bad
}

// SeedDemo は STORAGE_DRIVER=memory で起動したときの最小データ
func (s *Store) SeedDemo(now time.Time) {
	s.AddUser(model.User{Email: "admin@example.com", Role: model.RoleAdmin, IsActive: true})
	user := s.AddUser(model.User{Email: "user@example.com", Role: model.RoleUser, IsActive: true})

	s.AddAddress(model.Address{UserID: user.ID, PostalCode: "100-0001", City: "Tokyo", Line1: "1-1", Name: "Demo User", IsDefault: true})

	s.AddProduct(
		model.Product{Name: "Basic Tee", CurrentPrice: decimal.NewFromInt(100), IsActive: true},
		model.ProductVariant{SKU: "TEE-S-BLK", Size: "S", Color: "black", Stock: 10},
		model.ProductVariant{SKU: "TEE-M-BLK", Size: "M", Color: "black", Stock: 5},
	)
	s.AddProduct(
		model.Product{Name: "Denim Pants", CurrentPrice: decimal.NewFromInt(250), IsActive: true},
		model.ProductVariant{SKU: "DNM-30", Size: "30", Color: "blue", Stock: 3},
	)

	s.AddVoucher(model.Voucher{
		Code:          "WELCOME10",
		DiscountType:  model.DiscountTypePercent,
		DiscountValue: decimal.NewFromInt(10),
		Quantity:      100,
		StartDate:     now.Add(-24 * time.Hour),
		EndDate:       now.Add(30 * 24 * time.Hour),
		IsActive:      true,
		CreatedAt:     now,
	})
}
