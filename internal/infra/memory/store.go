package memory

import (
	"context"
	"sync"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

// Store はプロセス内だけで完結するストア（開発・テスト用）。
// トランザクションはストア全体のロックで直列化し、エラー時はスナップショットに戻す
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

type state struct {
	seq         map[string]int64
	users       map[int64]model.User
	addresses   map[int64]model.Address
	products    map[int64]model.Product
	variants    map[int64]model.ProductVariant
	vouchers    map[int64]model.Voucher
	redemptions map[int64]model.UserVoucher
	orders      map[int64]model.Order
	items       map[int64]model.OrderItem
	movements   []model.StockMovement
	auditLogs   []model.AuditLog
}

func NewStore() *Store {
	return &Store{st: newState(), now: time.Now}
}

func newState() *state {
	return &state{
		seq:         map[string]int64{},
		users:       map[int64]model.User{},
		addresses:   map[int64]model.Address{},
		products:    map[int64]model.Product{},
		variants:    map[int64]model.ProductVariant{},
		vouchers:    map[int64]model.Voucher{},
		redemptions: map[int64]model.UserVoucher{},
		orders:      map[int64]model.Order{},
		items:       map[int64]model.OrderItem{},
	}
}

func (s *state) nextID(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

// ロールバック用のコピー（値は構造体なので map を作り直せば足りる）
func (s *state) clone() *state {
	c := &state{
		seq:         make(map[string]int64, len(s.seq)),
		users:       make(map[int64]model.User, len(s.users)),
		addresses:   make(map[int64]model.Address, len(s.addresses)),
		products:    make(map[int64]model.Product, len(s.products)),
		variants:    make(map[int64]model.ProductVariant, len(s.variants)),
		vouchers:    make(map[int64]model.Voucher, len(s.vouchers)),
		redemptions: make(map[int64]model.UserVoucher, len(s.redemptions)),
		orders:      make(map[int64]model.Order, len(s.orders)),
		items:       make(map[int64]model.OrderItem, len(s.items)),
		movements:   append([]model.StockMovement(nil), s.movements...),
		auditLogs:   append([]model.AuditLog(nil), s.auditLogs...),
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.variants {
		c.variants[k] = v
	}
	for k, v := range s.vouchers {
		c.vouchers[k] = v
	}
	for k, v := range s.redemptions {
		c.redemptions[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	return c
}

type txRepos struct {
	st  *state
	now func() time.Time
}

func (r *txRepos) Orders() repo.OrderRepository         { return &orderRepo{st: r.st, now: r.now} }
func (r *txRepos) OrderItems() repo.OrderItemRepository { return &orderItemRepo{st: r.st, now: r.now} }
func (r *txRepos) Inventory() repo.InventoryRepository  { return &inventoryRepo{st: r.st, now: r.now} }
func (r *txRepos) Vouchers() repo.VoucherRepository     { return &voucherRepo{st: r.st, now: r.now} }
func (r *txRepos) AuditLogs() repo.AuditLogRepository   { return &auditLogRepo{st: r.st, now: r.now} }

// WithinTx は fn を排他的に実行し、エラーなら状態を元に戻す
func (s *Store) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&txRepos{st: s.st, now: s.now}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// 住所はトランザクション外で読む
func (s *Store) Addresses() repo.AddressRepository {
	return &addressRepo{store: s}
}

func (s *Store) Users() repo.UserRepository {
	return &userRepo{store: s}
}

type addressRepo struct {
	store *Store
}

func (r *addressRepo) FindByID(_ context.Context, addressID int64) (model.Address, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	a, ok := r.store.st.addresses[addressID]
	if !ok {
		return model.Address{}, repo.ErrNotFound
	}
	return a, nil
}

type userRepo struct {
	store *Store
}

func (r *userRepo) FindByID(_ context.Context, userID int64) (*model.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.st.users[userID]
	if !ok {
		return nil, repo.ErrUserNotFound
	}
	return &u, nil
}
