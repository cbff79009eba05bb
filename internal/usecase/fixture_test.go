package usecase_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/infra/memory"
	"storefront/internal/usecase"
	"storefront/internal/validator"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// =====================
// EventPublisher モック
// =====================

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) Publish(ctx context.Context, ev model.OrderEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

var _ usecase.EventPublisher = (*PublisherMock)(nil)

func eventOf(typ model.OrderEventType, orderID int64) interface{} {
	return mock.MatchedBy(func(ev model.OrderEvent) bool {
		return ev.Type == typ && ev.OrderID == orderID
	})
}

// =====================
// Cache（メモリで持つスパイ）
// =====================

type cacheSpy struct {
	mu          sync.Mutex
	data        map[string][]byte
	hits        int
	invalidated []string
}

func newCacheSpy() *cacheSpy {
	return &cacheSpy{data: map[string][]byte{}}
}

func (c *cacheSpy) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(b, dst)
}

func (c *cacheSpy) SetJSON(_ context.Context, key string, v any, _ time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = b
	return nil
}

func (c *cacheSpy) Invalidate(_ context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	c.invalidated = append(c.invalidated, keys...)
}

func (c *cacheSpy) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

func (c *cacheSpy) invalidatedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.invalidated...)
}

func (c *cacheSpy) hitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// =====================
// fixture
// =====================

type fixture struct {
	store  *memory.Store
	cache  *cacheSpy
	pub    *PublisherMock
	notify *usecase.Notifier
	logs   *observer.ObservedLogs

	orders    *usecase.OrderUsecase
	admin     *usecase.AdminOrderUsecase
	payment   *usecase.PaymentUsecase
	vouchers  *usecase.VoucherUsecase
	inventory *usecase.InventoryUsecase

	adminUser model.User
	user      model.User
	other     model.User
	address   model.Address

	tee     model.Product
	teeS    model.ProductVariant
	teeM    model.ProductVariant
	pants   model.Product
	pants30 model.ProductVariant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pub := new(PublisherMock)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()
	return newFixtureWithPublisher(t, pub)
}

// 商品: Basic Tee 100円（S:5, M:3）/ Denim Pants 250円（30:2）
func newFixtureWithPublisher(t *testing.T, pub *PublisherMock) *fixture {
	t.Helper()

	s := memory.NewStore()
	f := &fixture{store: s, cache: newCacheSpy(), pub: pub}

	f.adminUser = s.AddUser(model.User{Email: "admin@example.com", Role: model.RoleAdmin, IsActive: true})
	f.user = s.AddUser(model.User{Email: "user@example.com", Role: model.RoleUser, IsActive: true})
	f.other = s.AddUser(model.User{Email: "other@example.com", Role: model.RoleUser, IsActive: true})
	f.address = s.AddAddress(model.Address{UserID: f.user.ID, PostalCode: "100-0001", City: "Tokyo", Line1: "1-1", Name: "User"})

	var vs []model.ProductVariant
	f.tee, vs = s.AddProduct(
		model.Product{Name: "Basic Tee", CurrentPrice: decimal.NewFromInt(100), IsActive: true},
		model.ProductVariant{SKU: "TEE-S", Size: "S", Stock: 5},
		model.ProductVariant{SKU: "TEE-M", Size: "M", Stock: 3},
	)
	f.teeS, f.teeM = vs[0], vs[1]

	f.pants, vs = s.AddProduct(
		model.Product{Name: "Denim Pants", CurrentPrice: decimal.NewFromInt(250), IsActive: true},
		model.ProductVariant{SKU: "DNM-30", Size: "30", Stock: 2},
	)
	f.pants30 = vs[0]

	// テスト出力に流しつつ、中身も検査できるようにする
	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(zapcore.NewTee(zaptest.NewLogger(t).Core(), core))
	f.logs = logs

	notify := usecase.NewNotifier(f.cache, time.Minute, pub, usecase.UUIDGenerator{}, fixedClock{testNow}, log)
	f.notify = notify
	f.orders = usecase.NewOrderUsecase(s, s.Addresses(), validator.NewOrderValidator(), notify)
	f.admin = usecase.NewAdminOrderUsecase(s, notify)
	f.payment = usecase.NewPaymentUsecase(s, notify)
	f.vouchers = usecase.NewVoucherUsecase(s, validator.NewVoucherValidator(), notify)
	f.inventory = usecase.NewInventoryUsecase(s, notify)
	return f
}

func line(variantID, qty int64) usecase.PlaceOrderItem {
	return usecase.PlaceOrderItem{VariantID: variantID, Quantity: qty}
}

func (f *fixture) input(lines ...usecase.PlaceOrderItem) usecase.PlaceOrderInput {
	return usecase.PlaceOrderInput{
		Items:         lines,
		AddressID:     f.address.ID,
		ShipMethod:    "standard",
		PaymentMethod: "card",
	}
}

// 有効期間内・10% のバウチャー
func (f *fixture) addVoucher(mods ...func(v *model.Voucher)) model.Voucher {
	v := model.Voucher{
		Code:          "WELCOME10",
		DiscountType:  model.DiscountTypePercent,
		DiscountValue: decimal.NewFromInt(10),
		Quantity:      100,
		StartDate:     testNow.Add(-24 * time.Hour),
		EndDate:       testNow.Add(24 * time.Hour),
		IsActive:      true,
		CreatedAt:     testNow,
	}
	for _, m := range mods {
		m(&v)
	}
	return f.store.AddVoucher(v)
}

func (f *fixture) collect(userID, voucherID int64) model.UserVoucher {
	return f.store.AddRedemption(model.UserVoucher{UserID: userID, VoucherID: voucherID, CollectedAt: testNow})
}

func (f *fixture) placeOrder(t *testing.T, in usecase.PlaceOrderInput) usecase.OrderOutput {
	t.Helper()
	out, err := f.orders.PlaceOrder(context.Background(), f.user.ID, in)
	require.NoError(t, err)
	return out
}

func (f *fixture) variantStock(t *testing.T, id int64) int64 {
	t.Helper()
	v, ok := f.store.Variant(id)
	require.True(t, ok)
	return v.Stock
}

func (f *fixture) productStock(t *testing.T, id int64) model.Product {
	t.Helper()
	p, ok := f.store.Product(id)
	require.True(t, ok)
	return p
}

// 商品在庫 = バリアント合計 が全商品で成り立っていること
func (f *fixture) assertStockConsistent(t *testing.T) {
	t.Helper()
	assert.Empty(t, f.store.StockMismatches())
}

func requireHTTPError(t *testing.T, err error, status int, code usecase.ErrorCode) *usecase.HTTPError {
	t.Helper()
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok, "err=%v", err)
	assert.Equal(t, status, he.Status)
	assert.Equal(t, code, he.Code)
	return he
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
