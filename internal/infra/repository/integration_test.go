package repository_test

import (
	"context"
	"database/sql"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/infra/db"
	infrarepo "storefront/internal/infra/repository"
	"storefront/internal/usecase"
	"storefront/internal/validator"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// TEST_DATABASE_URL があるときだけ実 Postgres で動かす
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	gdb, err := db.Connect(dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}

type pgFixture struct {
	gdb       *gorm.DB
	orders    *usecase.OrderUsecase
	inventory *usecase.InventoryUsecase
	admin     model.User
	user      model.User
	address   model.Address
	product   model.Product
	variants  []model.ProductVariant
}

func newPGFixture(t *testing.T, stocks ...int64) *pgFixture {
	t.Helper()
	gdb := openTestDB(t)
	f := &pgFixture{gdb: gdb}

	f.user = model.User{Email: uuid.NewString() + "@example.com", Role: model.RoleUser, IsActive: true}
	require.NoError(t, gdb.Create(&f.user).Error)
	f.admin = model.User{Email: uuid.NewString() + "@example.com", Role: model.RoleAdmin, IsActive: true}
	require.NoError(t, gdb.Create(&f.admin).Error)
	f.address = model.Address{UserID: f.user.ID, PostalCode: "100-0001", City: "Tokyo", Line1: "1-1", Name: "Test"}
	require.NoError(t, gdb.Create(&f.address).Error)

	var sum int64
	for _, s := range stocks {
		sum += s
	}
	f.product = model.Product{Name: "Tee", CurrentPrice: decimal.NewFromInt(100), Stock: sum, Status: model.StockStatusFor(sum), IsActive: true}
	require.NoError(t, gdb.Create(&f.product).Error)
	for i, s := range stocks {
		v := model.ProductVariant{ProductID: f.product.ID, SKU: uuid.NewString()[:8] + string(rune('A'+i)), Stock: s, Status: model.StockStatusFor(s)}
		require.NoError(t, gdb.Create(&v).Error)
		f.variants = append(f.variants, v)
	}

	notify := usecase.NewNotifier(nil, 0, nil, nil, nil, zaptest.NewLogger(t))
	f.orders = usecase.NewOrderUsecase(
		infrarepo.NewTxManagerGorm(gdb),
		infrarepo.NewAddressGormRepository(gdb),
		validator.NewOrderValidator(),
		notify,
	)
	f.inventory = usecase.NewInventoryUsecase(infrarepo.NewTxManagerGorm(gdb), notify)
	return f
}

func (f *pgFixture) stocks(t *testing.T) (int64, []int64) {
	t.Helper()
	var p model.Product
	require.NoError(t, f.gdb.First(&p, f.product.ID).Error)
	out := make([]int64, 0, len(f.variants))
	for _, v := range f.variants {
		var got model.ProductVariant
		require.NoError(t, f.gdb.First(&got, v.ID).Error)
		out = append(out, got.Stock)
	}
	return p.Stock, out
}

func (f *pgFixture) input(variantID, qty int64) usecase.PlaceOrderInput {
	return usecase.PlaceOrderInput{
		Items:     []usecase.PlaceOrderItem{{VariantID: variantID, Quantity: qty}},
		AddressID: f.address.ID,
	}
}

func TestPostgres_PlaceAndCancel(t *testing.T) {
	f := newPGFixture(t, 2, 1)
	ctx := context.Background()

	out, err := f.orders.PlaceOrder(ctx, f.user.ID, f.input(f.variants[0].ID, 2))
	require.NoError(t, err)

	productStock, vs := f.stocks(t)
	assert.Equal(t, int64(1), productStock)
	assert.Equal(t, []int64{0, 1}, vs)

	_, err = f.orders.CancelOrder(ctx, f.user.ID, out.ID)
	require.NoError(t, err)

	productStock, vs = f.stocks(t)
	assert.Equal(t, int64(3), productStock)
	assert.Equal(t, []int64{2, 1}, vs)

	var movements int64
	require.NoError(t, f.gdb.Model(&model.StockMovement{}).Where("order_id = ?", out.ID).Count(&movements).Error)
	assert.Equal(t, int64(2), movements)
}

func TestPostgres_LastUnitUnderContention(t *testing.T) {
	f := newPGFixture(t, 1)

	var ok, short atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := f.orders.PlaceOrder(context.Background(), f.user.ID, f.input(f.variants[0].ID, 1))
			if err == nil {
				ok.Add(1)
				return nil
			}
			if he, isHTTP := usecase.AsHTTPError(err); isHTTP && he.Code == usecase.CodeInsufficientStock {
				short.Add(1)
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(7), short.Load())
	productStock, vs := f.stocks(t)
	assert.Equal(t, int64(0), productStock)
	assert.Equal(t, []int64{0}, vs)
}

func TestPostgres_SameVoucherUnderContention(t *testing.T) {
	f := newPGFixture(t, 10)
	now := time.Now().UTC()
	v := model.Voucher{
		Code:          "PG-" + uuid.NewString()[:8],
		DiscountType:  model.DiscountTypeFixed,
		DiscountValue: decimal.NewFromInt(10),
		Quantity:      100,
		StartDate:     now.Add(-time.Hour),
		EndDate:       now.Add(time.Hour),
		IsActive:      true,
	}
	require.NoError(t, f.gdb.Create(&v).Error)
	require.NoError(t, f.gdb.Create(&model.UserVoucher{UserID: f.user.ID, VoucherID: v.ID, CollectedAt: now}).Error)

	var ok, used atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			in := f.input(f.variants[0].ID, 1)
			in.VoucherID = &v.ID
			_, err := f.orders.PlaceOrder(context.Background(), f.user.ID, in)
			if err == nil {
				ok.Add(1)
				return nil
			}
			if he, isHTTP := usecase.AsHTTPError(err); isHTTP && he.Code == usecase.CodeVoucherAlreadyUsed {
				used.Add(1)
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(7), used.Load())
	var got model.Voucher
	require.NoError(t, f.gdb.First(&got, v.ID).Error)
	assert.Equal(t, int64(1), got.UsedCount)
	productStock, vs := f.stocks(t)
	assert.Equal(t, int64(9), productStock)
	assert.Equal(t, []int64{9}, vs)
}

// 監査ログと台帳は gorm を通さず生SQLで確かめる
func openRawDB(t *testing.T) *sql.DB {
	t.Helper()
	raw, err := sql.Open("pgx", os.Getenv("TEST_DATABASE_URL"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return raw
}

func TestPostgres_AdminAdjustStock_RecordsAuditAndMovement(t *testing.T) {
	f := newPGFixture(t, 1, 2)
	ctx := context.Background()
	raw := openRawDB(t)

	out, err := f.inventory.AdminAdjustStock(ctx, f.admin.ID, usecase.AdjustStockInput{
		VariantID: f.variants[0].ID,
		Delta:     4,
		Reason:    "restock",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), out.VariantStock)
	assert.Equal(t, int64(7), out.ProductStock)

	productStock, vs := f.stocks(t)
	assert.Equal(t, int64(7), productStock)
	assert.Equal(t, []int64{5, 2}, vs)

	var action, resource string
	err = raw.QueryRowContext(ctx,
		`SELECT action, resource_type FROM audit_logs WHERE actor_user_id = $1 AND resource_id = $2`,
		f.admin.ID, f.variants[0].ID,
	).Scan(&action, &resource)
	require.NoError(t, err)
	assert.Equal(t, string(model.AuditActionAdjustStock), action)
	assert.Equal(t, string(model.AuditResourceVariant), resource)

	var delta, orderID int64
	var reason, note string
	err = raw.QueryRowContext(ctx,
		`SELECT delta, order_id, reason, note FROM stock_movements WHERE variant_id = $1`,
		f.variants[0].ID,
	).Scan(&delta, &orderID, &reason, &note)
	require.NoError(t, err)
	assert.Equal(t, int64(4), delta)
	assert.Equal(t, int64(0), orderID)
	assert.Equal(t, string(model.StockMovementAdjust), reason)
	assert.Equal(t, "restock", note)

	// 0 未満にはならない
	_, err = f.inventory.AdminAdjustStock(ctx, f.admin.ID, usecase.AdjustStockInput{
		VariantID: f.variants[1].ID,
		Delta:     -3,
		Reason:    "count",
	})
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, usecase.CodeInsufficientStock, he.Code)
	productStock, vs = f.stocks(t)
	assert.Equal(t, int64(7), productStock)
	assert.Equal(t, []int64{5, 2}, vs)
}
