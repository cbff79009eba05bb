package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"storefront/internal/config"
	"storefront/internal/domain/model"
	"storefront/internal/handler"
	"storefront/internal/infra/memory"
	"storefront/internal/middleware"
	"storefront/internal/server"
	"storefront/internal/usecase"
	"storefront/internal/validator"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testSecret   = "handler-test-secret"
	testInternal = "internal-token"
)

type errorBody struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

type orderBody struct {
	OrderID       int64  `json:"order_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	FinalAmount   string `json:"final_amount"`
}

type testServer struct {
	e       *echo.Echo
	store   *memory.Store
	user    model.User
	admin   model.User
	address model.Address
	variant model.ProductVariant
	voucher model.Voucher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s := memory.NewStore()
	ts := &testServer{store: s}
	ts.admin = s.AddUser(model.User{Email: "admin@example.com", Role: model.RoleAdmin, IsActive: true})
	ts.user = s.AddUser(model.User{Email: "user@example.com", Role: model.RoleUser, IsActive: true})
	ts.address = s.AddAddress(model.Address{UserID: ts.user.ID, PostalCode: "1", City: "Tokyo", Line1: "1", Name: "User"})
	_, vs := s.AddProduct(
		model.Product{Name: "Basic Tee", CurrentPrice: decimal.NewFromInt(100), IsActive: true},
		model.ProductVariant{SKU: "TEE-S", Stock: 3},
	)
	ts.variant = vs[0]
	now := time.Now().UTC()
	ts.voucher = s.AddVoucher(model.Voucher{
		Code:          "WELCOME10",
		DiscountType:  model.DiscountTypePercent,
		DiscountValue: decimal.NewFromInt(10),
		Quantity:      10,
		StartDate:     now.Add(-time.Hour),
		EndDate:       now.Add(time.Hour),
		IsActive:      true,
	})

	log := zaptest.NewLogger(t)
	notify := usecase.NewNotifier(nil, time.Minute, nil, nil, nil, log)
	paymentUC := usecase.NewPaymentUsecase(s, notify)

	cfg := config.Config{JWTSecret: testSecret, InternalToken: testInternal}
	ts.e = server.New(log)
	inventoryUC := usecase.NewInventoryUsecase(s, notify)
	server.RegisterRoutes(ts.e, cfg, s.Users(), server.Handlers{
		Orders:         handler.NewOrderHandler(usecase.NewOrderUsecase(s, s.Addresses(), validator.NewOrderValidator(), notify)),
		AdminOrders:    handler.NewAdminOrderHandler(usecase.NewAdminOrderUsecase(s, notify)),
		Vouchers:       handler.NewVoucherHandler(usecase.NewVoucherUsecase(s, validator.NewVoucherValidator(), notify)),
		Payments:       handler.NewPaymentHandler(paymentUC),
		Stock:          handler.NewStockHandler(inventoryUC),
		AdminInventory: handler.NewAdminInventoryHandler(inventoryUC),
	})
	return ts
}

func (ts *testServer) token(t *testing.T, u model.User) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  u.ID,
		"role": string(u.Role),
		"tv":   u.TokenVersion,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) orderRequest(qty int64) handler.OrderCreateRequest {
	return handler.OrderCreateRequest{
		Items:     []handler.OrderItemRequest{{VariantID: ts.variant.ID, Quantity: qty}},
		AddressID: ts.address.ID,
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body=%s", rec.Body.String())
	return v
}

func orderPath(id int64, suffix string) string {
	return "/orders/" + strconv.FormatInt(id, 10) + suffix
}

// =====================
// orders
// =====================

func TestOrderHandler_CreateDetailCancel(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, ts.user)

	rec := ts.do(t, http.MethodPost, "/orders", tok, ts.orderRequest(2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[orderBody](t, rec)
	assert.NotZero(t, created.OrderID)
	assert.Equal(t, "Pending", created.Status)
	assert.Equal(t, "200", created.FinalAmount)

	rec = ts.do(t, http.MethodGet, orderPath(created.OrderID, ""), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.OrderID, decode[orderBody](t, rec).OrderID)

	rec = ts.do(t, http.MethodGet, orderPath(created.OrderID, "/payment-status"), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Pending", decode[orderBody](t, rec).PaymentStatus)

	rec = ts.do(t, http.MethodPut, orderPath(created.OrderID, "/cancel"), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Cancelled", decode[orderBody](t, rec).Status)

	// 2回目は遷移エラー（details は from/to）
	rec = ts.do(t, http.MethodPut, orderPath(created.OrderID, "/cancel"), tok, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, string(usecase.CodeInvalidStatusTransition), body.Code)
	assert.JSONEq(t, `{"from":"Cancelled","to":"Cancelled"}`, string(body.Details))

	v, _ := ts.store.Variant(ts.variant.ID)
	assert.Equal(t, int64(3), v.Stock)
}

func TestOrderHandler_Create_InsufficientStock(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/orders", ts.token(t, ts.user), ts.orderRequest(4))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, string(usecase.CodeInsufficientStock), body.Code)

	var sh []usecase.StockShortage
	require.NoError(t, json.Unmarshal(body.Details, &sh))
	assert.Equal(t, []usecase.StockShortage{{VariantID: ts.variant.ID, Available: 3, Requested: 4}}, sh)
}

func TestOrderHandler_Create_IdempotencyHeader(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, ts.user)

	first := ts.do(t, http.MethodPost, "/orders", tok, ts.orderRequest(1), "X-Idempotency-Key", "abc")
	second := ts.do(t, http.MethodPost, "/orders", tok, ts.orderRequest(1), "X-Idempotency-Key", "abc")

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, decode[orderBody](t, first).OrderID, decode[orderBody](t, second).OrderID)
	assert.Equal(t, 1, ts.store.OrderCount())
}

func TestOrderHandler_BadRequests(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, ts.user)

	rec := ts.do(t, http.MethodPost, "/orders", "", ts.orderRequest(1))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/orders/abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(usecase.CodeValidation), decode[errorBody](t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/orders/9999", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(usecase.CodeOrderNotFound), decode[errorBody](t, rec).Code)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	raw := httptest.NewRecorder()
	ts.e.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

// =====================
// admin
// =====================

func TestAdminOrderHandler_UpdateStatus(t *testing.T) {
	ts := newTestServer(t)
	userTok := ts.token(t, ts.user)
	adminTok := ts.token(t, ts.admin)

	rec := ts.do(t, http.MethodPost, "/orders", userTok, ts.orderRequest(1))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[orderBody](t, rec).OrderID

	// 一般ユーザーは不可
	rec = ts.do(t, http.MethodPatch, orderPath(id, ""), userTok, handler.OrderStatusUpdateRequest{Status: "Processing"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPatch, orderPath(id, ""), adminTok, handler.OrderStatusUpdateRequest{Status: "Processing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[usecase.AdminUpdateOrderStatusOutput](t, rec)
	assert.True(t, out.Changed)
	assert.Equal(t, "Processing", out.Status)

	rec = ts.do(t, http.MethodPatch, "/admin"+orderPath(id, ""), adminTok, handler.OrderStatusUpdateRequest{Status: "Pending"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/orders?status=Processing", adminTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[usecase.AdminOrderListOutput](t, rec)
	assert.Equal(t, int64(1), list.Total)

	rec = ts.do(t, http.MethodGet, "/admin/orders?page=x", adminTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/orders?from=yesterday", adminTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =====================
// payments
// =====================

func TestPaymentHandler_Confirm(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/orders", ts.token(t, ts.user), ts.orderRequest(1))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[orderBody](t, rec).OrderID

	body := handler.PaymentConfirmRequest{OrderID: id, Success: true, TransactionNo: "T-1"}

	rec = ts.do(t, http.MethodPost, "/internal/payments/confirm", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/internal/payments/confirm", "", body, middleware.HeaderInternalToken, testInternal)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[usecase.ConfirmPaymentOutput](t, rec)
	assert.Equal(t, "Paid", out.PaymentStatus)
	assert.True(t, out.Changed)

	o, _ := ts.store.Order(id)
	assert.Equal(t, model.PaymentStatusPaid, o.PaymentStatus)
}

// =====================
// vouchers
// =====================

func TestVoucherHandler_Flow(t *testing.T) {
	ts := newTestServer(t)
	userTok := ts.token(t, ts.user)

	rec := ts.do(t, http.MethodGet, "/vouchers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]usecase.VoucherOutput](t, rec), 1)

	rec = ts.do(t, http.MethodPost, "/vouchers/"+strconv.FormatInt(ts.voucher.ID, 10)+"/collect", userTok, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/vouchers/mine", userTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]usecase.VoucherOutput](t, rec), 1)

	req := ts.orderRequest(1)
	req.VoucherID = &ts.voucher.ID
	rec = ts.do(t, http.MethodPost, "/orders", userTok, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "90", decode[orderBody](t, rec).FinalAmount)

	rec = ts.do(t, http.MethodPost, "/orders", userTok, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(usecase.CodeVoucherAlreadyUsed), decode[errorBody](t, rec).Code)
}

func TestVoucherHandler_AdminCreate(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now().UTC()
	body := handler.VoucherCreateRequest{
		Code:          "summer",
		DiscountType:  "fixed",
		DiscountValue: decimal.NewFromInt(50),
		Quantity:      10,
		StartDate:     now,
		EndDate:       now.Add(24 * time.Hour),
	}

	rec := ts.do(t, http.MethodPost, "/admin/vouchers", ts.token(t, ts.user), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/admin/vouchers", ts.token(t, ts.admin), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "SUMMER", decode[usecase.VoucherOutput](t, rec).Code)
}

// =====================
// inventory
// =====================

func TestStockHandler_AndAdminAdjust(t *testing.T) {
	ts := newTestServer(t)
	path := "/admin/inventory/" + strconv.FormatInt(ts.variant.ID, 10)

	rec := ts.do(t, http.MethodGet, "/products/stock", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]usecase.ProductStockOutput](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, int64(3), list[0].Stock)

	body := handler.InventoryAdjustRequest{Delta: 5, Reason: "restock"}

	rec = ts.do(t, http.MethodPatch, path, ts.token(t, ts.user), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPatch, path, ts.token(t, ts.admin), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[usecase.AdjustStockOutput](t, rec)
	assert.Equal(t, int64(8), out.VariantStock)
	assert.Equal(t, int64(8), out.ProductStock)

	rec = ts.do(t, http.MethodGet, "/products/"+strconv.FormatInt(list[0].ProductID, 10)+"/stock", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(8), decode[usecase.ProductStockOutput](t, rec).Stock)

	rec = ts.do(t, http.MethodPatch, path, ts.token(t, ts.admin), handler.InventoryAdjustRequest{Delta: -9, Reason: "count"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(usecase.CodeInsufficientStock), decode[errorBody](t, rec).Code)

	rec = ts.do(t, http.MethodPatch, "/admin/inventory/x", ts.token(t, ts.admin), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/products/999/stock", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
