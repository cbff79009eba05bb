package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// 注文入力の形式チェック（validator パッケージが実装）
type OrderValidator interface {
	ValidatePlaceOrder(in PlaceOrderInput) error
}

type OrderUsecase struct {
	tx        repo.TransactionManager
	addresses repo.AddressRepository
	validator OrderValidator
	notify    *Notifier
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	addresses repo.AddressRepository,
	validator OrderValidator,
	notify *Notifier,
) *OrderUsecase {
	return &OrderUsecase{tx: tx, addresses: addresses, validator: validator, notify: notify}
}

type PlaceOrderItem struct {
	VariantID int64
	Quantity  int64
}

type PlaceOrderInput struct {
	Items          []PlaceOrderItem
	AddressID      int64
	VoucherID      *int64
	ShipMethod     string
	PaymentMethod  string
	Note           string
	IdempotencyKey string
}

type OrderItemOutput struct {
	ProductID int64           `json:"product_id"`
	VariantID int64           `json:"variant_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int64           `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type OrderOutput struct {
	ID             int64             `json:"order_id"`
	UserID         int64             `json:"user_id"`
	AddressID      int64             `json:"address_id"`
	Status         string            `json:"status"`
	PaymentStatus  string            `json:"payment_status"`
	ShipMethod     string            `json:"ship_method,omitempty"`
	PaymentMethod  string            `json:"payment_method,omitempty"`
	Note           string            `json:"note,omitempty"`
	VoucherID      *int64            `json:"voucher_id,omitempty"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	FinalAmount    decimal.Decimal   `json:"final_amount"`
	CreatedAt      time.Time         `json:"created_at"`
	Items          []OrderItemOutput `json:"items"`
}

type CancelOrderOutput struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

type PaymentStatusOutput struct {
	OrderID       int64  `json:"order_id"`
	PaymentStatus string `json:"payment_status"`
}

// PlaceOrder は在庫・バウチャーをロックして注文を1トランザクションで確定する。
// ロック順: バリアント → 商品 → バウチャー → 取得記録
func (u *OrderUsecase) PlaceOrder(ctx context.Context, userID int64, in PlaceOrderInput) (out OrderOutput, err error) {
	ctx, span := startSpan(ctx, "OrderUsecase.PlaceOrder", attribute.Int64("user.id", userID), attribute.Int("order.lines", len(in.Items)))
	defer func() { endSpan(span, u.notify.failed(ctx, "OrderUsecase.PlaceOrder", err)) }()

	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if err := u.validator.ValidatePlaceOrder(in); err != nil {
		return OrderOutput{}, err
	}

	//address_idの存在確認＋所有チェック
	addr, err := u.addresses.FindByID(ctx, in.AddressID)
	if errors.Is(err, repo.ErrNotFound) {
		return OrderOutput{}, validationError("invalid address_id")
	}
	if err != nil {
		return OrderOutput{}, systemError(err)
	}
	if addr.UserID != userID {
		// 他人の住所は存在しない扱い
		return OrderOutput{}, validationError("invalid address_id")
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	var created *model.Order

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーで確定済みなら out に詰めて true
		replayed := func() (bool, error) {
			if key == "" {
				return false, nil
			}
			existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
			if err != nil || !found {
				return false, err
			}
			items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
			if err != nil {
				return false, err
			}
			out = toOrderOutput(existing, items)
			return true, nil
		}

		done, err := replayed()
		if err != nil {
			return systemError(err)
		}
		if done {
			return nil
		}

		lines := make([]StockLine, 0, len(in.Items))
		for _, it := range in.Items {
			lines = append(lines, StockLine{VariantID: it.VariantID, Quantity: it.Quantity})
		}
		stock, missing, err := lockStock(ctx, r.Inventory(), lines)
		if err != nil {
			return systemError(err)
		}
		if len(missing) > 0 {
			return validationError("unknown variant_id: %v", missing)
		}
		// ロック待ちの間に同じキーの注文が確定していることがある
		if done, err = replayed(); err != nil {
			return systemError(err)
		}
		if done {
			return nil
		}
		if sh := stock.Shortages(); len(sh) > 0 {
			return insufficientStockError(sh)
		}
		for _, p := range stock.Products() {
			if !p.IsActive {
				return validationError("product %d is not available", p.ID)
			}
		}

		now := u.notify.now()

		var lv *lockedVoucher
		if in.VoucherID != nil {
			v, err := lockVoucherForUse(ctx, r.Vouchers(), *in.VoucherID, userID, now)
			if err != nil {
				return err
			}
			lv = &v
		}

		// 価格はロック済みの商品から取る（スナップショット）
		items := make([]model.OrderItem, 0, len(in.Items))
		for _, it := range in.Items {
			v := stock.Variant(it.VariantID)
			p := stock.Product(v.ProductID)
			items = append(items, model.OrderItem{
				ProductID:         p.ID,
				VariantID:         v.ID,
				NameSnapshot:      p.Name,
				UnitPriceSnapshot: p.CurrentPrice,
				Quantity:          it.Quantity,
				CreatedAt:         now,
			})
		}
		total := model.OrderTotal(items)

		discount := decimal.Zero
		if lv != nil {
			if total.LessThan(lv.voucher.MinOrderAmount) {
				return voucherInvalidError("order total is below the voucher minimum")
			}
			discount = lv.voucher.Discount(total)
		}

		o := model.Order{
			UserID:         userID,
			AddressID:      in.AddressID,
			ShipMethod:     strings.TrimSpace(in.ShipMethod),
			PaymentMethod:  strings.TrimSpace(in.PaymentMethod),
			Note:           strings.TrimSpace(in.Note),
			Status:         model.OrderStatusPending,
			PaymentStatus:  model.PaymentStatusPending,
			TotalAmount:    total,
			DiscountAmount: discount,
			FinalAmount:    model.FinalAmount(total, discount),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if lv != nil {
			o.VoucherID = &lv.voucher.ID
			o.UserVoucherID = &lv.redemption.ID
		}
		if key != "" {
			o.IdempotencyKey = &key
		}

		orderID, err := r.Orders().Create(ctx, o)
		if err != nil {
			// 同時に同じキーが入った。トランザクションは捨てて外で読み直す
			if errors.Is(err, repo.ErrConflict) {
				return err
			}
			return systemError(err)
		}
		o.ID = orderID

		//注文明細一括作成
		if err := r.OrderItems().CreateBulk(ctx, orderID, items); err != nil {
			return systemError(err)
		}
		if err := stock.Reserve(ctx, orderID); err != nil {
			return err
		}
		if lv != nil {
			if err := commitVoucherUsage(ctx, r.Vouchers(), *lv, now); err != nil {
				return err
			}
		}

		for i := range items {
			items[i].OrderID = orderID
		}
		created = &o
		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		if key != "" && errors.Is(err, repo.ErrConflict) {
			return u.replay(ctx, userID, key)
		}
		return OrderOutput{}, asUsecaseError(err)
	}

	if created != nil {
		span.SetAttributes(attribute.Int64("order.id", created.ID))
		u.notify.orderChanged(ctx, model.OrderEventCreated, *created, orderCacheKeys(*created)...)
	}
	return out, nil
}

// 同じキーで先に確定した注文を返す
func (u *OrderUsecase) replay(ctx context.Context, userID int64, key string) (OrderOutput, error) {
	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
		if err != nil {
			return systemError(err)
		}
		if !found {
			return NewHTTPError(http.StatusConflict, "idempotency conflict")
		}
		items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
		if err != nil {
			return systemError(err)
		}
		out = toOrderOutput(existing, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, asUsecaseError(err)
	}
	return out, nil
}

// CancelOrder は本人の注文を取り消し、在庫とバウチャーを戻す
func (u *OrderUsecase) CancelOrder(ctx context.Context, userID int64, orderID int64) (out CancelOrderOutput, err error) {
	ctx, span := startSpan(ctx, "OrderUsecase.CancelOrder", attribute.Int64("user.id", userID), attribute.Int64("order.id", orderID))
	defer func() { endSpan(span, u.notify.failed(ctx, "OrderUsecase.CancelOrder", err)) }()

	if userID <= 0 {
		return CancelOrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return CancelOrderOutput{}, validationError("invalid id")
	}

	var cancelled model.Order
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return orderNotFoundError()
		}
		if err != nil {
			return systemError(err)
		}
		if o.UserID != userID {
			//他人の注文は「存在しない扱い」にする
			return orderNotFoundError()
		}
		if o.Status.IsTerminal() {
			return invalidTransitionError(o.Status, model.OrderStatusCancelled)
		}

		cancelled, err = cancelOrderTx(ctx, r, o, nil)
		return err
	})
	if err != nil {
		return CancelOrderOutput{}, asUsecaseError(err)
	}

	u.notify.orderChanged(ctx, model.OrderEventCancelled, cancelled, orderCacheKeys(cancelled)...)
	return CancelOrderOutput{OrderID: cancelled.ID, Status: string(cancelled.Status)}, nil
}

// cancelOrderTx は行ロック済みの注文を Cancelled にする（本人・管理者共通）。
// ロック順は作成時と同じ バリアント → 商品 → バウチャー → 取得記録
func cancelOrderTx(ctx context.Context, r repo.TxRepos, o model.Order, note *string) (model.Order, error) {
	items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
	if err != nil {
		return model.Order{}, systemError(err)
	}

	if len(items) > 0 {
		lines := make([]StockLine, 0, len(items))
		for _, it := range items {
			lines = append(lines, StockLine{VariantID: it.VariantID, Quantity: it.Quantity})
		}
		stock, missing, err := lockStock(ctx, r.Inventory(), lines)
		if err != nil {
			return model.Order{}, systemError(err)
		}
		if len(missing) > 0 {
			return model.Order{}, systemError(errors.New("order references unknown variants"))
		}
		if err := stock.Release(ctx, o.ID); err != nil {
			return model.Order{}, err
		}
	}

	if o.UserVoucherID != nil && o.VoucherID != nil {
		if err := revertVoucherUsage(ctx, r.Vouchers(), *o.VoucherID, *o.UserVoucherID); err != nil {
			return model.Order{}, err
		}
	}

	if err := r.Orders().UpdateStatus(ctx, o.ID, model.OrderStatusCancelled, note); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Order{}, orderNotFoundError()
		}
		return model.Order{}, systemError(err)
	}
	o.Status = model.OrderStatusCancelled
	if note != nil {
		o.Note = *note
	}
	return o, nil
}

// 在庫・バウチャーが動いたときに消すキー
func orderCacheKeys(o model.Order) []string {
	keys := []string{OrdersCacheKey(o.UserID), ProductsCacheKey}
	if o.VoucherID != nil {
		keys = append(keys, ActiveVouchersCacheKey, MyVouchersCacheKey(o.UserID))
	}
	return keys
}

// ListMyOrders は本人の注文一覧（orders:<id> でキャッシュ）
func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	//ページングでまずは固定で取る
	var outs []OrderOutput
	err := u.notify.cached(ctx, OrdersCacheKey(userID), &outs, func() error {
		return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			orders, _, err := r.Orders().ListByUserID(ctx, userID, 1, 50)
			if err != nil {
				return systemError(err)
			}

			outs = make([]OrderOutput, 0, len(orders))
			for _, o := range orders {
				items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
				if err != nil {
					return systemError(err)
				}
				outs = append(outs, toOrderOutput(o, items))
			}
			return nil
		})
	})
	if err != nil {
		return []OrderOutput{}, u.notify.failed(ctx, "OrderUsecase.ListMyOrders", asUsecaseError(err))
	}
	return outs, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, validationError("invalid id")
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := findOwnedOrder(ctx, r, userID, orderID)
		if err != nil {
			return err
		}
		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return systemError(err)
		}
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, u.notify.failed(ctx, "OrderUsecase.GetMyOrderDetail", asUsecaseError(err))
	}
	return out, nil
}

func (u *OrderUsecase) GetPaymentStatus(ctx context.Context, userID int64, orderID int64) (PaymentStatusOutput, error) {
	if userID <= 0 {
		return PaymentStatusOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return PaymentStatusOutput{}, validationError("invalid id")
	}

	var out PaymentStatusOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := findOwnedOrder(ctx, r, userID, orderID)
		if err != nil {
			return err
		}
		out = PaymentStatusOutput{OrderID: o.ID, PaymentStatus: string(o.PaymentStatus)}
		return nil
	})
	if err != nil {
		return PaymentStatusOutput{}, u.notify.failed(ctx, "OrderUsecase.GetPaymentStatus", asUsecaseError(err))
	}
	return out, nil
}

func findOwnedOrder(ctx context.Context, r repo.TxRepos, userID, orderID int64) (model.Order, error) {
	o, err := r.Orders().FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Order{}, orderNotFoundError()
	}
	if err != nil {
		return model.Order{}, systemError(err)
	}
	if o.UserID != userID {
		return model.Order{}, orderNotFoundError()
	}
	return o, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      it.NameSnapshot,
			UnitPrice: it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal(),
		})
	}

	return OrderOutput{
		ID:             o.ID,
		UserID:         o.UserID,
		AddressID:      o.AddressID,
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		ShipMethod:     o.ShipMethod,
		PaymentMethod:  o.PaymentMethod,
		Note:           o.Note,
		VoucherID:      o.VoucherID,
		TotalAmount:    o.TotalAmount,
		DiscountAmount: o.DiscountAmount,
		FinalAmount:    o.FinalAmount,
		CreatedAt:      o.CreatedAt,
		Items:          outItems,
	}
}
