package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

type AdminOrderUsecase struct {
	tx     repo.TransactionManager
	notify *Notifier
}

func NewAdminOrderUsecase(tx repo.TransactionManager, notify *Notifier) *AdminOrderUsecase {
	return &AdminOrderUsecase{tx: tx, notify: notify}
}

type AdminUpdateOrderStatusInput struct {
	Status       string
	CancelReason string
}

type AdminOrderListOutput struct {
	Items []OrderOutput `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

type AdminUpdateOrderStatusOutput struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
	Changed bool   `json:"changed"`
}

// 注文一覧
func (u *AdminOrderUsecase) List(ctx context.Context, f repo.AdminOrderListFilter) (AdminOrderListOutput, error) {
	// page/limitの最低限チェック
	if f.Page < 1 {
		return AdminOrderListOutput{}, validationError("invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return AdminOrderListOutput{}, validationError("invalid limit")
	}
	if f.Status != "" {
		if _, ok := model.ParseOrderStatus(f.Status); !ok {
			return AdminOrderListOutput{}, validationError("invalid status")
		}
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return AdminOrderListOutput{}, validationError("from must be <= to")
	}

	out := AdminOrderListOutput{Page: f.Page, Limit: f.Limit}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListAdmin(ctx, f)
		if err != nil {
			return systemError(err)
		}

		out.Total = total
		out.Items = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return systemError(err)
			}
			out.Items = append(out.Items, toOrderOutput(o, items))
		}
		return nil
	})
	if err != nil {
		return AdminOrderListOutput{}, u.notify.failed(ctx, "AdminOrderUsecase.List", asUsecaseError(err))
	}
	return out, nil
}

// UpdateStatus は遷移表に沿ってステータスを変える。
// Cancelled への遷移は本人キャンセルと同じく在庫・バウチャーを戻す
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actorAdminUserID int64, orderID int64, in AdminUpdateOrderStatusInput) (out AdminUpdateOrderStatusOutput, err error) {
	ctx, span := startSpan(ctx, "AdminOrderUsecase.UpdateStatus", attribute.Int64("order.id", orderID), attribute.String("order.next_status", in.Status))
	defer func() { endSpan(span, u.notify.failed(ctx, "AdminOrderUsecase.UpdateStatus", err)) }()

	if actorAdminUserID <= 0 {
		return AdminUpdateOrderStatusOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return AdminUpdateOrderStatusOutput{}, validationError("invalid id")
	}
	next, ok := model.ParseOrderStatus(strings.TrimSpace(in.Status))
	if !ok {
		return AdminUpdateOrderStatusOutput{}, validationError("invalid status")
	}
	reason := strings.TrimSpace(in.CancelReason)
	if len(reason) > 500 {
		return AdminUpdateOrderStatusOutput{}, validationError("cancel_reason too long")
	}

	var (
		updated model.Order
		changed bool
	)
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return orderNotFoundError()
		}
		if err != nil {
			return systemError(err)
		}

		// 終端以外で同じなら何もしない（200）
		if o.Status == next && !o.Status.IsTerminal() {
			updated = o
			return nil
		}
		if !o.Status.CanTransitionTo(next) {
			return invalidTransitionError(o.Status, next)
		}

		before := o.Status
		if next == model.OrderStatusCancelled {
			var note *string
			if reason != "" {
				n := "Cancel reason: " + reason
				note = &n
			}
			updated, err = cancelOrderTx(ctx, r, o, note)
			if err != nil {
				return err
			}
		} else {
			if err := r.Orders().UpdateStatus(ctx, orderID, next, nil); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return orderNotFoundError()
				}
				return systemError(err)
			}
			o.Status = next
			updated = o
		}
		changed = true

		// 監査ログ（UPDATE_ORDER_STATUS）
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorAdminUserID,
			Action:       model.AuditActionUpdateOrderStatus,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   orderID,
			BeforeJSON:   statusJSON(before, ""),
			AfterJSON:    statusJSON(next, reason),
			CreatedAt:    u.notify.now(),
		}); err != nil {
			return systemError(err)
		}
		return nil
	})
	if err != nil {
		return AdminUpdateOrderStatusOutput{}, asUsecaseError(err)
	}

	if changed {
		if next == model.OrderStatusCancelled {
			u.notify.orderChanged(ctx, model.OrderEventCancelled, updated, orderCacheKeys(updated)...)
		} else {
			u.notify.orderChanged(ctx, model.OrderEventStatusChanged, updated, OrdersCacheKey(updated.UserID))
		}
	}
	return AdminUpdateOrderStatusOutput{OrderID: updated.ID, Status: string(updated.Status), Changed: changed}, nil
}

func statusJSON(status model.OrderStatus, cancelReason string) string {
	m := map[string]string{"status": string(status)}
	if cancelReason != "" {
		m["cancel_reason"] = cancelReason
	}
	b, _ := json.Marshal(m)
	return string(b)
}

// 期間パラメータ（RFC3339）。空なら nil
func ParseDateTimeRFC3339(s string) (*time.Time, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}
