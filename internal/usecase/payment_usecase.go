package usecase

import (
	"context"
	"errors"
	"strings"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// 決済結果の反映（ゲートウェイ通知 / kafka の両方から呼ばれる）
type PaymentUsecase struct {
	tx     repo.TransactionManager
	notify *Notifier
}

func NewPaymentUsecase(tx repo.TransactionManager, notify *Notifier) *PaymentUsecase {
	return &PaymentUsecase{tx: tx, notify: notify}
}

type ConfirmPaymentInput struct {
	OrderID       int64  `json:"order_id"`
	Success       bool   `json:"success"`
	TransactionNo string `json:"transaction_no"`
}

type ConfirmPaymentOutput struct {
	OrderID       int64  `json:"order_id"`
	PaymentStatus string `json:"payment_status"`
	Changed       bool   `json:"changed"`
}

// ConfirmPayment は注文行をロックして支払い状態を確定する。
// 既に Paid / Failed なら何もしない（通知の重複に耐える）
func (u *PaymentUsecase) ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (out ConfirmPaymentOutput, err error) {
	ctx, span := startSpan(ctx, "PaymentUsecase.ConfirmPayment", attribute.Int64("order.id", in.OrderID), attribute.Bool("payment.success", in.Success))
	defer func() { endSpan(span, u.notify.failed(ctx, "PaymentUsecase.ConfirmPayment", err)) }()

	if in.OrderID <= 0 {
		return ConfirmPaymentOutput{}, validationError("invalid order_id")
	}
	txnNo := strings.TrimSpace(in.TransactionNo)
	if len(txnNo) > 100 {
		return ConfirmPaymentOutput{}, validationError("transaction_no too long")
	}

	var updated model.Order
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, in.OrderID)
		if errors.Is(err, repo.ErrNotFound) {
			return orderNotFoundError()
		}
		if err != nil {
			return systemError(err)
		}
		if o.PaymentStatus.IsTerminal() {
			updated = o
			return nil
		}

		next := model.PaymentStatusFailed
		var no *string
		if in.Success {
			next = model.PaymentStatusPaid
			if txnNo != "" {
				no = &txnNo
			}
		}
		if err := r.Orders().UpdatePayment(ctx, o.ID, next, no); err != nil {
			return systemError(err)
		}
		o.PaymentStatus = next
		o.PaymentTxnNo = no
		updated = o
		out.Changed = true
		return nil
	})
	if err != nil {
		return ConfirmPaymentOutput{}, asUsecaseError(err)
	}

	out.OrderID = updated.ID
	out.PaymentStatus = string(updated.PaymentStatus)
	if out.Changed {
		u.notify.orderChanged(ctx, model.OrderEventPaymentUpdated, updated, OrdersCacheKey(updated.UserID))
	}
	return out, nil
}
