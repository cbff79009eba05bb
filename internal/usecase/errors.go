package usecase

import (
	"errors"
	"fmt"
	"net/http"

	"storefront/internal/domain/model"
)

// クライアントに返すエラー種別
type ErrorCode string

const (
	CodeValidation              ErrorCode = "ValidationError"
	CodeInsufficientStock       ErrorCode = "InsufficientStock"
	CodeVoucherInvalid          ErrorCode = "VoucherInvalid"
	CodeVoucherAlreadyUsed      ErrorCode = "VoucherAlreadyUsed"
	CodeVoucherNotFound         ErrorCode = "VoucherNotFound"
	CodeOrderNotFound           ErrorCode = "OrderNotFound"
	CodeInvalidStatusTransition ErrorCode = "InvalidStatusTransition"
	CodeConflict                ErrorCode = "Conflict"
	CodeUnauthorized            ErrorCode = "Unauthorized"
	CodeForbidden               ErrorCode = "Forbidden"
	CodeNotFound                ErrorCode = "NotFound"
	CodeSystem                  ErrorCode = "SystemError"
)

// HTTPError はハンドラでそのままレスポンスにする。
// Err は原因（ログ用、クライアントには出さない）
type HTTPError struct {
	Status  int
	Code    ErrorCode
	Message string
	Details any
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d: %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Code:    codeForStatus(status),
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

func codeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return CodeValidation
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	default:
		return CodeSystem
	}
}

// 在庫不足の明細
type StockShortage struct {
	VariantID int64 `json:"variant_id"`
	Available int64 `json:"available"`
	Requested int64 `json:"requested"`
}

func validationError(format string, args ...any) error {
	return &HTTPError{Status: http.StatusBadRequest, Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func insufficientStockError(shortages []StockShortage) error {
	return &HTTPError{
		Status:  http.StatusBadRequest,
		Code:    CodeInsufficientStock,
		Message: "insufficient stock",
		Details: shortages,
	}
}

func voucherInvalidError(message string) error {
	return &HTTPError{Status: http.StatusBadRequest, Code: CodeVoucherInvalid, Message: message}
}

func orderNotFoundError() error {
	return &HTTPError{Status: http.StatusNotFound, Code: CodeOrderNotFound, Message: "order not found"}
}

func invalidTransitionError(from, to model.OrderStatus) error {
	return &HTTPError{
		Status:  http.StatusConflict,
		Code:    CodeInvalidStatusTransition,
		Message: fmt.Sprintf("cannot change status from %s to %s", from, to),
		Details: map[string]string{"from": string(from), "to": string(to)},
	}
}

// DB等の想定外エラー。中身は返さない
func systemError(err error) error {
	return &HTTPError{Status: http.StatusInternalServerError, Code: CodeSystem, Message: "internal error", Err: err}
}

// トランザクションの外に出てきたエラーを HTTPError に揃える（commit 失敗など）
func asUsecaseError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsHTTPError(err); ok {
		return err
	}
	return systemError(err)
}
