package handler

import (
	"net/http"

	"storefront/internal/middleware"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 決済ゲートウェイからの結果通知（署名検証はゲートウェイ連携側の責務）
type PaymentHandler struct {
	uc *usecase.PaymentUsecase
}

func NewPaymentHandler(uc *usecase.PaymentUsecase) *PaymentHandler {
	return &PaymentHandler{uc: uc}
}

type PaymentConfirmRequest struct {
	OrderID       int64  `json:"order_id"`
	Success       bool   `json:"success"`
	TransactionNo string `json:"transaction_no"`
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo, internalToken string) {
	g := e.Group("/internal/payments")
	g.Use(middleware.InternalTokenGuard(internalToken))
	g.POST("/confirm", h.confirm)
}

func (h *PaymentHandler) confirm(c echo.Context) error {
	var req PaymentConfirmRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.ConfirmPayment(c.Request().Context(), usecase.ConfirmPaymentInput{
		OrderID:       req.OrderID,
		Success:       req.Success,
		TransactionNo: req.TransactionNo,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
