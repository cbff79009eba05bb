package handler

import (
	"net/http"

	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 在庫の公開参照
type StockHandler struct {
	uc *usecase.InventoryUsecase
}

// DI
func NewStockHandler(uc *usecase.InventoryUsecase) *StockHandler {
	return &StockHandler{uc: uc}
}

func (h *StockHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/products/stock", h.list)
	e.GET("/products/:id/stock", h.detail)
}

func (h *StockHandler) list(c echo.Context) error {
	out, err := h.uc.ListStock(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *StockHandler) detail(c echo.Context) error {
	id, ok := parseIDParam(c)
	if !ok {
		return badRequest(c, "invalid id")
	}

	out, err := h.uc.GetProductStock(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
