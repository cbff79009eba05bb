package handler

import (
	"net/http"
	"strconv"

	"storefront/internal/config"
	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

// InventoryAdjustRequest は在庫調整の入力です（delta は符号付き）。
type InventoryAdjustRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

// /admin/inventory
type AdminInventoryHandler struct {
	uc *usecase.InventoryUsecase
}

// DI
func NewAdminInventoryHandler(uc *usecase.InventoryUsecase) *AdminInventoryHandler {
	return &AdminInventoryHandler{uc: uc}
}

func (h *AdminInventoryHandler) RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository) {
	admin := e.Group("/admin/inventory")

	admin.Use(middleware.AuthJWT(cfg))
	admin.Use(middleware.TokenVersionGuard(userRepo))
	admin.Use(middleware.AdminRoleGuard())

	admin.PATCH("/:variant_id", h.adjust)
}

func (h *AdminInventoryHandler) adjust(c echo.Context) error {
	variantID, err := strconv.ParseInt(c.Param("variant_id"), 10, 64)
	if err != nil || variantID <= 0 {
		return badRequest(c, "invalid variant_id")
	}

	var req InventoryAdjustRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.uc.AdminAdjustStock(c.Request().Context(), adminID, usecase.AdjustStockInput{
		VariantID: variantID,
		Delta:     req.Delta,
		Reason:    req.Reason,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
