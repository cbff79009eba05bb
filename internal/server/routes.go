package server

import (
	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/repository"

	"github.com/labstack/echo/v4"
)

type Handlers struct {
	Orders         *handler.OrderHandler
	AdminOrders    *handler.AdminOrderHandler
	Vouchers       *handler.VoucherHandler
	Payments       *handler.PaymentHandler
	Stock          *handler.StockHandler
	AdminInventory *handler.AdminInventoryHandler
}

func RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository, h Handlers) {
	h.Orders.RegisterRoutes(e, cfg, userRepo)
	h.AdminOrders.RegisterRoutes(e, cfg, userRepo)
	h.Vouchers.RegisterRoutes(e, cfg, userRepo)
	h.Payments.RegisterRoutes(e, cfg.InternalToken)
	h.Stock.RegisterRoutes(e)
	h.AdminInventory.RegisterRoutes(e, cfg, userRepo)
}
