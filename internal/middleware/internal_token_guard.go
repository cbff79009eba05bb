package middleware

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
)

const HeaderInternalToken = "X-Internal-Token"

// 決済ゲートウェイ連携など内部からの呼び出しだけ通す
func InternalTokenGuard(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get(HeaderInternalToken)
			if token == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return unauthorized(c)
			}
			return next(c)
		}
	}
}
