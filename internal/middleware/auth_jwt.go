package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"storefront/internal/config"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	CtxUserIDKey       = "user_id"       // int64
	CtxUserRoleKey     = "user_role"     // string
	CtxTokenVersionKey = "token_version" // int
)

// エラーコード（usecase.ErrorCode と同じ値）
const (
	codeUnauthorized = "Unauthorized"
	codeForbidden    = "Forbidden"
)

var errInvalidToken = errors.New("invalid token")

// JWTから取り出した本人情報
type identity struct {
	userID       int64
	role         string
	tokenVersion int
}

// AuthJWT は Bearer トークン（HS256）を検証し、本人情報を context に積む。
// ログイン・発行は認証サービス側の責務で、ここでは検証だけ行う
func AuthJWT(cfg config.Config) echo.MiddlewareFunc {
	secret := []byte(cfg.JWTSecret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request().Header.Get("Authorization"))
			if !ok {
				return unauthorized(c)
			}

			id, err := parseIdentity(raw, secret)
			if err != nil {
				return unauthorized(c)
			}

			c.Set(CtxUserIDKey, id.userID)
			c.Set(CtxUserRoleKey, id.role)
			c.Set(CtxTokenVersionKey, id.tokenVersion)
			return next(c)
		}
	}
}

// "Bearer <token>" から token を抜く
func bearerToken(authz string) (string, bool) {
	scheme, token, found := strings.Cut(authz, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// 署名と有効期限を検証して sub / role / tv を取り出す
func parseIdentity(raw string, secret []byte) (identity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return identity{}, errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return identity{}, errInvalidToken
	}

	userID, err := parseUserID(claims["sub"])
	if err != nil || userID <= 0 {
		return identity{}, errInvalidToken
	}
	role, ok := claims["role"].(string)
	if !ok || role == "" {
		return identity{}, errInvalidToken
	}
	tv, err := parseInt(claims["tv"])
	if err != nil || tv < 0 {
		return identity{}, errInvalidToken
	}
	return identity{userID: userID, role: role, tokenVersion: tv}, nil
}

// handler.ErrorResponse と同じ形
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func errorJSON(code, msg string) errorResponse {
	return errorResponse{Error: msg, Code: code}
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorJSON(codeUnauthorized, "unauthorized"))
}

func forbidden(c echo.Context, msg string) error {
	return c.JSON(http.StatusForbidden, errorJSON(codeForbidden, msg))
}

// sub は数値でも文字列でもよい
func parseUserID(v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, errors.New("invalid sub")
	}
}

func parseInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case int:
		return t, nil
	case string:
		i64, err := strconv.ParseInt(t, 10, 32)
		if err != nil {
			return 0, err
		}
		return int(i64), nil
	default:
		return 0, errors.New("invalid int")
	}
}
