package repository

import (
	"context"
	"errors"

	"storefront/internal/domain/model"
)

// ユーザーが見つかりませんを統一
var ErrUserNotFound = errors.New("user not found")

// 認証側のユーザー参照（token_version 照合用）
type UserRepository interface {
	FindByID(ctx context.Context, userID int64) (*model.User, error)
}
