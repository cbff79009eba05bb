package repository

import (
	"context"

	"storefront/internal/domain/model"
)

// 監査ログの保存。ステータス更新と同じトランザクションで書く
type AuditLogRepository interface {
	Create(ctx context.Context, log model.AuditLog) error
}
