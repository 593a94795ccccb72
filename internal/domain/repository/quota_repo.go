package repository

import (
	"context"

	"book-dialogue-api/internal/domain/entity"
)

// QuotaRepository 配额账目数据访问接口。
// GetForUpdate 在事务内对行加锁，调用方负责在同一事务内提交变更。
type QuotaRepository interface {
	Get(ctx context.Context, userID string) (*entity.QuotaRecord, error)
	GetForUpdate(ctx context.Context, userID string) (*entity.QuotaRecord, error)
	Create(ctx context.Context, record *entity.QuotaRecord) error
	Save(ctx context.Context, record *entity.QuotaRecord) error
	// AddExtraQuota 原子追加附加额度
	AddExtraQuota(ctx context.Context, userID string, delta int64) error
}
