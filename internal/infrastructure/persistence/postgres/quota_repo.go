package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"book-dialogue-api/internal/domain/entity"
	apperrors "book-dialogue-api/pkg/errors"
)

// QuotaRepository 配额账目仓储的 PostgreSQL 实现
type QuotaRepository struct {
	client *Client
}

func NewQuotaRepository(client *Client) *QuotaRepository {
	return &QuotaRepository{client: client}
}

func (r *QuotaRepository) Get(ctx context.Context, userID string) (*entity.QuotaRecord, error) {
	ctx, span := tracer.Start(ctx, "postgres.QuotaRepository.Get")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var record entity.QuotaRecord
	if err := db.First(&record, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get quota record: %w", err)
	}
	return &record, nil
}

// GetForUpdate 在事务内加行锁读取，保证扣减串行化
func (r *QuotaRepository) GetForUpdate(ctx context.Context, userID string) (*entity.QuotaRecord, error) {
	ctx, span := tracer.Start(ctx, "postgres.QuotaRepository.GetForUpdate")
	defer span.End()

	db := getDB(ctx, r.client.db).Clauses(clause.Locking{Strength: "UPDATE"})
	var record entity.QuotaRecord
	if err := db.First(&record, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get quota record for update: %w", err)
	}
	return &record, nil
}

func (r *QuotaRepository) Create(ctx context.Context, record *entity.QuotaRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.QuotaRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(record).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create quota record: %w", err)
	}
	return nil
}

func (r *QuotaRepository) Save(ctx context.Context, record *entity.QuotaRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.QuotaRepository.Save")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(record).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save quota record: %w", err)
	}
	return nil
}

func (r *QuotaRepository) AddExtraQuota(ctx context.Context, userID string, delta int64) error {
	ctx, span := tracer.Start(ctx, "postgres.QuotaRepository.AddExtraQuota")
	defer span.End()

	db := getDB(ctx, r.client.db)
	result := db.Model(&entity.QuotaRecord{}).Where("user_id = ?", userID).
		Update("extra_quota", gorm.Expr("extra_quota + ?", delta))
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to add extra quota: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
