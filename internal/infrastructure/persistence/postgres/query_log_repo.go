package postgres

import (
	"context"
	"fmt"

	"book-dialogue-api/internal/domain/entity"
)

// QueryLogRepository 检索日志仓储的 PostgreSQL 实现
type QueryLogRepository struct {
	client *Client
}

func NewQueryLogRepository(client *Client) *QueryLogRepository {
	return &QueryLogRepository{client: client}
}

func (r *QueryLogRepository) Create(ctx context.Context, log *entity.QueryLog) error {
	ctx, span := tracer.Start(ctx, "postgres.QueryLogRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(log).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create query log: %w", err)
	}
	return nil
}

func (r *QueryLogRepository) ListRecent(ctx context.Context, limit int) ([]*entity.QueryLog, error) {
	ctx, span := tracer.Start(ctx, "postgres.QueryLogRepository.ListRecent")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var logs []*entity.QueryLog
	if err := db.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list query logs: %w", err)
	}
	return logs, nil
}

// SearchFeedbackRepository 检索反馈仓储的 PostgreSQL 实现
type SearchFeedbackRepository struct {
	client *Client
}

func NewSearchFeedbackRepository(client *Client) *SearchFeedbackRepository {
	return &SearchFeedbackRepository{client: client}
}

func (r *SearchFeedbackRepository) Create(ctx context.Context, fb *entity.SearchFeedback) error {
	ctx, span := tracer.Start(ctx, "postgres.SearchFeedbackRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(fb).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create search feedback: %w", err)
	}
	return nil
}
