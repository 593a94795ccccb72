package repository

import (
	"context"

	"book-dialogue-api/internal/domain/entity"
)

// QueryLogRepository 检索日志数据访问接口
type QueryLogRepository interface {
	Create(ctx context.Context, log *entity.QueryLog) error
	ListRecent(ctx context.Context, limit int) ([]*entity.QueryLog, error)
}

// SearchFeedbackRepository 检索反馈数据访问接口
type SearchFeedbackRepository interface {
	Create(ctx context.Context, fb *entity.SearchFeedback) error
}
