package repository

import (
	"context"

	"book-dialogue-api/internal/domain/entity"
)

// DialogueSessionRepository 对话会话数据访问接口
type DialogueSessionRepository interface {
	Create(ctx context.Context, session *entity.DialogueSession) error
	GetByID(ctx context.Context, id string) (*entity.DialogueSession, error)
	Update(ctx context.Context, session *entity.DialogueSession) error
	ListByUser(ctx context.Context, userID string, p Pagination) (*PagedResult[*entity.DialogueSession], error)
}

// DialogueTurnRepository 对话轮次数据访问接口
type DialogueTurnRepository interface {
	Create(ctx context.Context, turn *entity.DialogueTurn) error
	// ListBySession 按 Seq 升序返回会话内全部轮次
	ListBySession(ctx context.Context, sessionID string) ([]*entity.DialogueTurn, error)
	// ListRecent 按 Seq 降序返回最近 limit 条轮次
	ListRecent(ctx context.Context, sessionID string, limit int) ([]*entity.DialogueTurn, error)
	// NextSeq 返回会话内下一个可用序号，从 1 开始
	NextSeq(ctx context.Context, sessionID string) (int, error)
}
