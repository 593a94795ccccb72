package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"book-dialogue-api/internal/domain/entity"
	"book-dialogue-api/internal/domain/repository"
	apperrors "book-dialogue-api/pkg/errors"
)

// DialogueSessionRepository 对话会话仓储的 PostgreSQL 实现
type DialogueSessionRepository struct {
	client *Client
}

func NewDialogueSessionRepository(client *Client) *DialogueSessionRepository {
	return &DialogueSessionRepository{client: client}
}

func (r *DialogueSessionRepository) Create(ctx context.Context, session *entity.DialogueSession) error {
	ctx, span := tracer.Start(ctx, "postgres.DialogueSessionRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(session).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create dialogue session: %w", err)
	}
	return nil
}

func (r *DialogueSessionRepository) GetByID(ctx context.Context, id string) (*entity.DialogueSession, error) {
	ctx, span := tracer.Start(ctx, "postgres.DialogueSessionRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var session entity.DialogueSession
	if err := db.First(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get dialogue session: %w", err)
	}
	return &session, nil
}

func (r *DialogueSessionRepository) Update(ctx context.Context, session *entity.DialogueSession) error {
	ctx, span := tracer.Start(ctx, "postgres.DialogueSessionRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(session).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update dialogue session: %w", err)
	}
	return nil
}

func (r *DialogueSessionRepository) ListByUser(ctx context.Context, userID string, pagination repository.Pagination) (*repository.PagedResult[*entity.DialogueSession], error) {
	ctx, span := tracer.Start(ctx, "postgres.DialogueSessionRepository.ListByUser")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.DialogueSession{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count dialogue sessions: %w", err)
	}

	var sessions []*entity.DialogueSession
	if err := query.Order("last_active_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&sessions).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list dialogue sessions: %w", err)
	}

	return repository.NewPagedResult(sessions, total, pagination), nil
}

// DialogueTurnRepository 对话轮次仓储的 PostgreSQL 实现
type DialogueTurnRepository struct {
	client *Client
}

func NewDialogueTurnRepository(client *Client) *DialogueTurnRepository {
	return &DialogueTurnRepository{client: client}
}

func (r *DialogueTurnRepository) Create(ctx context.Context, turn *entity.DialogueTurn) error {
	ctx, span := tracer.Start(ctx, "postgres.DialogueTurnRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(turn).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create dialogue turn: %w", err)
	}
	return nil
}

func (r *DialogueTurnRepository) ListBySession(ctx context.Context, sessionID string) ([]*entity.DialogueTurn, error) {
	ctx, span := tracer.Start(ctx, "postgres.DialogueTurnRepository.ListBySession")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var turns []*entity.DialogueTurn
	if err := db.Where("session_id = ?", sessionID).Order("seq ASC").Find(&turns).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list dialogue turns: %w", err)
	}
	return turns, nil
}

func (r *DialogueTurnRepository) ListRecent(ctx context.Context, sessionID string, limit int) ([]*entity.DialogueTurn, error) {
	ctx, span := tracer.Start(ctx, "postgres.DialogueTurnRepository.ListRecent")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var turns []*entity.DialogueTurn
	if err := db.Where("session_id = ?", sessionID).
		Order("seq DESC").Limit(limit).Find(&turns).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list recent dialogue turns: %w", err)
	}
	return turns, nil
}

func (r *DialogueTurnRepository) NextSeq(ctx context.Context, sessionID string) (int, error) {
	ctx, span := tracer.Start(ctx, "postgres.DialogueTurnRepository.NextSeq")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var max int
	if err := db.Model(&entity.DialogueTurn{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&max).Error; err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to get next seq: %w", err)
	}
	return max + 1, nil
}
