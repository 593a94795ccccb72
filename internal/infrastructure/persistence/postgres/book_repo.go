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

// BookRepository 书籍仓储的 PostgreSQL 实现
type BookRepository struct {
	client *Client
}

func NewBookRepository(client *Client) *BookRepository {
	return &BookRepository{client: client}
}

func (r *BookRepository) Create(ctx context.Context, book *entity.Book) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(book).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create book: %w", err)
	}
	return nil
}

func (r *BookRepository) GetByID(ctx context.Context, id string) (*entity.Book, error) {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var book entity.Book
	if err := db.First(&book, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return &book, nil
}

// GetByIDs 批量查询并保持 ids 顺序，未命中的 id 被跳过
func (r *BookRepository) GetByIDs(ctx context.Context, ids []string) ([]*entity.Book, error) {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.GetByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	db := getDB(ctx, r.client.db)
	var books []*entity.Book
	if err := db.Where("id IN ?", ids).Find(&books).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get books by ids: %w", err)
	}

	byID := make(map[string]*entity.Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}
	ordered := make([]*entity.Book, 0, len(books))
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			ordered = append(ordered, b)
		}
	}
	return ordered, nil
}

func (r *BookRepository) Update(ctx context.Context, book *entity.Book) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(book).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update book: %w", err)
	}
	return nil
}

func (r *BookRepository) SetPublished(ctx context.Context, id string, published bool) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.SetPublished")
	defer span.End()

	db := getDB(ctx, r.client.db)
	result := db.Model(&entity.Book{}).Where("id = ?", id).Update("published", published)
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to set published: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *BookRepository) IncrDialogueCount(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.IncrDialogueCount")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.Book{}).Where("id = ?", id).
		Update("dialogue_count", gorm.Expr("dialogue_count + 1")).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to increment dialogue count: %w", err)
	}
	return nil
}

func (r *BookRepository) ListByCategory(ctx context.Context, category string, pagination repository.Pagination) (*repository.PagedResult[*entity.Book], error) {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.ListByCategory")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.Book{}).Where("published = ?", true)
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count books: %w", err)
	}

	var books []*entity.Book
	if err := query.Order("dialogue_count DESC, id ASC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&books).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	return repository.NewPagedResult(books, total, pagination), nil
}

// CharacterRepository 角色仓储的 PostgreSQL 实现
type CharacterRepository struct {
	client *Client
}

func NewCharacterRepository(client *Client) *CharacterRepository {
	return &CharacterRepository{client: client}
}

func (r *CharacterRepository) Create(ctx context.Context, ch *entity.Character) error {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(ch).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create character: %w", err)
	}
	return nil
}

func (r *CharacterRepository) GetByID(ctx context.Context, id string) (*entity.Character, error) {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var ch entity.Character
	if err := db.First(&ch, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get character: %w", err)
	}
	return &ch, nil
}

func (r *CharacterRepository) ListByBook(ctx context.Context, bookID string) ([]*entity.Character, error) {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.ListByBook")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var characters []*entity.Character
	if err := db.Where("book_id = ?", bookID).Order("created_at ASC").Find(&characters).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	return characters, nil
}
