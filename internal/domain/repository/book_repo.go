package repository

import (
	"context"

	"book-dialogue-api/internal/domain/entity"
)

// BookRepository 书籍数据访问接口
type BookRepository interface {
	Create(ctx context.Context, book *entity.Book) error
	GetByID(ctx context.Context, id string) (*entity.Book, error)
	// GetByIDs 批量查询，返回顺序与 ids 一致，未命中的 id 被跳过
	GetByIDs(ctx context.Context, ids []string) ([]*entity.Book, error)
	Update(ctx context.Context, book *entity.Book) error
	// SetPublished 标记书籍可被检索
	SetPublished(ctx context.Context, id string, published bool) error
	// IncrDialogueCount 原子递增书籍的累计对话数
	IncrDialogueCount(ctx context.Context, id string) error
	ListByCategory(ctx context.Context, category string, p Pagination) (*PagedResult[*entity.Book], error)
}

// CharacterRepository 角色数据访问接口
type CharacterRepository interface {
	Create(ctx context.Context, ch *entity.Character) error
	GetByID(ctx context.Context, id string) (*entity.Character, error)
	ListByBook(ctx context.Context, bookID string) ([]*entity.Character, error)
}
