package dto

import (
	"book-dialogue-api/internal/domain/entity"
)

// CreateBookRequest 创建书籍请求
type CreateBookRequest struct {
	Title       string   `json:"title" binding:"required"`
	Author      string   `json:"author" binding:"required"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Language    string   `json:"language"`
}

// IngestBookRequest 书籍摄取请求，正文全文随请求提交
type IngestBookRequest struct {
	Content        string `json:"content" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

// IngestAcceptedResponse 摄取任务受理响应
type IngestAcceptedResponse struct {
	JobID  string `json:"job_id"`
	BookID string `json:"book_id"`
}

// BookResponse 书籍详情响应
type BookResponse struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	Tags          []string `json:"tags,omitempty"`
	Language      string   `json:"language"`
	Published     bool     `json:"published"`
	DialogueCount int64    `json:"dialogue_count"`
}

// CharacterResponse 角色响应
type CharacterResponse struct {
	ID          string `json:"id"`
	BookID      string `json:"book_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Persona     string `json:"persona"`
}

// CreateCharacterRequest 创建角色请求
type CreateCharacterRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Persona     string `json:"persona" binding:"required"`
}

// NewBookResponse 把书籍实体转换为响应结构
func NewBookResponse(b *entity.Book) BookResponse {
	return BookResponse{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		Description:   b.Description,
		Category:      b.Category,
		Tags:          b.Tags,
		Language:      b.Language,
		Published:     b.Published,
		DialogueCount: b.DialogueCount,
	}
}

// NewCharacterResponse 把角色实体转换为响应结构
func NewCharacterResponse(ch *entity.Character) CharacterResponse {
	return CharacterResponse{
		ID:          ch.ID,
		BookID:      ch.BookID,
		Name:        ch.Name,
		Description: ch.Description,
		Persona:     ch.Persona,
	}
}
