package dto

import (
	"book-dialogue-api/internal/application/search"
)

// SearchRequest 发现检索请求
type SearchRequest struct {
	Query    string `form:"q" binding:"required"`
	Type     string `form:"type" binding:"omitempty,oneof=question title author"`
	Category string `form:"category"`
	Page     int    `form:"page"`
	Limit    int    `form:"limit"`
}

// BookResult 检索结果中的单本书
type BookResult struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	Tags          []string `json:"tags,omitempty"`
	Language      string   `json:"language"`
	DialogueCount int64    `json:"dialogue_count"`
	Score         float64  `json:"score"`
	Similarity    float64  `json:"similarity"`
	Previews      []string `json:"previews,omitempty"`
}

// SearchResponse 发现检索响应
type SearchResponse struct {
	Items    []BookResult `json:"items"`
	CacheHit bool         `json:"cache_hit"`
}

// SearchFeedbackRequest 检索结果反馈请求
type SearchFeedbackRequest struct {
	Query    string `json:"query" binding:"required"`
	BookID   string `json:"book_id" binding:"required"`
	Action   string `json:"action" binding:"required,oneof=click dismiss"`
	Position int    `json:"position"`
}

// NewSearchResponse 把检索结果转换为响应结构
func NewSearchResponse(result *search.Result) SearchResponse {
	items := make([]BookResult, 0, len(result.Items))
	for _, r := range result.Items {
		items = append(items, BookResult{
			ID:            r.Book.ID,
			Title:         r.Book.Title,
			Author:        r.Book.Author,
			Description:   r.Book.Description,
			Category:      r.Book.Category,
			Tags:          r.Book.Tags,
			Language:      r.Book.Language,
			DialogueCount: r.Book.DialogueCount,
			Score:         r.Score,
			Similarity:    r.Similarity,
			Previews:      r.Previews,
		})
	}
	return SearchResponse{Items: items, CacheHit: result.CacheHit}
}
