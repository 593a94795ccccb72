// Package search 实现书籍发现检索：向量召回 + 启发式重排
package search

import (
	"context"
	"time"

	"book-dialogue-api/internal/domain/entity"
)

// 查询意图类型，影响关键词加分的匹配来源
const (
	QueryTypeQuestion = "question"
	QueryTypeTitle    = "title"
	QueryTypeAuthor   = "author"
)

// Request 检索请求，Query 已由 handler 解码但未归一化
type Request struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	// Type 可选的查询意图：question、title 或 author，空值按 question 处理
	Type     string `json:"type,omitempty"`
	Category string `json:"category,omitempty"`
	Page     int    `json:"page"`
	Limit    int    `json:"limit"`
}

// RankedBook 重排后的单条结果
type RankedBook struct {
	Book       *entity.Book `json:"book"`
	Score      float64      `json:"score"`
	Similarity float64      `json:"similarity"`
	// Previews 与查询最相关的书内原文片段
	Previews []string `json:"previews,omitempty"`
}

// Result 检索结果页
type Result struct {
	Items    []RankedBook `json:"items"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	Limit    int          `json:"limit"`
	CacheHit bool         `json:"cache_hit"`
}

// BookHit 向量召回的候选
type BookHit struct {
	BookID     string  `json:"book_id"`
	Similarity float64 `json:"similarity"`
}

// EmbeddingProvider 查询向量化接口
type EmbeddingProvider interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher 向量召回接口，只返回已发布书籍的候选。
// 召回不按分类过滤，分类外的候选交由重排器降权而不是丢弃。
type VectorSearcher interface {
	SearchBooks(ctx context.Context, vector []float32, topK int) ([]BookHit, error)
	// SearchChunkPreviews 返回某本书内与查询向量最相关的原文片段
	SearchChunkPreviews(ctx context.Context, bookID string, vector []float32, topK int) ([]string, error)
}

// Cache 结果缓存接口
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// EventPublisher 检索日志事件发布接口
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// cachedRanking 缓存中的完整重排列表，分页在缓存之上进行
type cachedRanking struct {
	Entries []cachedEntry `json:"entries"`
}

type cachedEntry struct {
	BookID     string   `json:"book_id"`
	Score      float64  `json:"score"`
	Similarity float64  `json:"similarity"`
	Previews   []string `json:"previews,omitempty"`
}
