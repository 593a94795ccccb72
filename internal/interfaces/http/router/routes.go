// Package router 提供 HTTP 路由配置
package router

import (
	"book-dialogue-api/internal/config"
	"book-dialogue-api/internal/interfaces/http/handler"
	"book-dialogue-api/internal/interfaces/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterHandlers 路由器依赖的处理器集合
type RouterHandlers struct {
	Health   *handler.HealthHandler
	Search   *handler.SearchHandler
	Book     *handler.BookHandler
	Dialogue *handler.DialogueHandler
	Quota    *handler.QuotaHandler
}

// NewWithDeps 创建路由器并注册全部处理器
func NewWithDeps(cfg *config.Config, limiter middleware.RateLimiter, handlers RouterHandlers) *Router {
	r := New(cfg, limiter)
	r.RegisterRoutes(handlers.Health, handlers.Search, handlers.Book, handlers.Dialogue, handlers.Quota)
	return r
}

// RegisterRoutes 注册全部路由
func (r *Router) RegisterRoutes(
	healthHandler *handler.HealthHandler,
	searchHandler *handler.SearchHandler,
	bookHandler *handler.BookHandler,
	dialogueHandler *handler.DialogueHandler,
	quotaHandler *handler.QuotaHandler,
) {
	// 系统端点
	r.engine.GET("/health", healthHandler.Health)
	r.engine.GET("/ready", healthHandler.Ready)
	r.engine.GET("/live", healthHandler.Live)

	// Prometheus 指标端点
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.GET(r.cfg.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/v1")

	// 发现检索
	search := v1.Group("/search")
	{
		search.GET("", searchHandler.Search)
		search.POST("/feedback", searchHandler.Feedback)
	}

	// 书籍管理
	books := v1.Group("/books")
	{
		books.GET("", bookHandler.ListBooks)
		books.POST("", bookHandler.CreateBook)
		books.GET("/:bid", bookHandler.GetBook)
		books.POST("/:bid/ingest", bookHandler.IngestBook)
		books.GET("/:bid/characters", bookHandler.ListCharacters)
		books.POST("/:bid/characters", bookHandler.CreateCharacter)
	}

	// 对话会话
	dialogues := v1.Group("/dialogues")
	{
		dialogues.GET("", dialogueHandler.ListSessions)
		dialogues.POST("", dialogueHandler.CreateSession)
		dialogues.GET("/:sid", dialogueHandler.GetSession)
		dialogues.DELETE("/:sid", dialogueHandler.EndSession)
		dialogues.POST("/:sid/turns", dialogueHandler.SubmitTurn) // SSE
	}

	// 配额
	quota := v1.Group("/quota")
	{
		quota.GET("", quotaHandler.GetQuota)
		quota.POST("/extra", quotaHandler.GrantExtra)
	}
}
