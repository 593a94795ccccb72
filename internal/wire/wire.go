//go:build wireinject
// +build wireinject

package wire

import (
	"context"

	"github.com/google/wire"

	"book-dialogue-api/internal/application/dialogue"
	"book-dialogue-api/internal/application/ingest"
	"book-dialogue-api/internal/application/quota"
	"book-dialogue-api/internal/application/search"
	"book-dialogue-api/internal/config"
	"book-dialogue-api/internal/domain/repository"
	infraembedding "book-dialogue-api/internal/infrastructure/embedding"
	"book-dialogue-api/internal/infrastructure/llm"
	"book-dialogue-api/internal/infrastructure/messaging"
	"book-dialogue-api/internal/infrastructure/persistence/milvus"
	"book-dialogue-api/internal/infrastructure/persistence/postgres"
	"book-dialogue-api/internal/infrastructure/persistence/redis"
	"book-dialogue-api/internal/interfaces/http/handler"
	"book-dialogue-api/internal/interfaces/http/middleware"
	"book-dialogue-api/internal/interfaces/http/router"
)

// InitializeDataLayer 初始化数据层
func InitializeDataLayer(ctx context.Context, cfg *config.Config) (*DataLayer, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		MessagingSet,
		MilvusSet,
		wire.Struct(new(DataLayer), "*"),
	)
	return nil, nil, nil
}

// InitializePostgresOnly 仅初始化 PostgreSQL 数据层（用于 bootstrap）
func InitializePostgresOnly(ctx context.Context, cfg *config.Config) (*PostgresOnlyDataLayer, func(), error) {
	wire.Build(
		PostgresSet,
		wire.Struct(new(PostgresOnlyDataLayer), "*"),
	)
	return nil, nil, nil
}

// InitializeApp 初始化整个应用（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		MessagingSet,
		MilvusSet,
		VectorStoreSet,
		EmbeddingSet,
		LLMSet,
		ApplicationSet,
		RouterSet,
	)
	return nil, nil, nil
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewBookRepository,
	postgres.NewCharacterRepository,
	postgres.NewDialogueSessionRepository,
	postgres.NewDialogueTurnRepository,
	postgres.NewQuotaRepository,
	postgres.NewQueryLogRepository,
	postgres.NewSearchFeedbackRepository,
)

// RepoSet 整合了具体实现与接口绑定的集合
var RepoSet = wire.NewSet(
	PostgresSet,
	// 接口绑定
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	wire.Bind(new(repository.BookRepository), new(*postgres.BookRepository)),
	wire.Bind(new(repository.CharacterRepository), new(*postgres.CharacterRepository)),
	wire.Bind(new(repository.DialogueSessionRepository), new(*postgres.DialogueSessionRepository)),
	wire.Bind(new(repository.DialogueTurnRepository), new(*postgres.DialogueTurnRepository)),
	wire.Bind(new(repository.QuotaRepository), new(*postgres.QuotaRepository)),
	wire.Bind(new(repository.QueryLogRepository), new(*postgres.QueryLogRepository)),
	wire.Bind(new(repository.SearchFeedbackRepository), new(*postgres.SearchFeedbackRepository)),
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	redis.NewCache,
	redis.NewRateLimiter,
	wire.Bind(new(search.Cache), new(*redis.Cache)),
	wire.Bind(new(middleware.RateLimiter), new(*redis.RateLimiter)),
)

// MessagingSet 消息队列提供者集合
var MessagingSet = wire.NewSet(
	ProvideMessagingProducer,
	messaging.NewEventBus,
	wire.Bind(new(search.EventPublisher), new(*messaging.EventBus)),
)

// MilvusSet Milvus 提供者集合
var MilvusSet = wire.NewSet(
	ProvideMilvusClient,
	milvus.NewRepository,
)

// VectorStoreSet 向量库适配器提供者集合
var VectorStoreSet = wire.NewSet(
	milvus.NewVectorStore,
	wire.Bind(new(search.VectorSearcher), new(*milvus.VectorStore)),
	wire.Bind(new(ingest.VectorWriter), new(*milvus.VectorStore)),
	wire.Bind(new(dialogue.ChunkRetriever), new(*milvus.VectorStore)),
)

// EmbeddingSet 向量化提供者集合
var EmbeddingSet = wire.NewSet(
	ProvideEmbedder,
	ProvideEmbeddingProvider,
	wire.Bind(new(search.EmbeddingProvider), new(*infraembedding.Provider)),
	wire.Bind(new(ingest.Embedder), new(*infraembedding.Provider)),
)

// LLMSet 生成模型提供者集合
var LLMSet = wire.NewSet(
	llm.NewEinoFactory,
	llm.NewStreamGenerator,
	wire.Bind(new(dialogue.Generator), new(*llm.StreamGenerator)),
)

// ApplicationSet 应用层提供者集合
var ApplicationSet = wire.NewSet(
	search.NewRanker,
	ProvideSearchCoordinator,
	ProvideQuotaLedger,
	wire.Bind(new(dialogue.QuotaLedger), new(*quota.Ledger)),
	ProvideDialogueManager,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	handler.NewHealthHandler,
	handler.NewSearchHandler,
	handler.NewBookHandler,
	handler.NewDialogueHandler,
	handler.NewQuotaHandler,
	wire.Struct(new(router.RouterHandlers), "*"),
	router.NewWithDeps,
)
