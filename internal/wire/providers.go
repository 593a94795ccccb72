// Package wire 提供依赖注入配置
package wire

import (
	"context"

	einoembedding "github.com/cloudwego/eino/components/embedding"

	"book-dialogue-api/internal/application/dialogue"
	"book-dialogue-api/internal/application/ingest"
	"book-dialogue-api/internal/application/quota"
	"book-dialogue-api/internal/application/search"
	"book-dialogue-api/internal/config"
	"book-dialogue-api/internal/domain/repository"
	infraembedding "book-dialogue-api/internal/infrastructure/embedding"
	"book-dialogue-api/internal/infrastructure/messaging"
	"book-dialogue-api/internal/infrastructure/persistence/milvus"
	"book-dialogue-api/internal/infrastructure/persistence/postgres"
	"book-dialogue-api/internal/infrastructure/persistence/redis"
)

// DataLayer 数据层依赖容器
type DataLayer struct {
	// PostgreSQL
	PgClient      *postgres.Client
	TxManager     *postgres.TxManager
	BookRepo      *postgres.BookRepository
	CharacterRepo *postgres.CharacterRepository
	SessionRepo   *postgres.DialogueSessionRepository
	TurnRepo      *postgres.DialogueTurnRepository
	QuotaRepo     *postgres.QuotaRepository
	QueryLogRepo  *postgres.QueryLogRepository
	FeedbackRepo  *postgres.SearchFeedbackRepository

	// Redis
	RedisClient *redis.Client
	Cache       *redis.Cache
	RateLimiter *redis.RateLimiter

	// Messaging
	Producer *messaging.Producer

	// Milvus
	MilvusClient *milvus.Client
	VectorRepo   *milvus.Repository
}

// PostgresOnlyDataLayer 仅包含 PostgreSQL 的数据层（用于 bootstrap）
type PostgresOnlyDataLayer struct {
	PgClient      *postgres.Client
	TxManager     *postgres.TxManager
	BookRepo      *postgres.BookRepository
	CharacterRepo *postgres.CharacterRepository
	SessionRepo   *postgres.DialogueSessionRepository
	TurnRepo      *postgres.DialogueTurnRepository
	QuotaRepo     *postgres.QuotaRepository
	QueryLogRepo  *postgres.QueryLogRepository
	FeedbackRepo  *postgres.SearchFeedbackRepository
}

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideMilvusClient 提供 Milvus 客户端
func ProvideMilvusClient(ctx context.Context, cfg *config.Config) (*milvus.Client, func(), error) {
	client, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	maxLen := cfg.Messaging.RedisStream.MaxLen
	if maxLen <= 0 {
		maxLen = 100000
	}
	return messaging.NewProducer(redisClient.Redis(), int64(maxLen))
}

// ProvideEmbedder 提供 Eino Embedder
func ProvideEmbedder(ctx context.Context, cfg *config.Config) (einoembedding.Embedder, error) {
	return infraembedding.NewEinoEmbedder(ctx, &cfg.Embedding)
}

// ProvideEmbeddingProvider 提供向量化服务
func ProvideEmbeddingProvider(embedder einoembedding.Embedder, cfg *config.Config) *infraembedding.Provider {
	return infraembedding.NewProvider(embedder, &cfg.Embedding)
}

// ProvideSearchCoordinator 提供发现检索协调器
func ProvideSearchCoordinator(
	embedder search.EmbeddingProvider,
	vector search.VectorSearcher,
	books repository.BookRepository,
	ranker *search.Ranker,
	cache search.Cache,
	events search.EventPublisher,
	cfg *config.Config,
) *search.Coordinator {
	return search.NewCoordinator(embedder, vector, books, ranker, cache, events, cfg.Search)
}

// ProvideQuotaLedger 提供配额账本
func ProvideQuotaLedger(repo repository.QuotaRepository, tx repository.Transactor, cfg *config.Config) *quota.Ledger {
	return quota.NewLedger(repo, tx, cfg.Quota)
}

// ProvideDialogueManager 提供对话会话管理器
func ProvideDialogueManager(
	sessions repository.DialogueSessionRepository,
	turns repository.DialogueTurnRepository,
	books repository.BookRepository,
	characters repository.CharacterRepository,
	ledger dialogue.QuotaLedger,
	generator dialogue.Generator,
	retriever dialogue.ChunkRetriever,
	cfg *config.Config,
) *dialogue.Manager {
	return dialogue.NewManager(sessions, turns, books, characters, ledger, generator, retriever, cfg.Dialogue)
}

// ProvideIngestIndexer 提供书籍索引器
func ProvideIngestIndexer(
	books repository.BookRepository,
	embedder ingest.Embedder,
	vectors ingest.VectorWriter,
	cfg *config.Config,
) *ingest.Indexer {
	return ingest.NewIndexer(books, embedder, vectors, cfg.Ingest)
}
