// Package main 异步任务执行器入口（ingest-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"book-dialogue-api/internal/application/ingest"
	"book-dialogue-api/internal/config"
	"book-dialogue-api/internal/domain/entity"
	"book-dialogue-api/internal/infrastructure/embedding"
	"book-dialogue-api/internal/infrastructure/messaging"
	"book-dialogue-api/internal/infrastructure/persistence/milvus"
	"book-dialogue-api/internal/infrastructure/persistence/postgres"
	"book-dialogue-api/internal/infrastructure/persistence/redis"
	"book-dialogue-api/pkg/logger"
	"book-dialogue-api/pkg/tracer"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx := context.Background()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "ingest-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(ctx) }()

	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatal(ctx, "failed to init postgres", err)
	}
	defer func() { _ = pgClient.Close() }()

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to init redis", err)
	}
	defer func() { _ = redisClient.Close() }()

	milvusClient, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		logger.Fatal(ctx, "failed to init milvus", err)
	}
	defer func() { _ = milvusClient.Close() }()

	bookRepo := postgres.NewBookRepository(pgClient)
	queryLogRepo := postgres.NewQueryLogRepository(pgClient)

	embedder, err := embedding.NewEinoEmbedder(ctx, &cfg.Embedding)
	if err != nil {
		logger.Fatal(ctx, "failed to init embedder", err)
	}
	embeddingProvider := embedding.NewProvider(embedder, &cfg.Embedding)

	vectorRepo := milvus.NewRepository(milvusClient)
	vectorStore := milvus.NewVectorStore(vectorRepo, embeddingProvider)
	indexer := ingest.NewIndexer(bookRepo, embeddingProvider, vectorStore, cfg.Ingest)

	backoff := messaging.BackoffConfig{
		Initial:    cfg.Messaging.RedisStream.RetryBackoff.Initial,
		Max:        cfg.Messaging.RedisStream.RetryBackoff.Max,
		Multiplier: cfg.Messaging.RedisStream.RetryBackoff.Multiplier,
	}

	// 书籍索引消费者
	ingestConsumer := messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:       messaging.StreamBookIngest,
		Group:        messaging.ConsumerGroupIngestWorker,
		ConsumerName: hostnameConsumerName(),
		BlockTimeout: cfg.Messaging.RedisStream.BlockTimeout,
		RetryLimit:   cfg.Messaging.RedisStream.RetryLimit,
		Backoff:      backoff,
	})

	ingestConsumer.RegisterHandler("book_ingest", func(hctx context.Context, msg *messaging.Message) error {
		var payload messaging.IngestJobMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		logger.Info(hctx, "ingest job received",
			"job_id", payload.JobID,
			"book_id", payload.BookID,
			"content_bytes", len(payload.Content),
		)
		return indexer.IndexBook(hctx, payload.BookID, payload.Content)
	})

	// 检索日志落库消费者
	queryLogConsumer := messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:       messaging.StreamQueryLog,
		Group:        messaging.ConsumerGroupQueryLogWriter,
		ConsumerName: hostnameConsumerName(),
		BlockTimeout: cfg.Messaging.RedisStream.BlockTimeout,
		RetryLimit:   cfg.Messaging.RedisStream.RetryLimit,
		Backoff:      backoff,
	})

	queryLogConsumer.RegisterHandler("search.query_submitted", func(hctx context.Context, msg *messaging.Message) error {
		var log entity.QueryLog
		if err := msg.UnmarshalPayload(&log); err != nil {
			return err
		}
		return queryLogRepo.Create(hctx, &log)
	})

	if err := ingestConsumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start ingest consumer", err)
	}
	if err := queryLogConsumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start query log consumer", err)
	}

	log := logger.FromContext(ctx)
	log.Info("ingest-worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("ingest-worker shutting down")
	ingestConsumer.Stop()
	queryLogConsumer.Stop()
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
