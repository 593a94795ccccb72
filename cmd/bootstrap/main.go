package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"book-dialogue-api/internal/config"
	"book-dialogue-api/internal/domain/entity"
	"book-dialogue-api/internal/wire"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting system bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// 2. 初始化数据层
	dataLayer, cleanup, err := wire.InitializeDataLayer(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize data layer: %v", err)
	}
	defer cleanup()

	// 3. 迁移 PostgreSQL 表结构
	fmt.Println("Migrating postgres schema...")
	if err := dataLayer.PgClient.DB().WithContext(ctx).AutoMigrate(
		&entity.Book{},
		&entity.Character{},
		&entity.DialogueSession{},
		&entity.DialogueTurn{},
		&entity.QuotaRecord{},
		&entity.QueryLog{},
		&entity.SearchFeedback{},
	); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	fmt.Println("Postgres schema migrated.")

	// 4. 创建并加载 Milvus 集合
	fmt.Println("Ensuring milvus collections...")
	if err := dataLayer.VectorRepo.EnsureCollections(ctx); err != nil {
		log.Fatalf("failed to ensure milvus collections: %v", err)
	}
	fmt.Println("Milvus collections ready.")

	fmt.Println("Bootstrap completed successfully.")
}
