package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "book-dialogue-api/internal/domain/entity"
)

// Repository 向量检索仓储
type Repository struct {
	client *Client
}

// NewRepository 创建向量检索仓储
func NewRepository(client *Client) *Repository {
	return &Repository{client: client}
}

// BookHit 书籍向量检索命中
type BookHit struct {
	BookID     string
	Similarity float64
}

// ChunkHit 正文分块检索命中
type ChunkHit struct {
	ChunkID     string
	Seq         int64
	TextContent string
	Similarity  float64
}

// ChunkRecord 待写入的正文分块
type ChunkRecord struct {
	BookID string
	Seq    int64
	Text   string
	Vector []float32
}

// CreateCollection 创建集合
func (r *Repository) CreateCollection(ctx context.Context, schema *entity.Schema) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.CreateCollection",
		trace.WithAttributes(attribute.String("collection", schema.CollectionName)))
	defer span.End()

	collName := r.client.CollectionName(schema.CollectionName)
	schema.CollectionName = collName

	err := r.client.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// CreateIndex 创建 HNSW 索引
func (r *Repository) CreateIndex(ctx context.Context, collection string) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.CreateIndex",
		trace.WithAttributes(attribute.String("collection", collection)))
	defer span.End()

	collName := r.client.CollectionName(collection)

	idx, err := entity.NewIndexHNSW(
		entity.COSINE,
		r.client.config.HNSWM,
		r.client.config.HNSWEfConstruction,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = r.client.milvus.CreateIndex(ctx, collName, "vector", idx, false)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// SearchBookVectors 按查询向量检索已发布书籍。
// 分类不参与过滤：分类外的候选由重排侧降权后保留，召回只排除未发布的书。
func (r *Repository) SearchBookVectors(ctx context.Context, queryVector []float32, topK int) ([]*BookHit, error) {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return nil, fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.SearchBookVectors",
		trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()

	collName := r.client.CollectionName(BookVectorsCollection)

	filter := `published == true`

	sp, err := entity.NewIndexHNSWSearchParam(128)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := r.client.milvus.Search(ctx,
		collName,
		nil,
		filter,
		[]string{"id"},
		[]entity.Vector{entity.FloatVector(queryVector)},
		"vector",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search book vectors: %w", err)
	}

	var hits []*BookHit
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			hit := &BookHit{
				// COSINE 度量下 Milvus 返回的 score 即相似度
				Similarity: float64(result.Scores[i]),
			}
			if idCol, ok := result.Fields.GetColumn("id").(*entity.ColumnVarChar); ok {
				hit.BookID = idCol.Data()[i]
			}
			hits = append(hits, hit)
		}
	}

	span.SetAttributes(attribute.Int("result_count", len(hits)))
	return hits, nil
}

// SearchBookChunks 在一本书的正文分块中检索与查询最相关的片段
func (r *Repository) SearchBookChunks(ctx context.Context, bookID string, queryVector []float32, topK int) ([]*ChunkHit, error) {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return nil, fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.SearchBookChunks",
		trace.WithAttributes(
			attribute.String("book_id", bookID),
			attribute.Int("top_k", topK),
		))
	defer span.End()

	collName := r.client.CollectionName(BookChunksCollection)
	filter := fmt.Sprintf(`book_id == "%s"`, bookID)

	sp, err := entity.NewIndexHNSWSearchParam(128)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := r.client.milvus.Search(ctx,
		collName,
		nil,
		filter,
		[]string{"id", "seq", "text_content"},
		[]entity.Vector{entity.FloatVector(queryVector)},
		"vector",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search book chunks: %w", err)
	}

	var hits []*ChunkHit
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			hit := &ChunkHit{
				Similarity: float64(result.Scores[i]),
			}
			if idCol, ok := result.Fields.GetColumn("id").(*entity.ColumnVarChar); ok {
				hit.ChunkID = idCol.Data()[i]
			}
			if seqCol, ok := result.Fields.GetColumn("seq").(*entity.ColumnInt64); ok {
				hit.Seq = seqCol.Data()[i]
			}
			if textCol, ok := result.Fields.GetColumn("text_content").(*entity.ColumnVarChar); ok {
				hit.TextContent = textCol.Data()[i]
			}
			hits = append(hits, hit)
		}
	}

	span.SetAttributes(attribute.Int("result_count", len(hits)))
	return hits, nil
}

// InsertChunkRecords 插入正文分块向量
func (r *Repository) InsertChunkRecords(ctx context.Context, records []*ChunkRecord) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.InsertChunkRecords",
		trace.WithAttributes(attribute.Int("count", len(records))))
	defer span.End()

	if len(records) == 0 {
		return nil
	}

	collName := r.client.CollectionName(BookChunksCollection)

	ids := make([]string, len(records))
	vectors := make([][]float32, len(records))
	bookIDs := make([]string, len(records))
	seqs := make([]int64, len(records))
	texts := make([]string, len(records))

	for i, rec := range records {
		ids[i] = ChunkID(rec.BookID, int(rec.Seq))
		vectors[i] = rec.Vector
		bookIDs[i] = rec.BookID
		seqs[i] = rec.Seq
		texts[i] = rec.Text
	}

	idCol := entity.NewColumnVarChar("id", ids)
	vectorCol := entity.NewColumnFloatVector("vector", VectorDimension, vectors)
	bookCol := entity.NewColumnVarChar("book_id", bookIDs)
	seqCol := entity.NewColumnInt64("seq", seqs)
	textCol := entity.NewColumnVarChar("text_content", texts)

	_, err := r.client.milvus.Insert(ctx, collName, "",
		idCol, vectorCol, bookCol, seqCol, textCol)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	return nil
}

// UpsertBookVector 写入书籍画像向量（先删后插，保证每本书只有一条）
func (r *Repository) UpsertBookVector(ctx context.Context, book *domain.Book, vector []float32) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.UpsertBookVector",
		trace.WithAttributes(attribute.String("book_id", book.ID)))
	defer span.End()

	collName := r.client.CollectionName(BookVectorsCollection)
	bookID := book.ID

	filter := fmt.Sprintf(`id == "%s"`, bookID)
	if err := r.client.milvus.Delete(ctx, collName, "", filter); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete old book vector: %w", err)
	}

	idCol := entity.NewColumnVarChar("id", []string{bookID})
	vectorCol := entity.NewColumnFloatVector("vector", VectorDimension, [][]float32{vector})
	categoryCol := entity.NewColumnVarChar("category", []string{book.Category})
	publishedCol := entity.NewColumnBool("published", []bool{true})

	_, err := r.client.milvus.Insert(ctx, collName, "",
		idCol, vectorCol, categoryCol, publishedCol)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert book vector: %w", err)
	}

	return nil
}

// DeleteBookVectors 删除一本书在两个集合中的全部向量
func (r *Repository) DeleteBookVectors(ctx context.Context, bookID string) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.DeleteBookVectors",
		trace.WithAttributes(attribute.String("book_id", bookID)))
	defer span.End()

	chunksColl := r.client.CollectionName(BookChunksCollection)
	chunkFilter := fmt.Sprintf(`book_id == "%s"`, bookID)
	if err := r.client.milvus.Delete(ctx, chunksColl, "", chunkFilter); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete book chunks: %w", err)
	}

	booksColl := r.client.CollectionName(BookVectorsCollection)
	bookFilter := fmt.Sprintf(`id == "%s"`, bookID)
	if err := r.client.milvus.Delete(ctx, booksColl, "", bookFilter); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete book vector: %w", err)
	}

	return nil
}

// EnsureCollections 确保两个集合与索引可用（不存在则创建）。
// 约束：不会做 drop/rebuild 等破坏性操作。
func (r *Repository) EnsureCollections(ctx context.Context) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}

	for name, schemaFn := range map[string]func(string) *entity.Schema{
		BookVectorsCollection: bookVectorsSchema,
		BookChunksCollection:  bookChunksSchema,
	} {
		exists, err := r.client.HasCollection(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			if err := r.CreateCollection(ctx, schemaFn(name)); err != nil {
				return err
			}
			// 新建集合时创建索引；若失败，允许后续由运维介入。
			_ = r.CreateIndex(ctx, name)
		}
		if err := r.client.LoadCollection(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
