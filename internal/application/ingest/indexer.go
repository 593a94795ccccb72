package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"book-dialogue-api/internal/config"
	"book-dialogue-api/internal/domain/entity"
	"book-dialogue-api/internal/domain/repository"
	apperrors "book-dialogue-api/pkg/errors"
	"book-dialogue-api/pkg/logger"
	"book-dialogue-api/pkg/metrics"
)

var tracer = otel.Tracer("application/ingest")

// Embedder 批量向量化接口
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter 向量库写入接口
type VectorWriter interface {
	// InsertChunks 写入书籍正文块向量
	InsertChunks(ctx context.Context, bookID string, chunks []Chunk, vectors [][]float32) error
	// UpsertBookVector 写入书籍整体向量（用于发现检索）
	UpsertBookVector(ctx context.Context, book *entity.Book, vector []float32) error
	// DeleteBook 清除某本书已有的全部向量
	DeleteBook(ctx context.Context, bookID string) error
}

// Indexer 摄取索引器：切块、并发向量化、写入向量库，最后发布书籍
type Indexer struct {
	books    repository.BookRepository
	embedder Embedder
	vectors  VectorWriter
	cfg      config.IngestConfig
}

func NewIndexer(books repository.BookRepository, embedder Embedder, vectors VectorWriter, cfg config.IngestConfig) *Indexer {
	return &Indexer{books: books, embedder: embedder, vectors: vectors, cfg: cfg}
}

// IndexBook 对一本书执行完整摄取。
// 重复摄取先清除旧向量，全部写入成功后才把书籍标记为已发布。
func (ix *Indexer) IndexBook(ctx context.Context, bookID, content string) error {
	ctx, span := tracer.Start(ctx, "ingest.indexer.index_book")
	defer span.End()
	span.SetAttributes(attribute.String("ingest.book_id", bookID))

	book, err := ix.books.GetByID(ctx, bookID)
	if err != nil {
		return apperrors.ErrBookNotFound.WithError(err)
	}

	chunks := SplitBook(bookID, content, ix.cfg.ChunkRunes, ix.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return apperrors.ErrInvalidParam.WithDetail("book content is empty")
	}
	span.SetAttributes(attribute.Int("ingest.chunks", len(chunks)))

	if err := ix.vectors.DeleteBook(ctx, bookID); err != nil {
		return apperrors.ErrVectorDBError.WithError(err)
	}

	if err := ix.embedAndInsert(ctx, bookID, chunks); err != nil {
		metrics.IngestChunksTotal.WithLabelValues("error").Add(float64(len(chunks)))
		return err
	}
	metrics.IngestChunksTotal.WithLabelValues("ok").Add(float64(len(chunks)))

	// 书籍整体向量：标题 + 简介 + 标签，供发现检索召回
	profile := buildBookProfile(book)
	profileVecs, err := ix.embedder.EmbedBatch(ctx, []string{profile})
	if err != nil || len(profileVecs) == 0 {
		return apperrors.ErrEmbeddingFailed.WithError(err)
	}
	if err := ix.vectors.UpsertBookVector(ctx, book, profileVecs[0]); err != nil {
		return apperrors.ErrVectorDBError.WithError(err)
	}

	if err := ix.books.SetPublished(ctx, bookID, true); err != nil {
		return apperrors.ErrDatabaseError.WithError(err)
	}

	logger.Info(ctx, "book indexed",
		"book_id", bookID, "chunks", len(chunks), "title", book.Title)
	return nil
}

// embedAndInsert 按批并发向量化并写入
func (ix *Indexer) embedAndInsert(ctx context.Context, bookID string, chunks []Chunk) error {
	batchSize := ix.cfg.Concurrency
	if batchSize <= 0 {
		batchSize = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchSize)

	const embedBatch = 16
	for start := 0; start < len(chunks); start += embedBatch {
		end := start + embedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g.Go(func() error {
			texts := make([]string, 0, len(batch))
			for _, c := range batch {
				texts = append(texts, c.Text)
			}
			vectors, err := ix.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return apperrors.ErrEmbeddingFailed.WithError(err)
			}
			if len(vectors) != len(batch) {
				return apperrors.ErrEmbeddingFailed.WithDetail(
					fmt.Sprintf("expected %d vectors, got %d", len(batch), len(vectors)))
			}
			if err := ix.vectors.InsertChunks(gctx, bookID, batch, vectors); err != nil {
				return apperrors.ErrVectorDBError.WithError(err)
			}
			return nil
		})
	}
	return g.Wait()
}

func buildBookProfile(book *entity.Book) string {
	parts := []string{book.Title, book.Author, book.Description}
	if len(book.Tags) > 0 {
		parts = append(parts, strings.Join(book.Tags, " "))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
