package milvus

import (
	"context"

	"book-dialogue-api/internal/application/dialogue"
	"book-dialogue-api/internal/application/ingest"
	"book-dialogue-api/internal/application/search"
	"book-dialogue-api/internal/domain/entity"
)

// VectorStore 把 Milvus 仓储适配到应用层端口：
// 发现检索（search.VectorSearcher）、摄取写入（ingest.VectorWriter）、
// 对话引用召回（dialogue.ChunkRetriever）。
type VectorStore struct {
	repo     *Repository
	embedder search.EmbeddingProvider
}

// NewVectorStore 创建向量存储适配器
func NewVectorStore(repo *Repository, embedder search.EmbeddingProvider) *VectorStore {
	return &VectorStore{repo: repo, embedder: embedder}
}

// SearchBooks 按查询向量召回已发布书籍候选
func (s *VectorStore) SearchBooks(ctx context.Context, vector []float32, topK int) ([]search.BookHit, error) {
	hits, err := s.repo.SearchBookVectors(ctx, vector, topK)
	if err != nil {
		return nil, err
	}
	out := make([]search.BookHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, search.BookHit{BookID: h.BookID, Similarity: h.Similarity})
	}
	return out, nil
}

// SearchChunkPreviews 返回某本书内与查询向量最相关的原文片段
func (s *VectorStore) SearchChunkPreviews(ctx context.Context, bookID string, vector []float32, topK int) ([]string, error) {
	hits, err := s.repo.SearchBookChunks(ctx, bookID, vector, topK)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		texts = append(texts, h.TextContent)
	}
	return texts, nil
}

// InsertChunks 写入一批正文分块向量
func (s *VectorStore) InsertChunks(ctx context.Context, bookID string, chunks []ingest.Chunk, vectors [][]float32) error {
	records := make([]*ChunkRecord, 0, len(chunks))
	for i, c := range chunks {
		records = append(records, &ChunkRecord{
			BookID: bookID,
			Seq:    int64(c.Seq),
			Text:   c.Text,
			Vector: vectors[i],
		})
	}
	return s.repo.InsertChunkRecords(ctx, records)
}

// UpsertBookVector 写入书籍画像向量
func (s *VectorStore) UpsertBookVector(ctx context.Context, book *entity.Book, vector []float32) error {
	return s.repo.UpsertBookVector(ctx, book, vector)
}

// DeleteBook 清除一本书的全部向量
func (s *VectorStore) DeleteBook(ctx context.Context, bookID string) error {
	return s.repo.DeleteBookVectors(ctx, bookID)
}

// RetrieveChunks 为对话提示词召回书内原文片段
func (s *VectorStore) RetrieveChunks(ctx context.Context, bookID, query string, topK int) ([]dialogue.Citation, error) {
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.repo.SearchBookChunks(ctx, bookID, vector, topK)
	if err != nil {
		return nil, err
	}
	citations := make([]dialogue.Citation, 0, len(hits))
	for _, h := range hits {
		citations = append(citations, dialogue.Citation{
			ChunkID: h.ChunkID,
			Text:    h.TextContent,
			Seq:     int(h.Seq),
		})
	}
	return citations, nil
}
