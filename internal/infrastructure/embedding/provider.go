// Package embedding 提供文本向量化服务客户端
package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"book-dialogue-api/internal/config"
	"book-dialogue-api/pkg/logger"
	"book-dialogue-api/pkg/metrics"
)

var tracer = otel.Tracer("embedding")

// Provider 带重试与维度校验的向量化客户端。
// 同时服务查询向量化与摄取批量向量化。
type Provider struct {
	embedder  embedding.Embedder
	dimension int
	batchSize int
	retries   int
	backoff   config.BackoffConfig
}

// NewProvider 创建向量化客户端
func NewProvider(embedder embedding.Embedder, cfg *config.EmbeddingConfig) *Provider {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Provider{
		embedder:  embedder,
		dimension: cfg.Dimension,
		batchSize: batchSize,
		retries:   retries,
		backoff:   cfg.RetryBackoff,
	}
}

// EmbedQuery 向量化单条查询文本
func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	q := strings.TrimSpace(text)
	if q == "" {
		return nil, fmt.Errorf("query is empty")
	}
	vectors, err := p.EmbedBatch(ctx, []string{q})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

// EmbedBatch 批量向量化，按 batchSize 分批调用上游
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, span := tracer.Start(ctx, "embedding.EmbedBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("embedding.texts", len(texts)))

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := p.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			span.RecordError(err)
			metrics.EmbeddingRequestsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.EmbeddingRequestsTotal.WithLabelValues("ok").Inc()
		out = append(out, vectors...)
	}
	return out, nil
}

// embedWithRetry 指数退避重试一批文本的向量化
func (p *Provider) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	delay := p.backoff.Initial
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			logger.Warn(ctx, "embedding retry",
				"attempt", attempt, "delay", delay.String(), "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			next := time.Duration(float64(delay) * p.backoff.Multiplier)
			if p.backoff.Max > 0 && next > p.backoff.Max {
				next = p.backoff.Max
			}
			if next > delay {
				delay = next
			}
		}

		vectors, err := p.embedOnce(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("embedding failed after %d retries: %w", p.retries, lastErr)
}

func (p *Provider) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	v64, err := p.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(v64) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(v64))
	}

	out := make([][]float32, 0, len(v64))
	for _, vec := range v64 {
		if p.dimension > 0 && len(vec) != p.dimension {
			return nil, fmt.Errorf("unexpected embedding dimension: got %d, want %d", len(vec), p.dimension)
		}
		f32 := make([]float32, 0, len(vec))
		for _, x := range vec {
			f32 = append(f32, float32(x))
		}
		out = append(out, f32)
	}
	return out, nil
}
