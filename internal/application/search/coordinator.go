package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"book-dialogue-api/internal/config"
	"book-dialogue-api/internal/domain/entity"
	"book-dialogue-api/internal/domain/repository"
	apperrors "book-dialogue-api/pkg/errors"
	"book-dialogue-api/pkg/logger"
	"book-dialogue-api/pkg/metrics"
)

var tracer = otel.Tracer("application/search")

const (
	embeddingCachePrefix = "search:emb:"
	resultCachePrefix    = "search:res:"

	// 原文片段回源的并发上限
	previewFetchConcurrency = 8

	// EventQuerySubmitted 检索日志事件类型
	EventQuerySubmitted = "search.query_submitted"
)

// Coordinator 检索协调器：归一化、缓存、向量召回、重排、分页
type Coordinator struct {
	embedder EmbeddingProvider
	vector   VectorSearcher
	books    repository.BookRepository
	ranker   *Ranker
	cache    Cache
	events   EventPublisher
	cfg      config.SearchConfig

	group singleflight.Group
}

func NewCoordinator(
	embedder EmbeddingProvider,
	vector VectorSearcher,
	books repository.BookRepository,
	ranker *Ranker,
	cache Cache,
	events EventPublisher,
	cfg config.SearchConfig,
) *Coordinator {
	return &Coordinator{
		embedder: embedder,
		vector:   vector,
		books:    books,
		ranker:   ranker,
		cache:    cache,
		events:   events,
		cfg:      cfg,
	}
}

// Search 执行一次发现检索
func (c *Coordinator) Search(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "search.coordinator.search")
	defer span.End()

	start := time.Now()

	query, err := c.normalizeQuery(req.Query)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, apperrors.ErrInvalidParam.WithError(err)
	}
	req.Query = query
	req.Category = strings.TrimSpace(req.Category)
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	switch req.Type {
	case "", QueryTypeQuestion, QueryTypeTitle, QueryTypeAuthor:
	default:
		metrics.SearchRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, apperrors.ErrInvalidParam.WithError(ErrInvalidQueryType)
	}
	c.normalizePage(&req)

	span.SetAttributes(
		attribute.String("search.category", req.Category),
		attribute.String("search.type", req.Type),
		attribute.Int("search.limit", req.Limit),
	)

	rankKey := c.resultCacheKey(req.Query, req.Type, req.Category)

	// 缓存命中时直接分页返回
	var cached cachedRanking
	if err := c.cache.GetJSON(ctx, rankKey, &cached); err == nil && len(cached.Entries) > 0 {
		metrics.SearchCacheHitsTotal.WithLabelValues("hit").Inc()
		metrics.SearchRequestsTotal.WithLabelValues("ok").Inc()
		result, err := c.pageFromRanking(ctx, &cached, req)
		if err != nil {
			return nil, err
		}
		result.CacheHit = true
		c.publishQueryLog(ctx, req, result, true, time.Since(start))
		return result, nil
	}

	metrics.SearchCacheHitsTotal.WithLabelValues("miss").Inc()

	// singleflight 合并同 key 的并发回源
	v, err, _ := c.group.Do(rankKey, func() (any, error) {
		return c.rankAndCache(ctx, req, rankKey)
	})
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	ranking := v.(*cachedRanking)

	result, err := c.pageFromRanking(ctx, ranking, req)
	if err != nil {
		return nil, err
	}

	metrics.SearchRequestsTotal.WithLabelValues("ok").Inc()
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	c.publishQueryLog(ctx, req, result, false, time.Since(start))
	return result, nil
}

// rankAndCache 回源：向量召回 -> 实体水合 -> 重排 -> 写缓存
func (c *Coordinator) rankAndCache(ctx context.Context, req Request, rankKey string) (*cachedRanking, error) {
	ctx, span := tracer.Start(ctx, "search.coordinator.rank_and_cache")
	defer span.End()

	vec, err := c.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	topK := c.cfg.OverFetchFactor * req.Limit
	if topK < req.Limit {
		topK = req.Limit
	}

	// 召回不带分类条件：分类外的书保留给重排器降权
	vctx, cancel := context.WithTimeout(ctx, c.cfg.VectorTimeout)
	defer cancel()
	hits, err := c.vector.SearchBooks(vctx, vec, topK)
	if err != nil {
		return nil, apperrors.ErrSearchFailed.WithError(err)
	}

	candidates, err := c.hydrate(ctx, hits)
	if err != nil {
		return nil, err
	}

	ranked := c.ranker.Rank(req.Query, req.Type, req.Category, candidates)

	ranking := &cachedRanking{Entries: make([]cachedEntry, 0, len(ranked))}
	for _, r := range ranked {
		ranking.Entries = append(ranking.Entries, cachedEntry{
			BookID:     r.Book.ID,
			Score:      r.Score,
			Similarity: r.Similarity,
		})
	}

	c.attachPreviews(ctx, ranking, vec)

	if err := c.cache.SetJSON(ctx, rankKey, ranking, c.cfg.ResultCacheTTL); err != nil {
		logger.Warn(ctx, "search result cache write failed", "error", err)
	}
	return ranking, nil
}

// attachPreviews 为每条结果补全命中的原文片段。
// 片段随重排列表一起缓存，后续分页不再触达向量库；失败只降级不报错。
func (c *Coordinator) attachPreviews(ctx context.Context, ranking *cachedRanking, vec []float32) {
	if c.cfg.PreviewChunks <= 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(previewFetchConcurrency)
	for i := range ranking.Entries {
		g.Go(func() error {
			texts, err := c.vector.SearchChunkPreviews(gctx, ranking.Entries[i].BookID, vec, c.cfg.PreviewChunks)
			if err != nil {
				logger.Warn(gctx, "chunk preview fetch failed",
					"book_id", ranking.Entries[i].BookID, "error", err)
				return nil
			}
			for j, t := range texts {
				texts[j] = truncateRunes(t, c.cfg.PreviewMaxRunes)
			}
			ranking.Entries[i].Previews = texts
			return nil
		})
	}
	_ = g.Wait()
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

// embedQuery 获取查询向量，优先走缓存
func (c *Coordinator) embedQuery(ctx context.Context, query string) ([]float32, error) {
	key := embeddingCachePrefix + hashKey(query)

	var cached []float32
	if err := c.cache.GetJSON(ctx, key, &cached); err == nil && len(cached) > 0 {
		return cached, nil
	}

	vec, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, apperrors.ErrEmbeddingFailed.WithError(err)
	}
	if err := c.cache.SetJSON(ctx, key, vec, c.cfg.EmbeddingCacheTTL); err != nil {
		logger.Warn(ctx, "embedding cache write failed", "error", err)
	}
	return vec, nil
}

// hydrate 从数据库补全候选书籍，过滤未发布与缺失的书籍
func (c *Coordinator) hydrate(ctx context.Context, hits []BookHit) ([]Candidate, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	simByID := make(map[string]float64, len(hits))
	for _, h := range hits {
		ids = append(ids, h.BookID)
		// 同一书籍多次命中时保留最高相似度
		if s, ok := simByID[h.BookID]; !ok || h.Similarity > s {
			simByID[h.BookID] = h.Similarity
		}
	}

	books, err := c.books.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}

	seen := make(map[string]struct{}, len(books))
	candidates := make([]Candidate, 0, len(books))
	for _, b := range books {
		if b == nil || !b.Discoverable() {
			continue
		}
		if _, dup := seen[b.ID]; dup {
			continue
		}
		seen[b.ID] = struct{}{}
		candidates = append(candidates, Candidate{Book: b, Similarity: simByID[b.ID]})
	}
	return candidates, nil
}

// pageFromRanking 在完整重排列表上分页并水合当前页
func (c *Coordinator) pageFromRanking(ctx context.Context, ranking *cachedRanking, req Request) (*Result, error) {
	total := len(ranking.Entries)
	offset := (req.Page - 1) * req.Limit
	if offset > total {
		offset = total
	}
	end := offset + req.Limit
	if end > total {
		end = total
	}
	page := ranking.Entries[offset:end]

	ids := make([]string, 0, len(page))
	for _, e := range page {
		ids = append(ids, e.BookID)
	}
	books, err := c.books.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}
	byID := make(map[string]*entity.Book, len(books))
	for _, b := range books {
		if b != nil {
			byID[b.ID] = b
		}
	}

	items := make([]RankedBook, 0, len(page))
	for _, e := range page {
		b, ok := byID[e.BookID]
		if !ok || !b.Discoverable() {
			// 缓存窗口内下架的书籍直接跳过
			continue
		}
		items = append(items, RankedBook{Book: b, Score: e.Score, Similarity: e.Similarity, Previews: e.Previews})
	}

	return &Result{
		Items: items,
		Total: total,
		Page:  req.Page,
		Limit: req.Limit,
	}, nil
}

// publishQueryLog 异步发布检索日志事件，失败只记日志不影响请求
func (c *Coordinator) publishQueryLog(ctx context.Context, req Request, result *Result, cacheHit bool, elapsed time.Duration) {
	if c.events == nil {
		return
	}

	log := &entity.QueryLog{
		UserID:      req.UserID,
		Query:       req.Query,
		Category:    req.Category,
		ResultCount: result.Total,
		CacheHit:    cacheHit,
		LatencyMS:   elapsed.Milliseconds(),
	}
	if len(result.Items) > 0 {
		log.TopBookID = result.Items[0].Book.ID
		log.TopScore = result.Items[0].Score
	}

	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if err := c.events.Publish(pctx, EventQuerySubmitted, log); err != nil {
			logger.Warn(pctx, "query log publish failed", "error", err)
		}
	}()
}

// normalizeQuery 归一化查询：去首尾空白、折叠连续空白、限长
func (c *Coordinator) normalizeQuery(query string) (string, error) {
	q := strings.Join(strings.Fields(query), " ")
	if q == "" {
		return "", ErrEmptyQuery
	}
	if utf8.RuneCountInString(q) > c.cfg.MaxQueryRunes {
		return "", fmt.Errorf("%w: max %d runes", ErrQueryTooLong, c.cfg.MaxQueryRunes)
	}
	return q, nil
}

func (c *Coordinator) normalizePage(req *Request) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit <= 0 {
		req.Limit = c.cfg.DefaultLimit
	}
	if req.Limit > c.cfg.MaxLimit {
		req.Limit = c.cfg.MaxLimit
	}
}

func (c *Coordinator) resultCacheKey(query, queryType, category string) string {
	return resultCachePrefix + hashKey(query+"|"+queryType+"|"+category)
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
