package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"book-dialogue-api/internal/config"
	"book-dialogue-api/internal/domain/entity"
	"book-dialogue-api/internal/domain/repository"
	apperrors "book-dialogue-api/pkg/errors"
)

type fakeEmbedder struct {
	calls  atomic.Int64
	fail   bool
	vector []float32
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, errors.New("provider unavailable")
	}
	return f.vector, nil
}

type fakeVectorSearcher struct {
	calls    atomic.Int64
	hits     []BookHit
	previews map[string][]string
	err      error
}

func (f *fakeVectorSearcher) SearchBooks(ctx context.Context, vector []float32, topK int) ([]BookHit, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if topK < len(f.hits) {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fakeVectorSearcher) SearchChunkPreviews(ctx context.Context, bookID string, vector []float32, topK int) ([]string, error) {
	texts := f.previews[bookID]
	if topK < len(texts) {
		return texts[:topK], nil
	}
	return texts, nil
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (m *memoryCache) GetJSON(ctx context.Context, key string, dest any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return errors.New("cache miss")
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = raw
	return nil
}

type fakeBookRepo struct {
	mu    sync.Mutex
	books map[string]*entity.Book
}

func newFakeBookRepo(books ...*entity.Book) *fakeBookRepo {
	repo := &fakeBookRepo{books: make(map[string]*entity.Book)}
	for _, b := range books {
		repo.books[b.ID] = b
	}
	return repo
}

func (f *fakeBookRepo) Create(ctx context.Context, book *entity.Book) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[book.ID] = book
	return nil
}

func (f *fakeBookRepo) GetByID(ctx context.Context, id string) (*entity.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return nil, apperrors.ErrBookNotFound
	}
	return b, nil
}

func (f *fakeBookRepo) GetByIDs(ctx context.Context, ids []string) ([]*entity.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entity.Book, 0, len(ids))
	for _, id := range ids {
		if b, ok := f.books[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBookRepo) Update(ctx context.Context, book *entity.Book) error {
	return f.Create(ctx, book)
}

func (f *fakeBookRepo) SetPublished(ctx context.Context, id string, published bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.books[id]; ok {
		b.Published = published
	}
	return nil
}

func (f *fakeBookRepo) IncrDialogueCount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.books[id]; ok {
		b.DialogueCount++
	}
	return nil
}

func (f *fakeBookRepo) ListByCategory(ctx context.Context, category string, p repository.Pagination) (*repository.PagedResult[*entity.Book], error) {
	return repository.NewPagedResult[*entity.Book](nil, 0, p), nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) Publish(ctx context.Context, eventType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		MaxQueryRunes:     64,
		DefaultLimit:      10,
		MaxLimit:          50,
		OverFetchFactor:   5,
		ResultCacheTTL:    time.Minute,
		EmbeddingCacheTTL: time.Hour,
		VectorTimeout:     time.Second,
		PreviewChunks:     2,
		PreviewMaxRunes:   20,
	}
}

func newTestCoordinator(vector *fakeVectorSearcher, repo *fakeBookRepo) (*Coordinator, *fakeEmbedder, *memoryCache) {
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}}
	cache := newMemoryCache()
	coord := NewCoordinator(embedder, vector, repo, NewRanker(), cache, &fakePublisher{}, testSearchConfig())
	return coord, embedder, cache
}

func TestCoordinatorSearchRanksPublishedBooks(t *testing.T) {
	repo := newFakeBookRepo(
		&entity.Book{ID: "b-1", Title: "领导力21法则", Category: "management", Tags: pq.StringArray{"领导力"}, Published: true},
		&entity.Book{ID: "b-2", Title: "三体", Category: "scifi", Published: true},
		&entity.Book{ID: "b-3", Title: "未发布的书", Category: "management", Published: false},
	)
	vector := &fakeVectorSearcher{hits: []BookHit{
		{BookID: "b-1", Similarity: 0.85},
		{BookID: "b-3", Similarity: 0.80},
		{BookID: "b-2", Similarity: 0.30},
	}}
	coord, _, _ := newTestCoordinator(vector, repo)

	result, err := coord.Search(context.Background(), Request{UserID: "u-1", Query: "如何提高领导力"})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)

	// 未发布的书即使召回也不出现在结果中
	assert.Equal(t, "b-1", result.Items[0].Book.ID)
	assert.Equal(t, "b-2", result.Items[1].Book.ID)
	assert.False(t, result.CacheHit)
}

func TestCoordinatorSecondSearchHitsCache(t *testing.T) {
	repo := newFakeBookRepo(
		&entity.Book{ID: "b-1", Title: "领导力21法则", Category: "management", Published: true},
	)
	vector := &fakeVectorSearcher{hits: []BookHit{{BookID: "b-1", Similarity: 0.9}}}
	coord, embedder, _ := newTestCoordinator(vector, repo)

	first, err := coord.Search(context.Background(), Request{Query: "领导力"})
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	second, err := coord.Search(context.Background(), Request{Query: "领导力"})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)

	// 命中结果缓存后不再回源
	assert.Equal(t, int64(1), embedder.calls.Load())
	assert.Equal(t, int64(1), vector.calls.Load())
}

func TestCoordinatorEmbeddingCacheReused(t *testing.T) {
	repo := newFakeBookRepo(&entity.Book{ID: "b-1", Title: "三体", Category: "scifi", Published: true})
	vector := &fakeVectorSearcher{hits: []BookHit{{BookID: "b-1", Similarity: 0.9}}}
	coord, embedder, _ := newTestCoordinator(vector, repo)

	_, err := coord.Search(context.Background(), Request{Query: "科幻小说", Category: "scifi"})
	require.NoError(t, err)
	// 同一查询换分类：结果缓存 key 变化但向量缓存命中
	_, err = coord.Search(context.Background(), Request{Query: "科幻小说", Category: "fiction"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), embedder.calls.Load())
	assert.Equal(t, int64(2), vector.calls.Load())
}

func TestCoordinatorNormalizesQuery(t *testing.T) {
	repo := newFakeBookRepo(&entity.Book{ID: "b-1", Title: "三体", Published: true})
	vector := &fakeVectorSearcher{hits: []BookHit{{BookID: "b-1", Similarity: 0.9}}}
	coord, _, _ := newTestCoordinator(vector, repo)

	first, err := coord.Search(context.Background(), Request{Query: "  三体   小说  "})
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	// 空白差异归一化后应命中同一缓存
	second, err := coord.Search(context.Background(), Request{Query: "三体 小说"})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
}

func TestCoordinatorRejectsEmptyQuery(t *testing.T) {
	coord, _, _ := newTestCoordinator(&fakeVectorSearcher{}, newFakeBookRepo())

	_, err := coord.Search(context.Background(), Request{Query: "   "})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))
}

func TestCoordinatorRejectsOverlongQuery(t *testing.T) {
	coord, _, _ := newTestCoordinator(&fakeVectorSearcher{}, newFakeBookRepo())

	long := make([]rune, 0, 100)
	for i := 0; i < 100; i++ {
		long = append(long, '书')
	}
	_, err := coord.Search(context.Background(), Request{Query: string(long)})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))
}

func TestCoordinatorVectorFailurePropagates(t *testing.T) {
	vector := &fakeVectorSearcher{err: errors.New("milvus unavailable")}
	coord, _, _ := newTestCoordinator(vector, newFakeBookRepo())

	_, err := coord.Search(context.Background(), Request{Query: "任意查询"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSearchFailed))
}

func TestCoordinatorPagination(t *testing.T) {
	books := make([]*entity.Book, 0, 12)
	hits := make([]BookHit, 0, 12)
	for i := 0; i < 12; i++ {
		id := string(rune('a'+i))
		b := &entity.Book{ID: "b-" + id, Title: "书" + id, Published: true}
		books = append(books, b)
		hits = append(hits, BookHit{BookID: b.ID, Similarity: 0.9 - float64(i)*0.05})
	}
	repo := newFakeBookRepo(books...)
	coord, _, _ := newTestCoordinator(&fakeVectorSearcher{hits: hits}, repo)

	page1, err := coord.Search(context.Background(), Request{Query: "分页查询", Page: 1, Limit: 5})
	require.NoError(t, err)
	page2, err := coord.Search(context.Background(), Request{Query: "分页查询", Page: 2, Limit: 5})
	require.NoError(t, err)

	assert.Equal(t, 12, page1.Total)
	require.Len(t, page1.Items, 5)
	require.Len(t, page2.Items, 5)
	assert.NotEqual(t, page1.Items[0].Book.ID, page2.Items[0].Book.ID)
	// 跨页分数保持非增
	assert.GreaterOrEqual(t, page1.Items[4].Score+scoreEpsilon, page2.Items[0].Score)
}

func TestCoordinatorAttachesChunkPreviews(t *testing.T) {
	repo := newFakeBookRepo(
		&entity.Book{ID: "b-1", Title: "领导力21法则", Published: true},
	)
	vector := &fakeVectorSearcher{
		hits: []BookHit{{BookID: "b-1", Similarity: 0.9}},
		previews: map[string][]string{
			"b-1": {"第一章：领导力的本质在于影响他人的能力，而非职位", "短片段"},
		},
	}
	coord, _, _ := newTestCoordinator(vector, repo)

	result, err := coord.Search(context.Background(), Request{Query: "领导力"})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Len(t, result.Items[0].Previews, 2)

	// 片段按配置截断，完整短片段原样保留
	assert.Equal(t, 20, len([]rune(result.Items[0].Previews[0])))
	assert.Equal(t, "短片段", result.Items[0].Previews[1])

	// 片段随重排列表进缓存，后续命中同样携带
	cached, err := coord.Search(context.Background(), Request{Query: "领导力"})
	require.NoError(t, err)
	assert.True(t, cached.CacheHit)
	require.Len(t, cached.Items, 1)
	assert.Len(t, cached.Items[0].Previews, 2)
}

func TestCoordinatorRejectsUnknownQueryType(t *testing.T) {
	coord, _, _ := newTestCoordinator(&fakeVectorSearcher{}, newFakeBookRepo())

	_, err := coord.Search(context.Background(), Request{Query: "领导力", Type: "publisher"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))
}

func TestCoordinatorKeepsDampenedOutOfCategory(t *testing.T) {
	repo := newFakeBookRepo(
		&entity.Book{ID: "b-in", Title: "明朝那些事儿", Category: "history", Published: true},
		&entity.Book{ID: "b-out", Title: "万历十五年传记", Category: "biography", Published: true},
	)
	vector := &fakeVectorSearcher{hits: []BookHit{
		{BookID: "b-in", Similarity: 0.7},
		{BookID: "b-out", Similarity: 0.7},
	}}
	coord, _, _ := newTestCoordinator(vector, repo)

	result, err := coord.Search(context.Background(), Request{Query: "明朝历史", Category: "history"})
	require.NoError(t, err)

	// 分类外的书降权后仍然返回，不会在召回侧被过滤掉
	require.Len(t, result.Items, 2)
	assert.Equal(t, "b-in", result.Items[0].Book.ID)
	assert.Equal(t, "b-out", result.Items[1].Book.ID)
	assert.Greater(t, result.Items[0].Score, result.Items[1].Score)
}
