package dialogue

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"book-dialogue-api/internal/config"
	"book-dialogue-api/internal/domain/entity"
	"book-dialogue-api/internal/domain/repository"
	apperrors "book-dialogue-api/pkg/errors"
)

// ---- 内存版仓储 ----

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*entity.DialogueSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*entity.DialogueSession)}
}

func (m *memSessionRepo) Create(ctx context.Context, s *entity.DialogueSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	clone := *s
	m.sessions[s.ID] = &clone
	return nil
}

func (m *memSessionRepo) GetByID(ctx context.Context, id string) (*entity.DialogueSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (m *memSessionRepo) Update(ctx context.Context, s *entity.DialogueSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *s
	m.sessions[s.ID] = &clone
	return nil
}

func (m *memSessionRepo) ListByUser(ctx context.Context, userID string, p repository.Pagination) (*repository.PagedResult[*entity.DialogueSession], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*entity.DialogueSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			clone := *s
			items = append(items, &clone)
		}
	}
	return repository.NewPagedResult(items, int64(len(items)), p), nil
}

type memTurnRepo struct {
	mu    sync.Mutex
	turns []*entity.DialogueTurn
}

func (m *memTurnRepo) Create(ctx context.Context, t *entity.DialogueTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	clone := *t
	m.turns = append(m.turns, &clone)
	return nil
}

func (m *memTurnRepo) ListBySession(ctx context.Context, sessionID string) ([]*entity.DialogueTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.DialogueTurn
	for _, t := range m.turns {
		if t.SessionID == sessionID {
			clone := *t
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *memTurnRepo) ListRecent(ctx context.Context, sessionID string, limit int) ([]*entity.DialogueTurn, error) {
	all, _ := m.ListBySession(ctx, sessionID)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq > all[j].Seq })
	return all, nil
}

func (m *memTurnRepo) NextSeq(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, t := range m.turns {
		if t.SessionID == sessionID && t.Seq > max {
			max = t.Seq
		}
	}
	return max + 1, nil
}

type memBookRepo struct {
	mu    sync.Mutex
	books map[string]*entity.Book
}

func newMemBookRepo(books ...*entity.Book) *memBookRepo {
	r := &memBookRepo{books: make(map[string]*entity.Book)}
	for _, b := range books {
		r.books[b.ID] = b
	}
	return r
}

func (m *memBookRepo) Create(ctx context.Context, b *entity.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
	return nil
}

func (m *memBookRepo) GetByID(ctx context.Context, id string) (*entity.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil, apperrors.ErrBookNotFound
	}
	return b, nil
}

func (m *memBookRepo) GetByIDs(ctx context.Context, ids []string) ([]*entity.Book, error) {
	var out []*entity.Book
	for _, id := range ids {
		if b, err := m.GetByID(ctx, id); err == nil {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBookRepo) Update(ctx context.Context, b *entity.Book) error {
	return m.Create(ctx, b)
}

func (m *memBookRepo) SetPublished(ctx context.Context, id string, published bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.books[id]; ok {
		b.Published = published
	}
	return nil
}

func (m *memBookRepo) IncrDialogueCount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.books[id]; ok {
		b.DialogueCount++
	}
	return nil
}

func (m *memBookRepo) ListByCategory(ctx context.Context, category string, p repository.Pagination) (*repository.PagedResult[*entity.Book], error) {
	return repository.NewPagedResult[*entity.Book](nil, 0, p), nil
}

type memCharacterRepo struct {
	characters map[string]*entity.Character
}

func (m *memCharacterRepo) Create(ctx context.Context, c *entity.Character) error {
	m.characters[c.ID] = c
	return nil
}

func (m *memCharacterRepo) GetByID(ctx context.Context, id string) (*entity.Character, error) {
	c, ok := m.characters[id]
	if !ok {
		return nil, apperrors.ErrCharacterNotFound
	}
	return c, nil
}

func (m *memCharacterRepo) ListByBook(ctx context.Context, bookID string) ([]*entity.Character, error) {
	var out []*entity.Character
	for _, c := range m.characters {
		if c.BookID == bookID {
			out = append(out, c)
		}
	}
	return out, nil
}

// ---- 假配额账本 ----

type fakeLedger struct {
	mu        sync.Mutex
	allowance int64
	used      int64
	refunds   int64
}

func (f *fakeLedger) TryConsume(ctx context.Context, userID string, tier entity.Tier, units int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.used+units > f.allowance {
		return apperrors.ErrQuotaExceeded
	}
	f.used += units
	return nil
}

func (f *fakeLedger) Refund(ctx context.Context, userID string, units int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used -= units
	if f.used < 0 {
		f.used = 0
	}
	f.refunds += units
	return nil
}

func (f *fakeLedger) snapshot() (used, refunds int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used, f.refunds
}

// ---- 假生成器 ----

// scriptedStream 按脚本吐出增量，支持中途阻塞与注入错误
type scriptedStream struct {
	ctx    context.Context
	chunks []string
	idx    int
	// blockAfter 吐出这么多增量后阻塞，直到 ctx 取消（-1 表示不阻塞）
	blockAfter int
	failAfter  int
	failErr    error
}

func (s *scriptedStream) Recv() (*schema.Message, error) {
	if s.failErr != nil && s.idx >= s.failAfter {
		return nil, s.failErr
	}
	if s.blockAfter >= 0 && s.idx >= s.blockAfter {
		<-s.ctx.Done()
		return nil, context.Canceled
	}
	if s.idx >= len(s.chunks) {
		return nil, io.EOF
	}
	chunk := s.chunks[s.idx]
	s.idx++
	return &schema.Message{Role: schema.Assistant, Content: chunk}, nil
}

func (s *scriptedStream) Close() {}

type fakeGenerator struct {
	chunks     []string
	blockAfter int
	failAfter  int
	failErr    error
	streamErr  error
}

func (f *fakeGenerator) Stream(ctx context.Context, messages []*schema.Message) (GenerationStream, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &scriptedStream{
		ctx:        ctx,
		chunks:     f.chunks,
		blockAfter: f.blockAfter,
		failAfter:  f.failAfter,
		failErr:    f.failErr,
	}, nil
}

// ---- 测试装配 ----

type managerFixture struct {
	manager  *Manager
	sessions *memSessionRepo
	turns    *memTurnRepo
	books    *memBookRepo
	ledger   *fakeLedger
}

func newFixture(gen Generator, allowance int64) *managerFixture {
	sessions := newMemSessionRepo()
	turns := &memTurnRepo{}
	books := newMemBookRepo(&entity.Book{
		ID: "book-1", Title: "领导力21法则", Author: "约翰·麦克斯维尔", Published: true,
	})
	characters := &memCharacterRepo{characters: map[string]*entity.Character{
		"char-1": {ID: "char-1", BookID: "book-1", Name: "作者", Persona: "以作者口吻回答"},
	}}
	ledger := &fakeLedger{allowance: allowance}

	cfg := config.DialogueConfig{
		ContextTokenBudget: 4000,
		IdleTimeout:        30 * time.Minute,
		GenerationTimeout:  10 * time.Second,
		StreamBuffer:       16,
	}
	m := NewManager(sessions, turns, books, characters, ledger, gen, nil, cfg)
	return &managerFixture{manager: m, sessions: sessions, turns: turns, books: books, ledger: ledger}
}

func collectStream(t *testing.T, stream *TurnStream) (deltas []string, outcome *TurnOutcome, streamErr error) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-stream.Events:
			if !ok {
				return deltas, outcome, streamErr
			}
			switch {
			case ev.Err != nil:
				streamErr = ev.Err
			case ev.Done != nil:
				outcome = ev.Done
			default:
				deltas = append(deltas, ev.Delta)
			}
		case <-timeout:
			t.Fatal("stream did not finish in time")
		}
	}
}

// ---- 用例 ----

func TestCreateSessionForBook(t *testing.T) {
	f := newFixture(&fakeGenerator{}, 10)

	s, err := f.manager.CreateSession(context.Background(), "u-1", "book-1", entity.TargetKindBook, "")
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStateCreated, s.State)
	assert.NotEmpty(t, s.ID)
}

func TestCreateSessionRejectsUnpublishedBook(t *testing.T) {
	f := newFixture(&fakeGenerator{}, 10)
	require.NoError(t, f.books.Create(context.Background(), &entity.Book{ID: "book-2", Published: false}))

	_, err := f.manager.CreateSession(context.Background(), "u-1", "book-2", entity.TargetKindBook, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeBookNotFound))
}

func TestCreateSessionRejectsForeignCharacter(t *testing.T) {
	f := newFixture(&fakeGenerator{}, 10)
	require.NoError(t, f.books.Create(context.Background(), &entity.Book{ID: "book-2", Published: true}))

	_, err := f.manager.CreateSession(context.Background(), "u-1", "book-2", entity.TargetKindCharacter, "char-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeCharacterNotFound))
}

func TestSubmitTurnStreamsAndPersists(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"第一条", "法则是", "盖子法则"}, blockAfter: -1}
	f := newFixture(gen, 10)
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "u-1", "book-1", entity.TargetKindBook, "")
	require.NoError(t, err)

	stream, err := f.manager.SubmitTurn(ctx, "u-1", entity.TierFree, s.ID, "第一条法则是什么")
	require.NoError(t, err)

	deltas, outcome, streamErr := collectStream(t, stream)
	require.NoError(t, streamErr)
	require.NotNil(t, outcome)
	assert.Equal(t, []string{"第一条", "法则是", "盖子法则"}, deltas)
	assert.False(t, outcome.Canceled)
	assert.Equal(t, "第一条法则是盖子法则", outcome.Content)

	turns, err := f.turns.ListBySession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, entity.TurnRoleUser, turns[0].Role)
	assert.Equal(t, 1, turns[0].Seq)
	assert.Equal(t, entity.TurnRoleAssistant, turns[1].Role)
	assert.Equal(t, 2, turns[1].Seq)

	got, err := f.sessions.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStateActive, got.State)

	book, err := f.books.GetByID(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), book.DialogueCount)
}

func TestSubmitTurnQuotaDeniedBeforePersist(t *testing.T) {
	f := newFixture(&fakeGenerator{chunks: []string{"回复"}, blockAfter: -1}, 0)
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "u-1", "book-1", entity.TargetKindBook, "")
	require.NoError(t, err)

	_, err = f.manager.SubmitTurn(ctx, "u-1", entity.TierFree, s.ID, "问题")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQuotaExceeded))

	// 拒绝发生在落库之前，不产生孤儿用户轮
	turns, _ := f.turns.ListBySession(ctx, s.ID)
	assert.Empty(t, turns)
}

func TestSubmitTurnCancelKeepsUserTurnAndSession(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"部分", "回复"}, blockAfter: 2}
	f := newFixture(gen, 10)

	s, err := f.manager.CreateSession(context.Background(), "u-1", "book-1", entity.TargetKindBook, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := f.manager.SubmitTurn(ctx, "u-1", entity.TierFree, s.ID, "问题")
	require.NoError(t, err)

	var deltas []string
	var outcome *TurnOutcome
	timeout := time.After(5 * time.Second)
loop:
	for {
		select {
		case ev, ok := <-stream.Events:
			if !ok {
				break loop
			}
			if ev.Delta != "" {
				deltas = append(deltas, ev.Delta)
				if len(deltas) == 2 {
					cancel()
				}
			}
			if ev.Done != nil {
				outcome = ev.Done
			}
			require.NoError(t, ev.Err)
		case <-timeout:
			t.Fatal("stream did not finish after cancel")
		}
	}
	cancel()

	require.NotNil(t, outcome)
	assert.True(t, outcome.Canceled)

	// 用户轮保留，部分回复落库并标记截断
	turns, _ := f.turns.ListBySession(context.Background(), s.ID)
	require.Len(t, turns, 2)
	assert.Equal(t, entity.TurnRoleUser, turns[0].Role)
	assert.True(t, turns[1].Truncated)

	// 会话保持可用，预扣的配额退回
	got, err := f.sessions.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStateActive, got.State)
	used, refunds := f.ledger.snapshot()
	assert.Equal(t, int64(0), used)
	assert.Equal(t, int64(1), refunds)
}

func TestSubmitTurnGenerationFailureRefunds(t *testing.T) {
	gen := &fakeGenerator{
		chunks: []string{"开头"}, blockAfter: -1,
		failAfter: 1, failErr: errors.New("upstream 500"),
	}
	f := newFixture(gen, 10)
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "u-1", "book-1", entity.TargetKindBook, "")
	require.NoError(t, err)

	stream, err := f.manager.SubmitTurn(ctx, "u-1", entity.TierFree, s.ID, "问题")
	require.NoError(t, err)

	_, outcome, streamErr := collectStream(t, stream)
	require.Error(t, streamErr)
	assert.True(t, apperrors.IsCode(streamErr, apperrors.CodeGenerationFailed))
	assert.Nil(t, outcome)

	// 生成失败退回配额，用户轮保留
	used, refunds := f.ledger.snapshot()
	assert.Equal(t, int64(0), used)
	assert.Equal(t, int64(1), refunds)
	turns, _ := f.turns.ListBySession(ctx, s.ID)
	require.Len(t, turns, 1)
	assert.Equal(t, entity.TurnRoleUser, turns[0].Role)
}

func TestSubmitTurnStreamStartFailureRefunds(t *testing.T) {
	f := newFixture(&fakeGenerator{streamErr: errors.New("dial failed")}, 10)
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "u-1", "book-1", entity.TargetKindBook, "")
	require.NoError(t, err)

	_, err = f.manager.SubmitTurn(ctx, "u-1", entity.TierFree, s.ID, "问题")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeGenerationFailed))

	used, refunds := f.ledger.snapshot()
	assert.Equal(t, int64(0), used)
	assert.Equal(t, int64(1), refunds)
}

func TestSubmitTurnConcurrentRejectedAsBusy(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"慢回复"}, blockAfter: 1}
	f := newFixture(gen, 10)

	s, err := f.manager.CreateSession(context.Background(), "u-1", "book-1", entity.TargetKindBook, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := f.manager.SubmitTurn(ctx, "u-1", entity.TierFree, s.ID, "第一轮")
	require.NoError(t, err)

	// 等第一轮进入生成
	select {
	case <-stream.Events:
	case <-time.After(5 * time.Second):
		t.Fatal("first turn did not start streaming")
	}

	_, err = f.manager.SubmitTurn(context.Background(), "u-1", entity.TierFree, s.ID, "第二轮")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSessionBusy))

	cancel()
	for range stream.Events {
	}
}

func TestSubmitTurnReleasesSessionAfterFinish(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"回复"}, blockAfter: -1}
	f := newFixture(gen, 10)

	s, err := f.manager.CreateSession(context.Background(), "u-1", "book-1", entity.TargetKindBook, "")
	require.NoError(t, err)

	stream, err := f.manager.SubmitTurn(context.Background(), "u-1", entity.TierFree, s.ID, "问题")
	require.NoError(t, err)
	_, outcome, streamErr := collectStream(t, stream)
	require.NoError(t, streamErr)
	require.NotNil(t, outcome)

	// 收尾后占用表即清空，不随历史会话累积
	f.manager.mu.Lock()
	n := len(f.manager.inflight)
	f.manager.mu.Unlock()
	assert.Zero(t, n)

	// 下一轮立即可以提交
	stream, err = f.manager.SubmitTurn(context.Background(), "u-1", entity.TierFree, s.ID, "再问")
	require.NoError(t, err)
	collectStream(t, stream)
}

func TestSubmitTurnOnEndedSession(t *testing.T) {
	f := newFixture(&fakeGenerator{}, 10)
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "u-1", "book-1", entity.TargetKindBook, "")
	require.NoError(t, err)
	_, err = f.manager.EndSession(ctx, "u-1", s.ID)
	require.NoError(t, err)

	_, err = f.manager.SubmitTurn(ctx, "u-1", entity.TierFree, s.ID, "问题")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSessionClosed))
}

func TestSubmitTurnIdleSessionClosedLazily(t *testing.T) {
	f := newFixture(&fakeGenerator{}, 10)
	ctx := context.Background()

	current := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	f.manager.WithClock(func() time.Time { return current })

	s, err := f.manager.CreateSession(ctx, "u-1", "book-1", entity.TargetKindBook, "")
	require.NoError(t, err)

	// 超过空闲超时后提交被拒绝，会话被就地关闭
	current = current.Add(31 * time.Minute)
	_, err = f.manager.SubmitTurn(ctx, "u-1", entity.TierFree, s.ID, "问题")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSessionClosed))

	got, err := f.sessions.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStateEnded, got.State)
	assert.Equal(t, entity.EndReasonIdle, got.EndReason)
}

func TestEndSessionIdempotent(t *testing.T) {
	f := newFixture(&fakeGenerator{}, 10)
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "u-1", "book-1", entity.TargetKindBook, "")
	require.NoError(t, err)

	first, err := f.manager.EndSession(ctx, "u-1", s.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStateEnded, first.State)

	second, err := f.manager.EndSession(ctx, "u-1", s.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStateEnded, second.State)
}

func TestSessionOwnershipEnforced(t *testing.T) {
	f := newFixture(&fakeGenerator{}, 10)
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "u-1", "book-1", entity.TargetKindBook, "")
	require.NoError(t, err)

	// 他人会话一律按不存在处理
	_, err = f.manager.EndSession(ctx, "u-2", s.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSessionNotFound))
	_, _, err = f.manager.GetSession(ctx, "u-2", s.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSessionNotFound))
	_, err = f.manager.SubmitTurn(ctx, "u-2", entity.TierFree, s.ID, "问题")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSessionNotFound))
}
