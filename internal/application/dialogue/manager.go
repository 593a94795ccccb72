package dialogue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"book-dialogue-api/internal/config"
	"book-dialogue-api/internal/domain/entity"
	"book-dialogue-api/internal/domain/repository"
	apperrors "book-dialogue-api/pkg/errors"
	"book-dialogue-api/pkg/logger"
	"book-dialogue-api/pkg/metrics"
)

var tracer = otel.Tracer("application/dialogue")

// 每轮对话消耗的配额单位
const unitsPerTurn = 1

// QuotaLedger 配额账本接口，由 quota.Ledger 实现
type QuotaLedger interface {
	TryConsume(ctx context.Context, userID string, tier entity.Tier, units int64) error
	Refund(ctx context.Context, userID string, units int64) error
}

// ChunkRetriever 书内原文召回接口，用于为提示词注入引用片段
type ChunkRetriever interface {
	RetrieveChunks(ctx context.Context, bookID, query string, topK int) ([]Citation, error)
}

// Manager 对话会话管理器。
// 会话级互斥保证同一会话同时只有一轮在生成，
// 空闲超时在访问时惰性判定，不依赖后台清理任务。
type Manager struct {
	sessions   repository.DialogueSessionRepository
	turns      repository.DialogueTurnRepository
	books      repository.BookRepository
	characters repository.CharacterRepository
	quota      QuotaLedger
	generator  Generator
	retriever  ChunkRetriever
	window     *ContextWindow
	cfg        config.DialogueConfig
	now        func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{} // 生成中的会话，收尾时移除
}

func NewManager(
	sessions repository.DialogueSessionRepository,
	turns repository.DialogueTurnRepository,
	books repository.BookRepository,
	characters repository.CharacterRepository,
	quota QuotaLedger,
	generator Generator,
	retriever ChunkRetriever,
	cfg config.DialogueConfig,
) *Manager {
	return &Manager{
		sessions:   sessions,
		turns:      turns,
		books:      books,
		characters: characters,
		quota:      quota,
		generator:  generator,
		retriever:  retriever,
		window:     NewContextWindow(cfg.ContextTokenBudget),
		cfg:        cfg,
		now:        time.Now,
		inflight:   make(map[string]struct{}),
	}
}

// WithClock 替换时钟，仅用于测试
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// CreateSession 创建对话会话。目标书籍必须已发布，
// 角色对话时角色必须属于该书。
func (m *Manager) CreateSession(ctx context.Context, userID, bookID string, kind entity.TargetKind, characterID string) (*entity.DialogueSession, error) {
	ctx, span := tracer.Start(ctx, "dialogue.manager.create_session")
	defer span.End()

	book, err := m.books.GetByID(ctx, bookID)
	if err != nil {
		return nil, apperrors.ErrBookNotFound.WithError(err)
	}
	if !book.Discoverable() {
		return nil, apperrors.ErrBookNotFound.WithDetail("book is not published")
	}

	switch kind {
	case entity.TargetKindBook:
		characterID = ""
	case entity.TargetKindCharacter:
		ch, err := m.characters.GetByID(ctx, characterID)
		if err != nil {
			return nil, apperrors.ErrCharacterNotFound.WithError(err)
		}
		if ch.BookID != bookID {
			return nil, apperrors.ErrCharacterNotFound.WithDetail("character does not belong to this book")
		}
	default:
		return nil, apperrors.ErrInvalidParam.WithDetail("unknown target kind")
	}

	session := entity.NewDialogueSession(userID, bookID, kind, characterID)
	session.LastActiveAt = m.now()
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}

	logger.Info(ctx, "dialogue session created",
		"session_id", session.ID, "book_id", bookID, "target_kind", kind)
	return session, nil
}

// SubmitTurn 提交一轮用户输入并流式返回生成内容。
// 配额在生成开始前预扣，生成失败或中途取消时退回；
// 取消前已累计的部分回复照常落库。返回的事件流以 Done 或 Err 事件收尾。
func (m *Manager) SubmitTurn(ctx context.Context, userID string, tier entity.Tier, sessionID, input string) (*TurnStream, error) {
	ctx, span := tracer.Start(ctx, "dialogue.manager.submit_turn")
	defer span.End()
	span.SetAttributes(attribute.String("dialogue.session_id", sessionID))

	if input == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("input is empty")
	}

	session, err := m.loadOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.enforceLifecycle(ctx, session); err != nil {
		return nil, err
	}

	// 会话级互斥：同一会话同时只允许一轮在生成
	if !m.beginTurn(sessionID) {
		metrics.DialogueTurnsTotal.WithLabelValues("busy").Inc()
		return nil, apperrors.ErrSessionBusy
	}

	stream, err := m.runTurn(ctx, session, userID, tier, input)
	if err != nil {
		m.endTurn(sessionID)
		return nil, err
	}
	return stream, nil
}

// runTurn 预扣配额、落库用户轮并启动生成。会话占用由生成收尾时释放。
func (m *Manager) runTurn(ctx context.Context, session *entity.DialogueSession, userID string, tier entity.Tier, input string) (*TurnStream, error) {
	if err := m.quota.TryConsume(ctx, userID, tier, unitsPerTurn); err != nil {
		metrics.DialogueTurnsTotal.WithLabelValues("quota_denied").Inc()
		return nil, err
	}

	seq, err := m.turns.NextSeq(ctx, session.ID)
	if err != nil {
		m.refundQuietly(ctx, userID)
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}

	// 用户轮先落库：后续无论生成成败还是取消，这一轮都保留
	userTurn := entity.NewDialogueTurn(session.ID, seq, entity.TurnRoleUser, input)
	userTurn.TokenCost = EstimateTokens(input)
	if err := m.turns.Create(ctx, userTurn); err != nil {
		m.refundQuietly(ctx, userID)
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}

	history, err := m.turns.ListBySession(ctx, session.ID)
	if err != nil {
		m.refundQuietly(ctx, userID)
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}
	// 当前用户轮不作为历史重复注入
	if n := len(history); n > 0 && history[n-1].ID == userTurn.ID {
		history = history[:n-1]
	}

	book, err := m.books.GetByID(ctx, session.BookID)
	if err != nil {
		m.refundQuietly(ctx, userID)
		return nil, apperrors.ErrBookNotFound.WithError(err)
	}
	var character *entity.Character
	if session.TargetKind == entity.TargetKindCharacter && session.CharacterID != "" {
		if character, err = m.characters.GetByID(ctx, session.CharacterID); err != nil {
			m.refundQuietly(ctx, userID)
			return nil, apperrors.ErrCharacterNotFound.WithError(err)
		}
	}

	citations := m.retrieveCitations(ctx, session.BookID, input)
	systemPrompt := BuildSystemPrompt(book, character, citations)
	built := m.window.Build(systemPrompt, history, input)

	genCtx, cancel := context.WithTimeout(ctx, m.cfg.GenerationTimeout)
	gen, err := m.generator.Stream(genCtx, built.Messages)
	if err != nil {
		cancel()
		m.refundQuietly(ctx, userID)
		metrics.DialogueTurnsTotal.WithLabelValues("error").Inc()
		return nil, apperrors.ErrGenerationFailed.WithError(err)
	}

	start := m.now()
	metrics.ActiveSessions.Inc()

	finish := func(content string, canceled bool, genErr error) (*TurnOutcome, error) {
		defer m.endTurn(session.ID)
		defer cancel()
		defer metrics.ActiveSessions.Dec()

		// 收尾动作不能被请求取消打断
		fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer fcancel()

		if genErr != nil {
			m.refundQuietly(fctx, userID)
			metrics.DialogueTurnsTotal.WithLabelValues("error").Inc()
			logger.Error(fctx, "generation failed", genErr,
				"session_id", session.ID, "seq", seq)
			return nil, apperrors.ErrGenerationFailed.WithError(genErr)
		}

		outcome := &TurnOutcome{Canceled: canceled, Content: content}
		if content != "" {
			assistant := entity.NewDialogueTurn(session.ID, seq+1, entity.TurnRoleAssistant, content)
			assistant.TokenCost = EstimateTokens(content)
			assistant.Truncated = canceled
			if len(citations) > 0 {
				if raw, err := json.Marshal(citations); err == nil {
					assistant.Citations = raw
				}
			}
			if err := m.turns.Create(fctx, assistant); err != nil {
				logger.Error(fctx, "assistant turn persist failed", err,
					"session_id", session.ID, "seq", seq+1)
			} else {
				outcome.AssistantTurn = assistant
				session.TurnCount++
			}
		}

		firstTurn := session.State == entity.SessionStateCreated
		session.TurnCount++
		session.Touch(m.now())
		if err := m.sessions.Update(fctx, session); err != nil {
			logger.Error(fctx, "session update failed", err, "session_id", session.ID)
		}
		if firstTurn {
			if err := m.books.IncrDialogueCount(fctx, session.BookID); err != nil {
				logger.Warn(fctx, "dialogue count increment failed", "book_id", session.BookID, "error", err)
			}
		}

		if canceled {
			// 取消已向上游止损，预扣的配额退回
			m.refundQuietly(fctx, userID)
			metrics.DialogueTurnsTotal.WithLabelValues("canceled").Inc()
		} else {
			metrics.DialogueTurnsTotal.WithLabelValues("ok").Inc()
		}
		metrics.DialogueStreamDuration.Observe(m.now().Sub(start).Seconds())
		return outcome, nil
	}

	return deliver(ctx, gen, m.cfg.StreamBuffer, finish), nil
}

// EndSession 主动结束会话，幂等
func (m *Manager) EndSession(ctx context.Context, userID, sessionID string) (*entity.DialogueSession, error) {
	ctx, span := tracer.Start(ctx, "dialogue.manager.end_session")
	defer span.End()

	session, err := m.loadOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State == entity.SessionStateEnded {
		return session, nil
	}

	reason := entity.EndReasonUser
	if session.IdleExpired(m.cfg.IdleTimeout, m.now()) {
		reason = entity.EndReasonIdle
	}
	session.End(reason, m.now())
	if err := m.sessions.Update(ctx, session); err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}

	logger.Info(ctx, "dialogue session ended", "session_id", sessionID, "reason", reason)
	return session, nil
}

// GetSession 查询会话详情与全部轮次，访问时惰性判定空闲超时
func (m *Manager) GetSession(ctx context.Context, userID, sessionID string) (*entity.DialogueSession, []*entity.DialogueTurn, error) {
	ctx, span := tracer.Start(ctx, "dialogue.manager.get_session")
	defer span.End()

	session, err := m.loadOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.IdleExpired(m.cfg.IdleTimeout, m.now()) {
		session.End(entity.EndReasonIdle, m.now())
		if err := m.sessions.Update(ctx, session); err != nil {
			logger.Warn(ctx, "idle session close failed", "session_id", sessionID, "error", err)
		}
	}

	turns, err := m.turns.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, nil, apperrors.ErrDatabaseError.WithError(err)
	}
	return session, turns, nil
}

// ListSessions 分页查询用户的会话列表
func (m *Manager) ListSessions(ctx context.Context, userID string, p repository.Pagination) (*repository.PagedResult[*entity.DialogueSession], error) {
	result, err := m.sessions.ListByUser(ctx, userID, p)
	if err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}
	return result, nil
}

// loadOwnedSession 加载会话并校验归属，他人会话一律视为不存在
func (m *Manager) loadOwnedSession(ctx context.Context, userID, sessionID string) (*entity.DialogueSession, error) {
	session, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.ErrSessionNotFound.WithError(err)
	}
	if session.UserID != userID {
		return nil, apperrors.ErrSessionNotFound
	}
	return session, nil
}

// enforceLifecycle 拒绝已结束的会话，空闲超时的会话就地关闭
func (m *Manager) enforceLifecycle(ctx context.Context, session *entity.DialogueSession) error {
	if session.State == entity.SessionStateEnded {
		return apperrors.ErrSessionClosed
	}
	if session.IdleExpired(m.cfg.IdleTimeout, m.now()) {
		session.End(entity.EndReasonIdle, m.now())
		if err := m.sessions.Update(ctx, session); err != nil {
			logger.Warn(ctx, "idle session close failed", "session_id", session.ID, "error", err)
		}
		return apperrors.ErrSessionClosed.WithDetail("session expired after idle timeout")
	}
	return nil
}

// retrieveCitations 召回与输入相关的原文片段，失败只降级不报错
func (m *Manager) retrieveCitations(ctx context.Context, bookID, input string) []Citation {
	if m.retriever == nil {
		return nil
	}
	citations, err := m.retriever.RetrieveChunks(ctx, bookID, input, citationTopK)
	if err != nil {
		logger.Warn(ctx, "citation retrieval failed", "book_id", bookID, "error", err)
		return nil
	}
	return citations
}

// citationTopK 注入提示词的原文片段数量
const citationTopK = 4

// beginTurn 标记会话进入生成中；该会话已有一轮在生成时返回 false
func (m *Manager) beginTurn(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[sessionID]; busy {
		return false
	}
	m.inflight[sessionID] = struct{}{}
	return true
}

// endTurn 释放会话的生成占用
func (m *Manager) endTurn(sessionID string) {
	m.mu.Lock()
	delete(m.inflight, sessionID)
	m.mu.Unlock()
}

func (m *Manager) refundQuietly(ctx context.Context, userID string) {
	if err := m.quota.Refund(ctx, userID, unitsPerTurn); err != nil {
		logger.Warn(ctx, "quota refund failed", "user_id", userID, "error", err)
	}
}
