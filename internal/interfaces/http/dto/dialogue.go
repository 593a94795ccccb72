package dto

import (
	"encoding/json"
	"time"

	"book-dialogue-api/internal/domain/entity"
)

// CreateSessionRequest 创建对话会话请求
type CreateSessionRequest struct {
	BookID      string `json:"book_id" binding:"required"`
	TargetKind  string `json:"target_kind" binding:"required,oneof=book character"`
	CharacterID string `json:"character_id"`
}

// SubmitTurnRequest 提交对话轮次请求
type SubmitTurnRequest struct {
	Input string `json:"input" binding:"required"`
}

// SessionResponse 会话响应
type SessionResponse struct {
	ID           string     `json:"id"`
	BookID       string     `json:"book_id"`
	TargetKind   string     `json:"target_kind"`
	CharacterID  string     `json:"character_id,omitempty"`
	State        string     `json:"state"`
	EndReason    string     `json:"end_reason,omitempty"`
	TurnCount    int        `json:"turn_count"`
	LastActiveAt time.Time  `json:"last_active_at"`
	CreatedAt    time.Time  `json:"created_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// TurnResponse 轮次响应
type TurnResponse struct {
	ID        string          `json:"id"`
	Seq       int             `json:"seq"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Citations json.RawMessage `json:"citations,omitempty"`
	TokenCost int             `json:"token_cost"`
	Truncated bool            `json:"truncated"`
	CreatedAt time.Time       `json:"created_at"`
}

// SessionDetailResponse 会话详情（含历史轮次）
type SessionDetailResponse struct {
	Session SessionResponse `json:"session"`
	Turns   []TurnResponse  `json:"turns"`
}

// NewSessionResponse 把会话实体转换为响应结构
func NewSessionResponse(s *entity.DialogueSession) SessionResponse {
	return SessionResponse{
		ID:           s.ID,
		BookID:       s.BookID,
		TargetKind:   string(s.TargetKind),
		CharacterID:  s.CharacterID,
		State:        string(s.State),
		EndReason:    string(s.EndReason),
		TurnCount:    s.TurnCount,
		LastActiveAt: s.LastActiveAt,
		CreatedAt:    s.CreatedAt,
		EndedAt:      s.EndedAt,
	}
}

// NewTurnResponses 把轮次实体批量转换为响应结构
func NewTurnResponses(turns []*entity.DialogueTurn) []TurnResponse {
	out := make([]TurnResponse, 0, len(turns))
	for _, t := range turns {
		out = append(out, TurnResponse{
			ID:        t.ID,
			Seq:       t.Seq,
			Role:      string(t.Role),
			Content:   t.Content,
			Citations: t.Citations,
			TokenCost: t.TokenCost,
			Truncated: t.Truncated,
			CreatedAt: t.CreatedAt,
		})
	}
	return out
}
