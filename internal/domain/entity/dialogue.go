package entity

import (
	"encoding/json"
	"time"
)

// TargetKind 对话目标类型
type TargetKind string

const (
	TargetKindBook      TargetKind = "book"
	TargetKindCharacter TargetKind = "character"
)

// SessionState 会话状态
type SessionState string

const (
	SessionStateCreated SessionState = "created"
	SessionStateActive  SessionState = "active"
	SessionStateEnded   SessionState = "ended"
)

// TurnRole 轮次角色
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// EndReason 会话终止原因
type EndReason string

const (
	EndReasonUser EndReason = "user"
	EndReasonIdle EndReason = "idle"
)

// DialogueSession 对话会话，绑定用户与对话目标（整本书或某个角色）
type DialogueSession struct {
	ID           string       `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID       string       `json:"user_id" gorm:"type:uuid;index;not null"`
	BookID       string       `json:"book_id" gorm:"type:uuid;index;not null"`
	TargetKind   TargetKind   `json:"target_kind" gorm:"type:varchar(16);not null"`
	CharacterID  string       `json:"character_id,omitempty" gorm:"type:uuid"`
	State        SessionState `json:"state" gorm:"type:varchar(16);not null;default:'created'"`
	EndReason    EndReason    `json:"end_reason,omitempty" gorm:"type:varchar(16)"`
	TurnCount    int          `json:"turn_count" gorm:"default:0"`
	LastActiveAt time.Time    `json:"last_active_at" gorm:"index"`
	CreatedAt    time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
	EndedAt      *time.Time   `json:"ended_at,omitempty"`
}

func (DialogueSession) TableName() string {
	return "dialogue_sessions"
}

func NewDialogueSession(userID, bookID string, kind TargetKind, characterID string) *DialogueSession {
	now := time.Now()
	return &DialogueSession{
		UserID:       userID,
		BookID:       bookID,
		TargetKind:   kind,
		CharacterID:  characterID,
		State:        SessionStateCreated,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// AcceptsTurns 会话是否还能接收新轮次
func (s *DialogueSession) AcceptsTurns() bool {
	return s.State == SessionStateCreated || s.State == SessionStateActive
}

// IdleExpired 会话是否已超过空闲超时
func (s *DialogueSession) IdleExpired(timeout time.Duration, now time.Time) bool {
	if !s.AcceptsTurns() {
		return false
	}
	return now.Sub(s.LastActiveAt) > timeout
}

// End 结束会话并记录原因，重复调用无副作用
func (s *DialogueSession) End(reason EndReason, at time.Time) {
	if s.State == SessionStateEnded {
		return
	}
	s.State = SessionStateEnded
	s.EndReason = reason
	s.EndedAt = &at
	s.UpdatedAt = at
}

// Touch 刷新活跃时间，首轮成功后进入 active 状态
func (s *DialogueSession) Touch(at time.Time) {
	s.State = SessionStateActive
	s.LastActiveAt = at
	s.UpdatedAt = at
}

// DialogueTurn 对话轮次。同一会话内 Seq 严格递增，
// 用户轮与其对应的助手轮各占一个序号。
type DialogueTurn struct {
	ID        string          `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID string          `json:"session_id" gorm:"type:uuid;index;not null"`
	Seq       int             `json:"seq" gorm:"not null;uniqueIndex:idx_session_seq,composite:session_id"`
	Role      TurnRole        `json:"role" gorm:"type:varchar(16);not null"`
	Content   string          `json:"content" gorm:"type:text;not null"`
	Citations json.RawMessage `json:"citations,omitempty" gorm:"type:jsonb"`
	TokenCost int             `json:"token_cost" gorm:"default:0"`
	Truncated bool            `json:"truncated" gorm:"default:false"`
	CreatedAt time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

func (DialogueTurn) TableName() string {
	return "dialogue_turns"
}

func NewDialogueTurn(sessionID string, seq int, role TurnRole, content string) *DialogueTurn {
	return &DialogueTurn{
		SessionID: sessionID,
		Seq:       seq,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}
