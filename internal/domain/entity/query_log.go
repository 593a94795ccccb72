package entity

import "time"

// QueryLog 检索查询日志，经消息队列异步落库，用于排序调优
type QueryLog struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID      string    `json:"user_id" gorm:"type:varchar(64);index"`
	Query       string    `json:"query" gorm:"type:text;not null"`
	Category    string    `json:"category" gorm:"type:varchar(64)"`
	ResultCount int       `json:"result_count"`
	TopBookID   string    `json:"top_book_id" gorm:"type:varchar(64)"`
	TopScore    float64   `json:"top_score"`
	CacheHit    bool      `json:"cache_hit"`
	LatencyMS   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

func (QueryLog) TableName() string {
	return "query_logs"
}

// SearchFeedback 检索结果反馈（点击/点踩），用于离线调权
type SearchFeedback struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID    string    `json:"user_id" gorm:"type:varchar(64);index"`
	Query     string    `json:"query" gorm:"type:text;not null"`
	BookID    string    `json:"book_id" gorm:"type:uuid;index;not null"`
	Action    string    `json:"action" gorm:"type:varchar(16);not null"` // click | dismiss
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (SearchFeedback) TableName() string {
	return "search_feedbacks"
}
