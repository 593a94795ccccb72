package dto

import (
	"time"

	"book-dialogue-api/internal/domain/entity"
)

// QuotaResponse 配额状态响应
type QuotaResponse struct {
	Tier       string    `json:"tier"`
	Allowance  int64     `json:"allowance"`
	ExtraQuota int64     `json:"extra_quota"`
	Used       int64     `json:"used"`
	Remaining  int64     `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
}

// GrantExtraRequest 发放附加额度请求
type GrantExtraRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Units  int64  `json:"units" binding:"required,gt=0"`
}

// NewQuotaResponse 把配额账目转换为响应结构
func NewQuotaResponse(q *entity.QuotaRecord) QuotaResponse {
	return QuotaResponse{
		Tier:       string(q.Tier),
		Allowance:  q.Allowance,
		ExtraQuota: q.ExtraQuota,
		Used:       q.Used,
		Remaining:  q.Remaining(),
		ResetAt:    q.ResetAt,
	}
}
