package entity

import "time"

// Tier 会员层级
type Tier string

const (
	TierFree    Tier = "free"
	TierPlus    Tier = "plus"
	TierPremium Tier = "premium"
)

// QuotaRecord 用户配额账目。
// Allowance 为周期内基础额度，ExtraQuota 为运营发放的附加额度，
// Used 只增不减（退款除外），不允许透支。
type QuotaRecord struct {
	UserID      string    `json:"user_id" gorm:"type:uuid;primaryKey"`
	Tier        Tier      `json:"tier" gorm:"type:varchar(16);not null;default:'free'"`
	Allowance   int64     `json:"allowance" gorm:"not null"`
	ExtraQuota  int64     `json:"extra_quota" gorm:"default:0"`
	Used        int64     `json:"used" gorm:"default:0"`
	PeriodStart time.Time `json:"period_start" gorm:"not null"`
	ResetAt     time.Time `json:"reset_at" gorm:"index;not null"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (QuotaRecord) TableName() string {
	return "quota_records"
}

// Total 当前周期总额度
func (q *QuotaRecord) Total() int64 {
	return q.Allowance + q.ExtraQuota
}

// Remaining 剩余额度
func (q *QuotaRecord) Remaining() int64 {
	r := q.Total() - q.Used
	if r < 0 {
		return 0
	}
	return r
}

// RolloverDue 是否需要滚动到新周期
func (q *QuotaRecord) RolloverDue(now time.Time) bool {
	return !now.Before(q.ResetAt)
}

// Rollover 滚动到新周期：清零用量与附加额度，推进周期边界。
// 附加额度不跨周期结转。
func (q *QuotaRecord) Rollover(now time.Time, nextReset time.Time) {
	q.Used = 0
	q.ExtraQuota = 0
	q.PeriodStart = now
	q.ResetAt = nextReset
	q.UpdatedAt = now
}
