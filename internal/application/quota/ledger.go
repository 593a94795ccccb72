// Package quota 实现对话配额账本：预扣、退款与周期滚动
package quota

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"

	"book-dialogue-api/internal/config"
	"book-dialogue-api/internal/domain/entity"
	"book-dialogue-api/internal/domain/repository"
	apperrors "book-dialogue-api/pkg/errors"
	"book-dialogue-api/pkg/logger"
	"book-dialogue-api/pkg/metrics"
)

var tracer = otel.Tracer("application/quota")

// Ledger 配额账本。
// 每次扣减在行锁事务内完成，进程内再按用户串行化，
// 保证并发提交不会透支额度。
type Ledger struct {
	repo  repository.QuotaRepository
	tx    repository.Transactor
	cfg   config.QuotaConfig
	now   func() time.Time
	locks *keyedMutex
}

func NewLedger(repo repository.QuotaRepository, tx repository.Transactor, cfg config.QuotaConfig) *Ledger {
	return &Ledger{
		repo:  repo,
		tx:    tx,
		cfg:   cfg,
		now:   time.Now,
		locks: newKeyedMutex(),
	}
}

// WithClock 替换时钟，仅用于测试
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// TryConsume 预扣 units 个配额单位。
// 周期到期时先滚动再判定，余额不足返回 CodeQuotaExceeded，不允许透支。
func (l *Ledger) TryConsume(ctx context.Context, userID string, tier entity.Tier, units int64) error {
	ctx, span := tracer.Start(ctx, "quota.ledger.try_consume")
	defer span.End()

	if units <= 0 {
		return apperrors.ErrInvalidParam.WithDetail("units must be positive")
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	return l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		record, err := l.loadOrCreate(ctx, userID, tier)
		if err != nil {
			return err
		}

		now := l.now()
		if record.RolloverDue(now) {
			record.Rollover(now, l.nextReset(record.Tier, now))
			logger.Info(ctx, "quota period rolled over",
				"user_id", userID, "tier", record.Tier, "reset_at", record.ResetAt)
		}

		if record.Remaining() < units {
			metrics.QuotaDenialsTotal.WithLabelValues(string(record.Tier)).Inc()
			return apperrors.ErrQuotaExceeded.WithDetail("no remaining quota in current period")
		}

		record.Used += units
		record.UpdatedAt = now
		if err := l.repo.Save(ctx, record); err != nil {
			return apperrors.ErrDatabaseError.WithError(err)
		}
		return nil
	})
}

// Refund 退回 units 个配额单位，只在当前周期内生效。
// 退款对应生成失败的场景，幂等性由调用方保证。
func (l *Ledger) Refund(ctx context.Context, userID string, units int64) error {
	ctx, span := tracer.Start(ctx, "quota.ledger.refund")
	defer span.End()

	if units <= 0 {
		return apperrors.ErrInvalidParam.WithDetail("units must be positive")
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	return l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		record, err := l.repo.GetForUpdate(ctx, userID)
		if err != nil {
			return apperrors.ErrDatabaseError.WithError(err)
		}

		// 周期已滚动的退款直接丢弃，不污染新周期
		if record.RolloverDue(l.now()) {
			return nil
		}

		record.Used -= units
		if record.Used < 0 {
			record.Used = 0
		}
		record.UpdatedAt = l.now()
		if err := l.repo.Save(ctx, record); err != nil {
			return apperrors.ErrDatabaseError.WithError(err)
		}
		metrics.QuotaRefundsTotal.Inc()
		return nil
	})
}

// Current 返回用户当前周期的配额视图，必要时先滚动
func (l *Ledger) Current(ctx context.Context, userID string, tier entity.Tier) (*entity.QuotaRecord, error) {
	ctx, span := tracer.Start(ctx, "quota.ledger.current")
	defer span.End()

	unlock := l.locks.Lock(userID)
	defer unlock()

	var out *entity.QuotaRecord
	err := l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		record, err := l.loadOrCreate(ctx, userID, tier)
		if err != nil {
			return err
		}
		now := l.now()
		if record.RolloverDue(now) {
			record.Rollover(now, l.nextReset(record.Tier, now))
			if err := l.repo.Save(ctx, record); err != nil {
				return apperrors.ErrDatabaseError.WithError(err)
			}
		}
		out = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GrantExtra 为用户追加附加额度。附加额度只抬高当期上限，不跨周期结转。
func (l *Ledger) GrantExtra(ctx context.Context, userID string, delta int64) error {
	if delta <= 0 {
		return apperrors.ErrInvalidParam.WithDetail("delta must be positive")
	}
	if err := l.repo.AddExtraQuota(ctx, userID, delta); err != nil {
		return apperrors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// loadOrCreate 读取配额记录，不存在时按层级初始化
func (l *Ledger) loadOrCreate(ctx context.Context, userID string, tier entity.Tier) (*entity.QuotaRecord, error) {
	record, err := l.repo.GetForUpdate(ctx, userID)
	if err == nil {
		// 层级变化时按新层级调整基础额度
		if tier != "" && record.Tier != tier {
			record.Tier = tier
			record.Allowance = l.allowance(tier)
		}
		return record, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) && !apperrors.IsCode(err, apperrors.CodeNotFound) {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}

	now := l.now()
	record = &entity.QuotaRecord{
		UserID:      userID,
		Tier:        tier,
		Allowance:   l.allowance(tier),
		PeriodStart: now,
		ResetAt:     l.nextReset(tier, now),
		UpdatedAt:   now,
	}
	if err := l.repo.Create(ctx, record); err != nil {
		return nil, apperrors.ErrDatabaseError.WithError(err)
	}
	return record, nil
}

func (l *Ledger) allowance(tier entity.Tier) int64 {
	if tc, ok := l.cfg.Tiers[string(tier)]; ok {
		return tc.Allowance
	}
	return l.cfg.Tiers[string(entity.TierFree)].Allowance
}

// nextReset 计算下一个周期边界：daily 为次日零点，monthly 为下月一日零点（UTC）
func (l *Ledger) nextReset(tier entity.Tier, now time.Time) time.Time {
	period := "daily"
	if tc, ok := l.cfg.Tiers[string(tier)]; ok && tc.Period != "" {
		period = tc.Period
	}

	utc := now.UTC()
	switch period {
	case "monthly":
		return time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default:
		return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
}
