package quota

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"book-dialogue-api/internal/config"
	"book-dialogue-api/internal/domain/entity"
	apperrors "book-dialogue-api/pkg/errors"
)

// memoryQuotaRepo 进程内配额存储，配合账本的用户级互斥实现可串行化
type memoryQuotaRepo struct {
	mu      sync.Mutex
	records map[string]*entity.QuotaRecord
}

func newMemoryQuotaRepo() *memoryQuotaRepo {
	return &memoryQuotaRepo{records: make(map[string]*entity.QuotaRecord)}
}

func (m *memoryQuotaRepo) Get(ctx context.Context, userID string) (*entity.QuotaRecord, error) {
	return m.GetForUpdate(ctx, userID)
}

func (m *memoryQuotaRepo) GetForUpdate(ctx context.Context, userID string) (*entity.QuotaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[userID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *memoryQuotaRepo) Create(ctx context.Context, record *entity.QuotaRecord) error {
	return m.Save(ctx, record)
}

func (m *memoryQuotaRepo) Save(ctx context.Context, record *entity.QuotaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.records[record.UserID] = &clone
	return nil
}

func (m *memoryQuotaRepo) AddExtraQuota(ctx context.Context, userID string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[userID]; ok {
		r.ExtraQuota += delta
	}
	return nil
}

// noopTransactor 测试用事务器，直接执行闭包
type noopTransactor struct{}

func (noopTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func testQuotaConfig() config.QuotaConfig {
	return config.QuotaConfig{
		Tiers: map[string]config.TierConfig{
			"free":    {Allowance: 5, Period: "daily"},
			"plus":    {Allowance: 100, Period: "daily"},
			"premium": {Allowance: 1000, Period: "monthly"},
		},
	}
}

func newTestLedger(repo *memoryQuotaRepo) *Ledger {
	return NewLedger(repo, noopTransactor{}, testQuotaConfig())
}

func TestLedgerConsumeUntilExhausted(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(newMemoryQuotaRepo())

	for i := 0; i < 5; i++ {
		require.NoError(t, ledger.TryConsume(ctx, "u-1", entity.TierFree, 1))
	}

	err := ledger.TryConsume(ctx, "u-1", entity.TierFree, 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQuotaExceeded))

	record, err := ledger.Current(ctx, "u-1", entity.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(5), record.Used)
	assert.Equal(t, int64(0), record.Remaining())
}

func TestLedgerConcurrentConsumeNeverOverdrafts(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryQuotaRepo()
	ledger := newTestLedger(repo)

	const workers = 50
	var wg sync.WaitGroup
	var granted, denied sync.Map
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := ledger.TryConsume(ctx, "u-1", entity.TierFree, 1); err == nil {
				granted.Store(i, struct{}{})
			} else {
				denied.Store(i, struct{}{})
			}
		}(i)
	}
	wg.Wait()

	grantedCount := 0
	granted.Range(func(_, _ any) bool { grantedCount++; return true })

	// 恰好放行额度数量的请求，其余全部拒绝
	assert.Equal(t, 5, grantedCount)

	record, err := ledger.Current(ctx, "u-1", entity.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(5), record.Used)
	assert.GreaterOrEqual(t, record.Remaining(), int64(0))
}

func TestLedgerRefundRestoresQuota(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(newMemoryQuotaRepo())

	require.NoError(t, ledger.TryConsume(ctx, "u-1", entity.TierFree, 3))
	require.NoError(t, ledger.Refund(ctx, "u-1", 1))

	record, err := ledger.Current(ctx, "u-1", entity.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.Used)
	assert.Equal(t, int64(3), record.Remaining())
}

func TestLedgerRefundNeverBelowZero(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(newMemoryQuotaRepo())

	require.NoError(t, ledger.TryConsume(ctx, "u-1", entity.TierFree, 1))
	require.NoError(t, ledger.Refund(ctx, "u-1", 10))

	record, err := ledger.Current(ctx, "u-1", entity.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(0), record.Used)
}

func TestLedgerRolloverResetsUsageAndExtra(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryQuotaRepo()
	ledger := newTestLedger(repo)

	current := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	ledger.WithClock(func() time.Time { return current })

	require.NoError(t, ledger.TryConsume(ctx, "u-1", entity.TierFree, 5))
	require.NoError(t, ledger.GrantExtra(ctx, "u-1", 3))

	// 附加额度抬高当期上限
	require.NoError(t, ledger.TryConsume(ctx, "u-1", entity.TierFree, 2))
	err := ledger.TryConsume(ctx, "u-1", entity.TierFree, 2)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQuotaExceeded))

	// 跨过周期边界：用量清零，附加额度不结转
	current = time.Date(2026, 8, 29, 0, 0, 1, 0, time.UTC)
	record, err := ledger.Current(ctx, "u-1", entity.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(0), record.Used)
	assert.Equal(t, int64(0), record.ExtraQuota)
	assert.Equal(t, int64(5), record.Remaining())

	require.NoError(t, ledger.TryConsume(ctx, "u-1", entity.TierFree, 1))
}

func TestLedgerRefundAfterRolloverIsDiscarded(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(newMemoryQuotaRepo())

	current := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	ledger.WithClock(func() time.Time { return current })

	require.NoError(t, ledger.TryConsume(ctx, "u-1", entity.TierFree, 2))

	current = time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.Refund(ctx, "u-1", 2))

	record, err := ledger.Current(ctx, "u-1", entity.TierFree)
	require.NoError(t, err)
	// 新周期从零开始，旧周期的退款不生效
	assert.Equal(t, int64(0), record.Used)
}

func TestLedgerMonthlyTierResetBoundary(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(newMemoryQuotaRepo())

	current := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	ledger.WithClock(func() time.Time { return current })

	require.NoError(t, ledger.TryConsume(ctx, "u-premium", entity.TierPremium, 1))

	record, err := ledger.Current(ctx, "u-premium", entity.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), record.ResetAt)
}

func TestLedgerTierUpgradeRaisesAllowance(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(newMemoryQuotaRepo())

	require.NoError(t, ledger.TryConsume(ctx, "u-1", entity.TierFree, 5))
	err := ledger.TryConsume(ctx, "u-1", entity.TierFree, 1)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQuotaExceeded))

	// 升级后基础额度按新层级生效，已用量保留
	require.NoError(t, ledger.TryConsume(ctx, "u-1", entity.TierPlus, 1))

	record, err := ledger.Current(ctx, "u-1", entity.TierPlus)
	require.NoError(t, err)
	assert.Equal(t, entity.TierPlus, record.Tier)
	assert.Equal(t, int64(6), record.Used)
}

func TestLedgerUserLocksEvictedWhenIdle(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(newMemoryQuotaRepo())

	for i := 0; i < 20; i++ {
		userID := fmt.Sprintf("u-%d", i)
		require.NoError(t, ledger.TryConsume(ctx, userID, entity.TierFree, 1))
		require.NoError(t, ledger.Refund(ctx, userID, 1))
	}

	// 锁表不随历史用户数增长
	ledger.locks.mu.Lock()
	n := len(ledger.locks.entries)
	ledger.locks.mu.Unlock()
	assert.Zero(t, n)
}

func TestKeyedMutexSerializesAndEvicts(t *testing.T) {
	km := newKeyedMutex()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("u-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	km.mu.Lock()
	n := len(km.entries)
	km.mu.Unlock()
	assert.Zero(t, n)
}
