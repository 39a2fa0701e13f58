package referral

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"ledger-core-service/internal/domain"
	"ledger-core-service/pkg/id"
	"ledger-core-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReferralRepo struct {
	mu          sync.Mutex
	edges       map[string]string // userID -> referrerID
	commissions map[string]*domain.CommissionRecord
}

func newFakeReferralRepo() *fakeReferralRepo {
	return &fakeReferralRepo{
		edges:       map[string]string{},
		commissions: map[string]*domain.CommissionRecord{},
	}
}

func commissionKey(referredID string, level int, refID string) string {
	return fmt.Sprintf("%s|%d|%s", referredID, level, refID)
}

func (r *fakeReferralRepo) GetReferrer(ctx context.Context, userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.edges[userID]
	if !ok {
		return "", xerrors.ErrNotFound
	}
	return ref, nil
}

func (r *fakeReferralRepo) CreateEdge(ctx context.Context, userID, referrerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges[userID] = referrerID
	return nil
}

func (r *fakeReferralRepo) InsertCommission(ctx context.Context, rec *domain.CommissionRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := commissionKey(rec.ReferredID, rec.Level, rec.RefID)
	if _, ok := r.commissions[key]; ok {
		return false, nil
	}
	cp := *rec
	r.commissions[key] = &cp
	return true, nil
}

func (r *fakeReferralRepo) DeleteCommission(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, rec := range r.commissions {
		if rec.ID == id {
			delete(r.commissions, key)
			return nil
		}
	}
	return nil
}

func (r *fakeReferralRepo) GetCommission(ctx context.Context, referredID string, level int, refID string) (*domain.CommissionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.commissions[commissionKey(referredID, level, refID)]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeReferralRepo) ListCommissionsByReferrer(ctx context.Context, referrerID string, limit, offset int) ([]*domain.CommissionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.CommissionRecord
	for _, rec := range r.commissions {
		if rec.ReferrerID == referrerID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeReferralRepo) SumEarningsByReferrer(ctx context.Context, referrerID string) ([]domain.EarningsBucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKey := map[string]*domain.EarningsBucket{}
	for _, rec := range r.commissions {
		if rec.ReferrerID != referrerID {
			continue
		}
		key := fmt.Sprintf("%s|%d", rec.Currency, rec.Level)
		b, ok := byKey[key]
		if !ok {
			b = &domain.EarningsBucket{Currency: rec.Currency, Level: rec.Level}
			byKey[key] = b
		}
		b.Amount += rec.Amount
		b.Records++
	}
	var out []domain.EarningsBucket
	for _, b := range byKey {
		out = append(out, *b)
	}
	return out, nil
}

// fakeCrediter records engine credits and can be told to fail for one user.
type fakeCrediter struct {
	mu      sync.Mutex
	credits map[string]float64
	failFor string
}

func newFakeCrediter() *fakeCrediter {
	return &fakeCrediter{credits: map[string]float64{}}
}

func (c *fakeCrediter) CreditWithMeta(ctx context.Context, userID, currency string, amount float64, txType, refID string, meta map[string]interface{}) (*domain.BalanceChange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if userID == c.failFor {
		return nil, errors.New("engine unavailable")
	}
	c.credits[userID] += amount
	return &domain.BalanceChange{
		UserID: userID, Currency: currency, Amount: amount,
		TxType: txType, RefID: refID,
	}, nil
}

func newTestReferralService(t *testing.T, cfg Config) (*Service, *fakeReferralRepo, *fakeCrediter) {
	t.Helper()
	repo := newFakeReferralRepo()
	crediter := newFakeCrediter()
	sf, err := id.NewSnowflake(1)
	require.NoError(t, err)
	svc := New(repo, crediter, cfg, nil, nil, id.NewGenerator(sf), zap.NewNop())
	return svc, repo, crediter
}

func seedChain(t *testing.T, svc *Service, pairs ...[2]string) {
	t.Helper()
	for _, p := range pairs {
		require.NoError(t, svc.RegisterEdge(context.Background(), p[0], p[1]))
	}
}

func TestGetReferralChainNearestFirst(t *testing.T) {
	svc, _, _ := newTestReferralService(t, DefaultConfig())
	// dave <- carol <- bob <- alice
	seedChain(t, svc, [2]string{"dave", "carol"}, [2]string{"carol", "bob"}, [2]string{"bob", "alice"})

	chain, err := svc.GetReferralChain(context.Background(), "dave", 0)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, domain.ChainMember{UserID: "carol", Level: 1}, chain[0])
	assert.Equal(t, domain.ChainMember{UserID: "bob", Level: 2}, chain[1])
	assert.Equal(t, domain.ChainMember{UserID: "alice", Level: 3}, chain[2])
}

func TestGetReferralChainStopsAtRoot(t *testing.T) {
	svc, _, _ := newTestReferralService(t, DefaultConfig())
	seedChain(t, svc, [2]string{"bob", "alice"})

	chain, err := svc.GetReferralChain(context.Background(), "bob", 0)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "alice", chain[0].UserID)

	chain, err = svc.GetReferralChain(context.Background(), "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, chain, "rootless account has no ancestors")
}

func TestGetReferralChainBreaksCycles(t *testing.T) {
	svc, _, _ := newTestReferralService(t, DefaultConfig())
	// corrupt data: bob <- alice <- bob
	seedChain(t, svc, [2]string{"bob", "alice"}, [2]string{"alice", "bob"})

	chain, err := svc.GetReferralChain(context.Background(), "bob", 0)
	require.NoError(t, err)
	require.Len(t, chain, 1, "walk must stop when it would revisit the origin")
	assert.Equal(t, "alice", chain[0].UserID)
}

func TestCalculateCommissionSchedule(t *testing.T) {
	svc, _, _ := newTestReferralService(t, DefaultConfig())
	seedChain(t, svc, [2]string{"dave", "carol"}, [2]string{"carol", "bob"}, [2]string{"bob", "alice"})

	shares, err := svc.CalculateCommission(context.Background(), "dave", 100, "USDT")
	require.NoError(t, err)
	require.Len(t, shares, 3)
	assert.Equal(t, 20.0, shares[0].Amount)
	assert.Equal(t, 5.0, shares[1].Amount)
	assert.Equal(t, 2.0, shares[2].Amount)
}

func TestCalculateCommissionClampsToFee(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LevelRates = []decimal.Decimal{
		decimal.NewFromFloat(0.80),
		decimal.NewFromFloat(0.50),
		decimal.NewFromFloat(0.50),
	}
	svc, _, _ := newTestReferralService(t, cfg)
	seedChain(t, svc, [2]string{"dave", "carol"}, [2]string{"carol", "bob"}, [2]string{"bob", "alice"})

	shares, err := svc.CalculateCommission(context.Background(), "dave", 100, "USDT")
	require.NoError(t, err)

	total := 0.0
	for _, s := range shares {
		total += s.Amount
	}
	assert.LessOrEqual(t, total, 100.0, "shares must never exceed the fee")
	assert.Equal(t, 80.0, shares[0].Amount)
	assert.Equal(t, 20.0, shares[1].Amount, "second share clamps to what remains")
}

func TestCalculateCommissionNoReferrer(t *testing.T) {
	svc, _, _ := newTestReferralService(t, DefaultConfig())

	shares, err := svc.CalculateCommission(context.Background(), "orphan", 100, "USDT")
	require.NoError(t, err)
	assert.Empty(t, shares)
}

func TestCalculateCommissionSingleMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeSingle
	svc, _, _ := newTestReferralService(t, cfg)
	svc.SetTierResolver(func(ctx context.Context, userID string) string {
		if userID == "alice" {
			return "vip"
		}
		return "standard"
	})
	seedChain(t, svc, [2]string{"bob", "alice"}, [2]string{"alice", "root"})

	shares, err := svc.CalculateCommission(context.Background(), "bob", 100, "USDT")
	require.NoError(t, err)
	require.Len(t, shares, 1, "single mode pays only the direct referrer")
	assert.Equal(t, "alice", shares[0].ReferrerID)
	assert.Equal(t, 25.0, shares[0].Amount)
}

func TestDistributeCommissionPaysEveryLevel(t *testing.T) {
	svc, repo, crediter := newTestReferralService(t, DefaultConfig())
	seedChain(t, svc, [2]string{"dave", "carol"}, [2]string{"carol", "bob"}, [2]string{"bob", "alice"})

	result, err := svc.DistributeCommission(context.Background(), "dave", 100, "USDT", "trade-1")
	require.NoError(t, err)
	require.Len(t, result.Paid, 3)
	assert.Empty(t, result.Failed)
	assert.InDelta(t, 27.0, result.TotalDistributed, 1e-9)
	assert.InDelta(t, 73.0, result.PlatformRemainder, 1e-9)

	assert.Equal(t, 20.0, crediter.credits["carol"])
	assert.Equal(t, 5.0, crediter.credits["bob"])
	assert.Equal(t, 2.0, crediter.credits["alice"])

	rec, err := repo.GetCommission(context.Background(), "dave", 1, "trade-1")
	require.NoError(t, err)
	assert.Equal(t, "carol", rec.ReferrerID)
	assert.Equal(t, "0.2", rec.Percent)
}

func TestDistributeCommissionPartialFailureContinues(t *testing.T) {
	svc, _, crediter := newTestReferralService(t, DefaultConfig())
	crediter.failFor = "bob" // level 2 engine credit fails
	seedChain(t, svc, [2]string{"dave", "carol"}, [2]string{"carol", "bob"}, [2]string{"bob", "alice"})

	result, err := svc.DistributeCommission(context.Background(), "dave", 100, "USDT", "trade-1")
	require.NoError(t, err)
	require.Len(t, result.Paid, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "bob", result.Failed[0].ReferrerID)
	assert.Equal(t, 2, result.Failed[0].Level)
	assert.InDelta(t, 22.0, result.TotalDistributed, 1e-9)
	assert.Equal(t, 2.0, crediter.credits["alice"], "level 3 still pays after level 2 fails")
}

func TestDistributeCommissionReplaySkipsPaidLevels(t *testing.T) {
	svc, _, crediter := newTestReferralService(t, DefaultConfig())
	seedChain(t, svc, [2]string{"dave", "carol"}, [2]string{"carol", "bob"})

	_, err := svc.DistributeCommission(context.Background(), "dave", 100, "USDT", "trade-1")
	require.NoError(t, err)

	replay, err := svc.DistributeCommission(context.Background(), "dave", 100, "USDT", "trade-1")
	require.NoError(t, err)
	assert.Empty(t, replay.Paid, "already-paid levels are skipped, not re-credited")
	assert.Empty(t, replay.Failed)
	assert.Equal(t, 20.0, crediter.credits["carol"], "no double payout on replay")
}

func TestConcurrentDistributionsPayEachLevelOnce(t *testing.T) {
	svc, _, crediter := newTestReferralService(t, DefaultConfig())
	seedChain(t, svc, [2]string{"dave", "carol"}, [2]string{"carol", "bob"})

	const attempts = 8
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.DistributeCommission(context.Background(), "dave", 100, "USDT", "trade-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20.0, crediter.credits["carol"], "racing distributions must credit level 1 exactly once")
	assert.Equal(t, 5.0, crediter.credits["bob"], "racing distributions must credit level 2 exactly once")
}

func TestDistributeCommissionLostClaimSkipsCredit(t *testing.T) {
	svc, repo, crediter := newTestReferralService(t, DefaultConfig())
	seedChain(t, svc, [2]string{"dave", "carol"})

	// another instance already holds the level 1 claim for this reference
	inserted, err := repo.InsertCommission(context.Background(), &domain.CommissionRecord{
		ID: "C1", ReferrerID: "carol", ReferredID: "dave",
		Level: 1, Percent: "0.2", Amount: 20, Currency: "USDT", RefID: "trade-1",
	})
	require.NoError(t, err)
	require.True(t, inserted)

	result, err := svc.DistributeCommission(context.Background(), "dave", 100, "USDT", "trade-1")
	require.NoError(t, err)
	assert.Empty(t, result.Paid)
	assert.Empty(t, result.Failed)
	assert.Zero(t, crediter.credits["carol"], "a lost claim must not credit")
}

func TestDistributeCommissionFailedCreditReleasesClaim(t *testing.T) {
	svc, repo, crediter := newTestReferralService(t, DefaultConfig())
	crediter.failFor = "carol"
	seedChain(t, svc, [2]string{"dave", "carol"})

	result, err := svc.DistributeCommission(context.Background(), "dave", 100, "USDT", "trade-1")
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)

	_, err = repo.GetCommission(context.Background(), "dave", 1, "trade-1")
	assert.ErrorIs(t, err, xerrors.ErrNotFound, "the claim must be released so a retry can pay")

	// retry after the engine recovers
	crediter.failFor = ""
	retry, err := svc.DistributeCommission(context.Background(), "dave", 100, "USDT", "trade-1")
	require.NoError(t, err)
	require.Len(t, retry.Paid, 1)
	assert.Equal(t, 20.0, crediter.credits["carol"])
}

func TestDistributeCommissionValidation(t *testing.T) {
	svc, _, _ := newTestReferralService(t, DefaultConfig())

	_, err := svc.DistributeCommission(context.Background(), "dave", 100, "USDT", "")
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
	_, err = svc.DistributeCommission(context.Background(), "dave", 0, "USDT", "trade-1")
	assert.ErrorIs(t, err, xerrors.ErrInvalidAmount)
}

func TestEarningsAggregation(t *testing.T) {
	svc, _, _ := newTestReferralService(t, DefaultConfig())
	seedChain(t, svc, [2]string{"dave", "carol"}, [2]string{"carol", "bob"})

	_, err := svc.DistributeCommission(context.Background(), "dave", 100, "USDT", "trade-1")
	require.NoError(t, err)
	_, err = svc.DistributeCommission(context.Background(), "dave", 50, "USDT", "trade-2")
	require.NoError(t, err)

	earnings, err := svc.Earnings(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, 2, earnings.Records)
	assert.InDelta(t, 30.0, earnings.Total["USDT"], 1e-9)
	assert.InDelta(t, 30.0, earnings.ByLevel[1], 1e-9)
}

func TestRegisterEdgeRejectsSelfReferral(t *testing.T) {
	svc, _, _ := newTestReferralService(t, DefaultConfig())

	err := svc.RegisterEdge(context.Background(), "alice", "alice")
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}
