package referral

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledger-core-service/internal/domain"
	publisher "ledger-core-service/internal/pub"
	"ledger-core-service/internal/repository"
	"ledger-core-service/pkg/id"
	"ledger-core-service/pkg/xerrors"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// ModeMulti pays a configured percentage per chain level.
	ModeMulti = "multi"
	// ModeSingle pays only the direct referrer, at a tier-dependent rate.
	ModeSingle = "single"

	// DefaultMaxDepth bounds the chain walk even in multi mode.
	DefaultMaxDepth = 3

	earningsCacheTTL = time.Minute
)

// Config holds the commission schedule. Rates are fractions of the fee;
// whatever the schedule does not distribute is implicit platform revenue.
type Config struct {
	Mode       string
	LevelRates []decimal.Decimal          // multi mode; index 0 = level 1
	TierRates  map[string]decimal.Decimal // single mode, keyed by referrer tier
	MaxDepth   int
}

// DefaultConfig is the platform schedule: 20% / 5% / 2%.
func DefaultConfig() Config {
	return Config{
		Mode: ModeMulti,
		LevelRates: []decimal.Decimal{
			decimal.NewFromFloat(0.20),
			decimal.NewFromFloat(0.05),
			decimal.NewFromFloat(0.02),
		},
		TierRates: map[string]decimal.Decimal{
			"standard": decimal.NewFromFloat(0.10),
			"vip":      decimal.NewFromFloat(0.25),
		},
		MaxDepth: DefaultMaxDepth,
	}
}

// TierFunc resolves a referrer's tier in single-level mode.
type TierFunc func(ctx context.Context, userID string) string

// BalanceCrediter is the slice of the balance engine the distributor needs.
type BalanceCrediter interface {
	CreditWithMeta(ctx context.Context, userID, currency string, amount float64, txType, refID string, meta map[string]interface{}) (*domain.BalanceChange, error)
}

// Service walks an account's referral ancestry and pays multi-level
// commissions through the balance engine.
type Service struct {
	repo   repository.ReferralRepository
	engine BalanceCrediter
	cfg    Config
	tierOf TierFunc

	redisClient *redis.Client
	events      *publisher.LedgerEventPublisher
	ids         *id.Generator
	logger      *zap.Logger
}

func New(
	repo repository.ReferralRepository,
	engine BalanceCrediter,
	cfg Config,
	redisClient *redis.Client,
	events *publisher.LedgerEventPublisher,
	ids *id.Generator,
	logger *zap.Logger,
) *Service {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	return &Service{
		repo:        repo,
		engine:      engine,
		cfg:         cfg,
		tierOf:      func(ctx context.Context, userID string) string { return "standard" },
		redisClient: redisClient,
		events:      events,
		ids:         ids,
		logger:      logger,
	}
}

// SetTierResolver overrides the tier lookup for single-level mode.
func (s *Service) SetTierResolver(fn TierFunc) {
	if fn != nil {
		s.tierOf = fn
	}
}

// GetReferralChain walks the single-parent edge from the account, nearest
// ancestor first, stopping at maxDepth or a rootless account. The referral
// data is nominally a forest, but the walk keeps a visited set so corrupt
// edges cannot hang the call.
func (s *Service) GetReferralChain(ctx context.Context, userID string, maxDepth int) ([]domain.ChainMember, error) {
	if userID == "" {
		return nil, xerrors.ErrInvalidInput
	}
	if maxDepth <= 0 || maxDepth > s.cfg.MaxDepth {
		maxDepth = s.cfg.MaxDepth
	}

	visited := map[string]bool{userID: true}
	chain := make([]domain.ChainMember, 0, maxDepth)

	current := userID
	for level := 1; level <= maxDepth; level++ {
		referrer, err := s.repo.GetReferrer(ctx, current)
		if err != nil {
			if err == xerrors.ErrNotFound {
				break // rootless: top of the chain
			}
			return nil, fmt.Errorf("failed to walk referral chain: %w", err)
		}

		if visited[referrer] {
			s.logger.Warn("referral cycle detected, breaking walk",
				zap.String("user_id", userID),
				zap.String("at", referrer))
			break
		}
		visited[referrer] = true

		chain = append(chain, domain.ChainMember{UserID: referrer, Level: level})
		current = referrer
	}

	return chain, nil
}

// CalculateCommission maps each chain position to its configured percentage
// of the fee. The sum of shares never exceeds the fee: rounding is toward
// zero and the running total is clamped.
func (s *Service) CalculateCommission(ctx context.Context, payerID string, feeAmount float64, currency string) ([]domain.CommissionShare, error) {
	if payerID == "" || currency == "" {
		return nil, xerrors.ErrInvalidInput
	}
	if feeAmount <= 0 {
		return nil, xerrors.ErrInvalidAmount
	}

	depth := s.cfg.MaxDepth
	if s.cfg.Mode == ModeSingle {
		depth = 1
	}

	chain, err := s.GetReferralChain(ctx, payerID, depth)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, nil
	}

	fee := decimal.NewFromFloat(feeAmount)
	remaining := fee
	var shares []domain.CommissionShare

	for _, member := range chain {
		rate, ok := s.rateForLevel(ctx, member)
		if !ok || rate.IsZero() {
			continue
		}

		amount := fee.Mul(rate).RoundDown(8)
		if amount.GreaterThan(remaining) {
			amount = remaining
		}
		if !amount.IsPositive() {
			break
		}
		remaining = remaining.Sub(amount)

		shares = append(shares, domain.CommissionShare{
			ReferrerID: member.UserID,
			Level:      member.Level,
			Percent:    rate,
			Amount:     amount.InexactFloat64(),
			Currency:   currency,
		})
	}

	return shares, nil
}

func (s *Service) rateForLevel(ctx context.Context, member domain.ChainMember) (decimal.Decimal, bool) {
	if s.cfg.Mode == ModeSingle {
		if member.Level != 1 {
			return decimal.Zero, false
		}
		tier := s.tierOf(ctx, member.UserID)
		rate, ok := s.cfg.TierRates[tier]
		if !ok {
			rate, ok = s.cfg.TierRates["standard"]
		}
		return rate, ok
	}

	idx := member.Level - 1
	if idx < 0 || idx >= len(s.cfg.LevelRates) {
		return decimal.Zero, false
	}
	return s.cfg.LevelRates[idx], true
}

// DistributeCommission pays each ancestor its share and persists one
// commission record per ancestor. A failure at one level is recorded and the
// walk continues — it never blocks or unwinds the other levels.
func (s *Service) DistributeCommission(ctx context.Context, payerID string, feeAmount float64, currency, refID string) (*domain.DistributionResult, error) {
	if refID == "" {
		return nil, xerrors.ErrInvalidInput
	}

	shares, err := s.CalculateCommission(ctx, payerID, feeAmount, currency)
	if err != nil {
		return nil, err
	}

	result := &domain.DistributionResult{
		PayerID:   payerID,
		Currency:  currency,
		FeeAmount: feeAmount,
		RefID:     refID,
		CreatedAt: time.Now(),
	}

	for _, share := range shares {
		rec, err := s.payShare(ctx, payerID, currency, refID, share)
		if err != nil {
			s.logger.Error("commission payout failed",
				zap.String("payer_id", payerID),
				zap.String("referrer_id", share.ReferrerID),
				zap.Int("level", share.Level),
				zap.String("ref_id", refID),
				zap.Error(err))
			result.Failed = append(result.Failed, domain.CommissionFailure{
				ReferrerID: share.ReferrerID,
				Level:      share.Level,
				Amount:     share.Amount,
				Error:      err.Error(),
			})
			continue
		}
		if rec != nil {
			result.Paid = append(result.Paid, rec)
			result.TotalDistributed += rec.Amount
		}
	}

	result.PlatformRemainder = feeAmount - result.TotalDistributed

	s.invalidateEarningsCaches(ctx, result.Paid)
	if s.events != nil {
		s.events.PublishCommissionEvent(ctx, payerID, currency, refID,
			result.TotalDistributed, len(result.Paid), len(result.Failed))
	}

	return result, nil
}

// payShare pays one ancestor. The commission record is inserted FIRST as the
// payment claim: its unique (payer, level, ref_id) key means that of any
// number of replays or racing distributions exactly one wins the insert and
// credits. A lost insert is a clean skip; a failed credit deletes the claim
// so a later retry can pay the level.
func (s *Service) payShare(ctx context.Context, payerID, currency, refID string, share domain.CommissionShare) (*domain.CommissionRecord, error) {
	rec := &domain.CommissionRecord{
		ID:         s.ids.NewULID(),
		ReferrerID: share.ReferrerID,
		ReferredID: payerID,
		Level:      share.Level,
		Percent:    share.Percent.String(),
		Amount:     share.Amount,
		Currency:   currency,
		RefID:      refID,
	}

	inserted, err := s.repo.InsertCommission(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to record commission claim: %w", err)
	}
	if !inserted {
		return nil, nil // another attempt holds the claim for this level
	}

	meta := map[string]interface{}{
		"level":    share.Level,
		"payer_id": payerID,
		"ref_id":   refID,
	}
	if _, err := s.engine.CreditWithMeta(ctx, share.ReferrerID, currency, share.Amount,
		domain.TxTypeReferralCommission, refID, meta); err != nil {
		if delErr := s.repo.DeleteCommission(ctx, rec.ID); delErr != nil {
			// claim row stuck without a matching credit: reconciliation
			// against the audit trail has to resolve it
			s.logger.Error("failed to release commission claim after credit failure",
				zap.String("record_id", rec.ID),
				zap.String("referrer_id", share.ReferrerID),
				zap.Int("level", share.Level),
				zap.String("ref_id", refID),
				zap.NamedError("credit_error", err),
				zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to credit referrer: %w", err)
	}

	return rec, nil
}

// ===============================
// READ SURFACE
// ===============================

// Earnings aggregates an account's commission income, cache-aside.
func (s *Service) Earnings(ctx context.Context, userID string) (*domain.ReferralEarnings, error) {
	if userID == "" {
		return nil, xerrors.ErrInvalidInput
	}

	cacheKey := fmt.Sprintf("referral:earnings:%s", userID)
	if s.redisClient != nil {
		if val, err := s.redisClient.Get(ctx, cacheKey).Result(); err == nil {
			var earnings domain.ReferralEarnings
			if jsonErr := json.Unmarshal([]byte(val), &earnings); jsonErr == nil {
				return &earnings, nil
			}
		}
	}

	// summed in the store, so the totals cover every record the referrer
	// has ever earned, not a page of them
	buckets, err := s.repo.SumEarningsByReferrer(ctx, userID)
	if err != nil {
		return nil, err
	}

	earnings := &domain.ReferralEarnings{
		UserID:     userID,
		Total:      make(map[string]float64),
		ByLevel:    make(map[int]float64),
		ComputedAt: time.Now(),
	}
	for _, b := range buckets {
		earnings.Total[b.Currency] += b.Amount
		earnings.ByLevel[b.Level] += b.Amount
		earnings.Records += b.Records
	}

	if s.redisClient != nil {
		if data, err := json.Marshal(earnings); err == nil {
			_ = s.redisClient.Set(ctx, cacheKey, data, earningsCacheTTL).Err()
		}
	}
	return earnings, nil
}

// RegisterEdge records who referred a new account. Exposed for the account
// service; the distributor itself only reads edges.
func (s *Service) RegisterEdge(ctx context.Context, userID, referrerID string) error {
	if userID == "" || referrerID == "" || userID == referrerID {
		return xerrors.ErrInvalidInput
	}
	return s.repo.CreateEdge(ctx, userID, referrerID)
}

func (s *Service) invalidateEarningsCaches(ctx context.Context, paid []*domain.CommissionRecord) {
	if s.redisClient == nil {
		return
	}
	for _, rec := range paid {
		key := fmt.Sprintf("referral:earnings:%s", rec.ReferrerID)
		if err := s.redisClient.Del(ctx, key).Err(); err != nil {
			s.logger.Warn("earnings cache invalidation failed",
				zap.String("referrer_id", rec.ReferrerID),
				zap.Error(err))
		}
	}
}
