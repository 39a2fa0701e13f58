package balance

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

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const balanceCacheTTL = 5 * time.Minute

// Service is the atomic balance engine: the only component permitted to
// change a balance's numbers. Each mutating call is one store transaction —
// the balance update and its audit event commit together or not at all.
type Service struct {
	balanceRepo repository.BalanceRepository
	auditRepo   repository.AuditRepository

	redisClient *redis.Client
	events      *publisher.LedgerEventPublisher
	ids         *id.Generator
	logger      *zap.Logger

	Notifier *Notifier
}

func New(
	balanceRepo repository.BalanceRepository,
	auditRepo repository.AuditRepository,
	redisClient *redis.Client,
	events *publisher.LedgerEventPublisher,
	ids *id.Generator,
	logger *zap.Logger,
) *Service {
	return &Service{
		balanceRepo: balanceRepo,
		auditRepo:   auditRepo,
		redisClient: redisClient,
		events:      events,
		ids:         ids,
		logger:      logger,
		Notifier:    NewNotifier(),
	}
}

// ===============================
// MUTATING OPERATIONS
// ===============================

// Credit increases available and total, creating the balance on first touch.
// amount == 0 is a no-op success with no audit write.
func (s *Service) Credit(ctx context.Context, userID, currency string, amount float64, txType, refID string) (*domain.BalanceChange, error) {
	return s.CreditWithMeta(ctx, userID, currency, amount, txType, refID, nil)
}

// CreditWithMeta is Credit with caller metadata attached to the audit event
// (the distributor records level/payer/reference this way).
func (s *Service) CreditWithMeta(ctx context.Context, userID, currency string, amount float64, txType, refID string, meta map[string]interface{}) (*domain.BalanceChange, error) {
	if err := validateCall(userID, currency, refID); err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, xerrors.ErrInvalidAmount
	}
	if amount == 0 {
		b, err := s.GetBalance(ctx, userID, currency)
		if err != nil {
			return nil, err
		}
		return &domain.BalanceChange{
			UserID: userID, Currency: currency, Amount: 0,
			TxType: txType, RefID: refID, Balance: *b,
		}, nil
	}

	change, err := s.mutate(ctx, userID, currency, func(tx pgx.Tx, before *domain.Balance) (*domain.Balance, *domain.AuditEvent, error) {
		after, err := s.balanceRepo.ApplyCredit(ctx, tx, userID, currency, amount)
		if err != nil {
			return nil, nil, err
		}
		event := s.buildEvent(domain.EventCredit, userID, nil, currency, amount, txType, refID, before, after, meta)
		return after, event, nil
	})
	if err != nil {
		return nil, err
	}

	change.TxType = txType
	change.RefID = refID
	change.Amount = amount
	s.afterCommit(ctx, "credit", change, nil)
	return change, nil
}

// Debit decreases available and total. The sufficiency check runs as the
// store's conditional update: of N racing debits only those the balance
// covers commit, the rest fail ErrInsufficientBalance.
func (s *Service) Debit(ctx context.Context, userID, currency string, amount float64, txType, refID string) (*domain.BalanceChange, error) {
	if err := validateCall(userID, currency, refID); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, xerrors.ErrInvalidAmount
	}

	change, err := s.mutate(ctx, userID, currency, func(tx pgx.Tx, before *domain.Balance) (*domain.Balance, *domain.AuditEvent, error) {
		after, err := s.balanceRepo.ApplyDebit(ctx, tx, userID, currency, amount)
		if err != nil {
			return nil, nil, err
		}
		event := s.buildEvent(domain.EventDebit, userID, nil, currency, -amount, txType, refID, before, after, nil)
		return after, event, nil
	})
	if err != nil {
		return nil, err
	}

	change.TxType = txType
	change.RefID = refID
	change.Amount = amount
	s.afterCommit(ctx, "debit", change, nil)
	return change, nil
}

// Lock moves amount available → locked pending settlement; total unchanged.
func (s *Service) Lock(ctx context.Context, userID, currency string, amount float64, txType, refID string) (*domain.BalanceChange, error) {
	if err := validateCall(userID, currency, refID); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, xerrors.ErrInvalidAmount
	}

	change, err := s.mutate(ctx, userID, currency, func(tx pgx.Tx, before *domain.Balance) (*domain.Balance, *domain.AuditEvent, error) {
		after, err := s.balanceRepo.ApplyLock(ctx, tx, userID, currency, amount)
		if err != nil {
			return nil, nil, err
		}
		event := s.buildEvent(domain.EventLock, userID, nil, currency, 0, txType, refID, before, after,
			map[string]interface{}{"locked_amount": amount})
		return after, event, nil
	})
	if err != nil {
		return nil, err
	}

	change.TxType = txType
	change.RefID = refID
	change.Amount = amount
	s.afterCommit(ctx, "lock", change, nil)
	return change, nil
}

// Unlock reverses a lock, locked → available.
func (s *Service) Unlock(ctx context.Context, userID, currency string, amount float64, txType, refID string) (*domain.BalanceChange, error) {
	if err := validateCall(userID, currency, refID); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, xerrors.ErrInvalidAmount
	}

	change, err := s.mutate(ctx, userID, currency, func(tx pgx.Tx, before *domain.Balance) (*domain.Balance, *domain.AuditEvent, error) {
		after, err := s.balanceRepo.ApplyUnlock(ctx, tx, userID, currency, amount)
		if err != nil {
			return nil, nil, err
		}
		event := s.buildEvent(domain.EventUnlock, userID, nil, currency, 0, txType, refID, before, after,
			map[string]interface{}{"unlocked_amount": amount})
		return after, event, nil
	})
	if err != nil {
		return nil, err
	}

	change.TxType = txType
	change.RefID = refID
	change.Amount = amount
	s.afterCommit(ctx, "unlock", change, nil)
	return change, nil
}

// Release settles an escrow hold across two accounts: amount leaves the
// sender's locked and total, and lands in the receiver's available and total,
// with one audit event, all in a single transaction.
func (s *Service) Release(ctx context.Context, fromUserID, toUserID, currency string, amount float64, refID string) (*domain.BalanceChange, error) {
	if err := validateCall(fromUserID, currency, refID); err != nil {
		return nil, err
	}
	if toUserID == "" || toUserID == fromUserID {
		return nil, xerrors.ErrInvalidInput
	}
	if amount <= 0 {
		return nil, xerrors.ErrInvalidAmount
	}

	tx, err := s.balanceRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}
	defer tx.Rollback(ctx)

	if err := s.balanceRepo.EnsureExists(ctx, tx, fromUserID, currency); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}
	before, err := s.balanceRepo.GetWithLock(ctx, tx, fromUserID, currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}

	fromAfter, err := s.balanceRepo.ApplyReleaseFrom(ctx, tx, fromUserID, currency, amount)
	if err != nil {
		return nil, err
	}
	toAfter, err := s.balanceRepo.ApplyCredit(ctx, tx, toUserID, currency, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}

	event := s.buildEvent(domain.EventRelease, fromUserID, &toUserID, currency, -amount, "escrow_release", refID, before, fromAfter,
		map[string]interface{}{
			"counterparty_available": toAfter.Available,
			"counterparty_balance":   toAfter.Balance,
		})
	if err := s.auditRepo.Append(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}

	change := &domain.BalanceChange{
		UserID:       fromUserID,
		Counterparty: &toUserID,
		Currency:     currency,
		Amount:       amount,
		TxType:       "escrow_release",
		RefID:        refID,
		AuditID:      event.ID,
		Balance:      *fromAfter,
	}
	s.afterCommit(ctx, "release", change, toAfter)
	return change, nil
}

// mutate runs one single-account engine operation: ensure row, capture the
// before snapshot under a row lock, apply, append exactly one audit event,
// commit. Failures roll everything back — no partial audit writes.
func (s *Service) mutate(
	ctx context.Context,
	userID, currency string,
	apply func(tx pgx.Tx, before *domain.Balance) (*domain.Balance, *domain.AuditEvent, error),
) (*domain.BalanceChange, error) {
	tx, err := s.balanceRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}
	defer tx.Rollback(ctx)

	if err := s.balanceRepo.EnsureExists(ctx, tx, userID, currency); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}
	before, err := s.balanceRepo.GetWithLock(ctx, tx, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}

	after, event, err := apply(tx, before)
	if err != nil {
		return nil, err
	}

	if err := s.auditRepo.Append(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}

	return &domain.BalanceChange{
		UserID:   userID,
		Currency: currency,
		AuditID:  event.ID,
		Balance:  *after,
	}, nil
}

// buildEvent assembles the full event, including metadata and a
// microsecond-truncated timestamp (timestamptz precision), before
// sealing it with the checksum. Nothing on the event may change
// after this point or verification breaks.
func (s *Service) buildEvent(eventType, userID string, counterparty *string, currency string, amount float64, txType, refID string, before, after *domain.Balance, meta map[string]interface{}) *domain.AuditEvent {
	event := &domain.AuditEvent{
		ID:              s.ids.NewULID(),
		EventType:       eventType,
		UserID:          userID,
		Counterparty:    counterparty,
		Currency:        currency,
		Amount:          amount,
		BeforeAvailable: before.Available,
		BeforeLocked:    before.Locked,
		AfterAvailable:  after.Available,
		AfterLocked:     after.Locked,
		TxType:          txType,
		RefID:           refID,
		Metadata:        meta,
		CreatedAt:       time.Now().Truncate(time.Microsecond),
	}
	event.Checksum = event.ComputeChecksum()
	return event
}

// afterCommit handles the read-side fallout of a committed change: cache
// invalidation, event publishing, WebSocket pushes. All best-effort.
func (s *Service) afterCommit(ctx context.Context, op string, change *domain.BalanceChange, counterpartyBalance *domain.Balance) {
	s.invalidateBalanceCache(ctx, change.UserID, change.Currency)
	if change.Counterparty != nil {
		s.invalidateBalanceCache(ctx, *change.Counterparty, change.Currency)
	}

	cp := ""
	if change.Counterparty != nil {
		cp = *change.Counterparty
	}
	if s.events != nil {
		s.events.PublishBalanceEvent(ctx, op, change.UserID, cp, change.Currency,
			change.TxType, change.RefID, change.Amount, change.Balance.Balance)
	}

	s.Notifier.NotifyBalance(change.UserID, &change.Balance)
	if change.Counterparty != nil && counterpartyBalance != nil {
		s.Notifier.NotifyBalance(*change.Counterparty, counterpartyBalance)
	}

	s.logger.Info("balance mutation committed",
		zap.String("op", op),
		zap.String("user_id", change.UserID),
		zap.String("currency", change.Currency),
		zap.Float64("amount", change.Amount),
		zap.String("ref_id", change.RefID),
		zap.String("audit_id", change.AuditID))
}

// ===============================
// READ SURFACE
// ===============================

// GetBalance serves the canonical row cache-aside from Redis. A key nobody
// has touched reads as all zeros — zero is a valid state, and reads never
// create rows.
func (s *Service) GetBalance(ctx context.Context, userID, currency string) (*domain.Balance, error) {
	cacheKey := balanceCacheKey(userID, currency)

	if s.redisClient != nil {
		if val, err := s.redisClient.Get(ctx, cacheKey).Result(); err == nil {
			var b domain.Balance
			if jsonErr := json.Unmarshal([]byte(val), &b); jsonErr == nil {
				return &b, nil
			}
		}
	}

	b, err := s.balanceRepo.GetByUserAndCurrency(ctx, userID, currency)
	if err != nil {
		if err == xerrors.ErrNotFound {
			return &domain.Balance{UserID: userID, Currency: currency}, nil
		}
		return nil, err
	}

	if s.redisClient != nil {
		if data, err := json.Marshal(b); err == nil {
			_ = s.redisClient.Set(ctx, cacheKey, data, balanceCacheTTL).Err()
		}
	}
	return b, nil
}

// ListBalances returns all canonical rows for a user.
func (s *Service) ListBalances(ctx context.Context, userID string) ([]*domain.Balance, error) {
	return s.balanceRepo.ListByUser(ctx, userID)
}

// AuditTrail returns the newest audit events for an account/currency.
func (s *Service) AuditTrail(ctx context.Context, userID, currency string, limit int) ([]*domain.AuditEvent, error) {
	return s.auditRepo.ListByUserAndCurrency(ctx, userID, currency, limit)
}

func validateCall(userID, currency, refID string) error {
	if userID == "" || currency == "" || refID == "" {
		return xerrors.ErrInvalidInput
	}
	return nil
}

func balanceCacheKey(userID, currency string) string {
	return fmt.Sprintf("balance:%s:%s", userID, currency)
}

func (s *Service) invalidateBalanceCache(ctx context.Context, userID, currency string) {
	if s.redisClient == nil {
		return
	}
	if err := s.redisClient.Del(ctx, balanceCacheKey(userID, currency)).Err(); err != nil {
		s.logger.Warn("balance cache invalidation failed",
			zap.String("user_id", userID),
			zap.String("currency", currency),
			zap.Error(err))
	}
}
