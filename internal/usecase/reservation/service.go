package reservation

import (
	"context"
	"fmt"
	"time"

	"ledger-core-service/internal/domain"
	publisher "ledger-core-service/internal/pub"
	"ledger-core-service/internal/repository"
	"ledger-core-service/pkg/id"
	"ledger-core-service/pkg/xerrors"

	"go.uber.org/zap"
)

// Service runs the two-phase reservation protocol over the pooled inventory
// balances. Reserve holds inventory before the customer pays; Confirm spends
// the hold; Release (or the expiry sweep) returns it. Quoted inventory can
// never be sold twice because the pool decrement is conditional in the store.
type Service struct {
	repo   repository.ReservationRepository
	events *publisher.LedgerEventPublisher
	ids    *id.Generator
	logger *zap.Logger

	defaultTTL time.Duration
}

func New(
	repo repository.ReservationRepository,
	events *publisher.LedgerEventPublisher,
	ids *id.Generator,
	logger *zap.Logger,
	defaultTTL time.Duration,
) *Service {
	if defaultTTL <= 0 {
		defaultTTL = domain.DefaultReservationTTL
	}
	return &Service{
		repo:       repo,
		events:     events,
		ids:        ids,
		logger:     logger,
		defaultTTL: defaultTTL,
	}
}

// Reserve atomically checks pool.available, moves the amount into reserved
// and inserts the reservation row. On ErrInsufficientLiquidity nothing has
// changed — the caller must not have charged the customer yet.
func (s *Service) Reserve(ctx context.Context, currency string, amount float64, ownerID *string, orderID string, ttl time.Duration) (*domain.Reservation, error) {
	if currency == "" || orderID == "" {
		return nil, xerrors.ErrInvalidInput
	}
	if amount <= 0 {
		return nil, xerrors.ErrInvalidAmount
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.ReserveFunds(ctx, tx, currency, amount); err != nil {
		return nil, err
	}

	res := &domain.Reservation{
		ID:        s.ids.NewULID(),
		Currency:  currency,
		Amount:    amount,
		OwnerID:   ownerID,
		OrderID:   orderID,
		Status:    domain.ReservationReserved,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
	}
	if err := s.repo.Insert(ctx, tx, res); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}

	if s.events != nil {
		s.events.PublishReservationEvent(ctx, "reserved", res.ID, currency, amount,
			map[string]interface{}{"order_id": orderID})
	}
	s.logger.Info("inventory reserved",
		zap.String("reservation_id", res.ID),
		zap.String("currency", currency),
		zap.Float64("amount", amount),
		zap.String("order_id", orderID))

	return res, nil
}

// Confirm permanently spends a live hold. Idempotent on an already-confirmed
// id. The status transition is conditional in the store, so a racing release
// and confirm cannot both win.
func (s *Service) Confirm(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	res, err := s.repo.GetByID(ctx, reservationID)
	if err != nil {
		if err == xerrors.ErrNotFound {
			return nil, xerrors.ErrReservationInvalid
		}
		return nil, err
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}
	defer tx.Rollback(ctx)

	resolvedAt := time.Now().Truncate(time.Microsecond)
	ok, err := s.repo.TransitionStatus(ctx, tx, reservationID,
		domain.ReservationReserved, domain.ReservationConfirmed, nil, resolvedAt, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}
	if !ok {
		_ = tx.Rollback(ctx)
		return s.classifyLostConfirm(ctx, reservationID)
	}

	if err := s.repo.ConfirmFunds(ctx, tx, res.Currency, res.Amount); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}

	if s.events != nil {
		s.events.PublishReservationEvent(ctx, "confirmed", res.ID, res.Currency, res.Amount, nil)
	}
	s.logger.Info("reservation confirmed",
		zap.String("reservation_id", res.ID),
		zap.String("currency", res.Currency),
		zap.Float64("amount", res.Amount))

	// the transition committed; report the state we wrote rather than
	// re-reading, so a read hiccup cannot fail a successful confirm
	confirmed := *res
	confirmed.Status = domain.ReservationConfirmed
	confirmed.ResolvedAt = &resolvedAt
	return &confirmed, nil
}

// classifyLostConfirm inspects the row after a failed conditional transition
// and maps what it finds to the protocol's failure classes.
func (s *Service) classifyLostConfirm(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	res, err := s.repo.GetByID(ctx, reservationID)
	if err != nil {
		if err == xerrors.ErrNotFound {
			return nil, xerrors.ErrReservationInvalid
		}
		return nil, err
	}

	switch res.Status {
	case domain.ReservationConfirmed:
		// second confirm on the same id: no-op success
		return res, nil
	case domain.ReservationReserved:
		// transition only fails on a live row when it is past its TTL
		return nil, xerrors.ErrReservationExpired
	default:
		return nil, xerrors.ErrReservationInvalid
	}
}

// Release cancels a live hold and returns the amount to pool.available.
func (s *Service) Release(ctx context.Context, reservationID, reason string) (*domain.Reservation, error) {
	res, err := s.repo.GetByID(ctx, reservationID)
	if err != nil {
		if err == xerrors.ErrNotFound {
			return nil, xerrors.ErrReservationInvalid
		}
		return nil, err
	}

	if reason == "" {
		reason = "cancelled"
	}

	released, err := s.releaseOne(ctx, res, reason)
	if err != nil {
		return nil, err
	}
	if released == nil {
		// lost the conditional transition
		res, err = s.repo.GetByID(ctx, reservationID)
		if err != nil {
			return nil, err
		}
		if res.Status == domain.ReservationReleased {
			// racing sweep or duplicate cancel already returned the funds
			return res, nil
		}
		return nil, xerrors.ErrReservationInvalid
	}
	return released, nil
}

// releaseOne applies reserved → released plus the pool refund in one
// transaction. Returns (nil, nil) when the conditional transition lost.
func (s *Service) releaseOne(ctx context.Context, res *domain.Reservation, reason string) (*domain.Reservation, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}
	defer tx.Rollback(ctx)

	resolvedAt := time.Now().Truncate(time.Microsecond)
	ok, err := s.repo.TransitionStatus(ctx, tx, res.ID,
		domain.ReservationReserved, domain.ReservationReleased, &reason, resolvedAt, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}
	if !ok {
		return nil, nil
	}

	if err := s.repo.ReturnFunds(ctx, tx, res.Currency, res.Amount); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
	}

	if s.events != nil {
		s.events.PublishReservationEvent(ctx, "released", res.ID, res.Currency, res.Amount,
			map[string]interface{}{"reason": reason})
	}
	s.logger.Info("reservation released",
		zap.String("reservation_id", res.ID),
		zap.String("reason", reason),
		zap.Float64("amount", res.Amount))

	released := *res
	released.Status = domain.ReservationReleased
	released.ReleaseReason = &reason
	released.ResolvedAt = &resolvedAt
	return &released, nil
}

// CleanupExpired releases every reserved-but-expired reservation with
// reason="expired": self-healing against callers that reserve and crash.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := s.repo.ListExpired(ctx, time.Now(), 0)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, res := range expired {
		out, err := s.releaseOne(ctx, res, "expired")
		if err != nil {
			s.logger.Warn("expiry sweep failed for reservation",
				zap.String("reservation_id", res.ID),
				zap.Error(err))
			continue
		}
		if out != nil {
			released++
		}
	}

	if released > 0 {
		s.logger.Info("expiry sweep completed", zap.Int("released", released))
	}
	return released, nil
}

// ===============================
// READ SURFACE / POOL ADMIN
// ===============================

func (s *Service) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	return s.repo.GetByID(ctx, reservationID)
}

func (s *Service) PoolStatus(ctx context.Context, currency string) (*domain.LiquidityPool, error) {
	return s.repo.GetPool(ctx, currency)
}

// CreditPool tops up the admin-operated inventory for a currency.
func (s *Service) CreditPool(ctx context.Context, currency string, amount float64) (*domain.LiquidityPool, error) {
	if currency == "" {
		return nil, xerrors.ErrInvalidInput
	}
	if amount <= 0 {
		return nil, xerrors.ErrInvalidAmount
	}
	return s.repo.CreditPool(ctx, currency, amount)
}

// EnsurePools creates pool rows for the platform's supported currencies.
func (s *Service) EnsurePools(ctx context.Context, currencies []string) error {
	for _, c := range currencies {
		if err := s.repo.EnsurePool(ctx, c); err != nil {
			return err
		}
	}
	return nil
}
