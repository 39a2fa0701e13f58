package balance

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"ledger-core-service/internal/domain"
	"ledger-core-service/pkg/xerrors"

	"go.uber.org/zap"
)

// VerifyIntegrity independently recomputes every projection of one
// (user, currency) key and reports divergences beyond the floating
// tolerance. It is the mechanism that catches a broken write path: a bug
// updating one projection but not all, a non-atomic fallback, or a store
// where atomicity silently wasn't enforced.
//
// Projections checked:
//   - canonical: total == available + locked, available >= 0, locked >= 0
//   - audit_replay: replaying the trail's total effects reproduces total
//   - cache: the Redis cached copy agrees with the canonical row
//
// A divergence is an operator incident, not expected control flow.
func (s *Service) VerifyIntegrity(ctx context.Context, userID, currency string) (*domain.IntegrityReport, error) {
	report := &domain.IntegrityReport{
		UserID:    userID,
		Currency:  currency,
		CheckedAt: time.Now(),
	}

	canonical, err := s.balanceRepo.GetByUserAndCurrency(ctx, userID, currency)
	if err != nil && err != xerrors.ErrNotFound {
		return nil, err
	}
	if canonical == nil {
		canonical = &domain.Balance{UserID: userID, Currency: currency}
	}

	// Canonical self-consistency
	if canonical.Available < -domain.FloatTolerance {
		report.Divergences = append(report.Divergences, domain.IntegrityDivergence{
			Projection: "canonical", Field: "available",
			Expected: 0, Actual: canonical.Available, Delta: canonical.Available,
		})
	}
	if canonical.Locked < -domain.FloatTolerance {
		report.Divergences = append(report.Divergences, domain.IntegrityDivergence{
			Projection: "canonical", Field: "locked",
			Expected: 0, Actual: canonical.Locked, Delta: canonical.Locked,
		})
	}
	if delta := canonical.Balance - (canonical.Available + canonical.Locked); math.Abs(delta) > domain.FloatTolerance {
		report.Divergences = append(report.Divergences, domain.IntegrityDivergence{
			Projection: "canonical", Field: "balance",
			Expected: canonical.Available + canonical.Locked,
			Actual:   canonical.Balance, Delta: delta,
		})
	}

	// Audit replay
	trail, err := s.auditRepo.ListTrail(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	report.EventsSeen = len(trail)

	var replayed float64
	for _, e := range trail {
		if !e.VerifyChecksum() {
			report.BadChecksums = append(report.BadChecksums, e.ID)
		}
		replayed += e.TotalEffect(userID)
	}
	if delta := replayed - canonical.Balance; math.Abs(delta) > domain.FloatTolerance {
		report.Divergences = append(report.Divergences, domain.IntegrityDivergence{
			Projection: "audit_replay", Field: "balance",
			Expected: canonical.Balance, Actual: replayed, Delta: delta,
		})
	}

	// Cached projection
	if s.redisClient != nil {
		if val, err := s.redisClient.Get(ctx, balanceCacheKey(userID, currency)).Result(); err == nil {
			var cached domain.Balance
			if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil {
				if delta := cached.Balance - canonical.Balance; math.Abs(delta) > domain.FloatTolerance {
					report.Divergences = append(report.Divergences, domain.IntegrityDivergence{
						Projection: "cache", Field: "balance",
						Expected: canonical.Balance, Actual: cached.Balance, Delta: delta,
					})
				}
				if delta := cached.Available - canonical.Available; math.Abs(delta) > domain.FloatTolerance {
					report.Divergences = append(report.Divergences, domain.IntegrityDivergence{
						Projection: "cache", Field: "available",
						Expected: canonical.Available, Actual: cached.Available, Delta: delta,
					})
				}
			}
		}
	}

	report.Consistent = len(report.Divergences) == 0 && len(report.BadChecksums) == 0

	if !report.Consistent {
		s.logger.Error("integrity divergence detected",
			zap.String("user_id", userID),
			zap.String("currency", currency),
			zap.Int("divergences", len(report.Divergences)),
			zap.Int("bad_checksums", len(report.BadChecksums)))
	}

	return report, nil
}
