package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxTypeReferralCommission tags engine credits made by the distributor.
const TxTypeReferralCommission = "referral_commission"

// ReferralEdge points an account at its single referrer. The edges form a
// forest, but walkers must not trust the shape: corrupt data can cycle.
type ReferralEdge struct {
	UserID     string    `json:"user_id"`
	ReferrerID string    `json:"referrer_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChainMember is one ancestor in a referral chain, nearest first (level 1
// is the direct referrer).
type ChainMember struct {
	UserID string `json:"user_id"`
	Level  int    `json:"level"`
}

// CommissionShare is a computed (not yet paid) slice of a fee.
type CommissionShare struct {
	ReferrerID string          `json:"referrer_id"`
	Level      int             `json:"level"`
	Percent    decimal.Decimal `json:"percent"`
	Amount     float64         `json:"amount"`
	Currency   string          `json:"currency"`
}

// CommissionRecord doubles as the payment claim: the distributor inserts it
// before crediting, and the unique (payer, level, ref_id) key makes replays
// and racing distributions lose the insert instead of double-paying.
type CommissionRecord struct {
	ID         string    `json:"id"`
	ReferrerID string    `json:"referrer_id"`
	ReferredID string    `json:"referred_id"` // the paying account
	Level      int       `json:"level"`
	Percent    string    `json:"percent"` // decimal as string
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	RefID      string    `json:"ref_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// CommissionFailure records one ancestor the distributor could not pay.
// A failure at one level never unwinds the levels already paid.
type CommissionFailure struct {
	ReferrerID string  `json:"referrer_id"`
	Level      int     `json:"level"`
	Amount     float64 `json:"amount"`
	Error      string  `json:"error"`
}

// DistributionResult reports a (possibly partial) distribution outcome.
type DistributionResult struct {
	PayerID           string              `json:"payer_id"`
	Currency          string              `json:"currency"`
	FeeAmount         float64             `json:"fee_amount"`
	RefID             string              `json:"ref_id"`
	Paid              []*CommissionRecord `json:"paid"`
	Failed            []CommissionFailure `json:"failed,omitempty"`
	TotalDistributed  float64             `json:"total_distributed"`
	PlatformRemainder float64             `json:"platform_remainder"`
	CreatedAt         time.Time           `json:"created_at"`
}

// EarningsBucket is one (currency, level) aggregate row from the store.
type EarningsBucket struct {
	Currency string  `json:"currency"`
	Level    int     `json:"level"`
	Amount   float64 `json:"amount"`
	Records  int     `json:"records"`
}

// ReferralEarnings is the read surface for an account's commission income.
type ReferralEarnings struct {
	UserID     string             `json:"user_id"`
	Total      map[string]float64 `json:"total"` // per currency
	ByLevel    map[int]float64    `json:"by_level"`
	Records    int                `json:"records"`
	ComputedAt time.Time          `json:"computed_at"`
}
