package domain

import (
	"time"
)

// FloatTolerance is the drift allowed between two projections of the same
// logical balance before VerifyIntegrity reports a divergence.
const FloatTolerance = 1e-6

// Balance is the canonical per-user-per-currency record. Every other shape
// (wallet view, accounting view, cached copy) is derived from this row on
// read and never written separately.
type Balance struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Currency  string    `json:"currency"`
	Balance   float64   `json:"balance"` // total = available + locked
	Available float64   `json:"available"`
	Locked    float64   `json:"locked"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WalletView is the wallet-service shaped read adapter.
type WalletView struct {
	UserID    string  `json:"user_id"`
	Currency  string  `json:"currency"`
	Balance   float64 `json:"balance"`
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
	Type      string  `json:"type"` // e.g., "main"
}

// AccountingView is the accounting-service shaped read adapter.
type AccountingView struct {
	UserID           string  `json:"user_id"`
	Currency         string  `json:"currency"`
	Balance          float64 `json:"balance"`
	AvailableBalance float64 `json:"available_balance"`
	PendingDebit     float64 `json:"pending_debit"` // locked funds awaiting settlement
	Version          int64   `json:"version"`
}

// WalletView derives the wallet-shaped projection from the canonical row.
func (b *Balance) WalletView() *WalletView {
	return &WalletView{
		UserID:    b.UserID,
		Currency:  b.Currency,
		Balance:   b.Balance,
		Available: b.Available,
		Locked:    b.Locked,
		Type:      "main",
	}
}

// AccountingView derives the accounting-shaped projection from the canonical row.
func (b *Balance) AccountingView() *AccountingView {
	return &AccountingView{
		UserID:           b.UserID,
		Currency:         b.Currency,
		Balance:          b.Balance,
		AvailableBalance: b.Available,
		PendingDebit:     b.Locked,
		Version:          b.Version,
	}
}

// BalanceChange is the success payload of a mutating engine call.
type BalanceChange struct {
	UserID       string  `json:"user_id"`
	Counterparty *string `json:"counterparty,omitempty"`
	Currency     string  `json:"currency"`
	Amount       float64 `json:"amount"`
	TxType       string  `json:"tx_type"`
	RefID        string  `json:"ref_id"`
	AuditID      string  `json:"audit_id,omitempty"`
	Balance      Balance `json:"balance"` // sender side after commit
}

// IntegrityDivergence describes one projection disagreeing with the canonical row.
type IntegrityDivergence struct {
	Projection string  `json:"projection"` // "canonical", "audit_replay", "cache"
	Field      string  `json:"field"`
	Expected   float64 `json:"expected"`
	Actual     float64 `json:"actual"`
	Delta      float64 `json:"delta"`
}

// IntegrityReport is the result of VerifyIntegrity for one (user, currency).
type IntegrityReport struct {
	UserID       string                `json:"user_id"`
	Currency     string                `json:"currency"`
	Consistent   bool                  `json:"consistent"`
	EventsSeen   int                   `json:"events_seen"`
	Divergences  []IntegrityDivergence `json:"divergences,omitempty"`
	BadChecksums []string              `json:"bad_checksums,omitempty"`
	CheckedAt    time.Time             `json:"checked_at"`
}
