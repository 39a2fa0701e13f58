package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Audit event types written by the balance engine. Release is the one
// two-account event; everything else touches a single (user, currency).
const (
	EventCredit  = "credit"
	EventDebit   = "debit"
	EventLock    = "lock"
	EventUnlock  = "unlock"
	EventRelease = "release"
)

// AuditEvent is one append-only row in the ledger's system of record.
// Amount is signed by its effect on the primary account's total:
// credit +, debit -, lock/unlock 0, release - (the counterparty gains it).
// Rows are never updated or deleted.
type AuditEvent struct {
	ID              string                 `json:"id"`
	EventType       string                 `json:"event_type"`
	UserID          string                 `json:"user_id"`
	Counterparty    *string                `json:"counterparty,omitempty"`
	Currency        string                 `json:"currency"`
	Amount          float64                `json:"amount"`
	BeforeAvailable float64                `json:"before_available"`
	BeforeLocked    float64                `json:"before_locked"`
	AfterAvailable  float64                `json:"after_available"`
	AfterLocked     float64                `json:"after_locked"`
	TxType          string                 `json:"tx_type"`
	RefID           string                 `json:"ref_id"`
	Checksum        string                 `json:"checksum"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// ComputeChecksum hashes the canonical field string of the event,
// covering every stored column including metadata and the event time:
// a row edited after the fact fails VerifyChecksum during reconciliation.
// CreatedAt must be set (truncated to the storage precision) and
// Metadata frozen before this is called.
func (e *AuditEvent) ComputeChecksum() string {
	cp := ""
	if e.Counterparty != nil {
		cp = *e.Counterparty
	}
	meta := "null"
	if e.Metadata != nil {
		if raw, err := json.Marshal(e.Metadata); err == nil {
			meta = string(raw)
		}
	}
	payload := strings.Join([]string{
		e.ID,
		e.EventType,
		e.UserID,
		cp,
		e.Currency,
		fmt.Sprintf("%.8f", e.Amount),
		fmt.Sprintf("%.8f", e.BeforeAvailable),
		fmt.Sprintf("%.8f", e.BeforeLocked),
		fmt.Sprintf("%.8f", e.AfterAvailable),
		fmt.Sprintf("%.8f", e.AfterLocked),
		e.TxType,
		e.RefID,
		meta,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, "|")

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum recomputes and compares the stored checksum.
func (e *AuditEvent) VerifyChecksum() bool {
	return e.Checksum == e.ComputeChecksum()
}

// TotalEffect returns the event's signed effect on userID's total balance.
// Replaying TotalEffect over an account's trail reproduces its current total.
func (e *AuditEvent) TotalEffect(userID string) float64 {
	switch e.EventType {
	case EventCredit:
		if e.UserID == userID {
			return e.Amount
		}
	case EventDebit:
		if e.UserID == userID {
			return e.Amount // stored negative
		}
	case EventLock, EventUnlock:
		// moves between available and locked, total unchanged
		return 0
	case EventRelease:
		if e.UserID == userID {
			return e.Amount // stored negative: sender loses the hold
		}
		if e.Counterparty != nil && *e.Counterparty == userID {
			return -e.Amount // receiver gains what the sender lost
		}
	}
	return 0
}
