package domain

import (
	"time"
)

// Reservation lifecycle. reserved is the only live state; confirmed and
// released are terminal, there is no path back.
const (
	ReservationReserved  = "reserved"
	ReservationConfirmed = "confirmed"
	ReservationReleased  = "released"
	ReservationExpired   = "expired" // release reason recorded by the sweep
)

// DefaultReservationTTL bounds how long an abandoned quote ties up inventory.
const DefaultReservationTTL = 120 * time.Second

// LiquidityPool is the admin-operated inventory balance per currency that
// instant-exchange quotes draw from. balance = available + reserved.
type LiquidityPool struct {
	Currency  string    `json:"currency"`
	Balance   float64   `json:"balance"`
	Available float64   `json:"available"`
	Reserved  float64   `json:"reserved"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reservation is a two-phase hold on pool inventory: created by Reserve,
// terminated by Confirm, Release, or the expiry sweep.
type Reservation struct {
	ID            string     `json:"id"`
	Currency      string     `json:"currency"`
	Amount        float64    `json:"amount"`
	OwnerID       *string    `json:"owner_id,omitempty"` // nil when drawing from the shared pool
	OrderID       string     `json:"order_id"`
	Status        string     `json:"status"`
	ReleaseReason *string    `json:"release_reason,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Expired reports whether the reservation is past its TTL.
func (r *Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
