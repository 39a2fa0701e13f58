package xerrors

import "errors"
import "github.com/jackc/pgx/v5/pgconn"

func ParsePGErrorCode(err error) string {
	if pgErr, ok := err.(*pgconn.PgError); ok {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input provided")
)

// Balance engine. These are expected business rejections, not incidents:
// callers show them to the end user and move on.
var (
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrInsufficientLockedBalance = errors.New("insufficient locked balance")
)

// Reservation protocol
var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrReservationInvalid    = errors.New("reservation not in expected state")
	ErrReservationExpired    = errors.New("reservation expired")
)

// Infrastructure. ErrTransactionFailure means the store could not commit;
// nothing was written, safe to retry. The only class that pages an operator
// together with integrity divergences.
var (
	ErrTransactionFailure = errors.New("transaction failure")
	ErrVersionMismatch    = errors.New("version mismatch: concurrent modification detected")
)

// Referral
var (
	ErrReferrerNotFound   = errors.New("referrer not found")
	ErrNoCommissionLevels = errors.New("no commission levels configured")
)
