package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"ledger-core-service/pkg/xerrors"
)

type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"` // machine-readable error class
	Data    interface{} `json:"data,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIResponse{
		Status: "success",
		Data:   data,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// Error writes a hand-rolled failure, for request decoding and validation.
func Error(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIResponse{
		Status:  "error",
		Message: msg,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// BusinessError maps a usecase error to its HTTP status and a stable error
// code clients can branch on. Business rejections are 4xx; anything
// unrecognized is a 500.
func BusinessError(w http.ResponseWriter, err error) {
	status, code := classify(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIResponse{
		Status:  "error",
		Message: err.Error(),
		Code:    code,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, xerrors.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, xerrors.ErrInvalidInput),
		errors.Is(err, xerrors.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, xerrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, xerrors.ErrReferrerNotFound):
		return http.StatusNotFound, "referrer_not_found"
	case errors.Is(err, xerrors.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, xerrors.ErrInsufficientLockedBalance):
		return http.StatusUnprocessableEntity, "insufficient_locked_balance"
	case errors.Is(err, xerrors.ErrInsufficientLiquidity):
		return http.StatusUnprocessableEntity, "insufficient_liquidity"
	case errors.Is(err, xerrors.ErrReservationExpired):
		return http.StatusConflict, "reservation_expired"
	case errors.Is(err, xerrors.ErrReservationInvalid):
		return http.StatusConflict, "reservation_invalid"
	case errors.Is(err, xerrors.ErrVersionMismatch):
		return http.StatusConflict, "version_mismatch"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
