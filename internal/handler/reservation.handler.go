// internal/handler/reservation.handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"ledger-core-service/internal/usecase/reservation"
	"ledger-core-service/pkg/response"

	"github.com/go-chi/chi/v5"
)

func ReserveHandler(uc *reservation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type requestBody struct {
			Currency   string   `json:"currency"`
			Amount     *float64 `json:"amount"`
			OwnerID    *string  `json:"owner_id"`
			OrderID    string   `json:"order_id"`
			TTLSeconds int      `json:"ttl_seconds"`
		}

		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if body.Currency == "" {
			response.Error(w, http.StatusBadRequest, "Missing currency")
			return
		}
		if body.Amount == nil {
			response.Error(w, http.StatusBadRequest, "Missing amount")
			return
		}
		if body.OrderID == "" {
			response.Error(w, http.StatusBadRequest, "Missing order_id")
			return
		}

		ttl := time.Duration(body.TTLSeconds) * time.Second
		res, err := uc.Reserve(r.Context(), body.Currency, *body.Amount, body.OwnerID, body.OrderID, ttl)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusCreated, res)
	}
}

func ConfirmReservationHandler(uc *reservation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reservationID := chi.URLParam(r, "reservationID")
		if reservationID == "" {
			response.Error(w, http.StatusBadRequest, "Missing reservation ID")
			return
		}

		res, err := uc.Confirm(r.Context(), reservationID)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, res)
	}
}

func ReleaseReservationHandler(uc *reservation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reservationID := chi.URLParam(r, "reservationID")
		if reservationID == "" {
			response.Error(w, http.StatusBadRequest, "Missing reservation ID")
			return
		}

		type requestBody struct {
			Reason string `json:"reason"`
		}
		var body requestBody
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		if body.Reason == "" {
			body.Reason = "released"
		}

		res, err := uc.Release(r.Context(), reservationID, body.Reason)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, res)
	}
}

func GetReservationHandler(uc *reservation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reservationID := chi.URLParam(r, "reservationID")
		if reservationID == "" {
			response.Error(w, http.StatusBadRequest, "Missing reservation ID")
			return
		}

		res, err := uc.GetReservation(r.Context(), reservationID)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, res)
	}
}

func PoolStatusHandler(uc *reservation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currency := chi.URLParam(r, "currency")
		if currency == "" {
			response.Error(w, http.StatusBadRequest, "Missing currency")
			return
		}

		pool, err := uc.PoolStatus(r.Context(), currency)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, pool)
	}
}

func CreditPoolHandler(uc *reservation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type requestBody struct {
			Currency string   `json:"currency"`
			Amount   *float64 `json:"amount"`
		}

		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if body.Currency == "" {
			response.Error(w, http.StatusBadRequest, "Missing currency")
			return
		}
		if body.Amount == nil {
			response.Error(w, http.StatusBadRequest, "Missing amount")
			return
		}

		pool, err := uc.CreditPool(r.Context(), body.Currency, *body.Amount)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, pool)
	}
}
