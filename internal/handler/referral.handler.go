// internal/handler/referral.handler.go
package handler

import (
	"encoding/json"
	"net/http"

	"ledger-core-service/internal/usecase/referral"
	"ledger-core-service/pkg/response"

	"github.com/go-chi/chi/v5"
)

func DistributeCommissionHandler(uc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type requestBody struct {
			PayerID   string   `json:"payer_id"`
			FeeAmount *float64 `json:"fee_amount"`
			Currency  string   `json:"currency"`
			RefID     string   `json:"ref_id"`
		}

		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if body.PayerID == "" {
			response.Error(w, http.StatusBadRequest, "Missing payer_id")
			return
		}
		if body.FeeAmount == nil {
			response.Error(w, http.StatusBadRequest, "Missing fee_amount")
			return
		}
		if body.Currency == "" || body.RefID == "" {
			response.Error(w, http.StatusBadRequest, "Missing currency or ref_id")
			return
		}

		result, err := uc.DistributeCommission(r.Context(), body.PayerID, *body.FeeAmount, body.Currency, body.RefID)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, result)
	}
}

func ReferralChainHandler(uc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			response.Error(w, http.StatusBadRequest, "Missing user ID")
			return
		}

		chain, err := uc.GetReferralChain(r.Context(), userID, 0)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, map[string]interface{}{
			"user_id": userID,
			"chain":   chain,
		})
	}
}

func ReferralEarningsHandler(uc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			response.Error(w, http.StatusBadRequest, "Missing user ID")
			return
		}

		earnings, err := uc.Earnings(r.Context(), userID)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, earnings)
	}
}

func RegisterReferralHandler(uc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type requestBody struct {
			UserID     string `json:"user_id"`
			ReferrerID string `json:"referrer_id"`
		}

		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if body.UserID == "" || body.ReferrerID == "" {
			response.Error(w, http.StatusBadRequest, "Missing user_id or referrer_id")
			return
		}

		if err := uc.RegisterEdge(r.Context(), body.UserID, body.ReferrerID); err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusCreated, map[string]string{
			"user_id":     body.UserID,
			"referrer_id": body.ReferrerID,
		})
	}
}
