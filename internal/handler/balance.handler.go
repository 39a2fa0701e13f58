// internal/handler/balance.handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"ledger-core-service/internal/usecase/balance"
	"ledger-core-service/pkg/response"

	"github.com/go-chi/chi/v5"
)

type mutationBody struct {
	UserID   string   `json:"user_id"`
	Currency string   `json:"currency"`
	Amount   *float64 `json:"amount"`
	TxType   string   `json:"tx_type"`
	RefID    string   `json:"ref_id"`
}

func decodeMutation(w http.ResponseWriter, r *http.Request) (*mutationBody, bool) {
	var body mutationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid JSON body")
		return nil, false
	}
	if body.UserID == "" {
		response.Error(w, http.StatusBadRequest, "Missing user_id")
		return nil, false
	}
	if body.Currency == "" {
		response.Error(w, http.StatusBadRequest, "Missing currency")
		return nil, false
	}
	if body.Amount == nil {
		response.Error(w, http.StatusBadRequest, "Missing amount")
		return nil, false
	}
	if body.RefID == "" {
		response.Error(w, http.StatusBadRequest, "Missing ref_id")
		return nil, false
	}
	return &body, true
}

type engineOp func(r *http.Request, body *mutationBody) (interface{}, error)

func mutationHandler(op engineOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeMutation(w, r)
		if !ok {
			return
		}
		change, err := op(r, body)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, change)
	}
}

func CreditHandler(uc *balance.Service) http.HandlerFunc {
	return mutationHandler(func(r *http.Request, body *mutationBody) (interface{}, error) {
		return uc.Credit(r.Context(), body.UserID, body.Currency, *body.Amount, body.TxType, body.RefID)
	})
}

func DebitHandler(uc *balance.Service) http.HandlerFunc {
	return mutationHandler(func(r *http.Request, body *mutationBody) (interface{}, error) {
		return uc.Debit(r.Context(), body.UserID, body.Currency, *body.Amount, body.TxType, body.RefID)
	})
}

func LockHandler(uc *balance.Service) http.HandlerFunc {
	return mutationHandler(func(r *http.Request, body *mutationBody) (interface{}, error) {
		return uc.Lock(r.Context(), body.UserID, body.Currency, *body.Amount, body.TxType, body.RefID)
	})
}

func UnlockHandler(uc *balance.Service) http.HandlerFunc {
	return mutationHandler(func(r *http.Request, body *mutationBody) (interface{}, error) {
		return uc.Unlock(r.Context(), body.UserID, body.Currency, *body.Amount, body.TxType, body.RefID)
	})
}

func ReleaseHandler(uc *balance.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type requestBody struct {
			FromUserID string   `json:"from_user_id"`
			ToUserID   string   `json:"to_user_id"`
			Currency   string   `json:"currency"`
			Amount     *float64 `json:"amount"`
			RefID      string   `json:"ref_id"`
		}

		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if body.FromUserID == "" || body.ToUserID == "" {
			response.Error(w, http.StatusBadRequest, "Missing from_user_id or to_user_id")
			return
		}
		if body.Currency == "" || body.RefID == "" {
			response.Error(w, http.StatusBadRequest, "Missing currency or ref_id")
			return
		}
		if body.Amount == nil {
			response.Error(w, http.StatusBadRequest, "Missing amount")
			return
		}

		change, err := uc.Release(r.Context(), body.FromUserID, body.ToUserID, body.Currency, *body.Amount, body.RefID)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, change)
	}
}

func GetBalanceHandler(uc *balance.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		currency := chi.URLParam(r, "currency")
		if userID == "" || currency == "" {
			response.Error(w, http.StatusBadRequest, "Missing user ID or currency")
			return
		}

		b, err := uc.GetBalance(r.Context(), userID, currency)
		if err != nil {
			response.BusinessError(w, err)
			return
		}

		switch r.URL.Query().Get("view") {
		case "wallet":
			response.JSON(w, http.StatusOK, b.WalletView())
		case "accounting":
			response.JSON(w, http.StatusOK, b.AccountingView())
		default:
			response.JSON(w, http.StatusOK, b)
		}
	}
}

func ListBalancesHandler(uc *balance.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			response.Error(w, http.StatusBadRequest, "Missing user ID")
			return
		}

		balances, err := uc.ListBalances(r.Context(), userID)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, map[string]interface{}{
			"user_id":  userID,
			"balances": balances,
		})
	}
}

func AuditTrailHandler(uc *balance.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		currency := chi.URLParam(r, "currency")
		if userID == "" || currency == "" {
			response.Error(w, http.StatusBadRequest, "Missing user ID or currency")
			return
		}

		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}

		events, err := uc.AuditTrail(r.Context(), userID, currency, limit)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, map[string]interface{}{
			"user_id":  userID,
			"currency": currency,
			"events":   events,
		})
	}
}

func VerifyIntegrityHandler(uc *balance.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		currency := chi.URLParam(r, "currency")
		if userID == "" || currency == "" {
			response.Error(w, http.StatusBadRequest, "Missing user ID or currency")
			return
		}

		report, err := uc.VerifyIntegrity(r.Context(), userID, currency)
		if err != nil {
			response.BusinessError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, report)
	}
}
