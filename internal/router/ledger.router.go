package router

import (
	"ledger-core-service/internal/handler"
	"ledger-core-service/internal/usecase/balance"
	"ledger-core-service/internal/usecase/referral"
	"ledger-core-service/internal/usecase/reservation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func New(balanceUC *balance.Service, reservationUC *reservation.Service, referralUC *referral.Service) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/balance", func(r chi.Router) {
			r.Post("/credit", handler.CreditHandler(balanceUC))
			r.Post("/debit", handler.DebitHandler(balanceUC))
			r.Post("/lock", handler.LockHandler(balanceUC))
			r.Post("/unlock", handler.UnlockHandler(balanceUC))
			r.Post("/release", handler.ReleaseHandler(balanceUC))

			r.Get("/{userID}", handler.ListBalancesHandler(balanceUC))
			r.Get("/{userID}/{currency}", handler.GetBalanceHandler(balanceUC))
			r.Get("/{userID}/{currency}/audit", handler.AuditTrailHandler(balanceUC))
			r.Get("/{userID}/{currency}/integrity", handler.VerifyIntegrityHandler(balanceUC))
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", handler.ReserveHandler(reservationUC))
			r.Get("/{reservationID}", handler.GetReservationHandler(reservationUC))
			r.Post("/{reservationID}/confirm", handler.ConfirmReservationHandler(reservationUC))
			r.Post("/{reservationID}/release", handler.ReleaseReservationHandler(reservationUC))
		})

		r.Route("/pools", func(r chi.Router) {
			r.Get("/{currency}", handler.PoolStatusHandler(reservationUC))
			r.Post("/credit", handler.CreditPoolHandler(reservationUC))
		})

		r.Route("/referral", func(r chi.Router) {
			r.Post("/register", handler.RegisterReferralHandler(referralUC))
			r.Post("/distribute", handler.DistributeCommissionHandler(referralUC))
			r.Get("/chain/{userID}", handler.ReferralChainHandler(referralUC))
			r.Get("/earnings/{userID}", handler.ReferralEarningsHandler(referralUC))
		})

		r.Get("/ws/balance/{userID}", handler.BalanceWSHandler(balanceUC))
	})

	return r
}
