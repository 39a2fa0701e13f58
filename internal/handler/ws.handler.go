// internal/handler/ws.handler.go
package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"ledger-core-service/internal/usecase/balance"
	"ledger-core-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func BalanceWSHandler(uc *balance.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "WebSocket upgrade failed")
			return
		}

		uc.Notifier.RegisterConnection(userID, conn)
		defer uc.Notifier.UnregisterConnection(userID, conn)

		ctx := context.Background()
		balances, err := uc.ListBalances(ctx, userID)
		if err == nil {
			uc.Notifier.NotifyInitial(userID, balances)
		} else {
			log.Printf("Error loading balances: %v", err)
		}

		conn.SetPongHandler(func(appData string) error {
			return nil
		})

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Client %s disconnected: %v", userID, err)
				break
			}

			if mt == websocket.TextMessage {
				var req struct {
					Action string `json:"action"`
				}
				if err := json.Unmarshal(msg, &req); err == nil && req.Action == "get_balances" {
					balances, _ := uc.ListBalances(ctx, userID)
					uc.Notifier.NotifyInitial(userID, balances)
				}
			}
		}
	}
}
