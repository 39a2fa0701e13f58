package balance

import (
	"encoding/json"
	"log"
	"sync"

	"ledger-core-service/internal/domain"

	"github.com/gorilla/websocket"
)

// WSMessage is the envelope pushed to balance stream clients.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Notifier pushes balance updates to connected WebSocket clients. Purely a
// read-side convenience: it observes committed changes, it never mutates.
type Notifier struct {
	clients map[string]map[*websocket.Conn]bool
	mu      sync.Mutex
}

func NewNotifier() *Notifier {
	return &Notifier{
		clients: make(map[string]map[*websocket.Conn]bool),
	}
}

func (n *Notifier) RegisterConnection(userID string, conn *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.clients[userID] == nil {
		n.clients[userID] = make(map[*websocket.Conn]bool)
	}
	n.clients[userID][conn] = true
}

func (n *Notifier) UnregisterConnection(userID string, conn *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if conns, ok := n.clients[userID]; ok {
		delete(conns, conn)
		conn.Close()
		if len(conns) == 0 {
			delete(n.clients, userID)
		}
	}
}

// NotifyBalance pushes the post-commit balance to every open connection for
// the user.
func (n *Notifier) NotifyBalance(userID string, b *domain.Balance) {
	n.mu.Lock()
	defer n.mu.Unlock()

	message := WSMessage{
		Type: "balance_update",
		Data: map[string]interface{}{
			"user_id":   userID,
			"currency":  b.Currency,
			"balance":   b.Balance,
			"available": b.Available,
			"locked":    b.Locked,
		},
	}

	payload, _ := json.Marshal(message)

	for conn := range n.clients[userID] {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("Error sending balance update to %s: %v", userID, err)
			conn.Close()
			delete(n.clients[userID], conn)
		}
	}
}

// NotifyInitial sends the full balance set when a client connects.
func (n *Notifier) NotifyInitial(userID string, balances []*domain.Balance) {
	n.mu.Lock()
	defer n.mu.Unlock()

	message := WSMessage{
		Type: "initial_data",
		Data: map[string]interface{}{
			"balances": balances,
		},
	}

	payload, _ := json.Marshal(message)

	for conn := range n.clients[userID] {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("Error sending initial data to %s: %v", userID, err)
			conn.Close()
			delete(n.clients[userID], conn)
		}
	}
}
