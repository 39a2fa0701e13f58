package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	LedgerEventsChannel = "ledger_events"
	LedgerEventsTopic   = "ledger.events"
)

// LedgerEventPublisher fans ledger events out to Kafka (downstream consumers:
// receipts, notifications, analytics) and Redis pub/sub (live platform
// listeners). Publishing is best-effort and happens strictly after the money
// transaction commits; it is never part of it.
type LedgerEventPublisher struct {
	rdb    *redis.Client
	writer *kafka.Writer
	logger *zap.Logger
}

func NewLedgerEventPublisher(rdb *redis.Client, writer *kafka.Writer, logger *zap.Logger) *LedgerEventPublisher {
	return &LedgerEventPublisher{
		rdb:    rdb,
		writer: writer,
		logger: logger,
	}
}

type LedgerEvent struct {
	EventType    string                 `json:"event_type"` // balance.credit, balance.debit, reservation.confirmed, commission.distributed, ...
	UserID       string                 `json:"user_id,omitempty"`
	Counterparty string                 `json:"counterparty,omitempty"`
	Currency     string                 `json:"currency"`
	Amount       float64                `json:"amount"`
	TxType       string                 `json:"tx_type,omitempty"`
	RefID        string                 `json:"ref_id,omitempty"`
	BalanceAfter float64                `json:"balance_after,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Publish sends the event to both sinks. Errors are logged, not returned
// upward into the balance path.
func (p *LedgerEventPublisher) Publish(ctx context.Context, event *LedgerEvent) error {
	event.Timestamp = time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger event: %w", err)
	}

	if p.rdb != nil {
		if err := p.rdb.Publish(ctx, LedgerEventsChannel, payload).Err(); err != nil {
			p.logger.Warn("redis publish failed",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}

	if p.writer != nil {
		msg := kafka.Message{
			Key:   []byte(event.UserID),
			Value: payload,
		}
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			p.logger.Warn("kafka publish failed",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}

	return nil
}

// PublishBalanceEvent publishes a committed balance mutation.
func (p *LedgerEventPublisher) PublishBalanceEvent(ctx context.Context, eventType, userID, counterparty, currency, txType, refID string, amount, balanceAfter float64) {
	_ = p.Publish(ctx, &LedgerEvent{
		EventType:    "balance." + eventType,
		UserID:       userID,
		Counterparty: counterparty,
		Currency:     currency,
		Amount:       amount,
		TxType:       txType,
		RefID:        refID,
		BalanceAfter: balanceAfter,
	})
}

// PublishReservationEvent publishes a reservation state change.
func (p *LedgerEventPublisher) PublishReservationEvent(ctx context.Context, eventType, reservationID, currency string, amount float64, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["reservation_id"] = reservationID

	_ = p.Publish(ctx, &LedgerEvent{
		EventType: "reservation." + eventType,
		Currency:  currency,
		Amount:    amount,
		Metadata:  metadata,
	})
}

// PublishCommissionEvent publishes a distribution outcome, including partial ones.
func (p *LedgerEventPublisher) PublishCommissionEvent(ctx context.Context, payerID, currency, refID string, distributed float64, paid, failed int) {
	_ = p.Publish(ctx, &LedgerEvent{
		EventType: "commission.distributed",
		UserID:    payerID,
		Currency:  currency,
		Amount:    distributed,
		RefID:     refID,
		Metadata: map[string]interface{}{
			"levels_paid":   paid,
			"levels_failed": failed,
		},
	})
}
