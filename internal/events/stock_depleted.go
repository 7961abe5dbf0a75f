package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeStockDepleted = "StockDepleted"
	stockDepletedSchema    = "contracts/events/stock/StockDepleted.v1.payload.schema.json"
)

// StockDepletedPayload announces that no single active warehouse could cover
// an order. Shortages carries the cross-warehouse availability per product
// so order and catalog services can signal what is actually short.
type StockDepletedPayload struct {
	OrderID   string         `json:"orderId"`
	UserID    string         `json:"userId"`
	Shortages []ShortageLine `json:"shortages"`
	Timestamp time.Time      `json:"timestamp"`
}

type ShortageLine struct {
	ProductID  string `json:"productId"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
	Sufficient bool   `json:"sufficient"`
}

type StockDepletedEvent struct {
	EventEnvelope
	Payload StockDepletedPayload `json:"payload"`
}

func newStockDepletedEvent(meta EventMeta, seq int64, producer string, payload StockDepletedPayload, occurredAt time.Time) StockDepletedEvent {
	return StockDepletedEvent{
		EventEnvelope: EventEnvelope{
			EventName:     EventTypeStockDepleted,
			EventVersion:  1,
			EventID:       uuid.NewString(),
			CorrelationID: meta.CorrelationID,
			CausationID:   meta.CausationID,
			Producer:      producer,
			PartitionKey:  meta.PartitionKey,
			Sequence:      seq,
			OccurredAt:    occurredAt,
			Schema:        stockDepletedSchema,
		},
		Payload: payload,
	}
}
