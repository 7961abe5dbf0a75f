package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeStockReserved = "StockReserved"
	stockReservedSchema    = "contracts/events/stock/StockReserved.v1.payload.schema.json"
)

// StockReservedPayload announces that an order's items were reserved at a
// single warehouse. Downstream services route payment and shipping by the
// warehouse chosen here.
type StockReservedPayload struct {
	OrderID     string      `json:"orderId"`
	UserID      string      `json:"userId"`
	WarehouseID string      `json:"warehouseId"`
	Items       []OrderItem `json:"items"`
	Timestamp   time.Time   `json:"timestamp"`
}

type StockReservedEvent struct {
	EventEnvelope
	Payload StockReservedPayload `json:"payload"`
}

func newStockReservedEvent(meta EventMeta, seq int64, producer string, payload StockReservedPayload, occurredAt time.Time) StockReservedEvent {
	return StockReservedEvent{
		EventEnvelope: EventEnvelope{
			EventName:     EventTypeStockReserved,
			EventVersion:  1,
			EventID:       uuid.NewString(),
			CorrelationID: meta.CorrelationID,
			CausationID:   meta.CausationID,
			Producer:      producer,
			PartitionKey:  meta.PartitionKey,
			Sequence:      seq,
			OccurredAt:    occurredAt,
			Schema:        stockReservedSchema,
		},
		Payload: payload,
	}
}
