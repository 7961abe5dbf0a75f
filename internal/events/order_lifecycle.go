package events

import "time"

const (
	EventTypePaymentConfirmed = "PaymentConfirmed"
	paymentConfirmedSchema    = "contracts/events/payment/PaymentConfirmed.v1.payload.schema.json"

	EventTypeOrderCancelled = "OrderCancelled"
	orderCancelledSchema    = "contracts/events/order/OrderCancelled.v1.payload.schema.json"
)

// PaymentConfirmedPayload arrives from the payment webhook (or COD
// acceptance). The warehouse is the one announced in the earlier
// StockReserved event; its reservation is converted to consumed stock.
type PaymentConfirmedPayload struct {
	OrderID     string      `json:"orderId"`
	WarehouseID string      `json:"warehouseId"`
	Items       []OrderItem `json:"items"`
	Timestamp   time.Time   `json:"timestamp"`
}

// OrderCancelledPayload arrives on cancellation or payment failure; the
// order's reservation is returned to the available pool.
type OrderCancelledPayload struct {
	OrderID     string      `json:"orderId"`
	WarehouseID string      `json:"warehouseId"`
	Items       []OrderItem `json:"items"`
	Reason      string      `json:"reason,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}
