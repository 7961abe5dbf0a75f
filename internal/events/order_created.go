package events

import "time"

const (
	EventTypeOrderCreated = "OrderCreated"
	orderCreatedSchema    = "contracts/events/order/OrderCreated.v1.payload.schema.json"
)

// OrderCreatedPayload is published by the order service when a customer
// places an order. The fulfillment service consumes it, picks a warehouse
// biased toward the delivery pincode and reserves stock there.
type OrderCreatedPayload struct {
	OrderID         string      `json:"orderId"`
	UserID          string      `json:"userId"`
	DeliveryPincode string      `json:"deliveryPincode,omitempty"`
	Items           []OrderItem `json:"items"`
	Timestamp       time.Time   `json:"timestamp"`
}

type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}
