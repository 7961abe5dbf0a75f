package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ukrocks007/hazare-fulfillment-go/internal/inventory"
	"github.com/ukrocks007/hazare-fulfillment-go/internal/sequence"
)

type Publisher struct {
	ch                 *amqp.Channel
	seqRepo            *sequence.Repository
	producerIdentifier string
}

type PublisherOptions struct {
	Producer string
}

func NewPublisher(conn *amqp.Connection, seqRepo *sequence.Repository, opts PublisherOptions) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventsExchange(ch); err != nil {
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}

	producer := opts.Producer
	if producer == "" {
		producer = "fulfillment-service"
	}

	return &Publisher{
		ch:                 ch,
		seqRepo:            seqRepo,
		producerIdentifier: producer,
	}, nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

type EventMeta struct {
	CorrelationID string
	CausationID   string
	PartitionKey  string
}

func (p *Publisher) PublishStockReserved(ctx context.Context, meta EventMeta, orderID, userID, warehouseID string, reserved []inventory.Line) error {
	timestamp := time.Now().UTC()

	payload := StockReservedPayload{
		OrderID:     orderID,
		UserID:      userID,
		WarehouseID: warehouseID,
		Timestamp:   timestamp,
	}
	for _, it := range reserved {
		payload.Items = append(payload.Items, OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
		})
	}

	seq, err := p.seqRepo.NextSequence(ctx, meta.PartitionKey)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	env := newStockReservedEvent(meta, seq, p.producerIdentifier, payload, timestamp)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal StockReserved envelope: %w", err)
	}

	return p.publishJSON(ctx, StockReservedRoutingKey, body)
}

func (p *Publisher) PublishStockDepleted(ctx context.Context, meta EventMeta, orderID, userID string, shortages []inventory.ProductAvailability) error {
	timestamp := time.Now().UTC()

	payload := StockDepletedPayload{
		OrderID:   orderID,
		UserID:    userID,
		Timestamp: timestamp,
	}
	for _, s := range shortages {
		payload.Shortages = append(payload.Shortages, ShortageLine{
			ProductID:  s.ProductID,
			Requested:  s.Required,
			Available:  s.Available,
			Sufficient: s.Sufficient,
		})
	}

	seq, err := p.seqRepo.NextSequence(ctx, meta.PartitionKey)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	env := newStockDepletedEvent(meta, seq, p.producerIdentifier, payload, timestamp)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal StockDepleted envelope: %w", err)
	}

	return p.publishJSON(ctx, StockDepletedRoutingKey, body)
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}
