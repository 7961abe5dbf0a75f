package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ukrocks007/hazare-fulfillment-go/internal/dedup"
	"github.com/ukrocks007/hazare-fulfillment-go/internal/inventory"
)

type StockPublisher interface {
	PublishStockReserved(ctx context.Context, meta EventMeta, orderID, userID, warehouseID string, reserved []inventory.Line) error
	PublishStockDepleted(ctx context.Context, meta EventMeta, orderID, userID string, shortages []inventory.ProductAvailability) error
}

const (
	OrderCreatedConsumerName     = "fulfillment-order-created"
	PaymentConfirmedConsumerName = "fulfillment-payment-confirmed"
	OrderCancelledConsumerName   = "fulfillment-order-cancelled"

	// How often to re-run warehouse selection when a concurrent order wins
	// the reservation race for the warehouse we just picked.
	maxAllocationAttempts = 3
)

// OrderCreatedHandler picks a warehouse for the order and reserves stock
// there, then publishes StockReserved or StockDepleted. Returning an error
// will NACK the message.
//
// Selection and reservation are two separate transactions, so a concurrent
// order can drain the chosen warehouse in between. Reserve re-validates
// under its row locks and fails the race loser, which we answer by running
// selection again against the updated ledger.
func OrderCreatedHandler(repo inventory.TransactionalRepository, dedupRepo *dedup.Repository, pub StockPublisher, logger *log.Logger, consumerName string) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		env, err := parseEnvelope(body)
		if err != nil {
			return err
		}
		if err := env.Validate(EventTypeOrderCreated, 1); err != nil {
			return err
		}
		var payload OrderCreatedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal OrderCreated payload: %w", err)
		}
		if payload.OrderID == "" {
			return fmt.Errorf("missing orderId")
		}

		lines := linesFromItems(payload.Items)
		if len(lines) == 0 {
			return fmt.Errorf("order %s has no usable items", payload.OrderID)
		}

		meta := eventMetaFrom(env, payload.OrderID)

		for attempt := 0; attempt < maxAllocationAttempts; attempt++ {
			warehouseID, err := repo.FindFulfillingWarehouse(ctx, lines, payload.DeliveryPincode)
			if errors.Is(err, inventory.ErrNotFound) {
				return publishDepleted(ctx, repo, dedupRepo, pub, logger, consumerName, env, meta, payload, lines)
			}
			if err != nil {
				return fmt.Errorf("find warehouse for order %s: %w", payload.OrderID, err)
			}

			skipped, err := applyWithCheckpoint(ctx, repo, dedupRepo, logger, consumerName, env, func(tx pgx.Tx) error {
				return repo.ReserveTx(ctx, tx, warehouseID, lines)
			})
			if errors.Is(err, inventory.ErrInsufficientStock) || errors.Is(err, inventory.ErrNotFound) {
				logger.Printf("order=%s lost reservation race at warehouse=%s, reselecting", payload.OrderID, warehouseID)
				continue
			}
			if err != nil {
				return fmt.Errorf("reserve for order %s: %w", payload.OrderID, err)
			}
			if skipped {
				logger.Printf("skip duplicate orderId=%s partition=%s seq=%d", payload.OrderID, env.PartitionKey, env.Sequence)
				return nil
			}

			logger.Printf("stock reserved order=%s warehouse=%s lines=%d", payload.OrderID, warehouseID, len(lines))
			return pub.PublishStockReserved(ctx, meta, payload.OrderID, payload.UserID, warehouseID, lines)
		}

		return fmt.Errorf("order %s: allocation still contended after %d attempts", payload.OrderID, maxAllocationAttempts)
	}
}

// PaymentConfirmedHandler converts the order's reservation into consumed
// stock at the warehouse announced in StockReserved.
func PaymentConfirmedHandler(repo inventory.TransactionalRepository, dedupRepo *dedup.Repository, logger *log.Logger, consumerName string) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		env, err := parseEnvelope(body)
		if err != nil {
			return err
		}
		if err := env.Validate(EventTypePaymentConfirmed, 1); err != nil {
			return err
		}
		var payload PaymentConfirmedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal PaymentConfirmed payload: %w", err)
		}
		lines, err := lifecycleLines(payload.OrderID, payload.WarehouseID, payload.Items)
		if err != nil {
			return err
		}

		skipped, err := applyWithCheckpoint(ctx, repo, dedupRepo, logger, consumerName, env, func(tx pgx.Tx) error {
			return repo.ConfirmTx(ctx, tx, payload.WarehouseID, lines)
		})
		if err != nil {
			return fmt.Errorf("confirm allocation for order %s: %w", payload.OrderID, err)
		}
		if skipped {
			logger.Printf("skip duplicate orderId=%s partition=%s seq=%d", payload.OrderID, env.PartitionKey, env.Sequence)
			return nil
		}

		logger.Printf("allocation confirmed order=%s warehouse=%s", payload.OrderID, payload.WarehouseID)
		return nil
	}
}

// OrderCancelledHandler returns the order's reserved stock to the available
// pool. Redeliveries of the same event are absorbed by the checkpoint; a
// genuine second release of the same reservation fails as an invariant
// violation rather than driving reserved_quantity negative.
func OrderCancelledHandler(repo inventory.TransactionalRepository, dedupRepo *dedup.Repository, logger *log.Logger, consumerName string) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		env, err := parseEnvelope(body)
		if err != nil {
			return err
		}
		if err := env.Validate(EventTypeOrderCancelled, 1); err != nil {
			return err
		}
		var payload OrderCancelledPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal OrderCancelled payload: %w", err)
		}
		lines, err := lifecycleLines(payload.OrderID, payload.WarehouseID, payload.Items)
		if err != nil {
			return err
		}

		skipped, err := applyWithCheckpoint(ctx, repo, dedupRepo, logger, consumerName, env, func(tx pgx.Tx) error {
			return repo.ReleaseTx(ctx, tx, payload.WarehouseID, lines)
		})
		if err != nil {
			return fmt.Errorf("release allocation for order %s: %w", payload.OrderID, err)
		}
		if skipped {
			logger.Printf("skip duplicate orderId=%s partition=%s seq=%d", payload.OrderID, env.PartitionKey, env.Sequence)
			return nil
		}

		logger.Printf("allocation released order=%s warehouse=%s", payload.OrderID, payload.WarehouseID)
		return nil
	}
}

// lifecycleLines validates the shared shape of PaymentConfirmed and
// OrderCancelled payloads and converts their items.
func lifecycleLines(orderID, warehouseID string, items []OrderItem) ([]inventory.Line, error) {
	if orderID == "" {
		return nil, fmt.Errorf("missing orderId")
	}
	if warehouseID == "" {
		return nil, fmt.Errorf("missing warehouseId for order %s", orderID)
	}
	lines := linesFromItems(items)
	if len(lines) == 0 {
		return nil, fmt.Errorf("order %s has no usable items", orderID)
	}
	return lines, nil
}

// publishDepleted records the checkpoint (no ledger change) and reports the
// cross-warehouse availability so callers can see what is short.
func publishDepleted(ctx context.Context, repo inventory.TransactionalRepository, dedupRepo *dedup.Repository, pub StockPublisher, logger *log.Logger, consumerName string, env EventEnvelope, meta EventMeta, payload OrderCreatedPayload, lines []inventory.Line) error {
	skipped, err := applyWithCheckpoint(ctx, repo, dedupRepo, logger, consumerName, env, nil)
	if err != nil {
		return err
	}
	if skipped {
		logger.Printf("skip duplicate orderId=%s partition=%s seq=%d", payload.OrderID, env.PartitionKey, env.Sequence)
		return nil
	}

	availability, err := repo.CheckGlobalAvailability(ctx, lines)
	if err != nil {
		return fmt.Errorf("check availability for order %s: %w", payload.OrderID, err)
	}
	shortages := make([]inventory.ProductAvailability, 0, len(lines))
	for _, line := range lines {
		shortages = append(shortages, availability[line.ProductID])
	}

	logger.Printf("stock depleted order=%s items=%d", payload.OrderID, len(lines))
	return pub.PublishStockDepleted(ctx, meta, payload.OrderID, payload.UserID, shortages)
}

// applyWithCheckpoint runs fn and the dedup checkpoint update in one
// transaction. It returns skipped=true when the envelope's sequence was
// already applied for this consumer/partition, in which case fn never ran.
func applyWithCheckpoint(ctx context.Context, repo inventory.TransactionalRepository, dedupRepo *dedup.Repository, logger *log.Logger, consumerName string, env EventEnvelope, fn func(tx pgx.Tx) error) (bool, error) {
	tx, err := repo.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	localDedup := dedupRepo.WithExecutor(tx)

	if env.Sequence != 0 {
		lastSeq, ok, err := localDedup.GetLastSequence(ctx, consumerName, env.PartitionKey)
		if err != nil {
			return false, err
		}
		if ok {
			if env.Sequence <= lastSeq {
				return true, nil
			}
			if env.Sequence > lastSeq+1 {
				logger.Printf("warning: sequence gap for partition=%s seq=%d last=%d", env.PartitionKey, env.Sequence, lastSeq)
			}
		}
	}

	if fn != nil {
		if err := fn(tx); err != nil {
			return false, err
		}
	}

	if env.Sequence != 0 {
		if err := localDedup.UpsertLastSequence(ctx, consumerName, env.PartitionKey, env.Sequence); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return false, nil
}

func linesFromItems(items []OrderItem) []inventory.Line {
	lines := make([]inventory.Line, 0, len(items))
	for _, it := range items {
		if it.ProductID == "" || it.Quantity <= 0 {
			continue
		}
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

func eventMetaFrom(env EventEnvelope, orderID string) EventMeta {
	correlationID := env.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return EventMeta{
		CorrelationID: correlationID,
		CausationID:   env.EventID,
		PartitionKey:  orderID,
	}
}
