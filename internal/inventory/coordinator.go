package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// The reservation transitions below implement the lifecycle
//
//	UNALLOCATED --Reserve--> RESERVED --Confirm--> CONSUMED
//	                  |
//	                  +--Release--> UNALLOCATED
//
// State is carried implicitly by the reserved_quantity delta on the ledger
// rows; no allocation record is persisted. Every transition runs as one
// transaction over all lines: each row is locked with SELECT ... FOR UPDATE,
// checked, then updated, so either every line moves or none does.

// Reserve earmarks stock for an unconfirmed order by incrementing
// reserved_quantity on every line's ledger row.
//
// Callers are expected to have picked the warehouse via
// FindFulfillingWarehouse, but that check-then-act window is racy under
// concurrent orders, so sufficiency is re-validated here under the row lock.
// An oversubscribing reservation fails with ErrInsufficientStock instead of
// going negative on availability.
func (r *PostgresRepository) Reserve(ctx context.Context, warehouseID string, lines []Line) error {
	if err := validateLines(lines); err != nil {
		return err
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return r.reserveTx(ctx, tx, warehouseID, lines)
	})
}

// Confirm converts a reservation into permanently consumed stock, on payment
// confirmation: quantity and reserved_quantity both drop by the reserved
// amount, leaving availability unchanged.
func (r *PostgresRepository) Confirm(ctx context.Context, warehouseID string, lines []Line) error {
	if err := validateLines(lines); err != nil {
		return err
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return r.confirmTx(ctx, tx, warehouseID, lines)
	})
}

// Release returns reserved stock to the available pool, on cancellation or
// payment failure. Only reserved_quantity moves.
func (r *PostgresRepository) Release(ctx context.Context, warehouseID string, lines []Line) error {
	if err := validateLines(lines); err != nil {
		return err
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return r.releaseTx(ctx, tx, warehouseID, lines)
	})
}

// ReserveTx is Reserve on a caller-owned transaction. The caller commits or
// rolls back; no conflict retry happens at this level.
func (r *PostgresRepository) ReserveTx(ctx context.Context, tx pgx.Tx, warehouseID string, lines []Line) error {
	if err := validateLines(lines); err != nil {
		return err
	}
	return r.reserveTx(ctx, tx, warehouseID, lines)
}

func (r *PostgresRepository) ConfirmTx(ctx context.Context, tx pgx.Tx, warehouseID string, lines []Line) error {
	if err := validateLines(lines); err != nil {
		return err
	}
	return r.confirmTx(ctx, tx, warehouseID, lines)
}

func (r *PostgresRepository) ReleaseTx(ctx context.Context, tx pgx.Tx, warehouseID string, lines []Line) error {
	if err := validateLines(lines); err != nil {
		return err
	}
	return r.releaseTx(ctx, tx, warehouseID, lines)
}

func (r *PostgresRepository) reserveTx(ctx context.Context, tx pgx.Tx, warehouseID string, lines []Line) error {
	for _, line := range lines {
		entry, err := lockEntry(ctx, tx, warehouseID, line.ProductID)
		if err != nil {
			return err
		}
		if entry.Available() < line.Quantity {
			return fmt.Errorf("%w: product %s at warehouse %s: requested %d, available %d",
				ErrInsufficientStock, line.ProductID, warehouseID, line.Quantity, entry.Available())
		}
		_, err = tx.Exec(ctx, `
			UPDATE stock_entries
			SET reserved_quantity = reserved_quantity + $3, updated_at=now()
			WHERE warehouse_id=$1 AND product_id=$2
		`, warehouseID, line.ProductID, line.Quantity)
		if err != nil {
			return fmt.Errorf("reserve product %s: %w", line.ProductID, err)
		}
	}
	return nil
}

func (r *PostgresRepository) confirmTx(ctx context.Context, tx pgx.Tx, warehouseID string, lines []Line) error {
	for _, line := range lines {
		entry, err := lockEntry(ctx, tx, warehouseID, line.ProductID)
		if err != nil {
			return err
		}
		// The caller promises these quantities were reserved. If they were
		// not, confirming would drive the row negative; abort loudly instead.
		if entry.Reserved < line.Quantity || entry.Quantity < line.Quantity {
			return fmt.Errorf("%w: confirm of %d for product %s at warehouse %s exceeds reserved %d (quantity %d)",
				ErrInvariantViolation, line.Quantity, line.ProductID, warehouseID, entry.Reserved, entry.Quantity)
		}
		_, err = tx.Exec(ctx, `
			UPDATE stock_entries
			SET quantity = quantity - $3, reserved_quantity = reserved_quantity - $3, updated_at=now()
			WHERE warehouse_id=$1 AND product_id=$2
		`, warehouseID, line.ProductID, line.Quantity)
		if err != nil {
			return fmt.Errorf("confirm product %s: %w", line.ProductID, err)
		}
	}
	return nil
}

func (r *PostgresRepository) releaseTx(ctx context.Context, tx pgx.Tx, warehouseID string, lines []Line) error {
	for _, line := range lines {
		entry, err := lockEntry(ctx, tx, warehouseID, line.ProductID)
		if err != nil {
			return err
		}
		// Releasing more than is reserved must never wrap below zero.
		if entry.Reserved < line.Quantity {
			return fmt.Errorf("%w: release of %d for product %s at warehouse %s exceeds reserved %d",
				ErrInvariantViolation, line.Quantity, line.ProductID, warehouseID, entry.Reserved)
		}
		_, err = tx.Exec(ctx, `
			UPDATE stock_entries
			SET reserved_quantity = reserved_quantity - $3, updated_at=now()
			WHERE warehouse_id=$1 AND product_id=$2
		`, warehouseID, line.ProductID, line.Quantity)
		if err != nil {
			return fmt.Errorf("release product %s: %w", line.ProductID, err)
		}
	}
	return nil
}

// lockEntry reads a ledger row under FOR UPDATE so the subsequent check and
// update run without concurrent writers in between.
func lockEntry(ctx context.Context, tx pgx.Tx, warehouseID, productID string) (StockEntry, error) {
	entry := StockEntry{WarehouseID: warehouseID, ProductID: productID}
	err := tx.QueryRow(ctx, `
		SELECT quantity, reserved_quantity
		FROM stock_entries
		WHERE warehouse_id=$1 AND product_id=$2
		FOR UPDATE
	`, warehouseID, productID).Scan(&entry.Quantity, &entry.Reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockEntry{}, fmt.Errorf("%w: no stock entry for product %s at warehouse %s", ErrNotFound, productID, warehouseID)
		}
		return StockEntry{}, err
	}
	return entry, nil
}
