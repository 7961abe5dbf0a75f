package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Transfer moves quantity from one warehouse's ledger row to another's, for
// manual restock balancing. Reserved stock is already promised to orders and
// cannot leave the source, so the availability check is against
// quantity - reserved_quantity. Both rows move in one transaction;
// reserved_quantity is untouched on either side.
func (r *PostgresRepository) Transfer(ctx context.Context, fromID, toID, productID string, quantity int) error {
	if fromID == toID {
		return errors.New("transfer source and destination are the same warehouse")
	}
	if productID == "" {
		return errors.New("transfer missing productId")
	}
	if quantity <= 0 {
		return fmt.Errorf("transfer quantity %d must be positive", quantity)
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		for _, id := range []string{fromID, toID} {
			active, err := warehouseActive(ctx, tx, id)
			if err != nil {
				return err
			}
			if !active {
				return fmt.Errorf("%w: warehouse %s is inactive", ErrNotFound, id)
			}
		}

		// Lock rows in a fixed order so two opposing transfers cannot
		// deadlock on each other.
		first, second := fromID, toID
		if second < first {
			first, second = second, first
		}
		entries := make(map[string]StockEntry, 2)
		for _, id := range []string{first, second} {
			entry, err := lockEntry(ctx, tx, id, productID)
			if err != nil {
				// The destination row may not exist yet; it is created below.
				if id == toID && errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			entries[id] = entry
		}

		source, ok := entries[fromID]
		if !ok {
			return fmt.Errorf("%w: no stock entry for product %s at warehouse %s", ErrNotFound, productID, fromID)
		}
		if source.Available() < quantity {
			return fmt.Errorf("%w: transfer of %d for product %s from warehouse %s exceeds available %d",
				ErrInsufficientStock, quantity, productID, fromID, source.Available())
		}

		if _, err := tx.Exec(ctx, `
			UPDATE stock_entries
			SET quantity = quantity - $3, updated_at=now()
			WHERE warehouse_id=$1 AND product_id=$2
		`, fromID, productID, quantity); err != nil {
			return fmt.Errorf("transfer out of warehouse %s: %w", fromID, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_entries(warehouse_id, product_id, quantity, reserved_quantity)
			VALUES($1, $2, $3, 0)
			ON CONFLICT (warehouse_id, product_id) DO UPDATE
			SET quantity = stock_entries.quantity + EXCLUDED.quantity, updated_at=now()
		`, toID, productID, quantity); err != nil {
			return fmt.Errorf("transfer into warehouse %s: %w", toID, err)
		}
		return nil
	})
}

func warehouseActive(ctx context.Context, tx pgx.Tx, warehouseID string) (bool, error) {
	var active bool
	err := tx.QueryRow(ctx, `
		SELECT active FROM warehouses WHERE id=$1
	`, warehouseID).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%w: warehouse %s", ErrNotFound, warehouseID)
		}
		return false, err
	}
	return active, nil
}
