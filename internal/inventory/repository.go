package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound means no warehouse or ledger row can satisfy the request.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock means an explicit availability check failed.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvariantViolation means a mutation would leave a ledger row with
	// reserved_quantity above quantity or either below zero. The transaction
	// is aborted instead of clamping.
	ErrInvariantViolation = errors.New("stock invariant violation")
	// ErrTxConflict means the underlying store aborted the transaction due to
	// contention and bounded retries were exhausted.
	ErrTxConflict = errors.New("transaction conflict")
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Repository interface {
	GetEntry(ctx context.Context, warehouseID, productID string) (StockEntry, error)
	ListEntries(ctx context.Context, warehouseID string) ([]StockEntry, error)
	SetQuantity(ctx context.Context, warehouseID, productID string, quantity int) error
	ListActiveWarehouses(ctx context.Context) ([]Warehouse, error)

	FindFulfillingWarehouse(ctx context.Context, lines []Line, deliveryPincode string) (string, error)
	CheckGlobalAvailability(ctx context.Context, lines []Line) (map[string]ProductAvailability, error)

	Reserve(ctx context.Context, warehouseID string, lines []Line) error
	Confirm(ctx context.Context, warehouseID string, lines []Line) error
	Release(ctx context.Context, warehouseID string, lines []Line) error
	Transfer(ctx context.Context, fromID, toID, productID string, quantity int) error
}

// TransactionalRepository additionally exposes the reservation transitions on
// a caller-owned transaction, so consumers can commit them together with
// their dedup checkpoint.
type TransactionalRepository interface {
	Repository
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	ReserveTx(ctx context.Context, tx pgx.Tx, warehouseID string, lines []Line) error
	ConfirmTx(ctx context.Context, tx pgx.Tx, warehouseID string, lines []Line) error
	ReleaseTx(ctx context.Context, tx pgx.Tx, warehouseID string, lines []Line) error
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, txOptions)
}

func (r *PostgresRepository) GetEntry(ctx context.Context, warehouseID, productID string) (StockEntry, error) {
	entry := StockEntry{WarehouseID: warehouseID, ProductID: productID}
	row := r.pool.QueryRow(ctx, `
		SELECT quantity, reserved_quantity
		FROM stock_entries
		WHERE warehouse_id=$1 AND product_id=$2
	`, warehouseID, productID)
	if err := row.Scan(&entry.Quantity, &entry.Reserved); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockEntry{}, ErrNotFound
		}
		return StockEntry{}, err
	}
	return entry, nil
}

func (r *PostgresRepository) ListEntries(ctx context.Context, warehouseID string) ([]StockEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, quantity, reserved_quantity
		FROM stock_entries
		WHERE warehouse_id=$1
		ORDER BY product_id
	`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []StockEntry
	for rows.Next() {
		entry := StockEntry{WarehouseID: warehouseID}
		if err := rows.Scan(&entry.ProductID, &entry.Quantity, &entry.Reserved); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SetQuantity is the admin stock-setting path. It overwrites quantity and
// leaves reserved_quantity alone; setting quantity below the currently
// reserved amount is rejected as an invariant violation.
func (r *PostgresRepository) SetQuantity(ctx context.Context, warehouseID, productID string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: quantity %d below zero", ErrInvariantViolation, quantity)
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO stock_entries(warehouse_id, product_id, quantity, reserved_quantity)
		VALUES($1, $2, $3, 0)
		ON CONFLICT (warehouse_id, product_id) DO UPDATE
		SET quantity=EXCLUDED.quantity, updated_at=now()
		WHERE stock_entries.reserved_quantity <= EXCLUDED.quantity
	`, warehouseID, productID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: quantity %d below reserved stock for product %s at warehouse %s",
			ErrInvariantViolation, quantity, productID, warehouseID)
	}
	return nil
}

func (r *PostgresRepository) ListActiveWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, city, pincode, active
		FROM warehouses
		WHERE active
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Name, &w.City, &w.Pincode, &w.Active); err != nil {
			return nil, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

const maxTxAttempts = 3

// inTx runs fn inside a transaction, retrying a bounded number of times on
// serialization failures and deadlocks before surfacing ErrTxConflict.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback(ctx)
			if isRetryableTxError(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			if isRetryableTxError(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTxConflict, lastErr)
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure / deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func validateLines(lines []Line) error {
	if len(lines) == 0 {
		return errors.New("no lines requested")
	}
	for _, line := range lines {
		if line.ProductID == "" {
			return errors.New("line missing productId")
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("line for product %s has non-positive quantity %d", line.ProductID, line.Quantity)
		}
	}
	return nil
}
