package inventory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// The mock pool emulates the ledger tables in memory. BeginTx takes the
// state lock and holds it until commit or rollback, which mirrors how the
// real store serializes writers on row locks, so the concurrency tests below
// exercise the same interleavings the database would allow.

type entryKey struct {
	warehouseID string
	productID   string
}

type mockState struct {
	mu         sync.Mutex
	warehouses []Warehouse
	entries    map[entryKey]StockEntry
}

type mockPool struct {
	state *mockState

	beginErr  error
	commitErr error
	execErr   error
	// execErrAfter fails the Nth Exec within a transaction (1-based) when
	// execErr is set; 0 fails every Exec.
	execErrAfter int

	mu     sync.Mutex
	lastTx *mockTx
}

func newMockPool(warehouses []Warehouse, entries []StockEntry) *mockPool {
	state := &mockState{
		warehouses: append([]Warehouse(nil), warehouses...),
		entries:    make(map[entryKey]StockEntry, len(entries)),
	}
	for _, e := range entries {
		state.entries[entryKey{e.WarehouseID, e.ProductID}] = e
	}
	return &mockPool{state: state}
}

func (p *mockPool) entry(warehouseID, productID string) (StockEntry, bool) {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	e, ok := p.state.entries[entryKey{warehouseID, productID}]
	return e, ok
}

func (p *mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()

	if strings.Contains(sql, "FROM stock_entries") {
		warehouseID, productID := args[0].(string), args[1].(string)
		e, ok := p.state.entries[entryKey{warehouseID, productID}]
		if !ok {
			return mockRow{err: pgx.ErrNoRows}
		}
		return mockRow{values: []any{e.Quantity, e.Reserved}}
	}
	return mockRow{err: errors.New("unexpected pool query: " + sql)}
}

func (p *mockPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()

	switch {
	case strings.Contains(sql, "FROM warehouses"):
		ordered := sortedActiveWarehouses(p.state.warehouses)
		rows := make([][]any, 0, len(ordered))
		for _, w := range ordered {
			rows = append(rows, []any{w.ID, w.Name, w.City, w.Pincode, w.Active})
		}
		return &mockRows{rows: rows}, nil

	case strings.Contains(sql, "SUM("):
		productIDs := args[0].([]string)
		active := make(map[string]bool, len(p.state.warehouses))
		for _, w := range p.state.warehouses {
			if w.Active {
				active[w.ID] = true
			}
		}
		totals := make(map[string]int)
		for key, e := range p.state.entries {
			if active[key.warehouseID] && containsString(productIDs, key.productID) {
				totals[key.productID] += e.Available()
			}
		}
		rows := make([][]any, 0, len(totals))
		for _, productID := range productIDs {
			if total, ok := totals[productID]; ok {
				rows = append(rows, []any{productID, total})
			}
		}
		return &mockRows{rows: rows}, nil

	case strings.Contains(sql, "= ANY"):
		warehouseID := args[0].(string)
		productIDs := args[1].([]string)
		rows := make([][]any, 0, len(productIDs))
		for _, productID := range productIDs {
			if e, ok := p.state.entries[entryKey{warehouseID, productID}]; ok {
				rows = append(rows, []any{productID, e.Available()})
			}
		}
		return &mockRows{rows: rows}, nil

	case strings.Contains(sql, "ORDER BY product_id"):
		warehouseID := args[0].(string)
		var productIDs []string
		for key := range p.state.entries {
			if key.warehouseID == warehouseID {
				productIDs = append(productIDs, key.productID)
			}
		}
		sort.Strings(productIDs)
		rows := make([][]any, 0, len(productIDs))
		for _, productID := range productIDs {
			e := p.state.entries[entryKey{warehouseID, productID}]
			rows = append(rows, []any{productID, e.Quantity, e.Reserved})
		}
		return &mockRows{rows: rows}, nil
	}
	return nil, errors.New("unexpected pool query: " + sql)
}

func (p *mockPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if p.execErr != nil {
		return pgconn.CommandTag{}, p.execErr
	}

	p.state.mu.Lock()
	defer p.state.mu.Unlock()

	if strings.Contains(sql, "ON CONFLICT") {
		warehouseID, productID, quantity := args[0].(string), args[1].(string), args[2].(int)
		key := entryKey{warehouseID, productID}
		e, ok := p.state.entries[key]
		if !ok {
			p.state.entries[key] = StockEntry{WarehouseID: warehouseID, ProductID: productID, Quantity: quantity}
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		}
		if e.Reserved > quantity {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		e.Quantity = quantity
		p.state.entries[key] = e
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected pool exec: " + sql)
}

func (p *mockPool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}

	p.state.mu.Lock()
	working := make(map[entryKey]StockEntry, len(p.state.entries))
	for k, v := range p.state.entries {
		working[k] = v
	}
	tx := &mockTx{pool: p, working: working}

	p.mu.Lock()
	p.lastTx = tx
	p.mu.Unlock()
	return tx, nil
}

type mockTx struct {
	pool      *mockPool
	working   map[entryKey]StockEntry
	execCount int

	committed  bool
	rolledBack bool
}

func (tx *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if strings.Contains(sql, "FROM warehouses") {
		warehouseID := args[0].(string)
		for _, w := range tx.pool.state.warehouses {
			if w.ID == warehouseID {
				return mockRow{values: []any{w.Active}}
			}
		}
		return mockRow{err: pgx.ErrNoRows}
	}

	warehouseID, productID := args[0].(string), args[1].(string)
	e, ok := tx.working[entryKey{warehouseID, productID}]
	if !ok {
		return mockRow{err: pgx.ErrNoRows}
	}
	return mockRow{values: []any{e.Quantity, e.Reserved}}
}

func (tx *mockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.execCount++
	if err := tx.pool.execErr; err != nil {
		if tx.pool.execErrAfter == 0 || tx.execCount >= tx.pool.execErrAfter {
			return pgconn.CommandTag{}, err
		}
	}

	warehouseID, productID := args[0].(string), args[1].(string)
	quantity := args[2].(int)
	key := entryKey{warehouseID, productID}
	e := tx.working[key]

	switch {
	case strings.Contains(sql, "reserved_quantity = reserved_quantity + $3"):
		e.Reserved += quantity
	case strings.Contains(sql, "quantity = quantity - $3, reserved_quantity = reserved_quantity - $3"):
		e.Quantity -= quantity
		e.Reserved -= quantity
	case strings.Contains(sql, "reserved_quantity = reserved_quantity - $3"):
		e.Reserved -= quantity
	case strings.Contains(sql, "ON CONFLICT"):
		if existing, ok := tx.working[key]; ok {
			e = existing
			e.Quantity += quantity
		} else {
			e = StockEntry{WarehouseID: warehouseID, ProductID: productID, Quantity: quantity}
		}
	case strings.Contains(sql, "quantity = quantity - $3"):
		e.Quantity -= quantity
	default:
		return pgconn.CommandTag{}, errors.New("unexpected tx exec: " + sql)
	}

	e.WarehouseID, e.ProductID = warehouseID, productID
	tx.working[key] = e
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (tx *mockTx) Commit(ctx context.Context) error {
	if err := tx.pool.commitErr; err != nil {
		return err
	}
	tx.pool.state.entries = tx.working
	tx.committed = true
	tx.pool.state.mu.Unlock()
	return nil
}

func (tx *mockTx) Rollback(ctx context.Context) error {
	if tx.committed || tx.rolledBack {
		return pgx.ErrTxClosed
	}
	tx.rolledBack = true
	tx.pool.state.mu.Unlock()
	return nil
}

// Unused parts of the pgx.Tx interface.
func (tx *mockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("not supported")
}
func (tx *mockTx) Conn() *pgx.Conn { return nil }
func (tx *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not supported")
}
func (tx *mockTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }
func (tx *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not supported")
}
func (tx *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (tx *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

type mockRow struct {
	values []any
	err    error
}

func (r mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanValues(r.values, dest)
}

type mockRows struct {
	rows   [][]any
	idx    int
	closed bool
}

func (r *mockRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	return scanValues(r.rows[r.idx-1], dest)
}

func (r *mockRows) Close()     { r.closed = true }
func (r *mockRows) Err() error { return nil }

// Unused parts of the pgx.Rows interface.
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, errors.New("not supported") }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

func scanValues(values []any, dest []any) error {
	for i, v := range values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *bool:
			*d = v.(bool)
		default:
			return errors.New("unsupported scan dest")
		}
	}
	return nil
}

func sortedActiveWarehouses(warehouses []Warehouse) []Warehouse {
	var active []Warehouse
	for _, w := range warehouses {
		if w.Active {
			active = append(active, w)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return active
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
