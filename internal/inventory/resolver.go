package inventory

import (
	"context"
	"fmt"
	"sort"
)

const pincodePrefixLen = 3

// FindFulfillingWarehouse picks the warehouse that fulfills an order. Active
// warehouses are ranked by pincode proximity and evaluated in order; the
// first one whose ledger can cover every requested line wins. Orders are
// atomic to a single warehouse, so a warehouse short on any one line is
// skipped entirely.
//
// This is first-fit, not best-fit: proximity decides the evaluation order,
// sufficiency decides selection.
func (r *PostgresRepository) FindFulfillingWarehouse(ctx context.Context, lines []Line, deliveryPincode string) (string, error) {
	if err := validateLines(lines); err != nil {
		return "", err
	}

	warehouses, err := r.ListActiveWarehouses(ctx)
	if err != nil {
		return "", fmt.Errorf("list active warehouses: %w", err)
	}
	rankWarehouses(warehouses, deliveryPincode)

	for _, w := range warehouses {
		ok, err := r.warehouseCovers(ctx, w.ID, lines)
		if err != nil {
			return "", err
		}
		if ok {
			return w.ID, nil
		}
	}
	return "", ErrNotFound
}

// rankWarehouses sorts in place: exact pincode match first, shared 3-digit
// prefix next, rest untouched. The sort is stable so the base by-name order
// keeps selection deterministic within a rank.
func rankWarehouses(warehouses []Warehouse, deliveryPincode string) {
	if deliveryPincode == "" {
		return
	}
	sort.SliceStable(warehouses, func(i, j int) bool {
		return pincodeRank(warehouses[i].Pincode, deliveryPincode) < pincodeRank(warehouses[j].Pincode, deliveryPincode)
	})
}

func pincodeRank(warehousePincode, deliveryPincode string) int {
	switch {
	case warehousePincode == deliveryPincode:
		return 0
	case len(warehousePincode) >= pincodePrefixLen && len(deliveryPincode) >= pincodePrefixLen &&
		warehousePincode[:pincodePrefixLen] == deliveryPincode[:pincodePrefixLen]:
		return 1
	default:
		return 2
	}
}

// warehouseCovers reports whether one warehouse can satisfy every line from
// its unreserved stock. Missing ledger rows count as zero available.
func (r *PostgresRepository) warehouseCovers(ctx context.Context, warehouseID string, lines []Line) (bool, error) {
	productIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		productIDs = append(productIDs, line.ProductID)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT product_id, quantity - reserved_quantity
		FROM stock_entries
		WHERE warehouse_id=$1 AND product_id = ANY($2)
	`, warehouseID, productIDs)
	if err != nil {
		return false, fmt.Errorf("query stock for warehouse %s: %w", warehouseID, err)
	}
	defer rows.Close()

	available := make(map[string]int, len(lines))
	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return false, err
		}
		available[productID] = qty
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	for _, line := range lines {
		if available[line.ProductID] < line.Quantity {
			return false, nil
		}
	}
	return true, nil
}

// CheckGlobalAvailability sums unreserved stock per product across all
// active warehouses. This answers whether the request could theoretically be
// covered by combined stock; it is a signal for availability badges, not a
// commitment, since an order still ships from a single warehouse.
func (r *PostgresRepository) CheckGlobalAvailability(ctx context.Context, lines []Line) (map[string]ProductAvailability, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}

	productIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		productIDs = append(productIDs, line.ProductID)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT s.product_id, COALESCE(SUM(s.quantity - s.reserved_quantity), 0)
		FROM stock_entries s
		JOIN warehouses w ON w.id = s.warehouse_id
		WHERE w.active AND s.product_id = ANY($1)
		GROUP BY s.product_id
	`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("aggregate availability: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int, len(lines))
	for rows.Next() {
		var productID string
		var total int
		if err := rows.Scan(&productID, &total); err != nil {
			return nil, err
		}
		totals[productID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make(map[string]ProductAvailability, len(lines))
	for _, line := range lines {
		total := totals[line.ProductID]
		result[line.ProductID] = ProductAvailability{
			ProductID:  line.ProductID,
			Available:  total,
			Required:   line.Quantity,
			Sufficient: total >= line.Quantity,
		}
	}
	return result, nil
}
