package inventory

// Warehouse is a physical fulfillment location. Records are owned by the
// admin tooling; the engine only reads them.
type Warehouse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	City    string `json:"city"`
	Pincode string `json:"pincode"`
	Active  bool   `json:"active"`
}

// StockEntry is the per-warehouse, per-product ledger row. It is the sole
// source of truth for how much of a product a warehouse owns and how much
// of that is promised to unconfirmed orders.
type StockEntry struct {
	WarehouseID string `json:"warehouseId"`
	ProductID   string `json:"productId"`
	Quantity    int    `json:"quantity"`
	Reserved    int    `json:"reservedQuantity"`
}

// Available is the portion of the entry that can still be promised.
func (e StockEntry) Available() int {
	return e.Quantity - e.Reserved
}

// Line is one requested item of an allocation, confirmation, release or
// availability check.
type Line struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ProductAvailability is the cross-warehouse availability summary for one
// product, as reported by CheckGlobalAvailability. Available sums
// quantity-reserved over all active warehouses, so Sufficient answers
// "could this be fulfilled if stock were combined", not "can one warehouse
// fulfill it".
type ProductAvailability struct {
	ProductID  string `json:"productId"`
	Available  int    `json:"available"`
	Required   int    `json:"required"`
	Sufficient bool   `json:"sufficient"`
}
