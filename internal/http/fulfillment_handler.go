package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ukrocks007/hazare-fulfillment-go/internal/inventory"
)

type Handler struct {
	repo inventory.Repository
}

func NewHandler(repo inventory.Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) ListWarehouses(w http.ResponseWriter, r *http.Request) {
	warehouses, err := h.repo.ListActiveWarehouses(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, warehouses)
}

func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	warehouseID := chi.URLParam(r, "warehouseId")
	entries, err := h.repo.ListEntries(r.Context(), warehouseID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	warehouseID := chi.URLParam(r, "warehouseId")
	productID := chi.URLParam(r, "productId")
	entry, err := h.repo.GetEntry(r.Context(), warehouseID, productID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type setStockRequest struct {
	Quantity int `json:"quantity"`
}

// SetStock is the admin stock-setting path: it overwrites quantity and never
// touches reserved_quantity.
func (h *Handler) SetStock(w http.ResponseWriter, r *http.Request) {
	warehouseID := chi.URLParam(r, "warehouseId")
	productID := chi.URLParam(r, "productId")

	var req setStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Quantity < 0 {
		http.Error(w, "quantity must not be negative", http.StatusBadRequest)
		return
	}

	if err := h.repo.SetQuantity(r.Context(), warehouseID, productID, req.Quantity); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type findWarehouseRequest struct {
	Items           []inventory.Line `json:"items"`
	DeliveryPincode string           `json:"deliveryPincode,omitempty"`
}

func (h *Handler) FindWarehouse(w http.ResponseWriter, r *http.Request) {
	var req findWarehouseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(req.Items) == 0 {
		http.Error(w, "items required", http.StatusBadRequest)
		return
	}

	warehouseID, err := h.repo.FindFulfillingWarehouse(r.Context(), req.Items, req.DeliveryPincode)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"warehouseId": warehouseID})
}

type availabilityRequest struct {
	Items []inventory.Line `json:"items"`
}

func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(req.Items) == 0 {
		http.Error(w, "items required", http.StatusBadRequest)
		return
	}

	availability, err := h.repo.CheckGlobalAvailability(r.Context(), req.Items)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

type allocationRequest struct {
	WarehouseID string           `json:"warehouseId"`
	Items       []inventory.Line `json:"items"`
}

func (req allocationRequest) validate() string {
	if req.WarehouseID == "" {
		return "warehouseId required"
	}
	if len(req.Items) == 0 {
		return "items required"
	}
	return ""
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.allocationTransition(w, r, h.repo.Reserve)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.allocationTransition(w, r, h.repo.Confirm)
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	h.allocationTransition(w, r, h.repo.Release)
}

func (h *Handler) allocationTransition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, warehouseID string, lines []inventory.Line) error) {
	var req allocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if err := apply(r.Context(), req.WarehouseID, req.Items); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type transferRequest struct {
	FromWarehouseID string `json:"fromWarehouseId"`
	ToWarehouseID   string `json:"toWarehouseId"`
	ProductID       string `json:"productId"`
	Quantity        int    `json:"quantity"`
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.FromWarehouseID == "" || req.ToWarehouseID == "" || req.ProductID == "" {
		http.Error(w, "fromWarehouseId, toWarehouseId and productId required", http.StatusBadRequest)
		return
	}
	if req.FromWarehouseID == req.ToWarehouseID {
		http.Error(w, "source and destination must differ", http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		http.Error(w, "quantity must be positive", http.StatusBadRequest)
		return
	}

	if err := h.repo.Transfer(r.Context(), req.FromWarehouseID, req.ToWarehouseID, req.ProductID, req.Quantity); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// writeEngineError maps the engine's error classes onto status codes: the
// caller's next move differs for "cannot fulfill" (404), "not enough stock"
// (409), "retry later" (503) and "ledger corrupted a precondition" (500).
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, inventory.ErrInsufficientStock):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, inventory.ErrTxConflict):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, inventory.ErrInvariantViolation):
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
