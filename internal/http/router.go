package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", h.Health)

	r.Route("/api/fulfillment", func(r chi.Router) {
		r.Get("/warehouses", h.ListWarehouses)
		r.Get("/warehouses/{warehouseId}/stock", h.ListStock)
		r.Get("/warehouses/{warehouseId}/stock/{productId}", h.GetStock)
		r.Put("/warehouses/{warehouseId}/stock/{productId}", h.SetStock)

		r.Post("/allocations/find", h.FindWarehouse)
		r.Post("/availability", h.CheckAvailability)

		r.Post("/reservations", h.Reserve)
		r.Post("/reservations/confirm", h.Confirm)
		r.Post("/reservations/release", h.Release)

		r.Post("/transfers", h.Transfer)
	})

	return r
}
