package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/whipdash-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware трекера.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Get("/orders", h.Orders)
		r.Get("/orders/totals", h.OrderTotals)
		r.Get("/products", h.Products)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/start", h.StartSession)
			r.Post("/pause", h.PauseSession)
			r.Post("/resume", h.ResumeSession)
			r.Post("/end", h.EndSession)
			r.Post("/goal", h.SetGoal)
			r.Post("/orders", h.AddOrder)
			r.Post("/sales", h.AddSale)
			r.Post("/refresh", h.RefreshSession)
			r.Put("/start-time", h.EditStartTime)
			r.Get("/history", h.GetHistory)
			r.Delete("/history", h.ClearHistory)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
