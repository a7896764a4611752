// Package handler содержит HTTP-обработчики API трекера торговых сессий.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/whipdash-system/internal/model"
	"github.com/mmeshcher/whipdash-system/internal/session"
	"github.com/mmeshcher/whipdash-system/internal/shopify"
	"github.com/mmeshcher/whipdash-system/internal/validation"
)

// Version — версия API, отдаваемая в /api/health.
const Version = "1.0.0"

// Engine определяет контракт движка сессии, используемый HTTP-обработчиками.
type Engine interface {
	Start() error
	Pause() error
	Resume() error
	End() error
	EditStartTime(t time.Time) error
	AddOrder(price float64) (model.PersistedOrder, error)
	AddSale(amount float64) error
	SetSalesGoal(amount float64) error
	ClearHistory()
	Refresh()
	History() []model.SessionHistory
	Snapshot() session.Snapshot
}

// Commerce определяет контракт коммерческого бэкенда для проксирующих
// маршрутов. Может отсутствовать: тогда маршруты отвечают 503.
type Commerce interface {
	ListOrders(ctx context.Context, q shopify.OrderQuery) ([]shopify.OrderSummary, error)
	OrderTotals(ctx context.Context, from, to time.Time) (*shopify.Totals, error)
	Products(ctx context.Context, soldOutOnly bool) (*shopify.ProductList, error)
}

// Handler реализует HTTP-обработчики API трекера.
type Handler struct {
	engine      Engine
	commerce    Commerce
	logger      *zap.Logger
	environment string
	startedAt   time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(e Engine, c Commerce, logger *zap.Logger, environment string) *Handler {
	return &Handler{
		engine:      e,
		commerce:    c,
		logger:      logger,
		environment: environment,
		startedAt:   time.Now(),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) requireCommerce(w http.ResponseWriter) bool {
	if h.commerce == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return false
	}
	return true
}

type healthResponse struct {
	Status      string  `json:"status"`
	Timestamp   string  `json:"timestamp"`
	Uptime      float64 `json:"uptime"`
	Environment string  `json:"environment"`
	Version     string  `json:"version"`
}

// Health возвращает состояние сервиса.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Uptime:      time.Since(h.startedAt).Seconds(),
		Environment: h.environment,
		Version:     Version,
	})
}

// dateRange извлекает период выборки из параметров запроса.
// today=true означает период с начала текущих суток; без параметров
// берутся последние семь дней.
func dateRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	now := time.Now()

	if q.Get("today") == "true" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), now, nil
	}

	from := now.AddDate(0, 0, -7)
	to := now

	if s := q.Get("created_at_min"); s != "" {
		t, err := validation.ParseDate(s)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if s := q.Get("created_at_max"); s != "" {
		t, err := validation.ParseDate(s)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	return from, to, nil
}

// Orders проксирует открытые невыполненные заказы за период.
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	if !h.requireCommerce(w) {
		return
	}

	from, to, err := dateRange(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orders, err := h.commerce.ListOrders(r.Context(), shopify.OrderQuery{
		Status:            "open",
		FulfillmentStatus: "unfulfilled",
		Limit:             250,
		CreatedAtMin:      from,
		CreatedAtMax:      to,
	})
	if err != nil {
		h.logger.Error("list orders error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"count":  len(orders),
	})
}

type totalsResponse struct {
	*shopify.Totals
	Filter      map[string]string `json:"filter"`
	Explanation map[string]string `json:"explanation"`
}

// OrderTotals проксирует сводку по заказам за период со всеми статусами.
func (h *Handler) OrderTotals(w http.ResponseWriter, r *http.Request) {
	if !h.requireCommerce(w) {
		return
	}

	from, to, err := dateRange(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	totals, err := h.commerce.OrderTotals(r.Context(), from, to)
	if err != nil {
		h.logger.Error("order totals error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	h.writeJSON(w, http.StatusOK, totalsResponse{
		Totals: totals,
		Filter: map[string]string{
			"status":         "any",
			"created_at_min": from.Format(time.RFC3339),
			"created_at_max": to.Format(time.RFC3339),
		},
		Explanation: map[string]string{
			"orderCount":           "Number of orders in the selected period",
			"subtotalPrice":        "Sum of order subtotals before tax, shipping and discounts",
			"currentSubtotalPrice": "Sum of current subtotals after refunds and edits",
			"totalTax":             "Sum of taxes across orders",
			"totalShipping":        "Sum of shipping charges across orders",
			"totalDiscounts":       "Sum of discounts across orders",
			"finalTotalPrice":      "Sum of order totals as charged",
		},
	})
}

// Products проксирует товары с вычисленными признаками распроданности.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	if !h.requireCommerce(w) {
		return
	}

	soldOutOnly := r.URL.Query().Get("sold_out_only") == "true"

	list, err := h.commerce.Products(r.Context(), soldOutOnly)
	if err != nil {
		h.logger.Error("products error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	h.writeJSON(w, http.StatusOK, list)
}
