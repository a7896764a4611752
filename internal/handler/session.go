package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/whipdash-system/internal/metrics"
	"github.com/mmeshcher/whipdash-system/internal/model"
	"github.com/mmeshcher/whipdash-system/internal/session"
	"github.com/mmeshcher/whipdash-system/internal/validation"
)

type derivedMetrics struct {
	FormattedDuration string        `json:"formattedDuration"`
	DurationColor     string        `json:"durationColor"`
	FormattedCurrent  string        `json:"formattedCurrentAmount"`
	FormattedGoal     string        `json:"formattedGoalAmount"`
	ProgressPercent   float64       `json:"progressPercent"`
	ProgressWidth     float64       `json:"progressWidth"`
	SalesColor        string        `json:"salesColor"`
	RemainingAmount   float64       `json:"remainingAmount"`
	AverageOrderValue float64       `json:"averageOrderValue"`
	OrdersTrend       metrics.Trend `json:"ordersTrend"`
}

type sessionResponse struct {
	session.Snapshot
	Derived derivedMetrics `json:"derived"`
}

func buildSessionResponse(snap session.Snapshot) sessionResponse {
	currentCents := model.Cents(snap.Goal.CurrentAmount)
	goalCents := model.Cents(snap.Goal.GoalAmount)

	return sessionResponse{
		Snapshot: snap,
		Derived: derivedMetrics{
			FormattedDuration: metrics.FormatDuration(snap.Session.Duration),
			DurationColor:     metrics.DurationColor(snap.Session.Duration),
			FormattedCurrent:  metrics.FormatCurrency(currentCents),
			FormattedGoal:     metrics.FormatCurrency(goalCents),
			ProgressPercent:   metrics.ProgressPercent(currentCents, goalCents),
			ProgressWidth:     metrics.ProgressWidth(currentCents, goalCents),
			SalesColor:        metrics.SalesColor(currentCents, goalCents),
			RemainingAmount:   model.Dollars(metrics.RemainingCents(currentCents, goalCents)),
			AverageOrderValue: model.Dollars(metrics.AverageOrderCents(currentCents, snap.Orders.TotalOrders)),
			OrdersTrend:       metrics.OrdersTrend(snap.Orders.TotalOrders, snap.Orders.LastSessionOrders),
		},
	}
}

// GetSession возвращает снимок состояния сессии с производными метриками.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, buildSessionResponse(h.engine.Snapshot()))
}

func (h *Handler) runTransition(w http.ResponseWriter, name string, op func() error) {
	if err := op(); err != nil {
		if errors.Is(err, session.ErrNoActiveSession) || errors.Is(err, session.ErrSessionActive) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error(name+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, buildSessionResponse(h.engine.Snapshot()))
}

// StartSession начинает новую сессию.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, "start session", h.engine.Start)
}

// PauseSession приостанавливает сессию.
func (h *Handler) PauseSession(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, "pause session", h.engine.Pause)
}

// ResumeSession возобновляет сессию после паузы.
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, "resume session", h.engine.Resume)
}

// EndSession завершает сессию и фиксирует её в истории.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, "end session", h.engine.End)
}

type goalRequest struct {
	Amount float64 `json:"amount"`
}

// SetGoal задаёт цель продаж.
func (h *Handler) SetGoal(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if !validation.IsValidGoalAmount(model.Cents(req.Amount)) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.engine.SetSalesGoal(req.Amount); err != nil {
		if errors.Is(err, session.ErrInvalidGoal) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("set goal error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, buildSessionResponse(h.engine.Snapshot()))
}

type addOrderRequest struct {
	Price float64 `json:"price"`
}

// AddOrder добавляет тестовый заказ в текущую сессию.
func (h *Handler) AddOrder(w http.ResponseWriter, r *http.Request) {
	var req addOrderRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}
	if !validation.IsValidOrderPrice(model.Cents(req.Price)) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.engine.AddOrder(req.Price)
	if err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("add order error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

type addSaleRequest struct {
	Amount float64 `json:"amount"`
}

// AddSale корректирует сумму продаж вручную. Отрицательная величина
// означает возврат.
func (h *Handler) AddSale(w http.ResponseWriter, r *http.Request) {
	var req addSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.engine.AddSale(req.Amount); err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("add sale error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, buildSessionResponse(h.engine.Snapshot()))
}

type editStartTimeRequest struct {
	StartTime string `json:"start_time"`
}

// EditStartTime переносит время начала активной сессии.
// Время в будущем отклоняется со статусом 422.
func (h *Handler) EditStartTime(w http.ResponseWriter, r *http.Request) {
	var req editStartTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := validation.ParseDate(req.StartTime)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.engine.EditStartTime(t); err != nil {
		switch {
		case errors.Is(err, session.ErrFutureStartTime):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, session.ErrNoActiveSession):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("edit start time error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, buildSessionResponse(h.engine.Snapshot()))
}

// RefreshSession запрашивает немедленную сверку с бэкендом.
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	h.engine.Refresh()
	h.writeJSON(w, http.StatusOK, buildSessionResponse(h.engine.Snapshot()))
}

// GetHistory возвращает завершённые сессии и сводную статистику.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history := h.engine.History()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"history": history,
		"stats":   metrics.ComputeHistoryStats(history),
	})
}

// ClearHistory очищает историю завершённых сессий.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}
