package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/whipdash-system/internal/metrics"
	"github.com/mmeshcher/whipdash-system/internal/model"
	"github.com/mmeshcher/whipdash-system/internal/session"
	"github.com/mmeshcher/whipdash-system/internal/shopify"
)

type stubEngine struct {
	snap session.Snapshot

	startErr     error
	pauseErr     error
	resumeErr    error
	endErr       error
	editTimeErr  error
	addSaleErr   error
	setGoalErr   error
	addOrderResp model.PersistedOrder
	addOrderErr  error

	history []model.SessionHistory

	refreshed      bool
	historyCleared bool
}

func (s *stubEngine) Start() error                      { return s.startErr }
func (s *stubEngine) Pause() error                      { return s.pauseErr }
func (s *stubEngine) Resume() error                     { return s.resumeErr }
func (s *stubEngine) End() error                        { return s.endErr }
func (s *stubEngine) EditStartTime(t time.Time) error   { return s.editTimeErr }
func (s *stubEngine) AddSale(amount float64) error      { return s.addSaleErr }
func (s *stubEngine) SetSalesGoal(amount float64) error { return s.setGoalErr }
func (s *stubEngine) ClearHistory()                     { s.historyCleared = true }
func (s *stubEngine) Refresh()                          { s.refreshed = true }
func (s *stubEngine) Snapshot() session.Snapshot        { return s.snap }

func (s *stubEngine) AddOrder(price float64) (model.PersistedOrder, error) {
	return s.addOrderResp, s.addOrderErr
}

func (s *stubEngine) History() []model.SessionHistory { return s.history }

type stubCommerce struct {
	ordersResp []shopify.OrderSummary
	ordersErr  error

	totalsResp *shopify.Totals
	totalsErr  error

	productsResp *shopify.ProductList
	productsErr  error
}

func (s *stubCommerce) ListOrders(ctx context.Context, q shopify.OrderQuery) ([]shopify.OrderSummary, error) {
	return s.ordersResp, s.ordersErr
}

func (s *stubCommerce) OrderTotals(ctx context.Context, from, to time.Time) (*shopify.Totals, error) {
	return s.totalsResp, s.totalsErr
}

func (s *stubCommerce) Products(ctx context.Context, soldOutOnly bool) (*shopify.ProductList, error) {
	return s.productsResp, s.productsErr
}

func newTestHandler(t *testing.T, e Engine, c Commerce) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return NewHandler(e, c, logger, "test")
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubEngine{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp healthResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" || resp.Version != Version || resp.Environment != "test" {
		t.Fatalf("health = %+v", resp)
	}
	if _, err := time.Parse("2006-01-02T15:04:05.000Z", resp.Timestamp); err != nil {
		t.Fatalf("timestamp %q: %v", resp.Timestamp, err)
	}
}

func TestGetSession_DerivedMetrics(t *testing.T) {
	e := &stubEngine{
		snap: session.Snapshot{
			Session: model.SessionState{Phase: model.PhaseLive, SessionID: "s1", Duration: 125},
			Goal:    session.GoalSnapshot{GoalAmount: 250, CurrentAmount: 125},
			Orders:  session.OrdersSnapshot{TotalOrders: 3, LastSessionOrders: 2},
		},
	}
	h := newTestHandler(t, e, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	rec := httptest.NewRecorder()

	h.GetSession(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	var resp sessionResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Session.Phase != model.PhaseLive {
		t.Fatalf("phase = %q", resp.Session.Phase)
	}
	if resp.Derived.FormattedDuration != "2:05" {
		t.Fatalf("formattedDuration = %q", resp.Derived.FormattedDuration)
	}
	if resp.Derived.ProgressPercent != 50 {
		t.Fatalf("progressPercent = %v", resp.Derived.ProgressPercent)
	}
	if resp.Derived.FormattedGoal != "$250.00" {
		t.Fatalf("formattedGoal = %q", resp.Derived.FormattedGoal)
	}
	if resp.Derived.OrdersTrend.Direction != metrics.TrendUp || resp.Derived.OrdersTrend.Percent != 50 {
		t.Fatalf("trend = %+v", resp.Derived.OrdersTrend)
	}
}

func TestStartSession_ConflictWhenActive(t *testing.T) {
	e := &stubEngine{startErr: session.ErrSessionActive}
	h := newTestHandler(t, e, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/session/start", nil)
	rec := httptest.NewRecorder()

	h.StartSession(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestPauseSession_ConflictWithoutSession(t *testing.T) {
	e := &stubEngine{pauseErr: session.ErrNoActiveSession}
	h := newTestHandler(t, e, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/session/pause", nil)
	rec := httptest.NewRecorder()

	h.PauseSession(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestSetGoal_RejectsNonPositive(t *testing.T) {
	h := newTestHandler(t, &stubEngine{}, nil)

	body, _ := json.Marshal(goalRequest{Amount: -5})
	req := httptest.NewRequest(http.MethodPost, "/api/session/goal", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SetGoal(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestEditStartTime_FutureRejectedWith422(t *testing.T) {
	e := &stubEngine{editTimeErr: session.ErrFutureStartTime}
	h := newTestHandler(t, e, nil)

	body, _ := json.Marshal(editStartTimeRequest{StartTime: "2099-01-01T00:00:00Z"})
	req := httptest.NewRequest(http.MethodPut, "/api/session/start-time", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.EditStartTime(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestEditStartTime_BadDate(t *testing.T) {
	h := newTestHandler(t, &stubEngine{}, nil)

	body := strings.NewReader(`{"start_time":"not a date"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/session/start-time", body)
	rec := httptest.NewRecorder()

	h.EditStartTime(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAddOrder_ReturnsCreatedOrder(t *testing.T) {
	e := &stubEngine{
		addOrderResp: model.PersistedOrder{
			ID:              "manual-1",
			OrderNumber:     "#TEST-1",
			TotalPriceCents: 4999,
			Source:          model.OrderSourceManual,
		},
	}
	h := newTestHandler(t, e, nil)

	body, _ := json.Marshal(addOrderRequest{Price: 49.99})
	req := httptest.NewRequest(http.MethodPost, "/api/session/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.AddOrder(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var order model.PersistedOrder
	if err := json.NewDecoder(res.Body).Decode(&order); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if order.ID != "manual-1" || order.Source != model.OrderSourceManual {
		t.Fatalf("order = %+v", order)
	}
}

func TestAddOrder_ConflictWithoutSession(t *testing.T) {
	e := &stubEngine{addOrderErr: session.ErrNoActiveSession}
	h := newTestHandler(t, e, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/session/orders", nil)
	rec := httptest.NewRecorder()

	h.AddOrder(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestOrders_UnavailableWithoutCommerce(t *testing.T) {
	h := newTestHandler(t, &stubEngine{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()

	h.Orders(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestOrderTotals_EchoesFilterAndExplanation(t *testing.T) {
	c := &stubCommerce{
		totalsResp: &shopify.Totals{OrderCount: 2, FinalTotalPrice: 33.33},
	}
	h := newTestHandler(t, &stubEngine{}, c)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/totals?created_at_min=2025-06-01", nil)
	rec := httptest.NewRecorder()

	h.OrderTotals(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	var resp struct {
		OrderCount      int               `json:"orderCount"`
		FinalTotalPrice float64           `json:"finalTotalPrice"`
		Filter          map[string]string `json:"filter"`
		Explanation     map[string]string `json:"explanation"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OrderCount != 2 || resp.FinalTotalPrice != 33.33 {
		t.Fatalf("totals = %+v", resp)
	}
	if resp.Filter["status"] != "any" {
		t.Fatalf("filter = %+v", resp.Filter)
	}
	if !strings.HasPrefix(resp.Filter["created_at_min"], "2025-06-01") {
		t.Fatalf("filter echo = %+v", resp.Filter)
	}
	if resp.Explanation["finalTotalPrice"] == "" {
		t.Fatalf("explanation missing: %+v", resp.Explanation)
	}
}

func TestOrders_BadDateRange(t *testing.T) {
	h := newTestHandler(t, &stubEngine{}, &stubCommerce{})

	req := httptest.NewRequest(http.MethodGet, "/api/orders?created_at_min=garbage", nil)
	rec := httptest.NewRecorder()

	h.Orders(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestProducts_Proxy(t *testing.T) {
	c := &stubCommerce{
		productsResp: &shopify.ProductList{
			Products:     []shopify.Product{{ID: "1", Title: "Hoodie", AllVariantsSoldOut: true}},
			TotalCount:   1,
			SoldOutCount: 1,
			SoldOutOnly:  true,
		},
	}
	h := newTestHandler(t, &stubEngine{}, c)

	req := httptest.NewRequest(http.MethodGet, "/api/products?sold_out_only=true", nil)
	rec := httptest.NewRecorder()

	h.Products(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	var list shopify.ProductList
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.SoldOutCount != 1 || !list.SoldOutOnly {
		t.Fatalf("list = %+v", list)
	}
}

func TestGetHistory_IncludesStats(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	e := &stubEngine{
		history: []model.SessionHistory{
			{SessionID: "s1", StartTime: start, EndTime: start.Add(time.Hour), TotalOrders: 2, TotalSalesCents: 10000},
			{SessionID: "s2", StartTime: start, EndTime: start.Add(time.Hour), TotalOrders: 4, TotalSalesCents: 30000},
		},
	}
	h := newTestHandler(t, e, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/session/history", nil)
	rec := httptest.NewRecorder()

	h.GetHistory(rec, req)

	var resp struct {
		History []model.SessionHistory `json:"history"`
		Stats   metrics.HistoryStats   `json:"stats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.History) != 2 {
		t.Fatalf("history = %d entries", len(resp.History))
	}
	if resp.Stats.TotalSessions != 2 || resp.Stats.TotalRevenue != 400 {
		t.Fatalf("stats = %+v", resp.Stats)
	}
	if resp.Stats.BestSessionID != "s2" {
		t.Fatalf("best session = %q", resp.Stats.BestSessionID)
	}
}

func TestClearHistory_NoContent(t *testing.T) {
	e := &stubEngine{}
	h := newTestHandler(t, e, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/session/history", nil)
	rec := httptest.NewRecorder()

	h.ClearHistory(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if !e.historyCleared {
		t.Fatal("engine.ClearHistory was not called")
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	h := newTestHandler(t, &stubEngine{}, nil)
	srv := httptest.NewServer(h.SetupRouter())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/api/unknown")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestRouter_SessionSnapshotRoute(t *testing.T) {
	e := &stubEngine{
		snap: session.Snapshot{
			Session: model.SessionState{Phase: model.PhaseReady},
			Goal:    session.GoalSnapshot{GoalAmount: 250},
		},
	}
	h := newTestHandler(t, e, nil)
	srv := httptest.NewServer(h.SetupRouter())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/api/session")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp sessionResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Session.Phase != model.PhaseReady {
		t.Fatalf("phase = %q", resp.Session.Phase)
	}
}
