package session

import (
	"time"

	"github.com/mmeshcher/whipdash-system/internal/model"
)

// GoalSnapshot — состояние цели продаж в долларах.
type GoalSnapshot struct {
	GoalAmount    float64 `json:"goalAmount"`
	CurrentAmount float64 `json:"currentAmount"`
	Reached       bool    `json:"reached"`
	Celebrations  int     `json:"celebrations"`
}

// OrdersSnapshot — заказы текущей сессии и сведения о предыдущей.
type OrdersSnapshot struct {
	TotalOrders          int                    `json:"totalOrders"`
	LastSessionOrders    int                    `json:"lastSessionOrders"`
	CurrentSessionOrders []model.PersistedOrder `json:"currentSessionOrders"`
	LastSessionData      *model.SessionHistory  `json:"lastSessionData,omitempty"`
}

// GatewaySnapshot — состояние связи с коммерческим бэкендом. Ошибка
// залипает до первого успешного опроса.
type GatewaySnapshot struct {
	Configured  bool       `json:"configured"`
	Error       string     `json:"error,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}

// Snapshot — согласованный снимок состояния движка.
type Snapshot struct {
	Session model.SessionState     `json:"session"`
	Goal    GoalSnapshot           `json:"goal"`
	Orders  OrdersSnapshot         `json:"orders"`
	SoldOut []model.SoldOutProduct `json:"soldOutProducts"`
	Gateway GatewaySnapshot        `json:"gateway"`
}

// Snapshot возвращает копию текущего состояния движка. Снимок
// согласован: все поля взяты под одним захватом мьютекса.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Session: e.session,
		Goal: GoalSnapshot{
			GoalAmount:    model.Dollars(e.goal.GoalCents),
			CurrentAmount: model.Dollars(e.goal.CurrentCents),
			Reached:       e.goalReached,
			Celebrations:  e.celebrations,
		},
		Orders: OrdersSnapshot{
			TotalOrders:          e.orders.TotalOrders,
			LastSessionOrders:    e.orders.LastSessionOrders,
			CurrentSessionOrders: append([]model.PersistedOrder(nil), e.orders.CurrentSessionOrders...),
			LastSessionData:      e.orders.LastSessionData,
		},
		SoldOut: append([]model.SoldOutProduct(nil), e.soldOut...),
		Gateway: GatewaySnapshot{
			Configured: e.gateway != nil,
			Error:      e.gatewayErr,
		},
	}

	if e.session.StartTime != nil {
		t := *e.session.StartTime
		snap.Session.StartTime = &t
	}
	if !e.lastPollAt.IsZero() {
		t := e.lastPollAt
		snap.Gateway.LastUpdated = &t
	}
	return snap
}
