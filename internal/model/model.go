// Package model содержит доменные сущности трекера торговых сессий.
package model

import (
	"math"
	"time"
)

// Phase описывает фазу жизненного цикла сессии. Булевы признаки
// (isStarted/isRunning/isEnded) являются проекциями фазы и не хранятся
// отдельно, поэтому их рассогласование невозможно.
type Phase string

const (
	PhaseReady  Phase = "ready"
	PhaseLive   Phase = "live"
	PhasePaused Phase = "paused"
	PhaseEnded  Phase = "ended"
)

// SessionState описывает состояние текущей торговой сессии.
type SessionState struct {
	Phase     Phase      `json:"status"`
	SessionID string     `json:"sessionId,omitempty"`
	StartTime *time.Time `json:"startTime,omitempty"`
	Duration  int        `json:"duration"`
}

// IsStarted сообщает, идёт ли сессия (включая паузу).
func (s SessionState) IsStarted() bool {
	return s.Phase == PhaseLive || s.Phase == PhasePaused
}

// IsRunning сообщает, идёт ли сессия и не стоит ли она на паузе.
func (s SessionState) IsRunning() bool {
	return s.Phase == PhaseLive
}

// IsEnded сообщает, завершена ли последняя сессия.
func (s SessionState) IsEnded() bool {
	return s.Phase == PhaseEnded
}

// SalesGoalState содержит цель по выручке и текущую выручку сессии.
// Суммы хранятся в центах.
type SalesGoalState struct {
	GoalCents    int64 `json:"goalAmountCents"`
	CurrentCents int64 `json:"currentAmountCents"`
}

// OrderSource указывает происхождение заказа.
type OrderSource string

const (
	// OrderSourceGateway — заказ получен из коммерческого бэкенда.
	OrderSourceGateway OrderSource = "gateway"
	// OrderSourceManual — тестовый заказ, добавленный оператором.
	OrderSourceManual OrderSource = "manual"
)

// LineItem описывает позицию заказа.
type LineItem struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	PriceCents         int64  `json:"priceCents"`
	Quantity           int    `json:"quantity"`
	TotalDiscountCents int64  `json:"totalDiscountCents"`
}

// Customer описывает покупателя заказа.
type Customer struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// PersistedOrder — заказ, зафиксированный в рамках сессии. После вставки
// не изменяется; идентичность — по полю ID.
type PersistedOrder struct {
	ID              string      `json:"id"`
	Timestamp       time.Time   `json:"timestamp"`
	OrderNumber     string      `json:"orderNumber"`
	CustomerName    string      `json:"customerName"`
	TotalPriceCents int64       `json:"totalPriceCents"`
	Source          OrderSource `json:"source"`
	LineItems       []LineItem  `json:"lineItems,omitempty"`
	Customer        *Customer   `json:"customer,omitempty"`
}

// SoldOutProduct — товар, распроданный в течение сессии.
// Дедуплицируется по ID: повторное добавление заменяет запись.
type SoldOutProduct struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Handle               string    `json:"handle"`
	SoldOutVariantsCount int       `json:"soldOutVariantsCount"`
	TotalVariantsCount   int       `json:"totalVariantsCount"`
	SoldOutAt            time.Time `json:"soldOutAt"`
}

// SessionHistory — неизменяемый итог завершённой сессии.
type SessionHistory struct {
	SessionID       string           `json:"sessionId"`
	StartTime       time.Time        `json:"startTime"`
	EndTime         time.Time        `json:"endTime"`
	Orders          []PersistedOrder `json:"orders"`
	TotalOrders     int              `json:"totalOrders"`
	TotalSalesCents int64            `json:"totalSalesCents"`
	GoalCents       int64            `json:"goalAmountCents"`
	SoldOutProducts []SoldOutProduct `json:"soldOutProducts"`
}

// OrdersState содержит заказы текущей сессии и историю завершённых сессий.
type OrdersState struct {
	TotalOrders          int              `json:"totalOrders"`
	LastSessionOrders    int              `json:"lastSessionOrders"`
	CurrentSessionOrders []PersistedOrder `json:"currentSessionOrders"`
	LastSessionData      *SessionHistory  `json:"lastSessionData,omitempty"`
	OrdersHistory        []SessionHistory `json:"ordersHistory"`
}

// Cents переводит сумму в долларах в центы с округлением до цента.
func Cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// Dollars переводит центы в доллары для отдачи наружу.
func Dollars(cents int64) float64 {
	return float64(cents) / 100
}
