// Package session содержит движок учёта торговой сессии: жизненный цикл,
// тикер длительности, сверку заказов с коммерческим бэкендом и фиксацию
// итогов в хранилище.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/whipdash-system/internal/model"
	"github.com/mmeshcher/whipdash-system/internal/shopify"
	"github.com/mmeshcher/whipdash-system/internal/store"
)

// ErrNoActiveSession возвращается операциями, которым нужна начатая сессия.
var (
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionActive возвращается при попытке начать сессию поверх начатой.
	ErrSessionActive = errors.New("session already started")
	// ErrFutureStartTime возвращается при попытке перенести начало сессии в будущее.
	ErrFutureStartTime = errors.New("start time is in the future")
	// ErrInvalidGoal возвращается для неположительной цели продаж.
	ErrInvalidGoal = errors.New("sales goal must be positive")
)

// Gateway — интерфейс коммерческого бэкенда, с которым сверяется движок.
// Реализуется клиентом Shopify.
type Gateway interface {
	OrderTotals(ctx context.Context, from, to time.Time) (*shopify.Totals, error)
	Products(ctx context.Context, soldOutOnly bool) (*shopify.ProductList, error)
	ProductInventory(ctx context.Context) (map[string]int, error)
}

// Options задаёт параметры движка.
type Options struct {
	// PollInterval — период опроса бэкенда. Ноль означает 30 секунд.
	PollInterval time.Duration
	// DefaultGoal — цель продаж по умолчанию в долларах,
	// пока её не переопределили или не восстановили из хранилища.
	DefaultGoal float64
	// OnGoalReached вызывается при достижении цели. Срабатывание по фронту:
	// повторный вызов возможен только после того, как сумма опустится
	// ниже цели и снова её пересечёт.
	OnGoalReached func()
}

// Engine — движок торговой сессии. Все поля защищены единым мьютексом;
// тикер длительности и опрос бэкенда работают в собственных горутинах
// и меняют состояние только через него.
type Engine struct {
	mu      sync.Mutex
	store   store.Store
	gateway Gateway
	logger  *zap.Logger
	poller  *shopify.Poller

	now              func() time.Time
	pollInterval     time.Duration
	defaultGoalCents int64
	onGoalReached    func()
	// timersOff отключает фоновые горутины: тесты дёргают tick и
	// handlePoll напрямую.
	timersOff bool

	session          model.SessionState
	goal             model.SalesGoalState
	orders           model.OrdersState
	soldOut          []model.SoldOutProduct
	startInventory   map[string]int
	manualSalesCents int64
	goalReached      bool
	celebrations     int
	gatewayErr       string
	lastPollAt       time.Time
	soldOutInFlight  bool

	tickStop chan struct{}
}

// currentRecord — снимок активной сессии в том виде, в котором он
// хранится под ключом текущей сессии.
type currentRecord struct {
	Session          model.SessionState     `json:"session"`
	Goal             model.SalesGoalState   `json:"goal"`
	Orders           []model.PersistedOrder `json:"orders"`
	TotalOrders      int                    `json:"totalOrders"`
	SoldOut          []model.SoldOutProduct `json:"soldOutProducts"`
	ManualSalesCents int64                  `json:"manualSalesCents"`
	GoalReached      bool                   `json:"goalReached"`
	Celebrations     int                    `json:"celebrations"`
}

// New создаёт движок и восстанавливает состояние из хранилища.
// Сессия, сохранённая идущей, восстанавливается на паузе: таймеры
// прошлого процесса не воскрешаются, оператор продолжает сам.
func New(st store.Store, gw Gateway, logger *zap.Logger, opts Options) *Engine {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	e := &Engine{
		store:            st,
		gateway:          gw,
		logger:           logger,
		now:              time.Now,
		pollInterval:     interval,
		defaultGoalCents: model.Cents(opts.DefaultGoal),
		onGoalReached:    opts.OnGoalReached,
	}
	e.session.Phase = model.PhaseReady
	e.goal.GoalCents = e.defaultGoalCents

	e.restore()

	if gw != nil {
		e.poller = shopify.NewPoller(gw.OrderTotals, interval, e.handlePoll)
		// Сверка обязана идти, пока сессия начата, в том числе после
		// рестарта процесса: восстановленная сессия снова ставится на опрос.
		if e.session.IsStarted() {
			e.armPoller()
		}
	}

	return e
}

// armPoller ставит восстановленную или возобновлённую сессию на опрос
// бэкенда. Повторный вызов на запущенном поллере безопасен.
func (e *Engine) armPoller() {
	if e.poller == nil || e.timersOff {
		return
	}

	e.mu.Lock()
	started := e.session.IsStarted()
	id := e.session.SessionID
	var from time.Time
	if e.session.StartTime != nil {
		from = *e.session.StartTime
	}
	e.mu.Unlock()

	if !started {
		return
	}
	e.poller.SetParams(shopify.PollParams{Session: id, From: from})
	e.poller.Start()
}

func (e *Engine) restore() {
	ctx := context.Background()

	var history []model.SessionHistory
	if e.store.Get(ctx, store.KeyOrdersHistory, &history) {
		e.orders.OrdersHistory = history
	}

	var last model.SessionHistory
	if e.store.Get(ctx, store.KeyLastSession, &last) && last.SessionID != "" {
		e.orders.LastSessionData = &last
		e.orders.LastSessionOrders = last.TotalOrders
	}

	var rec currentRecord
	if !e.store.Get(ctx, store.KeyCurrentSession, &rec) || rec.Session.SessionID == "" {
		return
	}

	e.session = rec.Session
	if e.session.Phase == model.PhaseLive {
		e.session.Phase = model.PhasePaused
		e.logger.Info("restored live session as paused",
			zap.String("session", e.session.SessionID))
	}
	e.goal = rec.Goal
	if e.goal.GoalCents <= 0 {
		e.goal.GoalCents = e.defaultGoalCents
	}
	e.orders.CurrentSessionOrders = rec.Orders
	e.orders.TotalOrders = rec.TotalOrders
	e.soldOut = rec.SoldOut
	e.manualSalesCents = rec.ManualSalesCents
	e.goalReached = rec.GoalReached
	e.celebrations = rec.Celebrations
}

// Start начинает новую сессию. Допустимо из состояний ready и ended;
// поверх начатой сессии возвращает ErrSessionActive.
func (e *Engine) Start() error {
	e.mu.Lock()

	if e.session.IsStarted() {
		e.mu.Unlock()
		return ErrSessionActive
	}

	start := e.now()
	id := fmt.Sprintf("session-%d-%04x", start.UnixMilli(), rand.IntN(0x10000))

	e.session = model.SessionState{
		Phase:     model.PhaseLive,
		SessionID: id,
		StartTime: &start,
		Duration:  0,
	}
	e.orders.CurrentSessionOrders = nil
	e.orders.TotalOrders = 0
	e.goal.CurrentCents = 0
	e.manualSalesCents = 0
	e.soldOut = nil
	e.startInventory = nil
	e.goalReached = false
	e.celebrations = 0
	e.gatewayErr = ""

	e.startTickerLocked()
	e.persistCurrentLocked()

	logger := e.logger
	e.mu.Unlock()

	logger.Info("session started", zap.String("session", id))

	if e.poller != nil && !e.timersOff {
		e.poller.SetParams(shopify.PollParams{Session: id, From: start})
		e.poller.Start()
	}
	if e.gateway != nil && !e.timersOff {
		go e.captureStartInventory(id)
	}

	return nil
}

// captureStartInventory снимает остатки на момент начала сессии.
// Сбой не фатален: без снимка распроданность просто не отслеживается.
func (e *Engine) captureStartInventory(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	inventory, err := e.gateway.ProductInventory(ctx)
	if err != nil {
		e.logger.Warn("capture start inventory", zap.Error(err))
		return
	}

	e.mu.Lock()
	if e.session.SessionID == sessionID && e.session.IsStarted() {
		e.startInventory = inventory
	}
	e.mu.Unlock()
}

// Pause приостанавливает идущую сессию. Повторная пауза ничего не делает.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.session.IsStarted() {
		return ErrNoActiveSession
	}
	if !e.session.IsRunning() {
		return nil
	}

	e.session.Phase = model.PhasePaused
	e.stopTickerLocked()
	e.persistCurrentLocked()
	return nil
}

// Resume возобновляет сессию после паузы. Опрос бэкенда при этом
// перезапускается: после рестарта процесса именно Resume возвращает
// восстановленную сессию к сверке.
func (e *Engine) Resume() error {
	e.mu.Lock()

	if !e.session.IsStarted() {
		e.mu.Unlock()
		return ErrNoActiveSession
	}
	if e.session.IsRunning() {
		e.mu.Unlock()
		return nil
	}

	e.session.Phase = model.PhaseLive
	e.startTickerLocked()
	e.persistCurrentLocked()
	e.mu.Unlock()

	e.armPoller()
	return nil
}

// End завершает сессию: фиксирует итоговую запись в истории и переводит
// состояние в ended. Итоговые суммы и заказы остаются видимыми
// до начала следующей сессии.
func (e *Engine) End() error {
	e.mu.Lock()

	if !e.session.IsStarted() {
		e.mu.Unlock()
		return ErrNoActiveSession
	}

	end := e.now()
	record := model.SessionHistory{
		SessionID:       e.session.SessionID,
		EndTime:         end,
		Orders:          append([]model.PersistedOrder(nil), e.orders.CurrentSessionOrders...),
		TotalOrders:     e.orders.TotalOrders,
		TotalSalesCents: e.goal.CurrentCents,
		GoalCents:       e.goal.GoalCents,
		SoldOutProducts: append([]model.SoldOutProduct(nil), e.soldOut...),
	}
	if e.session.StartTime != nil {
		record.StartTime = *e.session.StartTime
	}

	e.orders.OrdersHistory = append(e.orders.OrdersHistory, record)
	e.orders.LastSessionData = &record
	e.orders.LastSessionOrders = record.TotalOrders

	e.session.Phase = model.PhaseEnded
	e.stopTickerLocked()

	ctx := context.Background()
	e.store.Set(ctx, store.KeyLastSession, record)
	e.store.Set(ctx, store.KeyOrdersHistory, e.orders.OrdersHistory)
	e.persistCurrentLocked()

	logger := e.logger
	id := record.SessionID
	e.mu.Unlock()

	logger.Info("session ended",
		zap.String("session", id),
		zap.Int("orders", record.TotalOrders),
		zap.Float64("sales", model.Dollars(record.TotalSalesCents)))

	if e.poller != nil && !e.timersOff {
		e.poller.Stop()
	}
	return nil
}

// EditStartTime переносит начало активной сессии. Время в будущем
// отклоняется без изменения состояния. Перенос назад расширяет окно
// сверки, поэтому опрос перезапускается немедленно.
func (e *Engine) EditStartTime(t time.Time) error {
	e.mu.Lock()

	if !e.session.IsStarted() {
		e.mu.Unlock()
		return ErrNoActiveSession
	}
	if t.After(e.now()) {
		e.mu.Unlock()
		return ErrFutureStartTime
	}

	e.session.StartTime = &t
	e.persistCurrentLocked()
	id := e.session.SessionID
	e.mu.Unlock()

	if e.poller != nil && !e.timersOff {
		e.poller.SetParams(shopify.PollParams{Session: id, From: t})
	}
	return nil
}

// AddOrder добавляет тестовый заказ. При нулевой цене сумма выбирается
// случайно из диапазона 10..200 долларов; заказу синтезируются от одной
// до трёх позиций, в сумме дающих его стоимость.
func (e *Engine) AddOrder(price float64) (model.PersistedOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.session.IsStarted() {
		return model.PersistedOrder{}, ErrNoActiveSession
	}

	if price <= 0 {
		price = float64(rand.IntN(191) + 10)
	}
	cents := model.Cents(price)
	now := e.now()

	order := model.PersistedOrder{
		ID:              fmt.Sprintf("manual-%d-%04x", now.UnixMilli(), rand.IntN(0x10000)),
		Timestamp:       now,
		OrderNumber:     fmt.Sprintf("#TEST-%d", len(e.orders.CurrentSessionOrders)+1),
		CustomerName:    "Test Customer",
		TotalPriceCents: cents,
		Source:          model.OrderSourceManual,
		LineItems:       syntheticLineItems(cents),
	}

	e.orders.CurrentSessionOrders = append(e.orders.CurrentSessionOrders, order)
	e.orders.TotalOrders++
	e.recomputeCurrentLocked()
	e.persistCurrentLocked()

	return order, nil
}

// syntheticLineItems разбивает сумму заказа на 1..3 позиции.
func syntheticLineItems(totalCents int64) []model.LineItem {
	n := rand.IntN(3) + 1
	items := make([]model.LineItem, 0, n)

	remaining := totalCents
	for i := 0; i < n; i++ {
		part := remaining / int64(n-i)
		if i == n-1 {
			part = remaining
		}
		items = append(items, model.LineItem{
			ID:         fmt.Sprintf("item-%d", i+1),
			Title:      fmt.Sprintf("Test Product %d", i+1),
			PriceCents: part,
			Quantity:   1,
		})
		remaining -= part
	}
	return items
}

// AddSale корректирует сумму продаж вручную. Отрицательная величина
// означает возврат; итоговая сумма не опускается ниже нуля.
func (e *Engine) AddSale(amount float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.session.IsStarted() {
		return ErrNoActiveSession
	}

	e.manualSalesCents += model.Cents(amount)
	e.recomputeCurrentLocked()
	e.persistCurrentLocked()
	return nil
}

// SetSalesGoal задаёт цель продаж. Текущая сумма не меняется.
func (e *Engine) SetSalesGoal(amount float64) error {
	if amount <= 0 {
		return ErrInvalidGoal
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.goal.GoalCents = model.Cents(amount)
	e.checkGoalLocked()
	e.persistCurrentLocked()
	return nil
}

// AddSoldOutProduct фиксирует распроданный товар. Повторное добавление
// того же товара заменяет запись, а не создаёт дубликат.
func (e *Engine) AddSoldOutProduct(p model.SoldOutProduct) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.soldOut {
		if e.soldOut[i].ID == p.ID {
			e.soldOut[i] = p
			e.persistCurrentLocked()
			return
		}
	}
	e.soldOut = append(e.soldOut, p)
	e.persistCurrentLocked()
}

// ClearHistory очищает историю завершённых сессий.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.orders.OrdersHistory = nil
	e.orders.LastSessionData = nil
	e.orders.LastSessionOrders = 0

	ctx := context.Background()
	e.store.Set(ctx, store.KeyOrdersHistory, []model.SessionHistory{})
	e.store.Set(ctx, store.KeyLastSession, nil)
}

// Refresh запрашивает немедленную сверку вне расписания опроса.
func (e *Engine) Refresh() {
	if e.poller != nil && !e.timersOff {
		e.poller.Refetch()
	}
}

// History возвращает копию истории завершённых сессий.
func (e *Engine) History() []model.SessionHistory {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.SessionHistory(nil), e.orders.OrdersHistory...)
}

// Close останавливает фоновые таймеры движка.
func (e *Engine) Close() {
	e.mu.Lock()
	e.stopTickerLocked()
	e.mu.Unlock()

	if e.poller != nil {
		e.poller.Stop()
	}
}

func (e *Engine) startTickerLocked() {
	if e.timersOff || e.tickStop != nil {
		return
	}
	stop := make(chan struct{})
	e.tickStop = stop

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.tick()
			}
		}
	}()
}

func (e *Engine) stopTickerLocked() {
	if e.tickStop != nil {
		close(e.tickStop)
		e.tickStop = nil
	}
}

// tick увеличивает длительность на секунду. Опоздавший тик, пришедший
// уже после паузы или завершения, отбрасывается.
func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.session.IsRunning() {
		return
	}
	e.session.Duration++
	e.persistCurrentLocked()
}

// handlePoll применяет результат опроса бэкенда. Ответ, запрошенный для
// уже неактивной сессии, отбрасывается.
func (e *Engine) handlePoll(res shopify.PollResult) {
	e.mu.Lock()

	if !e.session.IsStarted() || res.Params.Session != e.session.SessionID {
		e.mu.Unlock()
		return
	}

	if res.Err != nil {
		if e.gatewayErr == "" {
			e.logger.Warn("gateway poll failed", zap.Error(res.Err))
		}
		e.gatewayErr = res.Err.Error()
		e.mu.Unlock()
		return
	}
	if e.gatewayErr != "" {
		e.logger.Info("gateway poll restored")
		e.gatewayErr = ""
	}
	e.lastPollAt = res.At

	e.reconcileLocked(res.Totals)
	e.persistCurrentLocked()

	runSoldOut := e.gateway != nil && !e.timersOff &&
		e.startInventory != nil && !e.soldOutInFlight
	if runSoldOut {
		e.soldOutInFlight = true
	}
	id := e.session.SessionID
	e.mu.Unlock()

	if runSoldOut {
		go e.checkSoldOut(id)
	}
}

// reconcileLocked добавляет из сводки бэкенда заказы, которых ещё нет
// локально. Заказы старше начала сессии пропускаются; идентичность
// определяется по id, поэтому повторная сверка не плодит дубликатов.
func (e *Engine) reconcileLocked(totals *shopify.Totals) {
	if totals == nil {
		return
	}

	seen := make(map[string]struct{}, len(e.orders.CurrentSessionOrders))
	for _, o := range e.orders.CurrentSessionOrders {
		seen[o.ID] = struct{}{}
	}

	start := time.Time{}
	if e.session.StartTime != nil {
		start = *e.session.StartTime
	}

	for _, o := range totals.Orders {
		if o.CreatedAt.Before(start) {
			continue
		}
		if _, ok := seen[o.ID]; ok {
			continue
		}
		seen[o.ID] = struct{}{}
		e.orders.CurrentSessionOrders = append(e.orders.CurrentSessionOrders, persistOrder(o))
	}

	// Счётчик в сводке может обгонять список заказов, пока бэкенд ещё
	// материализует их тела, поэтому берём максимум из двух источников.
	e.orders.TotalOrders = max(totals.OrderCount, len(e.orders.CurrentSessionOrders))
	e.recomputeCurrentLocked()
}

func persistOrder(o shopify.OrderSummary) model.PersistedOrder {
	order := model.PersistedOrder{
		ID:              o.ID,
		Timestamp:       o.CreatedAt,
		OrderNumber:     o.Name,
		TotalPriceCents: model.Cents(o.TotalPrice),
		Source:          model.OrderSourceGateway,
	}

	if o.Customer != nil {
		order.Customer = &model.Customer{
			ID:        o.Customer.ID,
			FirstName: o.Customer.FirstName,
			LastName:  o.Customer.LastName,
			Email:     o.Customer.Email,
		}
		order.CustomerName = strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName)
	}
	if order.CustomerName == "" {
		order.CustomerName = "Guest"
	}

	for _, li := range o.LineItems {
		order.LineItems = append(order.LineItems, model.LineItem{
			ID:                 li.ID,
			Title:              li.Title,
			PriceCents:         model.Cents(li.Price),
			Quantity:           li.Quantity,
			TotalDiscountCents: model.Cents(li.TotalDiscount),
		})
	}
	return order
}

// checkSoldOut сравнивает текущие товары с остатками на момент начала
// сессии и фиксирует распродавшиеся за сессию.
func (e *Engine) checkSoldOut(sessionID string) {
	defer func() {
		e.mu.Lock()
		e.soldOutInFlight = false
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	list, err := e.gateway.Products(ctx, true)
	if err != nil {
		e.logger.Warn("sold-out check", zap.Error(err))
		return
	}

	e.mu.Lock()
	stillActive := e.session.SessionID == sessionID && e.session.IsStarted()
	inventory := e.startInventory
	now := e.now()
	e.mu.Unlock()

	if !stillActive {
		return
	}

	for _, p := range list.Products {
		if !p.AllVariantsSoldOut {
			continue
		}
		wasInStock := false
		for _, v := range p.Variants {
			if inventory[v.ID] > 0 {
				wasInStock = true
				break
			}
		}
		if !wasInStock {
			continue
		}

		soldOutVariants := 0
		for _, v := range p.Variants {
			if v.IsSoldOut {
				soldOutVariants++
			}
		}
		e.AddSoldOutProduct(model.SoldOutProduct{
			ID:                   p.ID,
			Title:                p.Title,
			Handle:               p.Handle,
			SoldOutVariantsCount: soldOutVariants,
			TotalVariantsCount:   len(p.Variants),
			SoldOutAt:            now,
		})
	}
}

// recomputeCurrentLocked пересчитывает текущую сумму продаж: сверенные
// заказы плюс ручные корректировки, не ниже нуля. После пересчёта
// проверяется достижение цели.
func (e *Engine) recomputeCurrentLocked() {
	var sum int64
	for _, o := range e.orders.CurrentSessionOrders {
		sum += o.TotalPriceCents
	}
	sum += e.manualSalesCents
	if sum < 0 {
		sum = 0
	}
	e.goal.CurrentCents = sum
	e.checkGoalLocked()
}

// checkGoalLocked срабатывает по фронту: празднование повторяется,
// только если сумма успела опуститься ниже цели.
func (e *Engine) checkGoalLocked() {
	if e.goal.GoalCents <= 0 {
		return
	}

	if e.goal.CurrentCents >= e.goal.GoalCents {
		// На паузе празднование откладывается: флаг остаётся снятым,
		// и пересечение сработает при первом пересчёте идущей сессии.
		if !e.goalReached && e.session.IsRunning() {
			e.goalReached = true
			e.celebrations++
			e.logger.Info("sales goal reached",
				zap.Float64("goal", model.Dollars(e.goal.GoalCents)),
				zap.Float64("current", model.Dollars(e.goal.CurrentCents)))
			if cb := e.onGoalReached; cb != nil {
				go cb()
			}
		}
	} else {
		e.goalReached = false
	}
}

func (e *Engine) persistCurrentLocked() {
	rec := currentRecord{
		Session:          e.session,
		Goal:             e.goal,
		Orders:           e.orders.CurrentSessionOrders,
		TotalOrders:      e.orders.TotalOrders,
		SoldOut:          e.soldOut,
		ManualSalesCents: e.manualSalesCents,
		GoalReached:      e.goalReached,
		Celebrations:     e.celebrations,
	}
	e.store.Set(context.Background(), store.KeyCurrentSession, rec)
}
