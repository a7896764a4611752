package shopify

import (
	"context"
	"sync"
	"time"
)

// PollParams — параметры одного цикла опроса. Session помечает, для какой
// сессии сделан запрос: потребитель отбрасывает ответы, пришедшие после
// смены сессии.
type PollParams struct {
	Session string
	From    time.Time
	To      time.Time
}

// PollResult — результат одного цикла опроса.
type PollResult struct {
	Params PollParams
	Totals *Totals
	Err    error
	At     time.Time
}

// PollSnapshot — наблюдаемое состояние поллера.
type PollSnapshot struct {
	Data        *Totals
	Loading     bool
	Error       string
	LastUpdated time.Time
}

// FetchTotals — функция получения сводки по заказам за период.
type FetchTotals func(ctx context.Context, from, to time.Time) (*Totals, error)

// Poller периодически запрашивает сводку по заказам. Смена параметров
// вызывает немедленный повторный запрос, не дожидаясь очередного тика.
type Poller struct {
	mu       sync.Mutex
	fetch    FetchTotals
	interval time.Duration
	onResult func(PollResult)

	params      PollParams
	data        *Totals
	loading     bool
	errText     string
	lastUpdated time.Time

	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
}

// NewPoller создаёт поллер с указанным интервалом. Результаты каждого
// цикла передаются в onResult.
func NewPoller(fetch FetchTotals, interval time.Duration, onResult func(PollResult)) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		fetch:    fetch,
		interval: interval,
		onResult: onResult,
	}
}

// Start запускает цикл опроса. Первый запрос выполняется немедленно.
// Повторный вызов на запущенном поллере ничего не делает.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wake = make(chan struct{}, 1)
	p.done = make(chan struct{})

	go p.loop(ctx, p.wake, p.done)
}

// Stop останавливает цикл опроса и дожидается завершения его горутины.
// Ответ, полученный после остановки, не доставляется.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// SetParams меняет параметры опроса. На запущенном поллере смена параметров
// вызывает немедленный повторный запрос.
func (p *Poller) SetParams(params PollParams) {
	p.mu.Lock()
	p.params = params
	wake := p.wake
	running := p.cancel != nil
	p.mu.Unlock()

	if running {
		requestWake(wake)
	}
}

// Refetch запрашивает немедленное обновление вне расписания.
func (p *Poller) Refetch() {
	p.mu.Lock()
	wake := p.wake
	running := p.cancel != nil
	p.mu.Unlock()

	if running {
		requestWake(wake)
	}
}

// Snapshot возвращает текущее наблюдаемое состояние поллера. Ошибка
// залипает до первого успешного запроса.
func (p *Poller) Snapshot() PollSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PollSnapshot{
		Data:        p.data,
		Loading:     p.loading,
		Error:       p.errText,
		LastUpdated: p.lastUpdated,
	}
}

func requestWake(wake chan struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}

func (p *Poller) loop(ctx context.Context, wake chan struct{}, done chan struct{}) {
	defer close(done)

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
		p.poll(ctx)
	}
}

func (p *Poller) poll(ctx context.Context) {
	p.mu.Lock()
	params := p.params
	p.loading = true
	p.mu.Unlock()

	totals, err := p.fetch(ctx, params.From, params.To)
	at := time.Now()

	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	p.loading = false
	if err != nil {
		p.errText = err.Error()
	} else {
		p.errText = ""
		p.data = totals
		p.lastUpdated = at
	}
	cb := p.onResult
	p.mu.Unlock()

	if cb != nil {
		cb(PollResult{Params: params, Totals: totals, Err: err, At: at})
	}
}
