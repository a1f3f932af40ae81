package eventconsumers

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
	"github.com/quantlabhq/tradeplane/src/eventpubsub"
	"github.com/quantlabhq/tradeplane/src/gateway"
	"github.com/quantlabhq/tradeplane/src/supervisor"
)

type AccountWorkerConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	AccountInterval  time.Duration `yaml:"account_interval"`
	PositionInterval time.Duration `yaml:"position_interval"`
	SyncOnTrade      bool          `yaml:"sync_on_trade"`
}

func (c AccountWorkerConfig) withDefaults() AccountWorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.AccountInterval <= 0 {
		c.AccountInterval = 10 * time.Second
	}
	if c.PositionInterval <= 0 {
		c.PositionInterval = 10 * time.Second
	}
	return c
}

// AccountWorker keeps account, position, order and trade state synchronized
// through a hybrid of periodic pulls and gateway pushes. Account and
// position staleness are tracked independently.
type AccountWorker struct {
	wg *sync.WaitGroup
	mu sync.Mutex

	bus *eventpubsub.Bus
	gw  gateway.Gateway
	cfg AccountWorkerConfig

	account   eventmodels.AccountSnapshot
	positions map[eventmodels.PositionKey]eventmodels.Position
	orders    map[string]eventmodels.Order
	trades    []eventmodels.Trade

	lastAccountQuery  time.Time
	lastPositionQuery time.Time

	quit    chan struct{}
	done    chan struct{}
	running bool
}

func NewAccountWorker(wg *sync.WaitGroup, bus *eventpubsub.Bus, gw gateway.Gateway, cfg AccountWorkerConfig) *AccountWorker {
	return &AccountWorker{
		wg:        wg,
		bus:       bus,
		gw:        gw,
		cfg:       cfg.withDefaults(),
		positions: make(map[eventmodels.PositionKey]eventmodels.Position),
		orders:    make(map[string]eventmodels.Order),
	}
}

func (w *AccountWorker) Name() string {
	return supervisor.ServiceAccount
}

func (w *AccountWorker) Dependencies() []string {
	return nil
}

func (w *AccountWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.quit = make(chan struct{})
	w.done = make(chan struct{})
	w.mu.Unlock()

	w.gw.SetOnAccount(w.OnAccount)
	w.gw.SetOnPosition(w.OnPosition)
	w.bus.Subscribe(eventmodels.TradeEventName, "AccountWorker", w.handleTradeEvent)
	w.bus.Subscribe(eventmodels.OrderUpdateEventName, "AccountWorker", w.handleOrderEvent)

	// prime both aspects so reporting does not wait for the first poll
	w.queryAccount()
	w.queryPosition()

	w.wg.Add(1)
	go w.pollLoop(ctx)

	return nil
}

// Stop signals the poll loop, waits for it to exit, then clears all cached
// state in bulk.
func (w *AccountWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	quit := w.quit
	done := w.done
	w.mu.Unlock()

	close(quit)
	<-done

	w.bus.Unsubscribe(eventmodels.TradeEventName, "AccountWorker")
	w.bus.Unsubscribe(eventmodels.OrderUpdateEventName, "AccountWorker")

	w.mu.Lock()
	w.account = eventmodels.AccountSnapshot{}
	w.positions = make(map[eventmodels.PositionKey]eventmodels.Position)
	w.orders = make(map[string]eventmodels.Order)
	w.trades = nil
	w.mu.Unlock()

	return nil
}

// pollLoop re-queries each aspect independently once it is older than its
// configured interval. A failed query is retried on the next cycle, never
// immediately.
func (w *AccountWorker) pollLoop(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping AccountWorker poll loop")
			return
		case <-w.quit:
			return
		case <-ticker.C:
			w.pollOnce()
		}
	}
}

func (w *AccountWorker) pollOnce() {
	w.mu.Lock()
	accountStale := time.Since(w.lastAccountQuery) > w.cfg.AccountInterval
	positionStale := time.Since(w.lastPositionQuery) > w.cfg.PositionInterval
	w.mu.Unlock()

	if accountStale {
		w.queryAccount()
	}
	if positionStale {
		w.queryPosition()
	}
}

func (w *AccountWorker) queryAccount() {
	if !w.gw.QueryAccount() {
		log.Warnf("AccountWorker.queryAccount: gateway query failed, retrying next cycle")
		return
	}

	w.mu.Lock()
	w.lastAccountQuery = time.Now()
	w.mu.Unlock()
}

func (w *AccountWorker) queryPosition() {
	if !w.gw.QueryPosition() {
		log.Warnf("AccountWorker.queryPosition: gateway query failed, retrying next cycle")
		return
	}

	w.mu.Lock()
	w.lastPositionQuery = time.Now()
	w.mu.Unlock()
}

// OnAccount replaces the current account snapshot wholesale.
func (w *AccountWorker) OnAccount(snapshot eventmodels.AccountSnapshot) {
	w.mu.Lock()
	w.account = snapshot
	w.mu.Unlock()

	w.bus.Publish(eventmodels.NewEvent(eventmodels.AccountUpdateEventName, "AccountWorker", snapshot))
}

// OnPosition replaces the (symbol, direction) entry wholesale; there is no
// incremental merge.
func (w *AccountWorker) OnPosition(position eventmodels.Position) {
	w.mu.Lock()
	w.positions[position.Key()] = position
	w.mu.Unlock()

	w.bus.Publish(eventmodels.NewEvent(eventmodels.PositionUpdateEventName, "AccountWorker", position))
}

// OnTrade records the trade; when sync_on_trade is set both a fresh account
// query and a fresh position query are triggered immediately so fills are
// reflected before the next poll boundary.
func (w *AccountWorker) OnTrade(trade eventmodels.Trade) {
	w.mu.Lock()
	w.trades = append(w.trades, trade)
	syncNow := w.cfg.SyncOnTrade && w.running
	w.mu.Unlock()

	if syncNow {
		w.queryAccount()
		w.queryPosition()
	}
}

func (w *AccountWorker) handleTradeEvent(event eventmodels.Event) {
	switch trade := event.Payload.(type) {
	case eventmodels.Trade:
		w.OnTrade(trade)
	case *eventmodels.Trade:
		w.OnTrade(*trade)
	default:
		log.Debugf("AccountWorker.handleTradeEvent: ignoring payload of type %T", event.Payload)
	}
}

func (w *AccountWorker) handleOrderEvent(event eventmodels.Event) {
	var order eventmodels.Order
	switch payload := event.Payload.(type) {
	case eventmodels.Order:
		order = payload
	case *eventmodels.Order:
		order = *payload
	default:
		log.Debugf("AccountWorker.handleOrderEvent: ignoring payload of type %T", event.Payload)
		return
	}

	w.mu.Lock()
	w.orders[order.ID] = order
	w.mu.Unlock()
}

// PositionVolume returns the current volume held for the key, zero when the
// position is absent.
func (w *AccountWorker) PositionVolume(symbol string, direction eventmodels.Direction) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	pos, ok := w.positions[eventmodels.PositionKey{Symbol: symbol, Direction: direction}]
	if !ok {
		return 0
	}
	return pos.Volume
}

// Snapshot returns an immutable point-in-time copy of the account state.
func (w *AccountWorker) Snapshot() eventmodels.AccountBook {
	w.mu.Lock()
	defer w.mu.Unlock()

	book := eventmodels.AccountBook{
		Account:   w.account,
		Positions: make([]eventmodels.Position, 0, len(w.positions)),
		Orders:    make([]eventmodels.Order, 0, len(w.orders)),
		Trades:    append([]eventmodels.Trade(nil), w.trades...),
	}

	for _, pos := range w.positions {
		book.Positions = append(book.Positions, pos)
	}
	sort.Slice(book.Positions, func(i, j int) bool {
		return book.Positions[i].Key().String() < book.Positions[j].Key().String()
	})

	for _, order := range w.orders {
		book.Orders = append(book.Orders, order)
	}
	sort.Slice(book.Orders, func(i, j int) bool {
		return book.Orders[i].CreatedAt.Before(book.Orders[j].CreatedAt)
	})

	return book
}

// ExportTrades writes the trade journal as CSV.
func (w *AccountWorker) ExportTrades(out io.Writer) error {
	w.mu.Lock()
	trades := append([]eventmodels.Trade(nil), w.trades...)
	w.mu.Unlock()

	return gocsv.Marshal(&trades, out)
}
