package eventconsumers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
	"github.com/quantlabhq/tradeplane/src/eventpubsub"
	"github.com/quantlabhq/tradeplane/src/gateway"
	"github.com/quantlabhq/tradeplane/src/supervisor"
)

// RiskChecker is the slice of the risk service the execution service needs.
type RiskChecker interface {
	PreTradeCheck(req eventmodels.OrderRequest) eventmodels.RiskCheckResult
}

// LatestTickProvider is the optional market-data dependency used to price
// market orders in the local record.
type LatestTickProvider interface {
	GetLatest(symbol string) (eventmodels.TickData, bool)
}

type orderCallback struct {
	name string
	fn   func(eventmodels.Order)
}

type fillCallback struct {
	name string
	fn   func(eventmodels.Trade)
}

// ExecutionCounters is a snapshot of the order flow counters.
type ExecutionCounters struct {
	OrdersSent     uint64 `json:"ordersSent"`
	TradesReceived uint64 `json:"tradesReceived"`
	Rejections     uint64 `json:"rejections"`
}

// ExecutionWorker converts strategy signals into gateway orders, tracks the
// order/trade lifecycle and enforces the risk gate on every send.
type ExecutionWorker struct {
	mu sync.Mutex

	bus        *eventpubsub.Bus
	gw         gateway.Gateway
	risk       RiskChecker
	marketData LatestTickProvider

	orders        map[string]*eventmodels.Order
	refIndex      map[string]string
	strategyIndex map[string]map[string]bool

	// updates that arrive before the local record exists, keyed by gateway
	// reference; replayed as soon as the order is registered
	pendingOrders map[string][]eventmodels.Order
	pendingTrades map[string][]eventmodels.Trade

	orderCallbacks []orderCallback
	fillCallbacks  []fillCallback

	counters ExecutionCounters
	running  bool
}

func NewExecutionWorker(bus *eventpubsub.Bus, gw gateway.Gateway, risk RiskChecker, marketData LatestTickProvider) *ExecutionWorker {
	return &ExecutionWorker{
		bus:           bus,
		gw:            gw,
		risk:          risk,
		marketData:    marketData,
		orders:        make(map[string]*eventmodels.Order),
		refIndex:      make(map[string]string),
		strategyIndex: make(map[string]map[string]bool),
		pendingOrders: make(map[string][]eventmodels.Order),
		pendingTrades: make(map[string][]eventmodels.Trade),
	}
}

func (w *ExecutionWorker) Name() string {
	return supervisor.ServiceExecution
}

func (w *ExecutionWorker) Dependencies() []string {
	deps := []string{supervisor.ServiceAccount, supervisor.ServiceRisk}
	if w.marketData != nil {
		deps = append(deps, supervisor.ServiceMarketData)
	}
	return deps
}

func (w *ExecutionWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	w.gw.SetOnOrder(w.OnOrder)
	w.gw.SetOnTrade(w.OnTrade)
	w.bus.Subscribe(eventmodels.SignalEventName, "ExecutionWorker", w.handleSignalEvent)
	return nil
}

// Stop clears the order caches and indexes in bulk.
func (w *ExecutionWorker) Stop() error {
	w.bus.Unsubscribe(eventmodels.SignalEventName, "ExecutionWorker")

	w.mu.Lock()
	w.running = false
	w.orders = make(map[string]*eventmodels.Order)
	w.refIndex = make(map[string]string)
	w.strategyIndex = make(map[string]map[string]bool)
	w.pendingOrders = make(map[string][]eventmodels.Order)
	w.pendingTrades = make(map[string][]eventmodels.Trade)
	w.mu.Unlock()

	return nil
}

// SendOrder runs the risk gate, forwards the (possibly adjusted) request to
// the gateway and mints the local order record. A risk rejection without a
// volume advisory returns an error and creates no record.
func (w *ExecutionWorker) SendOrder(req eventmodels.OrderRequest) (string, error) {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	if !running {
		return "", fmt.Errorf("ExecutionWorker.SendOrder: service is not running")
	}
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("ExecutionWorker.SendOrder: invalid request: %w", err)
	}

	check := w.risk.PreTradeCheck(req)
	if !check.Passed {
		if check.SuggestedVolume <= 0 {
			w.mu.Lock()
			w.counters.Rejections++
			w.mu.Unlock()
			return "", fmt.Errorf("ExecutionWorker.SendOrder: risk check rejected [%s]: %s", check.Level, check.Reason)
		}
		log.Warnf("ExecutionWorker.SendOrder: adjusting volume %v -> %v: %s", req.Volume, check.SuggestedVolume, check.Reason)
		req.Volume = check.SuggestedVolume
	}

	if req.Kind == eventmodels.OrderKindMarket && req.Price == 0 && w.marketData != nil {
		if tick, ok := w.marketData.GetLatest(req.Symbol); ok {
			req.Price = tick.LastPrice
		}
	}

	ref, ok := w.gw.SendOrder(req)
	if !ok {
		return "", fmt.Errorf("ExecutionWorker.SendOrder: gateway refused order for %s", req.Symbol)
	}

	order := &eventmodels.Order{
		ID:          uuid.New().String(),
		GatewayRef:  ref,
		Symbol:      req.Symbol,
		Direction:   req.Direction,
		Kind:        req.Kind,
		Volume:      req.Volume,
		Price:       req.Price,
		Status:      eventmodels.OrderStatusSubmitting,
		StrategyTag: parseStrategyTag(req.Reference),
		CreatedAt:   time.Now().UTC(),
	}

	w.mu.Lock()
	w.orders[order.ID] = order
	w.refIndex[ref] = order.ID
	tagged := w.strategyIndex[order.StrategyTag]
	if tagged == nil {
		tagged = make(map[string]bool)
		w.strategyIndex[order.StrategyTag] = tagged
	}
	tagged[order.ID] = true
	w.counters.OrdersSent++
	pendingOrders := w.pendingOrders[ref]
	pendingTrades := w.pendingTrades[ref]
	delete(w.pendingOrders, ref)
	delete(w.pendingTrades, ref)
	snapshot := *order
	w.mu.Unlock()

	w.bus.Publish(eventmodels.NewEvent(eventmodels.OrderUpdateEventName, "ExecutionWorker", snapshot))

	// apply updates the gateway delivered before the record existed
	for _, update := range pendingOrders {
		w.OnOrder(update)
	}
	for _, fill := range pendingTrades {
		w.OnTrade(fill)
	}

	return order.ID, nil
}

// parseStrategyTag extracts the strategy portion of a "{strategy}_{action}"
// reference. An empty reference maps to the manual tag.
func parseStrategyTag(reference string) string {
	if reference == "" {
		return "manual"
	}
	if idx := strings.Index(reference, "_"); idx > 0 {
		return reference[:idx]
	}
	return reference
}

// CancelOrder forwards a cancel for an active order. The local record is
// only marked cancelled when the gateway's order update later arrives.
func (w *ExecutionWorker) CancelOrder(id string) error {
	w.mu.Lock()
	order, ok := w.orders[id]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("ExecutionWorker.CancelOrder: unknown order %s", id)
	}
	if order.Status.IsTerminal() {
		status := order.Status
		w.mu.Unlock()
		return fmt.Errorf("ExecutionWorker.CancelOrder: order %s already %s", id, status)
	}
	ref := order.GatewayRef
	w.mu.Unlock()

	if !w.gw.CancelOrder(ref) {
		return fmt.Errorf("ExecutionWorker.CancelOrder: gateway refused cancel for %s", id)
	}

	return nil
}

// ProcessSignal consumes a strategy signal: TRADE becomes an order request,
// RISK cancel_all becomes bulk cancellation of the symbol's active orders.
func (w *ExecutionWorker) ProcessSignal(signal eventmodels.Signal) error {
	switch signal.Kind {
	case eventmodels.SignalKindTrade:
		kind := eventmodels.OrderKindMarket
		if signal.Price > 0 {
			kind = eventmodels.OrderKindLimit
		}

		req := eventmodels.OrderRequest{
			Symbol:    signal.Symbol,
			Direction: signal.Direction,
			Kind:      kind,
			Volume:    signal.Volume,
			Price:     signal.Price,
			Reference: fmt.Sprintf("%s_%s", signal.StrategyName, signal.Action),
		}

		if _, err := w.SendOrder(req); err != nil {
			return fmt.Errorf("ExecutionWorker.ProcessSignal: %w", err)
		}
		return nil

	case eventmodels.SignalKindRisk:
		if signal.Action != eventmodels.SignalActionCancelAll {
			return fmt.Errorf("ExecutionWorker.ProcessSignal: unknown risk action %q", signal.Action)
		}
		count := w.cancelActiveOrders("", signal.Symbol)
		log.Infof("ExecutionWorker.ProcessSignal: cancel_all %s cancelled %d orders", signal.Symbol, count)
		return nil

	default:
		return fmt.Errorf("ExecutionWorker.ProcessSignal: unknown signal kind %q", signal.Kind)
	}
}

func (w *ExecutionWorker) handleSignalEvent(event eventmodels.Event) {
	var signal eventmodels.Signal
	switch payload := event.Payload.(type) {
	case eventmodels.Signal:
		signal = payload
	case *eventmodels.Signal:
		signal = *payload
	default:
		log.Debugf("ExecutionWorker.handleSignalEvent: ignoring payload of type %T", event.Payload)
		return
	}

	if err := w.ProcessSignal(signal); err != nil {
		log.Errorf("ExecutionWorker.handleSignalEvent: %v", err)
	}
}

// CancelStrategyOrders cancels every active order indexed under the strategy
// (optionally filtered by symbol) and returns the count attempted.
func (w *ExecutionWorker) CancelStrategyOrders(strategy, symbol string) int {
	return w.cancelActiveOrders(strategy, symbol)
}

func (w *ExecutionWorker) cancelActiveOrders(strategy, symbol string) int {
	w.mu.Lock()
	var ids []string
	if strategy != "" {
		for id := range w.strategyIndex[strategy] {
			ids = append(ids, id)
		}
	} else {
		for id := range w.orders {
			ids = append(ids, id)
		}
	}

	var targets []string
	for _, id := range ids {
		order := w.orders[id]
		if order == nil || order.Status.IsTerminal() {
			continue
		}
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		targets = append(targets, id)
	}
	w.mu.Unlock()

	attempted := 0
	for _, id := range targets {
		if err := w.CancelOrder(id); err != nil {
			log.Errorf("ExecutionWorker.cancelActiveOrders: %v", err)
			continue
		}
		attempted++
	}

	return attempted
}

// OnOrder is the gateway order callback. Updates are keyed by the gateway
// reference; status only ever advances, regressions are dropped.
func (w *ExecutionWorker) OnOrder(update eventmodels.Order) {
	w.mu.Lock()
	id, ok := w.refIndex[update.ID]
	if !ok {
		w.pendingOrders[update.ID] = append(w.pendingOrders[update.ID], update)
		w.mu.Unlock()
		log.Debugf("ExecutionWorker.OnOrder: buffering update for unknown ref %s", update.ID)
		return
	}

	order := w.orders[id]
	if order.Status.CanAdvanceTo(update.Status) {
		order.Status = update.Status
	} else if order.Status != update.Status {
		log.Warnf("ExecutionWorker.OnOrder: dropping regression %s -> %s on order %s", order.Status, update.Status, id)
	}
	if update.Traded > order.Traded {
		order.Traded = update.Traded
	}
	if update.Price > 0 {
		order.Price = update.Price
	}

	snapshot := *order
	callbacks := make([]orderCallback, len(w.orderCallbacks))
	copy(callbacks, w.orderCallbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		w.invokeOrderCallback(cb, snapshot)
	}

	w.bus.Publish(eventmodels.NewEvent(eventmodels.OrderUpdateEventName, "ExecutionWorker", snapshot))
}

// OnTrade is the gateway trade callback: it advances the traded volume on
// the matching order and republishes the trade keyed by the local order id.
func (w *ExecutionWorker) OnTrade(trade eventmodels.Trade) {
	w.mu.Lock()
	id, ok := w.refIndex[trade.OrderID]
	if !ok {
		w.pendingTrades[trade.OrderID] = append(w.pendingTrades[trade.OrderID], trade)
		w.mu.Unlock()
		log.Debugf("ExecutionWorker.OnTrade: buffering trade %s for unknown order %s", trade.ID, trade.OrderID)
		return
	}

	trade.OrderID = id
	order := w.orders[id]
	order.Traded += trade.Volume
	if order.Traded > order.Volume {
		order.Traded = order.Volume
	}
	w.counters.TradesReceived++
	callbacks := make([]fillCallback, len(w.fillCallbacks))
	copy(callbacks, w.fillCallbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		w.invokeFillCallback(cb, trade)
	}

	w.bus.Publish(eventmodels.NewEvent(eventmodels.TradeEventName, "ExecutionWorker", trade))
}

// RegisterOrderCallback adds a direct order-update callback.
func (w *ExecutionWorker) RegisterOrderCallback(name string, fn func(eventmodels.Order)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, cb := range w.orderCallbacks {
		if cb.name == name {
			return
		}
	}
	w.orderCallbacks = append(w.orderCallbacks, orderCallback{name: name, fn: fn})
}

// RegisterFillCallback adds a direct trade callback.
func (w *ExecutionWorker) RegisterFillCallback(name string, fn func(eventmodels.Trade)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, cb := range w.fillCallbacks {
		if cb.name == name {
			return
		}
	}
	w.fillCallbacks = append(w.fillCallbacks, fillCallback{name: name, fn: fn})
}

func (w *ExecutionWorker) invokeOrderCallback(cb orderCallback, order eventmodels.Order) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("ExecutionWorker.OnOrder: callback %v panicked: %v", cb.name, r)
		}
	}()
	cb.fn(order)
}

func (w *ExecutionWorker) invokeFillCallback(cb fillCallback, trade eventmodels.Trade) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("ExecutionWorker.OnTrade: callback %v panicked: %v", cb.name, r)
		}
	}()
	cb.fn(trade)
}

// GetOrder returns a copy of the local order record.
func (w *ExecutionWorker) GetOrder(id string) (eventmodels.Order, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	order, ok := w.orders[id]
	if !ok {
		return eventmodels.Order{}, false
	}
	return *order, true
}

// ActiveOrders returns copies of every non-terminal order.
func (w *ExecutionWorker) ActiveOrders() []eventmodels.Order {
	w.mu.Lock()
	defer w.mu.Unlock()

	var active []eventmodels.Order
	for _, order := range w.orders {
		if !order.Status.IsTerminal() {
			active = append(active, *order)
		}
	}
	return active
}

// Counters returns a snapshot of the order flow counters.
func (w *ExecutionWorker) Counters() ExecutionCounters {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counters
}
