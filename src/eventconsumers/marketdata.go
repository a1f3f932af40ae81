package eventconsumers

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
	"github.com/quantlabhq/tradeplane/src/eventpubsub"
	"github.com/quantlabhq/tradeplane/src/gateway"
	"github.com/quantlabhq/tradeplane/src/supervisor"
)

type tickCallback struct {
	name string
	fn   func(eventmodels.TickData)
}

// MarketDataWorker manages reference-counted symbol subscriptions and keeps
// a single latest tick per symbol. The external subscribe is issued only on
// the first subscriber and the external unsubscribe only when the last one
// leaves.
type MarketDataWorker struct {
	mu sync.Mutex

	bus *eventpubsub.Bus
	gw  gateway.Gateway

	subscribers map[string]map[string]bool
	cache       map[string]eventmodels.TickData
	callbacks   []tickCallback
}

func NewMarketDataWorker(bus *eventpubsub.Bus, gw gateway.Gateway) *MarketDataWorker {
	return &MarketDataWorker{
		bus:         bus,
		gw:          gw,
		subscribers: make(map[string]map[string]bool),
		cache:       make(map[string]eventmodels.TickData),
	}
}

func (w *MarketDataWorker) Name() string {
	return supervisor.ServiceMarketData
}

func (w *MarketDataWorker) Dependencies() []string {
	return nil
}

func (w *MarketDataWorker) Start(ctx context.Context) error {
	w.gw.SetOnTick(w.OnTick)
	return nil
}

// Stop clears the subscriber sets and the tick cache in bulk.
func (w *MarketDataWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for symbol, set := range w.subscribers {
		if len(set) > 0 {
			if !w.gw.Unsubscribe(symbol) {
				log.Warnf("MarketDataWorker.Stop: gateway unsubscribe failed for %s", symbol)
			}
		}
	}

	w.subscribers = make(map[string]map[string]bool)
	w.cache = make(map[string]eventmodels.TickData)
	return nil
}

// Subscribe adds subscriberID to the symbol's subscriber set. The gateway
// subscribe is only issued when the set transitions empty -> non-empty; if
// that call fails the membership change is rolled back.
func (w *MarketDataWorker) Subscribe(symbol, subscriberID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	set := w.subscribers[symbol]
	if set == nil {
		set = make(map[string]bool)
		w.subscribers[symbol] = set
	}
	if set[subscriberID] {
		return nil
	}

	wasEmpty := len(set) == 0
	set[subscriberID] = true

	if wasEmpty {
		if !w.gw.Subscribe(symbol) {
			delete(set, subscriberID)
			if len(set) == 0 {
				delete(w.subscribers, symbol)
			}
			return fmt.Errorf("MarketDataWorker.Subscribe: gateway subscribe failed for %s", symbol)
		}
	}

	return nil
}

// Unsubscribe removes subscriberID; when the set becomes empty the gateway
// unsubscribe is issued and the cached tick is evicted.
func (w *MarketDataWorker) Unsubscribe(symbol, subscriberID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	set := w.subscribers[symbol]
	if set == nil || !set[subscriberID] {
		return nil
	}

	delete(set, subscriberID)
	if len(set) > 0 {
		return nil
	}

	delete(w.subscribers, symbol)
	delete(w.cache, symbol)
	if !w.gw.Unsubscribe(symbol) {
		return fmt.Errorf("MarketDataWorker.Unsubscribe: gateway unsubscribe failed for %s", symbol)
	}

	return nil
}

// RegisterCallback adds a direct tick callback. Callbacks are isolated from
// each other: one panicking does not stop the rest.
func (w *MarketDataWorker) RegisterCallback(name string, fn func(eventmodels.TickData)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, cb := range w.callbacks {
		if cb.name == name {
			return
		}
	}
	w.callbacks = append(w.callbacks, tickCallback{name: name, fn: fn})
}

// OnTick is the gateway tick callback: overwrite the cache, fan out to the
// registered callbacks, then publish a tick event.
func (w *MarketDataWorker) OnTick(tick eventmodels.TickData) {
	w.mu.Lock()
	w.cache[tick.Symbol] = tick
	callbacks := make([]tickCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		w.invokeCallback(cb, tick)
	}

	w.bus.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "MarketDataWorker", tick))
}

func (w *MarketDataWorker) invokeCallback(cb tickCallback, tick eventmodels.TickData) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("MarketDataWorker.OnTick: callback %v panicked: %v", cb.name, r)
		}
	}()

	cb.fn(tick)
}

// GetLatest returns the most recent tick for the symbol, if any. There is no
// retained history beyond this single value.
func (w *MarketDataWorker) GetLatest(symbol string) (eventmodels.TickData, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	tick, ok := w.cache[symbol]
	return tick, ok
}

// SubscriberCount reports the size of the symbol's subscriber set.
func (w *MarketDataWorker) SubscriberCount(symbol string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.subscribers[symbol])
}
