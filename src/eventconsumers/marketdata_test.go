package eventconsumers

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
	"github.com/quantlabhq/tradeplane/src/eventpubsub"
)

// stubGateway records every interaction and lets tests drive the callbacks.
type stubGateway struct {
	mu sync.Mutex

	subscribeOK   bool
	unsubscribeOK bool
	sendOK        bool
	cancelOK      bool
	queryOK       bool

	subscribes      []string
	unsubscribes    []string
	sent            []eventmodels.OrderRequest
	cancels         []string
	accountQueries  int
	positionQueries int

	onTick     func(eventmodels.TickData)
	onOrder    func(eventmodels.Order)
	onTrade    func(eventmodels.Trade)
	onAccount  func(eventmodels.AccountSnapshot)
	onPosition func(eventmodels.Position)
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		subscribeOK:   true,
		unsubscribeOK: true,
		sendOK:        true,
		cancelOK:      true,
		queryOK:       true,
	}
}

func (g *stubGateway) Connect() bool              { return true }
func (g *stubGateway) Disconnect()                {}
func (g *stubGateway) IsDataChannelLive() bool    { return true }
func (g *stubGateway) IsCommandChannelLive() bool { return true }

func (g *stubGateway) Subscribe(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.subscribeOK {
		return false
	}
	g.subscribes = append(g.subscribes, symbol)
	return true
}

func (g *stubGateway) Unsubscribe(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.unsubscribeOK {
		return false
	}
	g.unsubscribes = append(g.unsubscribes, symbol)
	return true
}

func (g *stubGateway) SendOrder(req eventmodels.OrderRequest) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.sendOK {
		return "", false
	}
	g.sent = append(g.sent, req)
	return fmt.Sprintf("ref-%d", len(g.sent)), true
}

func (g *stubGateway) CancelOrder(ref string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.cancelOK {
		return false
	}
	g.cancels = append(g.cancels, ref)
	return true
}

func (g *stubGateway) QueryAccount() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.queryOK {
		return false
	}
	g.accountQueries++
	return true
}

func (g *stubGateway) QueryPosition() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.queryOK {
		return false
	}
	g.positionQueries++
	return true
}

func (g *stubGateway) SetOnTick(fn func(eventmodels.TickData))           { g.onTick = fn }
func (g *stubGateway) SetOnOrder(fn func(eventmodels.Order))             { g.onOrder = fn }
func (g *stubGateway) SetOnTrade(fn func(eventmodels.Trade))             { g.onTrade = fn }
func (g *stubGateway) SetOnAccount(fn func(eventmodels.AccountSnapshot)) { g.onAccount = fn }
func (g *stubGateway) SetOnPosition(fn func(eventmodels.Position))       { g.onPosition = fn }

func (g *stubGateway) subscribeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subscribes)
}

func (g *stubGateway) unsubscribeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.unsubscribes)
}

func (g *stubGateway) cancelRefs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancels...)
}

func (g *stubGateway) queryCounts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accountQueries, g.positionQueries
}

func TestMarketDataWorkerSubscriptions(t *testing.T) {
	t.Run("first subscriber issues the external subscribe", func(t *testing.T) {
		gw := newStubGateway()
		w := NewMarketDataWorker(eventpubsub.NewBus(eventpubsub.Config{}), gw)

		assert.Nil(t, w.Subscribe("rb2410", "strategy-a"))
		assert.Nil(t, w.Subscribe("rb2410", "strategy-b"))

		assert.Equal(t, 1, gw.subscribeCount())
		assert.Equal(t, 2, w.SubscriberCount("rb2410"))
	})

	t.Run("subscribe is idempotent per subscriber", func(t *testing.T) {
		gw := newStubGateway()
		w := NewMarketDataWorker(eventpubsub.NewBus(eventpubsub.Config{}), gw)

		assert.Nil(t, w.Subscribe("rb2410", "strategy-a"))
		assert.Nil(t, w.Subscribe("rb2410", "strategy-a"))

		assert.Equal(t, 1, gw.subscribeCount())
		assert.Equal(t, 1, w.SubscriberCount("rb2410"))
	})

	t.Run("external unsubscribe only when the last subscriber leaves", func(t *testing.T) {
		gw := newStubGateway()
		w := NewMarketDataWorker(eventpubsub.NewBus(eventpubsub.Config{}), gw)

		assert.Nil(t, w.Subscribe("rb2410", "strategy-a"))
		assert.Nil(t, w.Subscribe("rb2410", "strategy-b"))

		assert.Nil(t, w.Unsubscribe("rb2410", "strategy-a"))
		assert.Equal(t, 0, gw.unsubscribeCount())

		assert.Nil(t, w.Unsubscribe("rb2410", "strategy-b"))
		assert.Equal(t, 1, gw.unsubscribeCount())
		assert.Equal(t, 0, w.SubscriberCount("rb2410"))
	})

	t.Run("failed gateway subscribe rolls back membership", func(t *testing.T) {
		gw := newStubGateway()
		gw.subscribeOK = false
		w := NewMarketDataWorker(eventpubsub.NewBus(eventpubsub.Config{}), gw)

		assert.NotNil(t, w.Subscribe("rb2410", "strategy-a"))
		assert.Equal(t, 0, w.SubscriberCount("rb2410"))

		// a later attempt starts from a clean set
		gw.subscribeOK = true
		assert.Nil(t, w.Subscribe("rb2410", "strategy-a"))
		assert.Equal(t, 1, w.SubscriberCount("rb2410"))
	})

	t.Run("unsubscribe evicts the cached tick", func(t *testing.T) {
		gw := newStubGateway()
		w := NewMarketDataWorker(eventpubsub.NewBus(eventpubsub.Config{}), gw)

		assert.Nil(t, w.Subscribe("rb2410", "strategy-a"))
		w.OnTick(eventmodels.TickData{Symbol: "rb2410", LastPrice: 3500})

		_, ok := w.GetLatest("rb2410")
		assert.True(t, ok)

		assert.Nil(t, w.Unsubscribe("rb2410", "strategy-a"))
		_, ok = w.GetLatest("rb2410")
		assert.False(t, ok)
	})
}

func TestMarketDataWorkerTicks(t *testing.T) {
	t.Run("latest tick overwrites the previous one", func(t *testing.T) {
		gw := newStubGateway()
		w := NewMarketDataWorker(eventpubsub.NewBus(eventpubsub.Config{}), gw)

		w.OnTick(eventmodels.TickData{Symbol: "rb2410", LastPrice: 3500})
		w.OnTick(eventmodels.TickData{Symbol: "rb2410", LastPrice: 3502})

		tick, ok := w.GetLatest("rb2410")
		assert.True(t, ok)
		assert.Equal(t, 3502.0, tick.LastPrice)
	})

	t.Run("panicking callback does not block the others", func(t *testing.T) {
		gw := newStubGateway()
		w := NewMarketDataWorker(eventpubsub.NewBus(eventpubsub.Config{}), gw)

		var received []float64
		w.RegisterCallback("bad", func(eventmodels.TickData) {
			panic("boom")
		})
		w.RegisterCallback("good", func(tick eventmodels.TickData) {
			received = append(received, tick.LastPrice)
		})

		w.OnTick(eventmodels.TickData{Symbol: "rb2410", LastPrice: 3500})

		assert.Equal(t, []float64{3500}, received)
	})

	t.Run("duplicate callback name is a no-op", func(t *testing.T) {
		gw := newStubGateway()
		w := NewMarketDataWorker(eventpubsub.NewBus(eventpubsub.Config{}), gw)

		count := 0
		w.RegisterCallback("counter", func(eventmodels.TickData) { count++ })
		w.RegisterCallback("counter", func(eventmodels.TickData) { count += 100 })

		w.OnTick(eventmodels.TickData{Symbol: "rb2410"})
		assert.Equal(t, 1, count)
	})
}

func TestMarketDataWorkerStop(t *testing.T) {
	gw := newStubGateway()
	w := NewMarketDataWorker(eventpubsub.NewBus(eventpubsub.Config{}), gw)

	assert.Nil(t, w.Start(context.Background()))
	assert.Nil(t, w.Subscribe("rb2410", "strategy-a"))
	assert.Nil(t, w.Subscribe("hc2410", "strategy-a"))
	w.OnTick(eventmodels.TickData{Symbol: "rb2410", LastPrice: 3500})

	assert.Nil(t, w.Stop())

	assert.Equal(t, 2, gw.unsubscribeCount())
	assert.Equal(t, 0, w.SubscriberCount("rb2410"))
	_, ok := w.GetLatest("rb2410")
	assert.False(t, ok)
}
