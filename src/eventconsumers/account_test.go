package eventconsumers

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
	"github.com/quantlabhq/tradeplane/src/eventpubsub"
)

func newTestAccountWorker(gw *stubGateway, cfg AccountWorkerConfig) (*AccountWorker, *sync.WaitGroup) {
	var wg sync.WaitGroup
	bus := eventpubsub.NewBus(eventpubsub.Config{})
	return NewAccountWorker(&wg, bus, gw, cfg), &wg
}

func TestAccountWorkerState(t *testing.T) {
	t.Run("account snapshot is replaced wholesale", func(t *testing.T) {
		w, _ := newTestAccountWorker(newStubGateway(), AccountWorkerConfig{})

		w.OnAccount(eventmodels.AccountSnapshot{Balance: 100000, Available: 80000, Frozen: 20000})
		w.OnAccount(eventmodels.AccountSnapshot{Balance: 99000, Available: 99000})

		book := w.Snapshot()
		assert.Equal(t, 99000.0, book.Account.Balance)
		assert.Equal(t, 0.0, book.Account.Frozen)
	})

	t.Run("position entries are keyed by symbol and direction", func(t *testing.T) {
		w, _ := newTestAccountWorker(newStubGateway(), AccountWorkerConfig{})

		w.OnPosition(eventmodels.Position{Symbol: "rb2410", Direction: eventmodels.DirectionLong, Volume: 5, AvgPrice: 3500})
		w.OnPosition(eventmodels.Position{Symbol: "rb2410", Direction: eventmodels.DirectionShort, Volume: 2, AvgPrice: 3510})
		w.OnPosition(eventmodels.Position{Symbol: "rb2410", Direction: eventmodels.DirectionLong, Volume: 7, AvgPrice: 3505})

		assert.Equal(t, 7.0, w.PositionVolume("rb2410", eventmodels.DirectionLong))
		assert.Equal(t, 2.0, w.PositionVolume("rb2410", eventmodels.DirectionShort))
		assert.Equal(t, 0.0, w.PositionVolume("hc2410", eventmodels.DirectionLong))

		book := w.Snapshot()
		assert.Len(t, book.Positions, 2)
	})

	t.Run("snapshot is immune to caller mutation", func(t *testing.T) {
		w, _ := newTestAccountWorker(newStubGateway(), AccountWorkerConfig{})

		w.OnPosition(eventmodels.Position{Symbol: "rb2410", Direction: eventmodels.DirectionLong, Volume: 5})
		w.OnTrade(eventmodels.Trade{ID: "t1", Symbol: "rb2410", Volume: 5})

		book := w.Snapshot()
		book.Positions[0].Volume = 999
		book.Trades[0].Volume = 999

		fresh := w.Snapshot()
		assert.Equal(t, 5.0, fresh.Positions[0].Volume)
		assert.Equal(t, 5.0, fresh.Trades[0].Volume)
	})

	t.Run("orders are sorted by creation time", func(t *testing.T) {
		w, _ := newTestAccountWorker(newStubGateway(), AccountWorkerConfig{})
		base := time.Now()

		w.handleOrderEvent(eventmodels.Event{Payload: eventmodels.Order{ID: "o2", CreatedAt: base.Add(time.Second)}})
		w.handleOrderEvent(eventmodels.Event{Payload: eventmodels.Order{ID: "o1", CreatedAt: base}})

		book := w.Snapshot()
		assert.Len(t, book.Orders, 2)
		assert.Equal(t, "o1", book.Orders[0].ID)
		assert.Equal(t, "o2", book.Orders[1].ID)
	})

	t.Run("unknown event payloads are ignored", func(t *testing.T) {
		w, _ := newTestAccountWorker(newStubGateway(), AccountWorkerConfig{})

		w.handleTradeEvent(eventmodels.Event{Payload: []byte(`{"id":"raw"}`)})
		w.handleOrderEvent(eventmodels.Event{Payload: "not an order"})

		book := w.Snapshot()
		assert.Len(t, book.Trades, 0)
		assert.Len(t, book.Orders, 0)
	})
}

func TestAccountWorkerSyncOnTrade(t *testing.T) {
	gw := newStubGateway()
	w, wg := newTestAccountWorker(gw, AccountWorkerConfig{
		PollInterval: time.Hour,
		SyncOnTrade:  true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Nil(t, w.Start(ctx))

	// Start primes one query for each aspect.
	accounts, positions := gw.queryCounts()
	assert.Equal(t, 1, accounts)
	assert.Equal(t, 1, positions)

	w.OnTrade(eventmodels.Trade{ID: "t1", Symbol: "rb2410", Volume: 1})

	accounts, positions = gw.queryCounts()
	assert.Equal(t, 2, accounts)
	assert.Equal(t, 2, positions)

	assert.Nil(t, w.Stop())
	wg.Wait()

	// stop clears all cached state
	assert.Len(t, w.Snapshot().Trades, 0)
}

func TestAccountWorkerExportTrades(t *testing.T) {
	w, _ := newTestAccountWorker(newStubGateway(), AccountWorkerConfig{})

	w.OnTrade(eventmodels.Trade{ID: "t1", OrderID: "o1", Symbol: "rb2410", Direction: eventmodels.DirectionLong, Volume: 2, Price: 3500})
	w.OnTrade(eventmodels.Trade{ID: "t2", OrderID: "o1", Symbol: "rb2410", Direction: eventmodels.DirectionLong, Volume: 3, Price: 3501})

	var buf bytes.Buffer
	assert.Nil(t, w.ExportTrades(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3) // header + two trades
	assert.Contains(t, lines[0], "order_id")
	assert.Contains(t, lines[1], "t1")
	assert.Contains(t, lines[2], "t2")
}
