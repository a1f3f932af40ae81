package eventpubsub

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(name string) Handler {
	return func(event eventmodels.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name+":"+string(event.Type))
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestBusDelivery(t *testing.T) {
	t.Run("handlers run in registration order", func(t *testing.T) {
		bus := NewBus(Config{})
		rec := &recorder{}

		bus.Subscribe(eventmodels.TickEventName, "first", rec.handler("first"))
		bus.Subscribe(eventmodels.TickEventName, "second", rec.handler("second"))

		assert.Nil(t, bus.Start())
		defer bus.Stop()

		bus.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "test", nil))
		bus.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "test", nil))

		assert.Eventually(t, func() bool { return rec.count() == 4 }, time.Second, time.Millisecond)
		assert.Equal(t, []string{"first:tick", "second:tick", "first:tick", "second:tick"}, rec.snapshot())
	})

	t.Run("only matching topic is delivered", func(t *testing.T) {
		bus := NewBus(Config{})
		rec := &recorder{}

		bus.Subscribe(eventmodels.TickEventName, "ticks", rec.handler("ticks"))

		assert.Nil(t, bus.Start())
		defer bus.Stop()

		bus.Publish(eventmodels.NewEvent(eventmodels.TradeEventName, "test", nil))
		bus.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "test", nil))

		assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
		assert.Equal(t, []string{"ticks:tick"}, rec.snapshot())
	})

	t.Run("duplicate subscriber name is a no-op", func(t *testing.T) {
		bus := NewBus(Config{})
		rec := &recorder{}

		bus.Subscribe(eventmodels.TickEventName, "worker", rec.handler("a"))
		bus.Subscribe(eventmodels.TickEventName, "worker", rec.handler("b"))

		assert.Nil(t, bus.Start())
		defer bus.Stop()

		bus.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "test", nil))

		assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
		assert.Equal(t, []string{"a:tick"}, rec.snapshot())
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		bus := NewBus(Config{})
		rec := &recorder{}

		bus.Subscribe(eventmodels.TickEventName, "worker", rec.handler("worker"))
		bus.Subscribe(eventmodels.TickEventName, "other", rec.handler("other"))
		bus.Unsubscribe(eventmodels.TickEventName, "worker")

		assert.Nil(t, bus.Start())
		defer bus.Stop()

		bus.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "test", nil))

		assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
		assert.Equal(t, []string{"other:tick"}, rec.snapshot())
	})

	t.Run("panicking handler does not block the others", func(t *testing.T) {
		bus := NewBus(Config{})
		rec := &recorder{}

		bus.Subscribe(eventmodels.TickEventName, "bad", func(eventmodels.Event) {
			panic("boom")
		})
		bus.Subscribe(eventmodels.TickEventName, "good", rec.handler("good"))

		assert.Nil(t, bus.Start())
		defer bus.Stop()

		bus.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "test", nil))
		bus.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "test", nil))

		assert.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
	})
}

func TestBusLifecycle(t *testing.T) {
	t.Run("second start fails while running", func(t *testing.T) {
		bus := NewBus(Config{})
		assert.Nil(t, bus.Start())
		defer bus.Stop()

		assert.Error(t, bus.Start())
	})

	t.Run("a stopped bus cannot be restarted", func(t *testing.T) {
		bus := NewBus(Config{})
		rec := &recorder{}
		bus.Subscribe(eventmodels.TickEventName, "ticks", rec.handler("ticks"))

		assert.Nil(t, bus.Start())
		bus.Stop()

		assert.Error(t, bus.Start())

		// A publish after the refused restart must not be delivered.
		bus.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "test", nil))
		bus.Stop()
		assert.Equal(t, 0, rec.count())
	})
}

func TestBusDropNewest(t *testing.T) {
	// The dispatch loop is intentionally not started so the queue stays full.
	bus := NewBus(Config{Capacity: 1, Policy: PolicyDropNewest})

	bus.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "test", nil))
	bus.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "test", nil))
	bus.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "test", nil))

	assert.Equal(t, uint64(2), bus.Dropped())
}

func TestEventLogReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")

	eventLog, err := OpenFileEventLog(path)
	assert.Nil(t, err)

	source := NewBus(Config{Log: eventLog})
	assert.Nil(t, source.Start())

	source.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "test", eventmodels.TickData{Symbol: "rb2410", LastPrice: 3500}))
	source.Publish(eventmodels.NewEvent(eventmodels.TradeEventName, "test", eventmodels.Trade{ID: "t1", Symbol: "rb2410", Volume: 2, Price: 3501}))
	source.Publish(eventmodels.NewEvent(eventmodels.TickEventName, "test", eventmodels.TickData{Symbol: "rb2410", LastPrice: 3502}))

	// Appends happen synchronously in Publish, before enqueue.
	source.Stop()
	assert.Nil(t, eventLog.Close())

	t.Run("records are persisted in publish order", func(t *testing.T) {
		f, err := os.Open(path)
		assert.Nil(t, err)
		defer f.Close()

		records, err := ReadLogRecords(f)
		assert.Nil(t, err)
		assert.Len(t, records, 3)
		assert.Equal(t, eventmodels.TickEventName, records[0].Type)
		assert.Equal(t, eventmodels.TradeEventName, records[1].Type)
		assert.Equal(t, eventmodels.TickEventName, records[2].Type)
	})

	t.Run("replay republishes every record and reports counts", func(t *testing.T) {
		target := NewBus(Config{})
		rec := &recorder{}
		target.Subscribe(eventmodels.TickEventName, "ticks", rec.handler("ticks"))
		target.Subscribe(eventmodels.TradeEventName, "trades", rec.handler("trades"))

		assert.Nil(t, target.Start())
		defer target.Stop()

		f, err := os.Open(path)
		assert.Nil(t, err)
		defer f.Close()

		counts, err := Replay(f, target)
		assert.Nil(t, err)
		assert.Equal(t, 2, counts[eventmodels.TickEventName])
		assert.Equal(t, 1, counts[eventmodels.TradeEventName])

		assert.Eventually(t, func() bool { return rec.count() == 3 }, time.Second, time.Millisecond)
		assert.Equal(t, []string{"ticks:tick", "trades:trade", "ticks:tick"}, rec.snapshot())
	})
}
