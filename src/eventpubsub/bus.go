package eventpubsub

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
)

type Handler func(eventmodels.Event)

// OverflowPolicy decides what happens when the queue is full.
type OverflowPolicy string

const (
	// PolicyBlock makes Publish wait for queue space.
	PolicyBlock OverflowPolicy = "block"
	// PolicyDropNewest makes Publish drop the event and log a warning.
	PolicyDropNewest OverflowPolicy = "drop_newest"
)

const DefaultCapacity = 65536

type Config struct {
	Capacity int
	Policy   OverflowPolicy
	Log      EventLog
}

type subscription struct {
	name string
	fn   Handler
}

// Bus is a typed publish/subscribe dispatcher. All delivery happens on a
// single dispatch goroutine, so handlers never run concurrently with each
// other; producers may publish from any goroutine.
type Bus struct {
	mu       sync.Mutex
	handlers map[eventmodels.EventName][]subscription

	cfg     Config
	queue   chan eventmodels.Event
	quit    chan struct{}
	done    chan struct{}
	running bool
	stopped bool
	dropped uint64
}

func NewBus(cfg Config) *Bus {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyBlock
	}
	return &Bus{
		handlers: make(map[eventmodels.EventName][]subscription),
		cfg:      cfg,
		queue:    make(chan eventmodels.Event, cfg.Capacity),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Subscribe registers fn for topic. Registering the same subscriberName on
// the same topic again is a no-op.
func (b *Bus) Subscribe(topic eventmodels.EventName, subscriberName string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.handlers[topic] {
		if sub.name == subscriberName {
			log.Debugf("[%v] already subscribed to topic %s", subscriberName, topic)
			return
		}
	}

	b.handlers[topic] = append(b.handlers[topic], subscription{name: subscriberName, fn: fn})
	log.Infof("[%v] Subscribed to topic %s", subscriberName, topic)
}

// Unsubscribe removes the subscriber from the topic; an absent subscriber is
// not an error.
func (b *Bus) Unsubscribe(topic eventmodels.EventName, subscriberName string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[topic]
	for i, sub := range subs {
		if sub.name == subscriberName {
			b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues the event for delivery. When a durable log is configured
// the event is appended first; a log failure is reported but never blocks
// delivery.
func (b *Bus) Publish(event eventmodels.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if b.cfg.Log != nil {
		if err := b.cfg.Log.Append(event); err != nil {
			log.Errorf("Bus.Publish: failed to append %s to event log: %v", event.Type, err)
		}
	}

	switch b.cfg.Policy {
	case PolicyDropNewest:
		select {
		case b.queue <- event:
		default:
			atomic.AddUint64(&b.dropped, 1)
			log.Warnf("Bus.Publish: queue full, dropping %s event", event.Type)
		}
	default:
		select {
		case b.queue <- event:
		case <-b.quit:
			log.Warnf("Bus.Publish: bus stopped, discarding %s event", event.Type)
		}
	}
}

// Dropped reports how many events were discarded under PolicyDropNewest.
func (b *Bus) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// Start spawns the dispatch loop. A stopped bus cannot be restarted.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return fmt.Errorf("Bus.Start: bus is stopped")
	}
	if b.running {
		return fmt.Errorf("Bus.Start: already running")
	}
	b.running = true

	go b.dispatchLoop()
	return nil
}

// Stop signals the dispatch loop and waits for the in-flight event to finish
// delivery. Events still queued are discarded and the bus is terminal: a
// later Start fails instead of respawning a loop on closed channels.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.stopped = true
	b.mu.Unlock()

	close(b.quit)
	<-b.done
}

func (b *Bus) dispatchLoop() {
	defer close(b.done)

	for {
		select {
		case <-b.quit:
			return
		case event := <-b.queue:
			b.dispatch(event)
		}
	}
}

func (b *Bus) dispatch(event eventmodels.Event) {
	b.mu.Lock()
	subs := make([]subscription, len(b.handlers[event.Type]))
	copy(subs, b.handlers[event.Type])
	b.mu.Unlock()

	for _, sub := range subs {
		b.invoke(sub, event)
	}
}

// invoke isolates each handler: a panic is logged and does not prevent
// delivery to the remaining handlers or to later events.
func (b *Bus) invoke(sub subscription, event eventmodels.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Bus.dispatch: handler %v panicked on %s: %v", sub.name, event.Type, r)
		}
	}()

	sub.fn(event)
}
