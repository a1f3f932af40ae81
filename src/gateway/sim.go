package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
)

// SimConfig controls the paper gateway.
type SimConfig struct {
	InitialBalance float64
	// AutoFill makes every accepted order fill immediately at the order
	// price (or the last tick price for market orders).
	AutoFill bool
}

// Sim is an in-memory paper gateway used by the default runtime profile and
// the test suites. It implements the full Gateway contract but talks to no
// venue: orders are acknowledged (and optionally filled) locally.
type Sim struct {
	mu sync.Mutex

	cfg       SimConfig
	connected bool
	subs      map[string]bool
	orders    map[string]eventmodels.Order
	account   eventmodels.AccountSnapshot
	positions map[eventmodels.PositionKey]eventmodels.Position
	lastPrice map[string]float64

	onTick     func(eventmodels.TickData)
	onOrder    func(eventmodels.Order)
	onTrade    func(eventmodels.Trade)
	onAccount  func(eventmodels.AccountSnapshot)
	onPosition func(eventmodels.Position)
}

func NewSim(cfg SimConfig) *Sim {
	return &Sim{
		cfg:       cfg,
		subs:      make(map[string]bool),
		orders:    make(map[string]eventmodels.Order),
		positions: make(map[eventmodels.PositionKey]eventmodels.Position),
		lastPrice: make(map[string]float64),
		account: eventmodels.AccountSnapshot{
			Balance:   cfg.InitialBalance,
			Available: cfg.InitialBalance,
			Timestamp: time.Now().UTC(),
		},
	}
}

func (s *Sim) Connect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return true
}

func (s *Sim) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

func (s *Sim) IsDataChannelLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sim) IsCommandChannelLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sim) Subscribe(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false
	}
	s.subs[symbol] = true
	return true
}

func (s *Sim) Unsubscribe(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, symbol)
	return true
}

func (s *Sim) SendOrder(req eventmodels.OrderRequest) (string, bool) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return "", false
	}

	ref := uuid.New().String()
	price := req.Price
	if req.Kind == eventmodels.OrderKindMarket {
		if last, ok := s.lastPrice[req.Symbol]; ok {
			price = last
		}
	}

	order := eventmodels.Order{
		ID:        ref,
		Symbol:    req.Symbol,
		Direction: req.Direction,
		Kind:      req.Kind,
		Volume:    req.Volume,
		Price:     price,
		Status:    eventmodels.OrderStatusNotTraded,
		CreatedAt: time.Now().UTC(),
	}
	s.orders[ref] = order
	autoFill := s.cfg.AutoFill
	s.mu.Unlock()

	s.emitOrder(order)
	if autoFill {
		s.fill(ref)
	}

	return ref, true
}

func (s *Sim) CancelOrder(ref string) bool {
	s.mu.Lock()
	order, ok := s.orders[ref]
	if !ok || order.Status.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	order.Status = eventmodels.OrderStatusCancelled
	s.orders[ref] = order
	s.mu.Unlock()

	s.emitOrder(order)
	return true
}

func (s *Sim) QueryAccount() bool {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return false
	}
	account := s.account
	account.Timestamp = time.Now().UTC()
	fn := s.onAccount
	s.mu.Unlock()

	if fn != nil {
		fn(account)
	}
	return true
}

func (s *Sim) QueryPosition() bool {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return false
	}
	positions := make([]eventmodels.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		positions = append(positions, pos)
	}
	fn := s.onPosition
	s.mu.Unlock()

	if fn != nil {
		for _, pos := range positions {
			fn(pos)
		}
	}
	return true
}

func (s *Sim) SetOnTick(fn func(eventmodels.TickData)) {
	s.mu.Lock()
	s.onTick = fn
	s.mu.Unlock()
}

func (s *Sim) SetOnOrder(fn func(eventmodels.Order)) {
	s.mu.Lock()
	s.onOrder = fn
	s.mu.Unlock()
}

func (s *Sim) SetOnTrade(fn func(eventmodels.Trade)) {
	s.mu.Lock()
	s.onTrade = fn
	s.mu.Unlock()
}

func (s *Sim) SetOnAccount(fn func(eventmodels.AccountSnapshot)) {
	s.mu.Lock()
	s.onAccount = fn
	s.mu.Unlock()
}

func (s *Sim) SetOnPosition(fn func(eventmodels.Position)) {
	s.mu.Lock()
	s.onPosition = fn
	s.mu.Unlock()
}

// PushTick feeds a tick through the gateway as if the venue streamed it.
func (s *Sim) PushTick(tick eventmodels.TickData) {
	s.mu.Lock()
	if !s.subs[tick.Symbol] {
		s.mu.Unlock()
		return
	}
	s.lastPrice[tick.Symbol] = tick.LastPrice
	fn := s.onTick
	s.mu.Unlock()

	if fn != nil {
		fn(tick)
	}
}

func (s *Sim) fill(ref string) {
	s.mu.Lock()
	order, ok := s.orders[ref]
	if !ok || order.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}

	order.Traded = order.Volume
	order.Status = eventmodels.OrderStatusAllTraded
	s.orders[ref] = order

	trade := eventmodels.Trade{
		ID:        uuid.New().String(),
		OrderID:   ref,
		Symbol:    order.Symbol,
		Direction: order.Direction,
		Volume:    order.Volume,
		Price:     order.Price,
		Timestamp: time.Now().UTC(),
	}

	key := eventmodels.PositionKey{Symbol: order.Symbol, Direction: order.Direction}
	pos := s.positions[key]
	total := pos.Volume + trade.Volume
	if total > 0 {
		pos.AvgPrice = (pos.AvgPrice*pos.Volume + trade.Price*trade.Volume) / total
	}
	pos.Symbol = order.Symbol
	pos.Direction = order.Direction
	pos.Volume = total
	s.positions[key] = pos

	cost := trade.Price * trade.Volume
	if s.account.Available < cost {
		log.Debugf("Sim.fill: available %.2f below notional %.2f, filling anyway", s.account.Available, cost)
	}
	s.account.Frozen += cost
	s.account.Available = s.account.Balance - s.account.Frozen
	s.mu.Unlock()

	s.emitOrder(order)
	s.emitTrade(trade)
}

func (s *Sim) emitOrder(order eventmodels.Order) {
	s.mu.Lock()
	fn := s.onOrder
	s.mu.Unlock()
	if fn != nil {
		fn(order)
	}
}

func (s *Sim) emitTrade(trade eventmodels.Trade) {
	s.mu.Lock()
	fn := s.onTrade
	s.mu.Unlock()
	if fn != nil {
		fn(trade)
	}
}
