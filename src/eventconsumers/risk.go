package eventconsumers

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
	"github.com/quantlabhq/tradeplane/src/eventpubsub"
	"github.com/quantlabhq/tradeplane/src/supervisor"
)

// BookProvider is the slice of the account service the risk service needs.
type BookProvider interface {
	Snapshot() eventmodels.AccountBook
	PositionVolume(symbol string, direction eventmodels.Direction) float64
}

type RiskWorkerConfig struct {
	// MaxSingleOrderVolume caps a single order; larger requests are rejected
	// with this as the suggested volume.
	MaxSingleOrderVolume float64 `yaml:"max_single_order_volume"`
	// MaxPositionPerSymbol caps the per-(symbol,direction) position.
	MaxPositionPerSymbol float64 `yaml:"max_position_per_symbol"`
	// MarginRate estimates required margin as volume * price * rate.
	MarginRate float64 `yaml:"margin_rate"`
	// MaxMarginRatio is the fraction of available funds usable as margin.
	MaxMarginRatio float64 `yaml:"max_margin_ratio"`
	// DailyLossLimit is a positive magnitude: trading is rejected once the
	// running daily pnl drops below -DailyLossLimit.
	DailyLossLimit float64 `yaml:"daily_loss_limit"`
	// DrawdownLimit is the drawdown fraction at which severity saturates.
	DrawdownLimit float64 `yaml:"drawdown_limit"`
	// PositionRatioLimit is the position/balance ratio at which severity
	// saturates.
	PositionRatioLimit float64 `yaml:"position_ratio_limit"`
}

func (c RiskWorkerConfig) withDefaults() RiskWorkerConfig {
	if c.MaxSingleOrderVolume <= 0 {
		c.MaxSingleOrderVolume = 100
	}
	if c.MaxPositionPerSymbol <= 0 {
		c.MaxPositionPerSymbol = 1000
	}
	if c.MarginRate <= 0 {
		c.MarginRate = 0.1
	}
	if c.MaxMarginRatio <= 0 {
		c.MaxMarginRatio = 0.8
	}
	if c.DailyLossLimit <= 0 {
		c.DailyLossLimit = 10000
	}
	if c.DrawdownLimit <= 0 {
		c.DrawdownLimit = 0.2
	}
	if c.PositionRatioLimit <= 0 {
		c.PositionRatioLimit = 0.8
	}
	return c
}

// RiskWorker gates orders before they reach the gateway and recomputes the
// aggregate risk metrics after every trade.
type RiskWorker struct {
	mu sync.Mutex

	bus     *eventpubsub.Bus
	account BookProvider
	cfg     RiskWorkerConfig

	metrics    eventmodels.RiskMetrics
	halted     bool
	haltReason string

	equity          []float64
	initialBalance  float64
	dayStartBalance float64
	currentDay      string
}

func NewRiskWorker(bus *eventpubsub.Bus, account BookProvider, cfg RiskWorkerConfig) *RiskWorker {
	return &RiskWorker{
		bus:     bus,
		account: account,
		cfg:     cfg.withDefaults(),
		metrics: eventmodels.RiskMetrics{Level: eventmodels.RiskLevelLow},
	}
}

func (w *RiskWorker) Name() string {
	return supervisor.ServiceRisk
}

func (w *RiskWorker) Dependencies() []string {
	return []string{supervisor.ServiceAccount}
}

func (w *RiskWorker) Start(ctx context.Context) error {
	w.bus.Subscribe(eventmodels.TradeEventName, "RiskWorker", w.handleTradeEvent)
	return nil
}

func (w *RiskWorker) Stop() error {
	w.bus.Unsubscribe(eventmodels.TradeEventName, "RiskWorker")

	w.mu.Lock()
	w.equity = nil
	w.initialBalance = 0
	w.dayStartBalance = 0
	w.currentDay = ""
	w.metrics = eventmodels.RiskMetrics{Level: eventmodels.RiskLevelLow}
	w.mu.Unlock()

	return nil
}

// PreTradeCheck evaluates the fixed check sequence, short-circuiting on the
// first failure.
func (w *RiskWorker) PreTradeCheck(req eventmodels.OrderRequest) eventmodels.RiskCheckResult {
	w.mu.Lock()
	halted := w.halted
	haltReason := w.haltReason
	level := w.metrics.Level
	dailyPnl := w.metrics.DailyPnl
	w.mu.Unlock()

	// 1. global halt flag
	if halted {
		reason := haltReason
		if reason == "" {
			reason = "trading halted"
		}
		return eventmodels.RiskCheckResult{
			Passed: false,
			Reason: fmt.Sprintf("trading halted: %s", reason),
			Level:  eventmodels.RiskLevelCritical,
		}
	}

	// 2. single-order volume cap
	if req.Volume > w.cfg.MaxSingleOrderVolume {
		return eventmodels.RiskCheckResult{
			Passed:          false,
			Reason:          fmt.Sprintf("volume %v exceeds single order maximum %v", req.Volume, w.cfg.MaxSingleOrderVolume),
			Level:           eventmodels.RiskLevelHigh,
			SuggestedVolume: w.cfg.MaxSingleOrderVolume,
		}
	}

	// 3. per-symbol position limit
	current := w.account.PositionVolume(req.Symbol, req.Direction)
	if current+req.Volume > w.cfg.MaxPositionPerSymbol {
		headroom := w.cfg.MaxPositionPerSymbol - current
		if headroom < 0 {
			headroom = 0
		}
		return eventmodels.RiskCheckResult{
			Passed:          false,
			Reason:          fmt.Sprintf("position %v + %v exceeds per-symbol limit %v on %s", current, req.Volume, w.cfg.MaxPositionPerSymbol, req.Symbol),
			Level:           eventmodels.RiskLevelMedium,
			SuggestedVolume: headroom,
		}
	}

	// 4. margin utilization
	margin := req.Volume * req.Price * w.cfg.MarginRate
	available := w.account.Snapshot().Account.Available
	if margin > available*w.cfg.MaxMarginRatio {
		return eventmodels.RiskCheckResult{
			Passed: false,
			Reason: fmt.Sprintf("estimated margin %.2f exceeds %.0f%% of available %.2f", margin, w.cfg.MaxMarginRatio*100, available),
			Level:  eventmodels.RiskLevelHigh,
		}
	}

	// 5. daily loss floor
	if dailyPnl < -w.cfg.DailyLossLimit {
		return eventmodels.RiskCheckResult{
			Passed: false,
			Reason: fmt.Sprintf("daily pnl %.2f below loss floor %.2f", dailyPnl, -w.cfg.DailyLossLimit),
			Level:  eventmodels.RiskLevelCritical,
		}
	}

	return eventmodels.RiskCheckResult{Passed: true, Level: level}
}

func (w *RiskWorker) handleTradeEvent(event eventmodels.Event) {
	switch trade := event.Payload.(type) {
	case eventmodels.Trade:
		w.OnTrade(trade)
	case *eventmodels.Trade:
		w.OnTrade(*trade)
	default:
		log.Debugf("RiskWorker.handleTradeEvent: ignoring payload of type %T", event.Payload)
	}
}

// OnTrade recomputes the risk metrics from the current account book. A level
// change publishes a risk alert; a CRITICAL result while unhalted sets the
// halt flag, even if the level did not change.
func (w *RiskWorker) OnTrade(trade eventmodels.Trade) {
	book := w.account.Snapshot()
	balance := book.Account.Balance

	w.mu.Lock()

	day := trade.Timestamp.UTC().Format("2006-01-02")
	if w.currentDay == "" || day != w.currentDay {
		// daily counters reset on the first trade of a new calendar day
		w.currentDay = day
		w.dayStartBalance = balance
	}
	if w.initialBalance == 0 {
		w.initialBalance = balance
	}

	w.equity = append(w.equity, balance)

	peak := balance
	if max, err := stats.Max(w.equity); err == nil {
		peak = max
	}
	drawdown := 0.0
	if peak > 0 {
		drawdown = (peak - balance) / peak
	}

	exposure := 0.0
	for _, pos := range book.Positions {
		exposure += math.Abs(pos.Volume * pos.AvgPrice)
	}
	positionRatio := 0.0
	if balance > 0 {
		positionRatio = exposure / balance
	}

	previous := w.metrics.Level

	w.metrics.DailyPnl = balance - w.dayStartBalance
	w.metrics.TotalPnl = balance - w.initialBalance
	if drawdown > w.metrics.MaxDrawdown {
		w.metrics.MaxDrawdown = drawdown
	}
	w.metrics.PositionRatio = positionRatio

	score := w.lossSeverity(w.metrics.DailyPnl) + w.drawdownSeverity(drawdown) + w.positionSeverity(positionRatio)
	w.metrics.Level = scoreToLevel(score)

	levelChanged := w.metrics.Level != previous
	halting := !w.halted && w.metrics.Level == eventmodels.RiskLevelCritical
	if halting {
		w.halted = true
		w.haltReason = fmt.Sprintf("risk level CRITICAL (score %d)", score)
	}

	alert := eventmodels.RiskAlert{
		PreviousLevel: previous,
		Level:         w.metrics.Level,
		Metrics:       w.metrics,
		TradingHalted: w.halted,
		Reason:        w.haltReason,
	}
	w.mu.Unlock()

	if levelChanged || halting {
		log.Warnf("RiskWorker.OnTrade: risk level %s -> %s (score %d)", previous, alert.Level, score)
		w.bus.Publish(eventmodels.NewEvent(eventmodels.RiskAlertEventName, "RiskWorker", alert))
	}
}

// lossSeverity maps the running daily pnl onto 0..2.
func (w *RiskWorker) lossSeverity(dailyPnl float64) int {
	switch {
	case dailyPnl <= -w.cfg.DailyLossLimit:
		return 2
	case dailyPnl <= -w.cfg.DailyLossLimit/2:
		return 1
	default:
		return 0
	}
}

// drawdownSeverity maps drawdown-from-peak onto 0..3.
func (w *RiskWorker) drawdownSeverity(drawdown float64) int {
	switch {
	case drawdown >= w.cfg.DrawdownLimit:
		return 3
	case drawdown >= w.cfg.DrawdownLimit*2/3:
		return 2
	case drawdown >= w.cfg.DrawdownLimit/3:
		return 1
	default:
		return 0
	}
}

// positionSeverity maps aggregate open exposure onto 0..2.
func (w *RiskWorker) positionSeverity(ratio float64) int {
	switch {
	case ratio >= w.cfg.PositionRatioLimit:
		return 2
	case ratio >= w.cfg.PositionRatioLimit/2:
		return 1
	default:
		return 0
	}
}

func scoreToLevel(score int) eventmodels.RiskLevel {
	switch {
	case score >= 5:
		return eventmodels.RiskLevelCritical
	case score >= 3:
		return eventmodels.RiskLevelHigh
	case score >= 1:
		return eventmodels.RiskLevelMedium
	default:
		return eventmodels.RiskLevelLow
	}
}

// HaltTrading sets the halt flag manually (operator action).
func (w *RiskWorker) HaltTrading(reason string) {
	w.mu.Lock()
	w.halted = true
	w.haltReason = reason
	alert := eventmodels.RiskAlert{
		PreviousLevel: w.metrics.Level,
		Level:         w.metrics.Level,
		Metrics:       w.metrics,
		TradingHalted: true,
		Reason:        reason,
	}
	w.mu.Unlock()

	log.Warnf("RiskWorker.HaltTrading: %s", reason)
	w.bus.Publish(eventmodels.NewEvent(eventmodels.RiskAlertEventName, "RiskWorker", alert))
}

// ResumeTrading clears the halt flag and its reason. The underlying score is
// untouched: any later trade that still computes CRITICAL re-halts.
func (w *RiskWorker) ResumeTrading() {
	w.mu.Lock()
	w.halted = false
	w.haltReason = ""
	alert := eventmodels.RiskAlert{
		PreviousLevel: w.metrics.Level,
		Level:         w.metrics.Level,
		Metrics:       w.metrics,
		TradingHalted: false,
	}
	w.mu.Unlock()

	log.Info("RiskWorker.ResumeTrading: trading resumed")
	w.bus.Publish(eventmodels.NewEvent(eventmodels.RiskAlertEventName, "RiskWorker", alert))
}

// Halted reports the halt flag and its reason.
func (w *RiskWorker) Halted() (bool, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.halted, w.haltReason
}

// Metrics returns the current risk metrics.
func (w *RiskWorker) Metrics() eventmodels.RiskMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}
