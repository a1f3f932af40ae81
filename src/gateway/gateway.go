package gateway

import "github.com/quantlabhq/tradeplane/src/eventmodels"

// Gateway is the fixed capability contract for venue connectivity. The core
// never probes for optional methods: every capability is part of the
// interface, and an implementation that cannot provide one returns false.
//
// Callbacks are invoked from the gateway's own goroutines; handlers must be
// safe to call concurrently with the core.
type Gateway interface {
	Connect() bool
	Disconnect()

	IsDataChannelLive() bool
	IsCommandChannelLive() bool

	Subscribe(symbol string) bool
	Unsubscribe(symbol string) bool

	// SendOrder returns the gateway's order reference, or ok=false when the
	// order was not accepted for submission.
	SendOrder(req eventmodels.OrderRequest) (ref string, ok bool)
	CancelOrder(ref string) bool

	QueryAccount() bool
	QueryPosition() bool

	SetOnTick(fn func(eventmodels.TickData))
	SetOnOrder(fn func(eventmodels.Order))
	SetOnTrade(fn func(eventmodels.Trade))
	SetOnAccount(fn func(eventmodels.AccountSnapshot))
	SetOnPosition(fn func(eventmodels.Position))
}
