package eventmodels

import (
	"fmt"
	"time"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

type OrderKind string

const (
	OrderKindLimit  OrderKind = "LIMIT"
	OrderKindMarket OrderKind = "MARKET"
)

type OrderStatus string

const (
	OrderStatusSubmitting      OrderStatus = "SUBMITTING"
	OrderStatusNotTraded       OrderStatus = "NOT_TRADED"
	OrderStatusPartiallyTraded OrderStatus = "PARTIALLY_TRADED"
	OrderStatusAllTraded       OrderStatus = "ALL_TRADED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// statusRank orders the lifecycle: a status can never move to a lower rank,
// in particular nothing transitions back to SUBMITTING.
var statusRank = map[OrderStatus]int{
	OrderStatusSubmitting:      0,
	OrderStatusNotTraded:       1,
	OrderStatusPartiallyTraded: 2,
	OrderStatusAllTraded:       3,
	OrderStatusCancelled:       3,
	OrderStatusRejected:        3,
}

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusAllTraded, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return statusRank[next] >= statusRank[s]
}

type Order struct {
	ID          string      `json:"id"`
	GatewayRef  string      `json:"gatewayRef,omitempty"`
	Symbol      string      `json:"symbol"`
	Direction   Direction   `json:"direction"`
	Kind        OrderKind   `json:"kind"`
	Volume      float64     `json:"volume"`
	Traded      float64     `json:"traded"`
	Price       float64     `json:"price"`
	Status      OrderStatus `json:"status"`
	StrategyTag string      `json:"strategyTag,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func (o *Order) Validate() error {
	if o.Traded < 0 || o.Traded > o.Volume {
		return fmt.Errorf("Order.Validate: traded %v outside [0, %v]", o.Traded, o.Volume)
	}
	return nil
}

func (o *Order) IsActive() bool {
	return !o.Status.IsTerminal()
}

// OrderRequest is the caller-facing request passed to the execution service.
// Reference carries "{strategy}_{action}" and becomes the strategy tag.
type OrderRequest struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Kind      OrderKind `json:"kind"`
	Volume    float64   `json:"volume"`
	Price     float64   `json:"price"`
	Reference string    `json:"reference,omitempty"`
}

func (r *OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("OrderRequest.Validate: symbol is empty")
	}
	if r.Volume <= 0 {
		return fmt.Errorf("OrderRequest.Validate: volume must be > 0, got %v", r.Volume)
	}
	if r.Direction != DirectionLong && r.Direction != DirectionShort {
		return fmt.Errorf("OrderRequest.Validate: unknown direction %q", r.Direction)
	}
	if r.Kind == OrderKindLimit && r.Price <= 0 {
		return fmt.Errorf("OrderRequest.Validate: limit order requires price > 0")
	}
	return nil
}
