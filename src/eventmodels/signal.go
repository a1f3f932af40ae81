package eventmodels

type SignalKind string

const (
	SignalKindTrade SignalKind = "TRADE"
	SignalKindRisk  SignalKind = "RISK"
)

const SignalActionCancelAll = "cancel_all"

// Signal is a strategy-produced instruction consumed once by the execution
// service. A TRADE signal becomes an order request; a RISK signal carries a
// control action such as cancel_all.
type Signal struct {
	StrategyName string     `json:"strategyName"`
	Symbol       string     `json:"symbol"`
	Direction    Direction  `json:"direction"`
	Action       string     `json:"action"`
	Volume       float64    `json:"volume"`
	Price        float64    `json:"price,omitempty"`
	Kind         SignalKind `json:"kind"`
	Confidence   float64    `json:"confidence"`
}
