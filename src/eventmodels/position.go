package eventmodels

import "fmt"

// PositionKey identifies a position: long and short sides of the same symbol
// are tracked independently.
type PositionKey struct {
	Symbol    string
	Direction Direction
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s.%s", k.Symbol, k.Direction)
}

type Position struct {
	Symbol        string    `json:"symbol"`
	Direction     Direction `json:"direction"`
	Volume        float64   `json:"volume"`
	AvgPrice      float64   `json:"avgPrice"`
	UnrealizedPnl float64   `json:"unrealizedPnl"`
}

func (p Position) Key() PositionKey {
	return PositionKey{Symbol: p.Symbol, Direction: p.Direction}
}
