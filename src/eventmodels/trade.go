package eventmodels

import "time"

// Trade records a fill reported by the gateway. Trades are append-only.
type Trade struct {
	ID        string    `json:"id" csv:"id"`
	OrderID   string    `json:"orderId" csv:"order_id"`
	Symbol    string    `json:"symbol" csv:"symbol"`
	Direction Direction `json:"direction" csv:"direction"`
	Volume    float64   `json:"volume" csv:"volume"`
	Price     float64   `json:"price" csv:"price"`
	Timestamp time.Time `json:"timestamp" csv:"timestamp"`
}
