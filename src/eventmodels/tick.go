package eventmodels

import "time"

type TickData struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"lastPrice"`
	BidPrice  float64   `json:"bidPrice"`
	AskPrice  float64   `json:"askPrice"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}
