package eventmodels

import "time"

// AccountSnapshot is the latest account state pushed or pulled from the
// gateway; each update replaces the previous value wholesale.
type AccountSnapshot struct {
	Balance   float64   `json:"balance"`
	Available float64   `json:"available"`
	Frozen    float64   `json:"frozen"`
	Timestamp time.Time `json:"timestamp"`
}
