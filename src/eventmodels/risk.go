package eventmodels

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// RiskMetrics is recomputed after every trade; Level is a pure function of
// the other fields.
type RiskMetrics struct {
	DailyPnl      float64   `json:"dailyPnl"`
	TotalPnl      float64   `json:"totalPnl"`
	MaxDrawdown   float64   `json:"maxDrawdown"`
	PositionRatio float64   `json:"positionRatio"`
	Level         RiskLevel `json:"level"`
}

// RiskCheckResult is the outcome of the pre-trade gate. SuggestedVolume is
// non-zero when the request was rejected but a smaller volume would pass.
type RiskCheckResult struct {
	Passed          bool      `json:"passed"`
	Reason          string    `json:"reason,omitempty"`
	Level           RiskLevel `json:"level"`
	SuggestedVolume float64   `json:"suggestedVolume,omitempty"`
}

// RiskAlert is the payload of a RiskAlertEvent published on level changes
// and on trading halt/resume.
type RiskAlert struct {
	PreviousLevel RiskLevel   `json:"previousLevel"`
	Level         RiskLevel   `json:"level"`
	Metrics       RiskMetrics `json:"metrics"`
	TradingHalted bool        `json:"tradingHalted"`
	Reason        string      `json:"reason,omitempty"`
}
