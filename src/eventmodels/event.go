package eventmodels

import (
	"time"

	"github.com/google/uuid"
)

type EventName string

const (
	TickEventName           EventName = "tick"
	OrderUpdateEventName    EventName = "order_update"
	TradeEventName          EventName = "trade"
	AccountUpdateEventName  EventName = "account_update"
	PositionUpdateEventName EventName = "position_update"
	SignalEventName         EventName = "signal"
	RiskAlertEventName      EventName = "risk_alert"
	ServiceStateEventName   EventName = "service_state"
	ErrorEventName          EventName = "error"
)

// Event is the envelope every bus message travels in. Payload holds the
// typed event body; Timestamp is stamped by the bus at publish time.
type Event struct {
	Type          EventName   `json:"type"`
	Payload       interface{} `json:"payload"`
	Timestamp     time.Time   `json:"timestamp"`
	Source        string      `json:"source"`
	CorrelationID uuid.UUID   `json:"correlationId"`
}

func NewEvent(name EventName, source string, payload interface{}) Event {
	return Event{
		Type:          name,
		Payload:       payload,
		Source:        source,
		CorrelationID: uuid.New(),
	}
}
