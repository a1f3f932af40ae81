package supervisor

import (
	"context"
	"time"
)

// Canonical service names used for mode derivation.
const (
	ServiceMarketData = "market_data"
	ServiceAccount    = "account"
	ServiceRisk       = "risk"
	ServiceExecution  = "execution"
)

type ServiceState string

const (
	StateStopped  ServiceState = "STOPPED"
	StateStarting ServiceState = "STARTING"
	StateRunning  ServiceState = "RUNNING"
	StateStopping ServiceState = "STOPPING"
	StateError    ServiceState = "ERROR"
)

// Service is a long-lived component whose lifecycle the supervisor owns.
type Service interface {
	Name() string
	Dependencies() []string
	Start(ctx context.Context) error
	Stop() error
}

// descriptor is the supervisor's private view of a service. Descriptors are
// created once at construction and mutated only by the supervisor.
type descriptor struct {
	name         string
	state        ServiceState
	dependencies []string
	startedAt    time.Time
	lastErr      error
}

// ServiceSnapshot is the read-only status exposed to callers.
type ServiceSnapshot struct {
	Name         string       `json:"name"`
	State        ServiceState `json:"state"`
	Dependencies []string     `json:"dependencies"`
	Uptime       float64      `json:"uptimeSeconds"`
	Error        string       `json:"error,omitempty"`
}
