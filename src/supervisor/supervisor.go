package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
	"github.com/quantlabhq/tradeplane/src/eventpubsub"
	"github.com/quantlabhq/tradeplane/src/gateway"
)

type RunMode string

const (
	ModeFull     RunMode = "full"
	ModeMonitor  RunMode = "monitor"
	ModeDataOnly RunMode = "data-only"
)

// Supervisor owns the named services and is the single writer of their
// lifecycle state. Start and stop sequences run on the caller's goroutine
// under one coarse mutex; they are not dispatched as events.
type Supervisor struct {
	mu sync.Mutex

	bus     *eventpubsub.Bus
	gw      gateway.Gateway
	connCfg ConnectionConfig

	order       []string
	services    map[string]Service
	descriptors map[string]*descriptor
	connOutcome ConnectionOutcome
}

func New(bus *eventpubsub.Bus, gw gateway.Gateway, connCfg ConnectionConfig) *Supervisor {
	return &Supervisor{
		bus:         bus,
		gw:          gw,
		connCfg:     connCfg,
		services:    make(map[string]Service),
		descriptors: make(map[string]*descriptor),
	}
}

// Register adds a service. Registration order is the intended start order;
// dependencies are still verified before each start.
func (s *Supervisor) Register(svc Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := svc.Name()
	if _, exists := s.services[name]; exists {
		return fmt.Errorf("Supervisor.Register: service %q already registered", name)
	}

	s.order = append(s.order, name)
	s.services[name] = svc
	s.descriptors[name] = &descriptor{
		name:         name,
		state:        StateStopped,
		dependencies: svc.Dependencies(),
	}

	return nil
}

// StartAll brings up the gateway connection, then starts every registered
// service in dependency order. A service whose dependency failed to reach
// RUNNING is skipped, not attempted. A FAILED connection degrades the
// running mode; it never aborts startup.
func (s *Supervisor) StartAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connOutcome = bringUpConnection(ctx, s.gw, s.connCfg)
	log.Infof("Supervisor.StartAll: gateway connection outcome: %s", s.connOutcome)

	for _, name := range s.order {
		s.startLocked(ctx, name)
	}

	log.Infof("Supervisor.StartAll: running mode: %s", s.modeLocked())
}

// StartService starts a single service by name, verifying its dependencies.
func (s *Supervisor) StartService(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.services[name]; !ok {
		return fmt.Errorf("Supervisor.StartService: unknown service %q", name)
	}

	if !s.startLocked(ctx, name) {
		return fmt.Errorf("Supervisor.StartService: service %q failed to start", name)
	}
	return nil
}

func (s *Supervisor) startLocked(ctx context.Context, name string) bool {
	desc := s.descriptors[name]
	if desc.state == StateRunning {
		return true
	}

	for _, dep := range desc.dependencies {
		depDesc, ok := s.descriptors[dep]
		if !ok || depDesc.state != StateRunning {
			log.Warnf("Supervisor: skipping %s: dependency %s is not running", name, dep)
			return false
		}
	}

	s.transition(desc, StateStarting)
	if err := s.services[name].Start(ctx); err != nil {
		desc.lastErr = err
		s.transition(desc, StateError)
		log.Errorf("Supervisor: failed to start %s: %v", name, err)
		return false
	}

	desc.lastErr = nil
	desc.startedAt = time.Now().UTC()
	s.transition(desc, StateRunning)
	log.Infof("Supervisor: service %s running", name)
	return true
}

// StopAll stops services in strict reverse dependency order. A stop failure
// is logged and does not prevent stopping the rest.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		name := s.order[i]
		desc := s.descriptors[name]
		if desc.state != StateRunning {
			continue
		}

		s.transition(desc, StateStopping)
		if err := s.services[name].Stop(); err != nil {
			desc.lastErr = err
			s.transition(desc, StateError)
			log.Errorf("Supervisor.StopAll: failed to stop %s: %v", name, err)
			continue
		}

		desc.startedAt = time.Time{}
		s.transition(desc, StateStopped)
	}

	s.gw.Disconnect()
}

// MarkFailed records an internal service failure observed after startup.
// The state moves to ERROR, never silently back to STOPPED.
func (s *Supervisor) MarkFailed(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	desc, ok := s.descriptors[name]
	if !ok {
		return
	}
	desc.lastErr = err
	s.transition(desc, StateError)
}

// Mode derives the aggregate operating mode from the RUNNING service set.
func (s *Supervisor) Mode() RunMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modeLocked()
}

func (s *Supervisor) modeLocked() RunMode {
	running := make(map[string]bool, len(s.descriptors))
	for name, desc := range s.descriptors {
		if desc.state == StateRunning {
			running[name] = true
		}
	}
	return deriveMode(running)
}

func deriveMode(running map[string]bool) RunMode {
	if running[ServiceMarketData] && running[ServiceAccount] && running[ServiceRisk] && running[ServiceExecution] {
		return ModeFull
	}
	if running[ServiceMarketData] && running[ServiceAccount] {
		return ModeMonitor
	}
	return ModeDataOnly
}

// CanTrade reports whether the system is usable for trading.
func (s *Supervisor) CanTrade() bool {
	return s.Mode() == ModeFull
}

// ConnectionOutcome returns the classification of the last bring-up.
func (s *Supervisor) ConnectionOutcome() ConnectionOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connOutcome
}

// Snapshot returns the per-service status in registration order.
func (s *Supervisor) Snapshot() []ServiceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshots := make([]ServiceSnapshot, 0, len(s.order))
	for _, name := range s.order {
		desc := s.descriptors[name]
		snap := ServiceSnapshot{
			Name:         desc.name,
			State:        desc.state,
			Dependencies: append([]string(nil), desc.dependencies...),
		}
		if desc.state == StateRunning && !desc.startedAt.IsZero() {
			snap.Uptime = time.Since(desc.startedAt).Seconds()
		}
		if desc.lastErr != nil {
			snap.Error = desc.lastErr.Error()
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots
}

func (s *Supervisor) transition(desc *descriptor, next ServiceState) {
	prev := desc.state
	desc.state = next

	if s.bus != nil && prev != next {
		s.bus.Publish(eventmodels.NewEvent(eventmodels.ServiceStateEventName, "Supervisor", map[string]string{
			"service": desc.name,
			"from":    string(prev),
			"to":      string(next),
		}))
	}
}
