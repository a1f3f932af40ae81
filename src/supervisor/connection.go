package supervisor

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quantlabhq/tradeplane/src/gateway"
)

type ConnectionOutcome string

const (
	ConnectionFull           ConnectionOutcome = "FULL"
	ConnectionPartialData    ConnectionOutcome = "PARTIAL_DATA"
	ConnectionPartialCommand ConnectionOutcome = "PARTIAL_COMMAND"
	ConnectionFailed         ConnectionOutcome = "FAILED"
)

type ConnectionConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	Backoff       time.Duration `yaml:"backoff"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 100 * time.Millisecond
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	return c
}

// bringUpConnection attempts the gateway connection with bounded retries.
// Each attempt connects, then polls the data and command channels until both
// are live or the probe timeout elapses. A partial outcome (exactly one
// channel live) is returned as-is; only a fully dead attempt is retried.
// The call blocks its caller for up to timeout x attempts.
func bringUpConnection(ctx context.Context, gw gateway.Gateway, cfg ConnectionConfig) ConnectionOutcome {
	cfg = cfg.withDefaults()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ConnectionFailed
		}

		if !gw.Connect() {
			log.Warnf("bringUpConnection: connect attempt %d/%d failed", attempt, cfg.MaxAttempts)
			if !sleepCtx(ctx, cfg.Backoff) {
				return ConnectionFailed
			}
			continue
		}

		dataLive, commandLive := probeChannels(ctx, gw, cfg)

		switch {
		case dataLive && commandLive:
			return ConnectionFull
		case dataLive:
			log.Warn("bringUpConnection: command channel not live, continuing with data only")
			return ConnectionPartialData
		case commandLive:
			log.Warn("bringUpConnection: data channel not live, continuing with command only")
			return ConnectionPartialCommand
		}

		log.Warnf("bringUpConnection: attempt %d/%d saw no live channels", attempt, cfg.MaxAttempts)
		if attempt < cfg.MaxAttempts && !sleepCtx(ctx, cfg.Backoff) {
			return ConnectionFailed
		}
	}

	return ConnectionFailed
}

func probeChannels(ctx context.Context, gw gateway.Gateway, cfg ConnectionConfig) (bool, bool) {
	deadline := time.Now().Add(cfg.ProbeTimeout)
	var dataLive, commandLive bool

	for {
		if !dataLive {
			dataLive = gw.IsDataChannelLive()
		}
		if !commandLive {
			commandLive = gw.IsCommandChannelLive()
		}
		if dataLive && commandLive {
			return true, true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return dataLive, commandLive
		}
		if !sleepCtx(ctx, cfg.ProbeInterval) {
			return dataLive, commandLive
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
