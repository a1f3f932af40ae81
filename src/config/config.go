package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantlabhq/tradeplane/src/eventconsumers"
	"github.com/quantlabhq/tradeplane/src/eventpubsub"
	"github.com/quantlabhq/tradeplane/src/gateway"
	"github.com/quantlabhq/tradeplane/src/supervisor"
)

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type BusConfig struct {
	Capacity int    `yaml:"capacity"`
	Policy   string `yaml:"policy"`
}

type EventLogConfig struct {
	Path string `yaml:"path"`
}

type ConnectionConfig struct {
	MaxAttempts     int     `yaml:"maxAttempts"`
	BackoffSeconds  float64 `yaml:"backoffSeconds"`
	ProbeIntervalMs int     `yaml:"probeIntervalMs"`
	ProbeTimeoutSec float64 `yaml:"probeTimeoutSeconds"`
}

type AccountConfig struct {
	PollIntervalSeconds     float64 `yaml:"pollIntervalSeconds"`
	AccountIntervalSeconds  float64 `yaml:"accountIntervalSeconds"`
	PositionIntervalSeconds float64 `yaml:"positionIntervalSeconds"`
	SyncOnTrade             bool    `yaml:"syncOnTrade"`
}

type RiskConfig struct {
	MaxSingleOrderVolume float64 `yaml:"maxSingleOrderVolume"`
	MaxPositionPerSymbol float64 `yaml:"maxPositionPerSymbol"`
	MarginRate           float64 `yaml:"marginRate"`
	MaxMarginRatio       float64 `yaml:"maxMarginRatio"`
	DailyLossLimit       float64 `yaml:"dailyLossLimit"`
	DrawdownLimit        float64 `yaml:"drawdownLimit"`
	PositionRatioLimit   float64 `yaml:"positionRatioLimit"`
}

type SimConfig struct {
	InitialBalance float64 `yaml:"initialBalance"`
	AutoFill       bool    `yaml:"autoFill"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Bus        BusConfig        `yaml:"bus"`
	EventLog   EventLogConfig   `yaml:"eventLog"`
	Connection ConnectionConfig `yaml:"connection"`
	Account    AccountConfig    `yaml:"account"`
	Risk       RiskConfig       `yaml:"risk"`
	Sim        SimConfig        `yaml:"sim"`
}

// Load reads and validates a YAML config file. Zero-valued sections fall
// back to each component's defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Bus.Capacity < 0 {
		return fmt.Errorf("bus.capacity must not be negative")
	}
	switch c.Bus.Policy {
	case "", string(eventpubsub.PolicyBlock), string(eventpubsub.PolicyDropNewest):
	default:
		return fmt.Errorf("bus.policy must be %q or %q", eventpubsub.PolicyBlock, eventpubsub.PolicyDropNewest)
	}
	if c.Connection.MaxAttempts < 0 {
		return fmt.Errorf("connection.maxAttempts must not be negative")
	}
	if c.Risk.MarginRate < 0 || c.Risk.MarginRate > 1 {
		return fmt.Errorf("risk.marginRate must be within [0, 1]")
	}
	if c.Risk.MaxMarginRatio < 0 || c.Risk.MaxMarginRatio > 1 {
		return fmt.Errorf("risk.maxMarginRatio must be within [0, 1]")
	}
	if c.Risk.DailyLossLimit < 0 {
		return fmt.Errorf("risk.dailyLossLimit is a positive magnitude")
	}
	if c.Sim.InitialBalance < 0 {
		return fmt.Errorf("sim.initialBalance must not be negative")
	}
	return nil
}

func (c *Config) BusSettings() eventpubsub.Config {
	policy := eventpubsub.PolicyBlock
	if c.Bus.Policy != "" {
		policy = eventpubsub.OverflowPolicy(c.Bus.Policy)
	}
	return eventpubsub.Config{
		Capacity: c.Bus.Capacity,
		Policy:   policy,
	}
}

func (c *Config) ConnectionSettings() supervisor.ConnectionConfig {
	return supervisor.ConnectionConfig{
		MaxAttempts:   c.Connection.MaxAttempts,
		Backoff:       secondsToDuration(c.Connection.BackoffSeconds),
		ProbeInterval: time.Duration(c.Connection.ProbeIntervalMs) * time.Millisecond,
		ProbeTimeout:  secondsToDuration(c.Connection.ProbeTimeoutSec),
	}
}

func (c *Config) AccountSettings() eventconsumers.AccountWorkerConfig {
	return eventconsumers.AccountWorkerConfig{
		PollInterval:     secondsToDuration(c.Account.PollIntervalSeconds),
		AccountInterval:  secondsToDuration(c.Account.AccountIntervalSeconds),
		PositionInterval: secondsToDuration(c.Account.PositionIntervalSeconds),
		SyncOnTrade:      c.Account.SyncOnTrade,
	}
}

func (c *Config) RiskSettings() eventconsumers.RiskWorkerConfig {
	return eventconsumers.RiskWorkerConfig{
		MaxSingleOrderVolume: c.Risk.MaxSingleOrderVolume,
		MaxPositionPerSymbol: c.Risk.MaxPositionPerSymbol,
		MarginRate:           c.Risk.MarginRate,
		MaxMarginRatio:       c.Risk.MaxMarginRatio,
		DailyLossLimit:       c.Risk.DailyLossLimit,
		DrawdownLimit:        c.Risk.DrawdownLimit,
		PositionRatioLimit:   c.Risk.PositionRatioLimit,
	}
}

func (c *Config) SimSettings() gateway.SimConfig {
	return gateway.SimConfig{
		InitialBalance: c.Sim.InitialBalance,
		AutoFill:       c.Sim.AutoFill,
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
