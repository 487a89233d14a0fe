package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// MaxCallDepthLimit caps the configurable call depth.
var MaxCallDepthLimit = 64

// Validate rejects inconsistent values.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendLevelDB, BackendPebble, BackendBolt:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Backend != BackendMemory && strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: backend %s needs DataDir", c.Backend)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if err := c.Execution.Validate(); err != nil {
		return err
	}
	if c.Telemetry.Endpoint != "" && !strings.Contains(c.Telemetry.Endpoint, ":") {
		return fmt.Errorf("config: telemetry endpoint %q needs host:port", c.Telemetry.Endpoint)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry sample ratio must be in 0..1")
	}
	return nil
}

func (e Execution) Validate() error {
	if e.MaxCallDepth <= 0 || e.MaxCallDepth > MaxCallDepthLimit {
		return fmt.Errorf("execution: max_call_depth must be in 1..%d", MaxCallDepthLimit)
	}
	if e.MaxSubstateSize <= 0 {
		return fmt.Errorf("execution: max_substate_size <= 0")
	}
	if e.MaxEvents < 0 || e.MaxLogs < 0 {
		return fmt.Errorf("execution: negative event or log limit")
	}
	if e.CostUnitLimit == 0 {
		return fmt.Errorf("execution: cost_unit_limit is zero")
	}
	if e.SystemLoan > e.CostUnitLimit {
		return fmt.Errorf("execution: system_loan > cost_unit_limit")
	}
	if e.CostUnitPrice.IsNegative() {
		return fmt.Errorf("execution: negative cost_unit_price")
	}
	if e.TipPercentage > 100 {
		return fmt.Errorf("execution: tip_percentage > 100")
	}
	return nil
}

// ParseLevel maps a level name to a slog level; empty means info.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(name) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", name, err)
	}
	return level, nil
}
