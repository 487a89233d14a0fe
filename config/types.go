package config

import (
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/modules"
	kresource "ledgerkernel/core/resource"
)

// Backend names a storage engine.
type Backend string

const (
	BackendMemory  Backend = "memory"
	BackendLevelDB Backend = "leveldb"
	BackendPebble  Backend = "pebble"
	BackendBolt    Backend = "bolt"
)

// Log controls the process logger.
type Log struct {
	Level string `toml:"Level"`
	Env   string `toml:"Env"`
	// File, when set, receives the log stream through a rotating writer.
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Execution bounds what one transaction may do and how it pays for it.
type Execution struct {
	MaxCallDepth    int               `toml:"MaxCallDepth"`
	MaxSubstateSize int               `toml:"MaxSubstateSize"`
	MaxEvents       int               `toml:"MaxEvents"`
	MaxLogs         int               `toml:"MaxLogs"`
	CostUnitLimit   uint64            `toml:"CostUnitLimit"`
	CostUnitPrice   kresource.Decimal `toml:"CostUnitPrice"`
	SystemLoan      uint64            `toml:"SystemLoan"`
	TipPercentage   uint16            `toml:"TipPercentage"`
	// KernelTrace logs every kernel event at debug level.
	KernelTrace bool `toml:"KernelTrace"`
}

// Kernel returns the kernel limits.
func (e Execution) Kernel() kernel.Config {
	return kernel.Config{
		MaxCallDepth:    e.MaxCallDepth,
		MaxSubstateSize: e.MaxSubstateSize,
		MaxEvents:       e.MaxEvents,
		MaxLogs:         e.MaxLogs,
	}
}

// Costing returns the fee parameters.
func (e Execution) Costing() modules.CostingConfig {
	return modules.CostingConfig{
		CostUnitLimit: e.CostUnitLimit,
		CostUnitPrice: e.CostUnitPrice,
		SystemLoan:    e.SystemLoan,
		TipPercentage: e.TipPercentage,
	}
}

// DefaultExecution mirrors the production limits.
func DefaultExecution() Execution {
	k := kernel.DefaultConfig()
	return Execution{
		MaxCallDepth:    k.MaxCallDepth,
		MaxSubstateSize: k.MaxSubstateSize,
		MaxEvents:       k.MaxEvents,
		MaxLogs:         k.MaxLogs,
		CostUnitLimit:   100_000_000,
		CostUnitPrice:   kresource.MustParseDecimal("0.00000005"),
		SystemLoan:      4_000_000,
		TipPercentage:   0,
	}
}

// Tree controls state tree maintenance.
type Tree struct {
	// PruneRetention is the number of recent versions kept readable.
	PruneRetention uint64 `toml:"PruneRetention"`
}

type Metrics struct {
	Enabled   bool   `toml:"Enabled"`
	Namespace string `toml:"Namespace"`
	Address   string `toml:"Address"`
}

type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	SampleRatio float64 `toml:"SampleRatio"`
}
