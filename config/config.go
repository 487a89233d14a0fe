package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DataDir     string    `toml:"DataDir"`
	Backend     Backend   `toml:"Backend"`
	GenesisFile string    `toml:"GenesisFile"`
	Log         Log       `toml:"Log"`
	Execution   Execution `toml:"Execution"`
	Tree        Tree      `toml:"Tree"`
	Metrics     Metrics   `toml:"Metrics"`
	Telemetry   Telemetry `toml:"Telemetry"`
}

// Default returns the configuration written for a fresh data directory.
func Default() *Config {
	return &Config{
		DataDir:   "./ledger-data",
		Backend:   BackendPebble,
		Log:       Log{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Execution: DefaultExecution(),
		Tree:      Tree{PruneRetention: 1000},
		Metrics:   Metrics{Namespace: "ledger", Address: ":9100"},
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(cfg.Backend)) == "" {
		cfg.Backend = BackendPebble
	}
	if strings.TrimSpace(cfg.Metrics.Namespace) == "" {
		cfg.Metrics.Namespace = "ledger"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
