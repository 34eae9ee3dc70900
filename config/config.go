package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the node service configuration. Protocol addresses live in the
// deployment manifest; this file carries operational settings only.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	DataDir        string `toml:"DataDir"`
	DeploymentFile string `toml:"DeploymentFile"`
	Environment    string `toml:"Environment"`

	// RPCAuthTokenEnv names the environment variable holding the bearer
	// token for admin endpoints. Empty disables admin endpoints.
	RPCAuthTokenEnv string `toml:"RPCAuthTokenEnv"`

	Pool        PoolConfig        `toml:"Pool"`
	Loan        LoanConfig        `toml:"Loan"`
	Liquidation LiquidationConfig `toml:"Liquidation"`
	Log         LogConfig         `toml:"Log"`
	Metrics     MetricsConfig     `toml:"Metrics"`
}

// PoolConfig carries the lending pool parameters applied at creation.
type PoolConfig struct {
	ID                      string `toml:"ID"`
	ProtocolFeeBps          uint64 `toml:"ProtocolFeeBps"`
	MaxCapitalEfficiencyBps uint64 `toml:"MaxCapitalEfficiencyBps"`
	WhitelistEnabled        bool   `toml:"WhitelistEnabled"`

	// Liquidity controls. Zero values disable the respective check.
	MaxPoolShareBps      uint64 `toml:"MaxPoolShareBps"`
	LockPeriodSeconds    int64  `toml:"LockPeriodSeconds"`
	MaxLoansPoolShareBps uint64 `toml:"MaxLoansPoolShareBps"`
}

// LoanConfig carries offer-domain and accrual parameters.
type LoanConfig struct {
	DomainName           string `toml:"DomainName"`
	DomainVersion        string `toml:"DomainVersion"`
	ChainID              uint64 `toml:"ChainID"`
	MinInterestSeconds   int64  `toml:"MinInterestSeconds"`
	AccrualPeriodSeconds int64  `toml:"AccrualPeriodSeconds"`
}

// LiquidationConfig carries the phase durations.
type LiquidationConfig struct {
	GracePeriodSeconds  int64 `toml:"GracePeriodSeconds"`
	LenderPeriodSeconds int64 `toml:"LenderPeriodSeconds"`
}

// LogConfig carries structured-logging settings.
type LogConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"Enabled"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded.String())
	}

	applyDefaults(cfg)
	if strings.TrimSpace(cfg.Pool.ID) == "" {
		return nil, fmt.Errorf("config file %s missing Pool.ID", path)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./nftlend-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     ":8080",
		DataDir:        "./nftlend-data",
		DeploymentFile: "deployment.json",
		Environment:    "local",
		Pool: PoolConfig{
			ID:                      "pool-default",
			ProtocolFeeBps:          2500,
			MaxCapitalEfficiencyBps: 8000,
		},
		Loan: LoanConfig{
			DomainName:    "nftlend-loans",
			DomainVersion: "1",
			ChainID:       1,
		},
		Log: LogConfig{Level: "info"},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
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
