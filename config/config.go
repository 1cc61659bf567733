package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress        string `toml:"ListenAddress"`
	DataDir              string `toml:"DataDir"`
	NetworkName          string `toml:"NetworkName"`
	EscrowMode           string `toml:"EscrowMode"`
	SettlementFee        int64  `toml:"SettlementFee"`
	MinDeposit           int64  `toml:"MinDeposit"`
	RefundLocktimeBlocks uint64 `toml:"RefundLocktimeBlocks"`
	NodeRPC              string `toml:"NodeRPC"`
	ArbiterKeyPath       string `toml:"ArbiterKeyPath"`
	LogFile              string `toml:"LogFile"`
	Environment          string `toml:"Environment"`
}

const (
	// Escrow modes understood by the node.
	ModeScript   = "script"
	ModeContract = "contract"

	defaultListenAddress        = "0.0.0.0:7420"
	defaultNetworkName          = "regtest"
	defaultSettlementFee        = 1000
	defaultMinDeposit           = 10000
	defaultRefundLocktimeBlocks = 144
	defaultNodeRPC              = "http://127.0.0.1:18443"
)

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := applyDefaults(cfg, path); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config, path string) error {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = defaultNetworkName
	}
	if strings.TrimSpace(cfg.EscrowMode) == "" {
		cfg.EscrowMode = ModeScript
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "data")
	}
	if cfg.SettlementFee == 0 {
		cfg.SettlementFee = defaultSettlementFee
	}
	if cfg.MinDeposit == 0 {
		cfg.MinDeposit = defaultMinDeposit
	}
	if cfg.RefundLocktimeBlocks == 0 {
		cfg.RefundLocktimeBlocks = defaultRefundLocktimeBlocks
	}
	if strings.TrimSpace(cfg.NodeRPC) == "" {
		cfg.NodeRPC = defaultNodeRPC
	}
	return nil
}

func validate(cfg *Config) error {
	switch cfg.EscrowMode {
	case ModeScript, ModeContract:
	default:
		return fmt.Errorf("config: unknown escrow mode %q", cfg.EscrowMode)
	}
	if cfg.SettlementFee < 0 {
		return fmt.Errorf("config: settlement fee must not be negative")
	}
	if cfg.MinDeposit <= cfg.SettlementFee {
		return fmt.Errorf("config: minimum deposit must exceed the settlement fee")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	if err := applyDefaults(cfg, path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("config: create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: write default %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: encode default %s: %w", path, err)
	}
	return cfg, nil
}
