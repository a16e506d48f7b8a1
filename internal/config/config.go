// Package config loads and validates runtime configuration from the
// environment. A .env file is honored for local development.
package config

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/solmev/liquidator/pkg/types"
)

type Config struct {
	App    AppConfig
	RPC    RPCConfig
	Wallet WalletConfig
	Scan   ScanConfig
	Trade  TradeConfig
}

type AppConfig struct {
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9102"`
}

type RPCConfig struct {
	// HeliusAPIKey takes precedence over URL when set.
	HeliusAPIKey string        `envconfig:"HELIUS_API_KEY"`
	URL          string        `envconfig:"RPC_URL" default:"https://api.mainnet-beta.solana.com"`
	Timeout      time.Duration `envconfig:"RPC_TIMEOUT" default:"30s"`
	MaxRetries   int           `envconfig:"MAX_RETRIES" default:"3"`
}

// Endpoint resolves the provider URL actually dialed.
func (c RPCConfig) Endpoint() string {
	if c.HeliusAPIKey != "" {
		return fmt.Sprintf("https://mainnet.helius-rpc.com/?api-key=%s", c.HeliusAPIKey)
	}
	return c.URL
}

type WalletConfig struct {
	PrivateKey string `envconfig:"WALLET_PRIVATE_KEY" required:"true"`
}

// Keypair parses the base58 signing key.
func (c WalletConfig) Keypair() (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromBase58(c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse wallet private key: %w", err)
	}
	return key, nil
}

type ScanConfig struct {
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"10s"`
	BatchSize    int           `envconfig:"BATCH_SIZE" default:"100"`
	RPS          int           `envconfig:"SCAN_RPS" default:"10"`
	Protocols    []string      `envconfig:"ENABLED_PROTOCOLS" default:"kamino,marginfi"`
}

// EnabledProtocols maps the configured names onto protocol labels,
// rejecting unknown ones.
func (c ScanConfig) EnabledProtocols() ([]types.Protocol, error) {
	out := make([]types.Protocol, 0, len(c.Protocols))
	for _, name := range c.Protocols {
		switch types.Protocol(name) {
		case types.ProtocolKamino, types.ProtocolMarginfi:
			out = append(out, types.Protocol(name))
		default:
			return nil, fmt.Errorf("unknown protocol %q", name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no protocols enabled")
	}
	return out, nil
}

type TradeConfig struct {
	// DryRun is the default safety posture; disabling it must be explicit.
	DryRun             bool  `envconfig:"DRY_RUN" default:"true"`
	MinProfitThreshold int64 `envconfig:"MIN_PROFIT_THRESHOLD" default:"10000"`
	MaxSlippageBps     int64 `envconfig:"MAX_SLIPPAGE_BPS" default:"300"`
}

// Load reads configuration from the environment, consulting a .env file
// first when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Wallet.Keypair(); err != nil {
		return err
	}
	if _, err := c.Scan.EnabledProtocols(); err != nil {
		return err
	}
	if c.Scan.RPS <= 0 {
		return fmt.Errorf("SCAN_RPS must be positive, got %d", c.Scan.RPS)
	}
	if c.Scan.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.Trade.MaxSlippageBps < 0 || c.Trade.MaxSlippageBps > 10_000 {
		return fmt.Errorf("MAX_SLIPPAGE_BPS out of range: %d", c.Trade.MaxSlippageBps)
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC_TIMEOUT must be positive")
	}
	return nil
}

// Redacted returns a printable view for the `config` subcommand, with the
// signing key masked.
func (c *Config) Redacted() map[string]string {
	key := "(unset)"
	if c.Wallet.PrivateKey != "" {
		key = "****"
	}
	endpoint := c.RPC.URL
	if c.RPC.HeliusAPIKey != "" {
		endpoint = "https://mainnet.helius-rpc.com/?api-key=****"
	}
	return map[string]string{
		"rpc_endpoint":         endpoint,
		"rpc_timeout":          c.RPC.Timeout.String(),
		"max_retries":          fmt.Sprintf("%d", c.RPC.MaxRetries),
		"wallet_private_key":   key,
		"poll_interval":        c.Scan.PollInterval.String(),
		"batch_size":           fmt.Sprintf("%d", c.Scan.BatchSize),
		"scan_rps":             fmt.Sprintf("%d", c.Scan.RPS),
		"enabled_protocols":    fmt.Sprintf("%v", c.Scan.Protocols),
		"dry_run":              fmt.Sprintf("%t", c.Trade.DryRun),
		"min_profit_threshold": fmt.Sprintf("%d", c.Trade.MinProfitThreshold),
		"max_slippage_bps":     fmt.Sprintf("%d", c.Trade.MaxSlippageBps),
		"metrics_addr":         c.App.MetricsAddr,
		"log_level":            c.App.LogLevel,
	}
}
