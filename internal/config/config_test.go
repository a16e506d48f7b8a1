package config

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solmev/liquidator/pkg/types"
)

func validConfig() *Config {
	wallet := solana.NewWallet()
	return &Config{
		RPC:    RPCConfig{URL: "https://api.mainnet-beta.solana.com", Timeout: 30 * time.Second, MaxRetries: 3},
		Wallet: WalletConfig{PrivateKey: wallet.PrivateKey.String()},
		Scan:   ScanConfig{PollInterval: 10 * time.Second, BatchSize: 100, RPS: 10, Protocols: []string{"kamino", "marginfi"}},
		Trade:  TradeConfig{DryRun: true, MaxSlippageBps: 300},
	}
}

func TestValidateAccepts(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsBadKey(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = "not-base58!!"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownProtocol(t *testing.T) {
	cfg := validConfig()
	cfg.Scan.Protocols = []string{"kamino", "compound"}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyProtocols(t *testing.T) {
	cfg := validConfig()
	cfg.Scan.Protocols = nil
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsSlippageOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Trade.MaxSlippageBps = 10_001
	assert.Error(t, cfg.Validate())
}

func TestEnabledProtocols(t *testing.T) {
	cfg := ScanConfig{Protocols: []string{"marginfi"}}
	got, err := cfg.EnabledProtocols()
	require.NoError(t, err)
	assert.Equal(t, []types.Protocol{types.ProtocolMarginfi}, got)
}

func TestEndpointPrefersHelius(t *testing.T) {
	cfg := RPCConfig{HeliusAPIKey: "abc", URL: "https://other"}
	assert.Equal(t, "https://mainnet.helius-rpc.com/?api-key=abc", cfg.Endpoint())

	cfg.HeliusAPIKey = ""
	assert.Equal(t, "https://other", cfg.Endpoint())
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.RPC.HeliusAPIKey = "secret"
	out := cfg.Redacted()
	assert.Equal(t, "****", out["wallet_private_key"])
	assert.NotContains(t, out["rpc_endpoint"], "secret")
}
