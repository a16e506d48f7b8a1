package derive

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solmev/liquidator/internal/protocol"
)

func TestDerivationsAreDeterministic(t *testing.T) {
	market := solana.NewWallet().PublicKey()
	reserve := solana.NewWallet().PublicKey()
	bank := solana.NewWallet().PublicKey()
	wallet := solana.NewWallet().PublicKey()

	derivations := []func() (solana.PublicKey, error){
		func() (solana.PublicKey, error) { return KaminoMarketAuthority(market) },
		func() (solana.PublicKey, error) { return KaminoLiquiditySupply(reserve) },
		func() (solana.PublicKey, error) { return KaminoCollateralSupply(reserve) },
		func() (solana.PublicKey, error) { return KaminoFeeReceiver(reserve) },
		func() (solana.PublicKey, error) { return MarginfiAccount(wallet, protocol.MarginfiGroup) },
		func() (solana.PublicKey, error) { return MarginfiBankVaultAuthority(bank) },
		func() (solana.PublicKey, error) { return MarginfiBankLiquidityVault(bank) },
		func() (solana.PublicKey, error) { return MarginfiBankInsuranceVault(bank) },
		func() (solana.PublicKey, error) { return AssociatedTokenAccount(wallet, protocol.UsdcMint) },
	}

	seen := make(map[solana.PublicKey]bool)
	for i, fn := range derivations {
		first, err := fn()
		require.NoError(t, err, "derivation %d", i)
		second, err := fn()
		require.NoError(t, err, "derivation %d", i)
		assert.Equal(t, first, second, "derivation %d not deterministic", i)
		assert.False(t, first.IsZero(), "derivation %d returned zero key", i)
		assert.False(t, seen[first], "derivation %d collides with another", i)
		seen[first] = true
	}
}

func TestDistinctSeedsDistinctAddresses(t *testing.T) {
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()

	supplyA, err := KaminoLiquiditySupply(a)
	require.NoError(t, err)
	supplyB, err := KaminoLiquiditySupply(b)
	require.NoError(t, err)
	assert.NotEqual(t, supplyA, supplyB)

	// Same reserve, different tag namespaces.
	collateral, err := KaminoCollateralSupply(a)
	require.NoError(t, err)
	assert.NotEqual(t, supplyA, collateral)
}

func TestKaminoMainMarketAuthority(t *testing.T) {
	// Derivation against the fixed main market must be stable across runs.
	authority, err := KaminoMarketAuthority(protocol.KaminoMainMarket)
	require.NoError(t, err)

	again, err := KaminoMarketAuthority(protocol.KaminoMainMarket)
	require.NoError(t, err)
	assert.Equal(t, authority, again)
}
