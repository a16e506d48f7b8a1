// Package derive computes program-derived addresses for the lending
// programs. Every derivation is a pure function of (seed tag, seed address,
// program id); a wrong derivation does not fail at build time, it produces a
// transaction the program rejects at simulation, so all seed tags live here
// and nowhere else.
package derive

import (
	"github.com/gagliardetto/solana-go"

	"github.com/solmev/liquidator/internal/protocol"
	"github.com/solmev/liquidator/pkg/types"
)

// Seed tags, matching the on-chain programs' PDA namespaces.
const (
	tagMarketAuthority    = "lma"
	tagLiquiditySupply    = "liquidity"
	tagCollateralSupply   = "collateral"
	tagFeeReceiver        = "fee_receiver"
	tagMarginfiAccount    = "marginfi_account"
	tagBankVaultAuthority = "liquidity_vault_auth"
	tagBankLiquidityVault = "liquidity_vault"
	tagBankInsuranceVault = "insurance_vault"
)

func find(tag string, program solana.PublicKey, seeds ...solana.PublicKey) (solana.PublicKey, error) {
	raw := make([][]byte, 0, len(seeds)+1)
	raw = append(raw, []byte(tag))
	for _, s := range seeds {
		raw = append(raw, s.Bytes())
	}
	addr, _, err := solana.FindProgramAddress(raw, program)
	if err != nil {
		return solana.PublicKey{}, &types.DerivationError{Tag: tag, Err: err}
	}
	return addr, nil
}

// KaminoMarketAuthority derives the lending market authority for a market.
func KaminoMarketAuthority(market solana.PublicKey) (solana.PublicKey, error) {
	return find(tagMarketAuthority, protocol.KaminoProgramID, market)
}

// KaminoLiquiditySupply derives a reserve's liquidity supply vault.
func KaminoLiquiditySupply(reserve solana.PublicKey) (solana.PublicKey, error) {
	return find(tagLiquiditySupply, protocol.KaminoProgramID, reserve)
}

// KaminoCollateralSupply derives a reserve's collateral supply vault.
func KaminoCollateralSupply(reserve solana.PublicKey) (solana.PublicKey, error) {
	return find(tagCollateralSupply, protocol.KaminoProgramID, reserve)
}

// KaminoFeeReceiver derives a reserve's liquidity fee receiver.
func KaminoFeeReceiver(reserve solana.PublicKey) (solana.PublicKey, error) {
	return find(tagFeeReceiver, protocol.KaminoProgramID, reserve)
}

// MarginfiAccount derives a wallet's marginfi account in a group.
func MarginfiAccount(owner, group solana.PublicKey) (solana.PublicKey, error) {
	return find(tagMarginfiAccount, protocol.MarginfiProgramID, owner, group)
}

// MarginfiBankVaultAuthority derives a bank's liquidity vault authority.
func MarginfiBankVaultAuthority(bank solana.PublicKey) (solana.PublicKey, error) {
	return find(tagBankVaultAuthority, protocol.MarginfiProgramID, bank)
}

// MarginfiBankLiquidityVault derives a bank's liquidity vault.
func MarginfiBankLiquidityVault(bank solana.PublicKey) (solana.PublicKey, error) {
	return find(tagBankLiquidityVault, protocol.MarginfiProgramID, bank)
}

// MarginfiBankInsuranceVault derives a bank's insurance vault.
func MarginfiBankInsuranceVault(bank solana.PublicKey) (solana.PublicKey, error) {
	return find(tagBankInsuranceVault, protocol.MarginfiProgramID, bank)
}

// AssociatedTokenAccount derives the wallet's associated token account for
// a mint.
func AssociatedTokenAccount(wallet, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return solana.PublicKey{}, &types.DerivationError{Tag: "associated_token", Err: err}
	}
	return addr, nil
}
