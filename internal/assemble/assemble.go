// Package assemble builds the ABI-level instruction sequences for
// flash-loan-wrapped actions. It never signs or submits; the output is an
// ordered instruction list whose internal borrow/repay correlation is
// position-sensitive.
package assemble

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/solmev/liquidator/internal/protocol"
	"github.com/solmev/liquidator/pkg/types"
)

// Anchor instruction discriminators, sha256("global:<name>")[:8]. Computed
// once and embedded; see TestDiscriminators for the derivation check.
var (
	flashBorrowDiscriminator       = [8]byte{0x87, 0xe7, 0x34, 0xa7, 0x07, 0x34, 0xd4, 0xc1}
	flashRepayDiscriminator        = [8]byte{0xb9, 0x75, 0x00, 0xcb, 0x60, 0xf5, 0xb4, 0xba}
	kaminoLiquidateDiscriminator   = [8]byte{0xb1, 0x47, 0x9a, 0xbc, 0xe2, 0x85, 0x4a, 0x37}
	marginfiLiquidateDiscriminator = [8]byte{0xd6, 0xa9, 0x97, 0xd5, 0xfb, 0xa7, 0x56, 0xdb}
)

// instructionDiscriminator recomputes an Anchor discriminator. Kept for
// tests and for deriving new instruction tags offline; production builders
// use the embedded constants.
func instructionDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// FlashBorrow builds flash_borrow_reserve_liquidity: an uncollateralized
// draw from the reserve's liquidity supply into the user's token account.
func FlashBorrow(plan *types.FlashLoanPlan) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(plan.LendingMarket, false, false),
		solana.NewAccountMeta(plan.MarketAuthority, false, false),
		solana.NewAccountMeta(plan.Reserve, true, false),
		solana.NewAccountMeta(plan.LiquidityMint, false, false),
		solana.NewAccountMeta(plan.LiquiditySupply, true, false),
		solana.NewAccountMeta(plan.UserLiquidity, true, false),
		solana.NewAccountMeta(solana.SysVarInstructionsPubkey, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}

	data := make([]byte, 16)
	copy(data, flashBorrowDiscriminator[:])
	binary.LittleEndian.PutUint64(data[8:], plan.Amount)

	return solana.NewInstruction(protocol.KaminoProgramID, accounts, data)
}

// FlashRepay builds flash_repay_reserve_liquidity. borrowIndex is the
// zero-based position of the matching borrow instruction in the final
// transaction; the program walks the instructions sysvar to verify the pair
// balances, so a wrong index makes the whole transaction fail.
func FlashRepay(plan *types.FlashLoanPlan, authority solana.PublicKey, borrowIndex uint8) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(plan.UserLiquidity, true, false),
		solana.NewAccountMeta(plan.LiquiditySupply, true, false),
		solana.NewAccountMeta(plan.FeeReceiver, true, false),
		solana.NewAccountMeta(plan.Reserve, true, false),
		solana.NewAccountMeta(plan.LendingMarket, false, false),
		solana.NewAccountMeta(authority, false, true),
		solana.NewAccountMeta(solana.SysVarInstructionsPubkey, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}

	data := make([]byte, 17)
	copy(data, flashRepayDiscriminator[:])
	binary.LittleEndian.PutUint64(data[8:], plan.Amount)
	data[16] = borrowIndex

	return solana.NewInstruction(protocol.KaminoProgramID, accounts, data)
}

// KaminoLiquidateParams names the accounts of
// liquidate_obligation_and_redeem_reserve_collateral.
type KaminoLiquidateParams struct {
	Liquidator               solana.PublicKey
	Obligation               solana.PublicKey
	LendingMarket            solana.PublicKey
	MarketAuthority          solana.PublicKey
	RepayReserve             solana.PublicKey
	RepayLiquidityMint       solana.PublicKey
	RepayLiquiditySupply     solana.PublicKey
	WithdrawReserve          solana.PublicKey
	WithdrawCollateralMint   solana.PublicKey
	WithdrawCollateralSupply solana.PublicKey
	WithdrawLiquiditySupply  solana.PublicKey
	WithdrawFeeReceiver      solana.PublicKey
	UserSourceLiquidity      solana.PublicKey
	UserDestCollateral       solana.PublicKey
	UserDestLiquidity        solana.PublicKey

	LiquidityAmount       uint64
	MinCollateralAmount   uint64
	MaxLtvOverridePercent uint64
}

// KaminoLiquidate builds the klend liquidation instruction: repays debt
// from the liquidator's account and redeems the seized collateral in one
// step.
func KaminoLiquidate(p *KaminoLiquidateParams) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(p.Liquidator, true, true),
		solana.NewAccountMeta(p.Obligation, true, false),
		solana.NewAccountMeta(p.LendingMarket, false, false),
		solana.NewAccountMeta(p.MarketAuthority, false, false),
		solana.NewAccountMeta(p.RepayReserve, true, false),
		solana.NewAccountMeta(p.RepayLiquidityMint, false, false),
		solana.NewAccountMeta(p.RepayLiquiditySupply, true, false),
		solana.NewAccountMeta(p.WithdrawReserve, true, false),
		solana.NewAccountMeta(p.WithdrawCollateralMint, false, false),
		solana.NewAccountMeta(p.WithdrawCollateralSupply, true, false),
		solana.NewAccountMeta(p.WithdrawLiquiditySupply, true, false),
		solana.NewAccountMeta(p.WithdrawFeeReceiver, true, false),
		solana.NewAccountMeta(p.UserSourceLiquidity, true, false),
		solana.NewAccountMeta(p.UserDestCollateral, true, false),
		solana.NewAccountMeta(p.UserDestLiquidity, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarInstructionsPubkey, false, false),
	}

	data := make([]byte, 32)
	copy(data, kaminoLiquidateDiscriminator[:])
	binary.LittleEndian.PutUint64(data[8:], p.LiquidityAmount)
	binary.LittleEndian.PutUint64(data[16:], p.MinCollateralAmount)
	binary.LittleEndian.PutUint64(data[24:], p.MaxLtvOverridePercent)

	return solana.NewInstruction(protocol.KaminoProgramID, accounts, data)
}

// MarginfiLiquidateParams names the accounts of lending_account_liquidate.
type MarginfiLiquidateParams struct {
	Group              solana.PublicKey
	AssetBank          solana.PublicKey
	LiabBank           solana.PublicKey
	LiquidatorAccount  solana.PublicKey
	Signer             solana.PublicKey
	LiquidateeAccount  solana.PublicKey
	BankVaultAuthority solana.PublicKey
	BankLiquidityVault solana.PublicKey
	BankInsuranceVault solana.PublicKey

	AssetAmount uint64
}

// MarginfiLiquidate builds the marginfi v2 liquidation instruction.
func MarginfiLiquidate(p *MarginfiLiquidateParams) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(p.Group, false, false),
		solana.NewAccountMeta(p.AssetBank, true, false),
		solana.NewAccountMeta(p.LiabBank, true, false),
		solana.NewAccountMeta(p.LiquidatorAccount, true, false),
		solana.NewAccountMeta(p.Signer, false, true),
		solana.NewAccountMeta(p.LiquidateeAccount, true, false),
		solana.NewAccountMeta(p.BankVaultAuthority, false, false),
		solana.NewAccountMeta(p.BankLiquidityVault, true, false),
		solana.NewAccountMeta(p.BankInsuranceVault, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}

	data := make([]byte, 16)
	copy(data, marginfiLiquidateDiscriminator[:])
	binary.LittleEndian.PutUint64(data[8:], p.AssetAmount)

	return solana.NewInstruction(protocol.MarginfiProgramID, accounts, data)
}

// FlashLoanSequence wraps action instructions in a borrow/repay pair:
// prelude..., flash_borrow, action..., flash_repay. The prelude (compute
// budget, typically) shifts the borrow's position, so the plan's BorrowIndex
// must already equal the prelude length; a mismatch would make the repay's
// embedded index point at the wrong instruction and the whole transaction
// fail on chain. The plan is never written to.
func FlashLoanSequence(plan *types.FlashLoanPlan, authority solana.PublicKey, prelude, action []solana.Instruction) ([]solana.Instruction, error) {
	borrowIndex := len(prelude)
	if borrowIndex > 255 {
		return nil, fmt.Errorf("flash loan borrow index %d exceeds instruction index range", borrowIndex)
	}
	if int(plan.BorrowIndex) != borrowIndex {
		return nil, fmt.Errorf("plan borrow index %d does not match prelude length %d", plan.BorrowIndex, borrowIndex)
	}

	out := make([]solana.Instruction, 0, len(prelude)+len(action)+2)
	out = append(out, prelude...)
	out = append(out, FlashBorrow(plan))
	out = append(out, action...)
	out = append(out, FlashRepay(plan, authority, plan.BorrowIndex))
	return out, nil
}
