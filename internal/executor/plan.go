package executor

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"

	"github.com/solmev/liquidator/internal/assemble"
	"github.com/solmev/liquidator/internal/derive"
	"github.com/solmev/liquidator/internal/protocol"
	"github.com/solmev/liquidator/pkg/types"
)

// liquidationComputeUnits covers a flash-wrapped liquidation; the default
// 200k budget is not enough for the three-instruction sequence.
const liquidationComputeUnits = 1_400_000

// flashBufferBps pads the flash-loan amount so the 9 bps fee is always
// covered by the borrow.
const flashBufferBps = 10

func computePrelude() ([]solana.Instruction, error) {
	ix, err := computebudget.NewSetComputeUnitLimitInstruction(liquidationComputeUnits).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("compute budget instruction: %w", err)
	}
	return []solana.Instruction{ix}, nil
}

// BuildLiquidation assembles the full instruction sequence for one
// opportunity: a Kamino position gets a flash-wrapped
// borrow/liquidate/repay, a Marginfi position a direct liquidation.
func BuildLiquidation(wallet solana.PublicKey, opp *types.LiquidationOpportunity) ([]solana.Instruction, error) {
	switch opp.Protocol {
	case types.ProtocolKamino:
		return buildKamino(wallet, opp)
	case types.ProtocolMarginfi:
		return buildMarginfi(wallet, opp)
	}
	return nil, fmt.Errorf("unsupported protocol %q", opp.Protocol)
}

func buildKamino(wallet solana.PublicKey, opp *types.LiquidationOpportunity) ([]solana.Instruction, error) {
	market := protocol.KaminoMainMarket
	authority, err := derive.KaminoMarketAuthority(market)
	if err != nil {
		return nil, err
	}
	repaySupply, err := derive.KaminoLiquiditySupply(opp.DebtReserve)
	if err != nil {
		return nil, err
	}
	withdrawSupply, err := derive.KaminoLiquiditySupply(opp.CollateralReserve)
	if err != nil {
		return nil, err
	}
	withdrawCollateralSupply, err := derive.KaminoCollateralSupply(opp.CollateralReserve)
	if err != nil {
		return nil, err
	}
	flashFeeReceiver, err := derive.KaminoFeeReceiver(opp.DebtReserve)
	if err != nil {
		return nil, err
	}
	withdrawFeeReceiver, err := derive.KaminoFeeReceiver(opp.CollateralReserve)
	if err != nil {
		return nil, err
	}
	repayATA, err := derive.AssociatedTokenAccount(wallet, opp.DebtMint)
	if err != nil {
		return nil, err
	}
	collateralATA, err := derive.AssociatedTokenAccount(wallet, opp.CollateralMint)
	if err != nil {
		return nil, err
	}

	prelude, err := computePrelude()
	if err != nil {
		return nil, err
	}

	// The flash borrow covers the repay amount plus the loan fee.
	flashAmount := opp.MaxRepayableDebt + opp.MaxRepayableDebt*flashBufferBps/10_000

	plan := &types.FlashLoanPlan{
		LendingMarket:   market,
		MarketAuthority: authority,
		Reserve:         opp.DebtReserve,
		LiquidityMint:   opp.DebtMint,
		LiquiditySupply: repaySupply,
		FeeReceiver:     flashFeeReceiver,
		UserLiquidity:   repayATA,
		Amount:          flashAmount,
		BorrowIndex:     uint8(len(prelude)),
	}

	liquidate := assemble.KaminoLiquidate(&assemble.KaminoLiquidateParams{
		Liquidator:               wallet,
		Obligation:               opp.Account,
		LendingMarket:            market,
		MarketAuthority:          authority,
		RepayReserve:             opp.DebtReserve,
		RepayLiquidityMint:       opp.DebtMint,
		RepayLiquiditySupply:     repaySupply,
		WithdrawReserve:          opp.CollateralReserve,
		WithdrawCollateralMint:   opp.CollateralMint,
		WithdrawCollateralSupply: withdrawCollateralSupply,
		WithdrawLiquiditySupply:  withdrawSupply,
		WithdrawFeeReceiver:      withdrawFeeReceiver,
		UserSourceLiquidity:      repayATA,
		UserDestCollateral:       collateralATA,
		UserDestLiquidity:        collateralATA,
		LiquidityAmount:          opp.MaxRepayableDebt,
		MinCollateralAmount:      1, // accept any amount of seized collateral
	})

	return assemble.FlashLoanSequence(plan, wallet, prelude, []solana.Instruction{liquidate})
}

// BuildArbitrage wraps aggregator-built swap instructions in a flash loan
// drawn from reserve, which must hold the round trip's input token. The
// swaps land between borrow and repay, so the trip either nets out inside
// one transaction or the whole thing reverts.
func BuildArbitrage(wallet solana.PublicKey, opp *types.ArbitrageOpportunity, reserve solana.PublicKey, swaps []solana.Instruction) ([]solana.Instruction, error) {
	if len(swaps) == 0 {
		return nil, fmt.Errorf("no swap instructions to wrap")
	}

	market := protocol.KaminoMainMarket
	authority, err := derive.KaminoMarketAuthority(market)
	if err != nil {
		return nil, err
	}
	supply, err := derive.KaminoLiquiditySupply(reserve)
	if err != nil {
		return nil, err
	}
	feeReceiver, err := derive.KaminoFeeReceiver(reserve)
	if err != nil {
		return nil, err
	}
	ata, err := derive.AssociatedTokenAccount(wallet, opp.TokenIn)
	if err != nil {
		return nil, err
	}

	prelude, err := computePrelude()
	if err != nil {
		return nil, err
	}

	flashAmount := opp.AmountIn + opp.AmountIn*flashBufferBps/10_000
	plan := &types.FlashLoanPlan{
		LendingMarket:   market,
		MarketAuthority: authority,
		Reserve:         reserve,
		LiquidityMint:   opp.TokenIn,
		LiquiditySupply: supply,
		FeeReceiver:     feeReceiver,
		UserLiquidity:   ata,
		Amount:          flashAmount,
		BorrowIndex:     uint8(len(prelude)),
	}
	return assemble.FlashLoanSequence(plan, wallet, prelude, swaps)
}

func buildMarginfi(wallet solana.PublicKey, opp *types.LiquidationOpportunity) ([]solana.Instruction, error) {
	liquidatorAccount, err := derive.MarginfiAccount(wallet, protocol.MarginfiGroup)
	if err != nil {
		return nil, err
	}
	vaultAuthority, err := derive.MarginfiBankVaultAuthority(opp.CollateralReserve)
	if err != nil {
		return nil, err
	}
	liquidityVault, err := derive.MarginfiBankLiquidityVault(opp.CollateralReserve)
	if err != nil {
		return nil, err
	}
	insuranceVault, err := derive.MarginfiBankInsuranceVault(opp.CollateralReserve)
	if err != nil {
		return nil, err
	}

	liquidate := assemble.MarginfiLiquidate(&assemble.MarginfiLiquidateParams{
		Group:              protocol.MarginfiGroup,
		AssetBank:          opp.CollateralReserve,
		LiabBank:           opp.DebtReserve,
		LiquidatorAccount:  liquidatorAccount,
		Signer:             wallet,
		LiquidateeAccount:  opp.Account,
		BankVaultAuthority: vaultAuthority,
		BankLiquidityVault: liquidityVault,
		BankInsuranceVault: insuranceVault,
		AssetAmount:        opp.MaxRepayableDebt,
	})

	prelude, err := computePrelude()
	if err != nil {
		return nil, err
	}
	return append(prelude, liquidate), nil
}
