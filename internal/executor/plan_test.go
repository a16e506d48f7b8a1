package executor

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solmev/liquidator/internal/protocol"
	"github.com/solmev/liquidator/pkg/types"
)

func kaminoOpportunity() *types.LiquidationOpportunity {
	return &types.LiquidationOpportunity{
		Protocol:          types.ProtocolKamino,
		Account:           solana.NewWallet().PublicKey(),
		CollateralReserve: solana.NewWallet().PublicKey(),
		DebtReserve:       solana.NewWallet().PublicKey(),
		CollateralMint:    protocol.SolMint,
		DebtMint:          protocol.UsdcMint,
		MaxRepayableDebt:  1_000_000,
		EstimatedProfit:   15_000,
	}
}

func TestBuildKaminoSequence(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	opp := kaminoOpportunity()

	seq, err := BuildLiquidation(wallet, opp)
	require.NoError(t, err)
	// compute budget, flash borrow, liquidate, flash repay
	require.Len(t, seq, 4)

	assert.Equal(t, solana.ComputeBudget, seq[0].ProgramID())
	assert.Equal(t, protocol.KaminoProgramID, seq[1].ProgramID())
	assert.Equal(t, protocol.KaminoProgramID, seq[2].ProgramID())
	assert.Equal(t, protocol.KaminoProgramID, seq[3].ProgramID())

	// The repay must point at the borrow sitting after the prelude.
	repayData, err := seq[3].Data()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), repayData[len(repayData)-1])
}

func TestBuildKaminoDeterministic(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	opp := kaminoOpportunity()

	a, err := BuildLiquidation(wallet, opp)
	require.NoError(t, err)
	b, err := BuildLiquidation(wallet, opp)
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		dataA, err := a[i].Data()
		require.NoError(t, err)
		dataB, err := b[i].Data()
		require.NoError(t, err)
		assert.Equal(t, dataA, dataB)
		assert.Equal(t, a[i].Accounts(), b[i].Accounts())
	}
}

func TestBuildMarginfiSequence(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	opp := &types.LiquidationOpportunity{
		Protocol:          types.ProtocolMarginfi,
		Account:           solana.NewWallet().PublicKey(),
		CollateralReserve: solana.NewWallet().PublicKey(),
		DebtReserve:       solana.NewWallet().PublicKey(),
		MaxRepayableDebt:  250_000,
	}

	seq, err := BuildLiquidation(wallet, opp)
	require.NoError(t, err)
	// compute budget + direct liquidation, no flash wrap
	require.Len(t, seq, 2)
	assert.Equal(t, solana.ComputeBudget, seq[0].ProgramID())
	assert.Equal(t, protocol.MarginfiProgramID, seq[1].ProgramID())

	// The wallet signs the liquidation.
	var signer bool
	for _, meta := range seq[1].Accounts() {
		if meta.PublicKey.Equals(wallet) && meta.IsSigner {
			signer = true
		}
	}
	assert.True(t, signer)
}

func TestBuildArbitrageWrapsSwapsInFlashLoan(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	reserve := solana.NewWallet().PublicKey()
	opp := &types.ArbitrageOpportunity{
		TokenIn:        protocol.UsdcMint,
		TokenOut:       protocol.SolMint,
		AmountIn:       1_000_000,
		ExpectedProfit: 9_100,
	}
	swaps := []solana.Instruction{
		solana.NewInstruction(protocol.JupiterV6ProgramID, solana.AccountMetaSlice{}, []byte{1}),
		solana.NewInstruction(protocol.JupiterV6ProgramID, solana.AccountMetaSlice{}, []byte{2}),
	}

	seq, err := BuildArbitrage(wallet, opp, reserve, swaps)
	require.NoError(t, err)
	// compute budget, flash borrow, two swap legs, flash repay
	require.Len(t, seq, 5)
	assert.Equal(t, solana.ComputeBudget, seq[0].ProgramID())
	assert.Equal(t, protocol.KaminoProgramID, seq[1].ProgramID())
	assert.Equal(t, protocol.JupiterV6ProgramID, seq[2].ProgramID())
	assert.Equal(t, protocol.JupiterV6ProgramID, seq[3].ProgramID())
	assert.Equal(t, protocol.KaminoProgramID, seq[4].ProgramID())

	// The repay points at the borrow sitting after the prelude.
	repayData, err := seq[4].Data()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), repayData[len(repayData)-1])

	// Principal plus the fee buffer.
	borrowData, err := seq[1].Data()
	require.NoError(t, err)
	assert.Equal(t, uint64(1_001_000), binary.LittleEndian.Uint64(borrowData[8:16]))
}

func TestBuildArbitrageRejectsEmptySwaps(t *testing.T) {
	_, err := BuildArbitrage(solana.NewWallet().PublicKey(), &types.ArbitrageOpportunity{AmountIn: 1}, solana.NewWallet().PublicKey(), nil)
	assert.Error(t, err)
}

func TestBuildRejectsUnknownProtocol(t *testing.T) {
	_, err := BuildLiquidation(solana.NewWallet().PublicKey(), &types.LiquidationOpportunity{Protocol: "aave"})
	assert.Error(t, err)
}
