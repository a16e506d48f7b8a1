package scan

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solmev/liquidator/internal/chain"
	"github.com/solmev/liquidator/internal/evaluate"
	"github.com/solmev/liquidator/internal/protocol"
	"github.com/solmev/liquidator/pkg/types"
)

// fakeFetcher serves canned account sets per program and raw buffers per
// address.
type fakeFetcher struct {
	byProgram map[solana.PublicKey][]chain.KeyedAccount
	byAddress map[solana.PublicKey][]byte
	errs      map[solana.PublicKey]error
}

func (f *fakeFetcher) ProgramAccounts(_ context.Context, program solana.PublicKey, _ chain.Filter) ([]chain.KeyedAccount, error) {
	if err := f.errs[program]; err != nil {
		return nil, err
	}
	return f.byProgram[program], nil
}

func (f *fakeFetcher) AccountData(_ context.Context, key solana.PublicKey) ([]byte, error) {
	data, ok := f.byAddress[key]
	if !ok {
		return nil, errors.New("account not found")
	}
	return data, nil
}

func putU128(data []byte, off int, v *big.Int) {
	lo := new(big.Int).And(v, new(big.Int).SetUint64(^uint64(0)))
	hi := new(big.Int).Rsh(v, 64)
	binary.LittleEndian.PutUint64(data[off:], lo.Uint64())
	binary.LittleEndian.PutUint64(data[off+8:], hi.Uint64())
}

// unhealthyObligation builds a klend buffer with the given scaled debt and
// threshold and one borrow entry.
func unhealthyObligation(debt, threshold int64, debtReserve solana.PublicKey) []byte {
	data := make([]byte, 1300)
	putU128(data, 88, big.NewInt(debt*2)) // deposited
	putU128(data, 104, big.NewInt(debt))  // borrowed
	putU128(data, 136, big.NewInt(threshold))
	copy(data[850:], debtReserve.Bytes())
	putU128(data, 850+32, big.NewInt(1))
	return data
}

func reserveBuffer(mint solana.PublicKey) []byte {
	data := make([]byte, 256)
	copy(data[40:], mint.Bytes())
	return data
}

func newOrchestrator(cfg Config, f Fetcher) *Orchestrator {
	eval := evaluate.New(evaluate.Config{SlippageBps: 300}, zerolog.Nop())
	return New(cfg, f, eval, nil, zerolog.Nop())
}

func TestScanFindsAndRanksOpportunities(t *testing.T) {
	smallReserve := solana.NewWallet().PublicKey()
	bigReserve := solana.NewWallet().PublicKey()
	mint := protocol.UsdcMint

	f := &fakeFetcher{
		byProgram: map[solana.PublicKey][]chain.KeyedAccount{
			protocol.KaminoProgramID: {
				{Pubkey: solana.NewWallet().PublicKey(), Data: unhealthyObligation(2_000_000_000_000, 1_000_000_000_000, smallReserve)},
				{Pubkey: solana.NewWallet().PublicKey(), Data: unhealthyObligation(8_000_000_000_000, 1_000_000_000_000, bigReserve)},
				{Pubkey: solana.NewWallet().PublicKey(), Data: []byte{1, 2, 3}}, // undecodable
			},
		},
		byAddress: map[solana.PublicKey][]byte{
			smallReserve: reserveBuffer(mint),
			bigReserve:   reserveBuffer(mint),
		},
	}

	o := newOrchestrator(Config{Protocols: []types.Protocol{types.ProtocolKamino}}, f)
	opps, err := o.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 2)

	// Descending profit: the larger debt pays more.
	assert.Greater(t, opps[0].EstimatedProfit, opps[1].EstimatedProfit)
	assert.Equal(t, mint, opps[0].DebtMint)
}

func TestScanAppliesMinProfitThreshold(t *testing.T) {
	f := &fakeFetcher{
		byProgram: map[solana.PublicKey][]chain.KeyedAccount{
			protocol.KaminoProgramID: {
				// Profit 15,000 at 300 bps slippage.
				{Pubkey: solana.NewWallet().PublicKey(), Data: unhealthyObligation(2_000_000_000_000, 1_000_000_000_000, solana.PublicKey{})},
			},
		},
	}

	o := newOrchestrator(Config{Protocols: []types.Protocol{types.ProtocolKamino}, MinProfit: 20_000}, f)
	opps, err := o.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestScanIsolatesProtocolFailures(t *testing.T) {
	f := &fakeFetcher{
		byProgram: map[solana.PublicKey][]chain.KeyedAccount{
			protocol.KaminoProgramID: {
				{Pubkey: solana.NewWallet().PublicKey(), Data: unhealthyObligation(2_000_000_000_000, 1_000_000_000_000, solana.PublicKey{})},
			},
		},
		errs: map[solana.PublicKey]error{
			protocol.MarginfiProgramID: errors.New("rpc node down"),
		},
	}

	o := newOrchestrator(Config{Protocols: []types.Protocol{types.ProtocolKamino, types.ProtocolMarginfi}}, f)
	opps, err := o.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, types.ProtocolKamino, opps[0].Protocol)
}

func TestScanReturnsErrorWhenNothingSucceeds(t *testing.T) {
	f := &fakeFetcher{
		errs: map[solana.PublicKey]error{
			protocol.KaminoProgramID: errors.New("rpc node down"),
		},
	}

	o := newOrchestrator(Config{Protocols: []types.Protocol{types.ProtocolKamino}}, f)
	_, err := o.Scan(context.Background())
	assert.Error(t, err)
}

func TestScanBatchSizeBoundsWork(t *testing.T) {
	accounts := make([]chain.KeyedAccount, 10)
	for i := range accounts {
		accounts[i] = chain.KeyedAccount{
			Pubkey: solana.NewWallet().PublicKey(),
			Data:   unhealthyObligation(2_000_000_000_000, 1_000_000_000_000, solana.PublicKey{}),
		}
	}
	f := &fakeFetcher{byProgram: map[solana.PublicKey][]chain.KeyedAccount{protocol.KaminoProgramID: accounts}}

	o := newOrchestrator(Config{Protocols: []types.Protocol{types.ProtocolKamino}, BatchSize: 4}, f)
	opps, err := o.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, opps, 4)
}

func TestReserveForMintResolvesAndCaches(t *testing.T) {
	reserve := solana.NewWallet().PublicKey()
	f := &fakeFetcher{
		byProgram: map[solana.PublicKey][]chain.KeyedAccount{
			protocol.KaminoProgramID: {{Pubkey: reserve, Data: reserveBuffer(protocol.UsdcMint)}},
		},
	}
	o := newOrchestrator(Config{}, f)

	got, err := o.ReserveForMint(context.Background(), protocol.UsdcMint)
	require.NoError(t, err)
	assert.Equal(t, reserve, got)

	// Second lookup must come from the cache, not the fetcher.
	f.errs = map[solana.PublicKey]error{protocol.KaminoProgramID: errors.New("rpc node down")}
	got, err = o.ReserveForMint(context.Background(), protocol.UsdcMint)
	require.NoError(t, err)
	assert.Equal(t, reserve, got)
}

func TestReserveForMintUnknownMint(t *testing.T) {
	o := newOrchestrator(Config{}, &fakeFetcher{})

	_, err := o.ReserveForMint(context.Background(), solana.NewWallet().PublicKey())
	assert.Error(t, err)
}

type pairQuoter struct {
	rate float64
}

func (q *pairQuoter) Quote(_ context.Context, _, _ solana.PublicKey, amount uint64, _ int64) (uint64, []types.RouteHop, error) {
	return uint64(float64(amount) * q.rate), nil, nil
}

func TestScanArbitrageFindsDiscrepancy(t *testing.T) {
	o := newOrchestrator(Config{}, &fakeFetcher{})

	// +2% per leg round trip comfortably beats fee and gas.
	opps, err := o.ScanArbitrage(context.Background(), &pairQuoter{rate: 1.02})
	require.NoError(t, err)
	require.NotEmpty(t, opps)
	for i := 1; i < len(opps); i++ {
		assert.GreaterOrEqual(t, opps[i-1].ExpectedProfit, opps[i].ExpectedProfit)
	}
}

func TestScanArbitrageSilentOnBalancedMarket(t *testing.T) {
	o := newOrchestrator(Config{}, &fakeFetcher{})

	opps, err := o.ScanArbitrage(context.Background(), &pairQuoter{rate: 1.0})
	require.NoError(t, err)
	assert.Empty(t, opps)
}
