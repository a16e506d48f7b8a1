// Package evaluate turns decoded position records into actionable
// opportunities. All economics are integer arithmetic in token base units;
// only the reported health ratio uses decimals.
package evaluate

import (
	"context"
	"math"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/solmev/liquidator/internal/protocol"
	"github.com/solmev/liquidator/pkg/types"
)

const (
	// LiquidationGas is the fixed per-liquidation gas estimate in base units.
	LiquidationGas = 5_000
	// RoundTripGas covers the heavier two-leg swap transaction.
	RoundTripGas = 10_000
	// FlashLoanFeeBps is the flash-loan provider's published fee, 0.09%.
	FlashLoanFeeBps = 9
	// closeFactorDivisor caps a single liquidation at half the debt.
	closeFactorDivisor = 2
)

// TrialAmounts is the menu of round-trip sizes probed per token pair. AMM
// pricing is non-linear, so small and large sizes can each dominate
// depending on pool depth.
var TrialAmounts = []uint64{1_000_000, 10_000_000, 100_000_000, 1_000_000_000}

// Quoter obtains external swap quotes for one leg.
type Quoter interface {
	Quote(ctx context.Context, input, output solana.PublicKey, amount uint64, slippageBps int64) (outAmount uint64, route []types.RouteHop, err error)
}

// Config carries the tunable economics.
type Config struct {
	SlippageBps int64
	GasEstimate int64
	ArbGas      int64
}

// Evaluator applies the profitability policy to decoded state.
type Evaluator struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Evaluator {
	if cfg.GasEstimate == 0 {
		cfg.GasEstimate = LiquidationGas
	}
	if cfg.ArbGas == 0 {
		cfg.ArbGas = RoundTripGas
	}
	return &Evaluator{cfg: cfg, log: log.With().Str("component", "evaluate").Logger()}
}

// Liquidation judges one position. It returns (nil, false) for healthy or
// unprofitable positions; that is a silent skip, not an error.
func (e *Evaluator) Liquidation(rec *types.PositionRecord) (*types.LiquidationOpportunity, bool) {
	if rec == nil || !rec.HasDebt() {
		return nil, false
	}
	if rec.UnhealthyThreshold == nil || rec.UnhealthyThreshold.Sign() <= 0 {
		return nil, false
	}
	// Eligible iff debt strictly exceeds the threshold, i.e. health < 1.
	if rec.DebtValue.Cmp(rec.UnhealthyThreshold) <= 0 {
		return nil, false
	}

	scale := protocol.ValueScale(rec.Protocol)
	debtBase := new(big.Int).Div(rec.DebtValue, new(big.Int).SetUint64(scale))
	if !debtBase.IsUint64() {
		return nil, false
	}
	maxRepayable := debtBase.Uint64() / closeFactorDivisor
	if maxRepayable == 0 {
		return nil, false
	}

	bonus := protocol.BonusBps(rec.Protocol)
	profit := estimateProfit(maxRepayable, int64(bonus), e.cfg.GasEstimate, e.cfg.SlippageBps)
	if profit <= 0 {
		return nil, false
	}

	health := decimal.NewFromBigInt(rec.UnhealthyThreshold, 0).
		DivRound(decimal.NewFromBigInt(rec.DebtValue, 0), 6)

	opp := &types.LiquidationOpportunity{
		Protocol:          rec.Protocol,
		Account:           rec.Address,
		Owner:             rec.Owner,
		CollateralReserve: rec.CollateralReserve,
		DebtReserve:       rec.DebtReserve,
		HealthRatio:       health,
		CollateralAmount:  rec.CollateralAmount,
		MaxRepayableDebt:  maxRepayable,
		BonusBps:          bonus,
		EstimatedProfit:   profit,
		ObservedAt:        time.Now().UTC(),
	}
	if rec.DebtAmount != nil && rec.DebtAmount.IsUint64() {
		opp.DebtAmount = rec.DebtAmount.Uint64()
	}

	e.log.Debug().
		Str("protocol", string(rec.Protocol)).
		Str("account", rec.Address.String()).
		Str("health", health.String()).
		Uint64("max_repayable", maxRepayable).
		Int64("profit", profit).
		Msg("liquidation opportunity")
	return opp, true
}

// estimateProfit nets bonus against slippage and gas. The bps products are
// computed in big.Int: a repay amount above ~1.8e16 would overflow int64
// multiplication and silently flip a large profit negative.
func estimateProfit(maxRepayable uint64, bonusBps, gas, slippageBps int64) int64 {
	repay := new(big.Int).SetUint64(maxRepayable)
	bps := big.NewInt(10_000)

	gross := new(big.Int).Mul(repay, big.NewInt(bonusBps))
	gross.Div(gross, bps)
	slip := new(big.Int).Mul(repay, big.NewInt(slippageBps))
	slip.Div(slip, bps)

	net := gross.Sub(gross, slip)
	net.Sub(net, big.NewInt(gas))
	if !net.IsInt64() {
		if net.Sign() > 0 {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return net.Int64()
}

// FlashLoanFee is amount * 9bps, rounded down.
func FlashLoanFee(amount uint64) uint64 {
	return amount * FlashLoanFeeBps / 10_000
}

// RoundTrip quotes amount of tokenA into tokenB and back, netting out the
// flash-loan fee and gas. Returns (nil, false, nil) when the trip is not
// profitable; quote transport failures are returned as errors.
func (e *Evaluator) RoundTrip(ctx context.Context, q Quoter, tokenA, tokenB solana.PublicKey, amount uint64) (*types.ArbitrageOpportunity, bool, error) {
	outB, routeAB, err := q.Quote(ctx, tokenA, tokenB, amount, e.cfg.SlippageBps)
	if err != nil {
		return nil, false, err
	}
	returned, routeBA, err := q.Quote(ctx, tokenB, tokenA, outB, e.cfg.SlippageBps)
	if err != nil {
		return nil, false, err
	}

	fee := FlashLoanFee(amount)
	net := int64(returned) - int64(amount) - int64(fee) - e.cfg.ArbGas
	if net <= 0 {
		return nil, false, nil
	}

	// Both leg slices belong to the quoter; a plain append could write into
	// routeAB's spare capacity.
	route := make([]types.RouteHop, 0, len(routeAB)+len(routeBA))
	route = append(route, routeAB...)
	route = append(route, routeBA...)

	opp := &types.ArbitrageOpportunity{
		TokenIn:        tokenA,
		TokenOut:       tokenB,
		AmountIn:       amount,
		ExpectedProfit: uint64(net),
		ProfitPercent:  float64(net) / float64(amount) * 100,
		Route:          route,
		FlashLoanFee:   fee,
	}
	e.log.Debug().
		Str("token_in", tokenA.String()).
		Str("token_out", tokenB.String()).
		Uint64("amount_in", amount).
		Int64("profit", net).
		Msg("round-trip opportunity")
	return opp, true, nil
}

// BestRoundTrip probes the trial amount menu for one pair and keeps the most
// profitable size.
func (e *Evaluator) BestRoundTrip(ctx context.Context, q Quoter, tokenA, tokenB solana.PublicKey) (*types.ArbitrageOpportunity, bool, error) {
	var best *types.ArbitrageOpportunity
	for _, amount := range TrialAmounts {
		opp, ok, err := e.RoundTrip(ctx, q, tokenA, tokenB, amount)
		if err != nil {
			return nil, false, err
		}
		if ok && (best == nil || opp.ExpectedProfit > best.ExpectedProfit) {
			best = opp
		}
	}
	return best, best != nil, nil
}
