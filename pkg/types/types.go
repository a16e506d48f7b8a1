package types

import (
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Protocol labels the venue an opportunity comes from: one of the supported
// lending programs, or the cross-venue arbitrage path.
type Protocol string

const (
	ProtocolKamino   Protocol = "kamino"
	ProtocolMarginfi Protocol = "marginfi"

	// VenueArbitrage tags round-trip executions in results and metrics. It
	// is not a lending program and never reaches the position decoders.
	VenueArbitrage Protocol = "arbitrage"
)

// PositionRecord is a decoded snapshot of one borrower account in one
// lending program. Scaled values keep the program's fixed-point encoding;
// divide by the protocol scale before base-unit arithmetic.
type PositionRecord struct {
	Protocol           Protocol
	Address            solana.PublicKey
	Owner              solana.PublicKey
	Market             solana.PublicKey
	CollateralValue    *big.Int
	DebtValue          *big.Int
	UnhealthyThreshold *big.Int
	CollateralReserve  solana.PublicKey
	DebtReserve        solana.PublicKey
	CollateralAmount   uint64
	DebtAmount         *big.Int
}

// HasDebt reports whether the position has any outstanding borrow.
// A zero-debt position is never liquidatable regardless of thresholds.
func (p *PositionRecord) HasDebt() bool {
	return p.DebtValue != nil && p.DebtValue.Sign() > 0
}

// LiquidationOpportunity is an unhealthy position enriched with economics.
// EstimatedProfit is strictly positive for every record produced by the
// evaluator.
type LiquidationOpportunity struct {
	Protocol          Protocol
	Account           solana.PublicKey
	Owner             solana.PublicKey
	CollateralReserve solana.PublicKey
	DebtReserve       solana.PublicKey
	CollateralMint    solana.PublicKey
	DebtMint          solana.PublicKey
	HealthRatio       decimal.Decimal
	CollateralAmount  uint64
	DebtAmount        uint64
	MaxRepayableDebt  uint64
	BonusBps          uint16
	EstimatedProfit   int64
	ObservedAt        time.Time
}

// RouteHop is one leg of an arbitrage route: a venue label and the pool
// or AMM address quoted for that leg.
type RouteHop struct {
	Venue string
	Pool  solana.PublicKey
}

// ArbitrageOpportunity is a detected round-trip price discrepancy.
// ExpectedProfit already nets out the flash-loan fee and a fixed gas
// estimate; ProfitPercent is relative to AmountIn.
type ArbitrageOpportunity struct {
	TokenIn        solana.PublicKey
	TokenOut       solana.PublicKey
	AmountIn       uint64
	ExpectedProfit uint64
	ProfitPercent  float64
	Route          []RouteHop
	FlashLoanFee   uint64
}

// FlashLoanPlan carries every address and amount needed to emit one atomic
// flash-loan instruction sequence. BorrowIndex is the zero-based position of
// the borrow instruction within the final transaction; the repay instruction
// embeds it so the on-chain program can correlate the pair. Like every other
// entity here it is fixed at construction and never mutated.
type FlashLoanPlan struct {
	LendingMarket   solana.PublicKey
	MarketAuthority solana.PublicKey
	Reserve         solana.PublicKey
	LiquidityMint   solana.PublicKey
	LiquiditySupply solana.PublicKey
	FeeReceiver     solana.PublicKey
	UserLiquidity   solana.PublicKey
	Amount          uint64
	BorrowIndex     uint8
}

// ExecutionState enumerates the execution scheduler's per-attempt states.
type ExecutionState int

const (
	StateIdle ExecutionState = iota
	StateBuilding
	StateSimulating
	StateSubmitting
	StateConfirmed
	StateFailed
)

func (s ExecutionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateSimulating:
		return "simulating"
	case StateSubmitting:
		return "submitting"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ExecutionResult is the structured outcome of one execution attempt.
// Err is nil iff State is StateConfirmed. Signature is set only for live
// confirmed submissions; dry-run confirmations leave it empty.
type ExecutionResult struct {
	Protocol  Protocol
	State     ExecutionState
	Signature solana.Signature
	Profit    int64
	DryRun    bool
	Err       error
}

// Confirmed reports whether the attempt reached on-chain (or dry-run)
// confirmation.
func (r *ExecutionResult) Confirmed() bool {
	return r.State == StateConfirmed
}
