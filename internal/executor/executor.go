// Package executor turns an approved opportunity into at most one in-flight
// transaction. A process-wide guard rejects concurrent attempts immediately;
// dry-run mode short-circuits before any chain I/O.
package executor

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/solmev/liquidator/internal/metrics"
	"github.com/solmev/liquidator/pkg/types"
)

// Chain is the RPC surface an execution attempt needs.
type Chain interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	Simulate(ctx context.Context, tx *solana.Transaction) error
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Balance(ctx context.Context, key solana.PublicKey) (uint64, error)
}

// Builder assembles the instruction sequence for one attempt. It runs only
// after the guard is held and dry-run is ruled out.
type Builder func(ctx context.Context) ([]solana.Instruction, error)

type Config struct {
	DryRun bool
}

type Executor struct {
	chain   Chain
	signer  solana.PrivateKey
	dryRun  bool
	metrics *metrics.Metrics
	log     zerolog.Logger

	busy atomic.Bool
}

func New(cfg Config, chain Chain, signer solana.PrivateKey, m *metrics.Metrics, log zerolog.Logger) *Executor {
	return &Executor{
		chain:   chain,
		signer:  signer,
		dryRun:  cfg.DryRun,
		metrics: m,
		log:     log.With().Str("component", "executor").Logger(),
	}
}

// Execute runs one attempt for the given opportunity economics. When another
// attempt is in flight it returns types.ErrBusy without queueing; the caller
// retries on a later scan cycle. Every other outcome is reported as an
// ExecutionResult whose Err mirrors the failure.
func (e *Executor) Execute(ctx context.Context, protocol types.Protocol, estimatedProfit int64, build Builder) (*types.ExecutionResult, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, types.ErrBusy
	}
	defer e.busy.Store(false)

	result := &types.ExecutionResult{
		Protocol: protocol,
		State:    types.StateBuilding,
		Profit:   estimatedProfit,
		DryRun:   e.dryRun,
	}

	if e.dryRun {
		// No chain I/O at all: synthetic confirmation with the estimate
		// passed through and no signature.
		result.State = types.StateConfirmed
		e.record(result)
		e.log.Info().
			Str("protocol", string(protocol)).
			Int64("estimated_profit", estimatedProfit).
			Msg("dry run: execution skipped")
		return result, nil
	}

	instructions, err := build(ctx)
	if err != nil {
		return e.fail(result, err), nil
	}

	blockhash, err := e.chain.LatestBlockhash(ctx)
	if err != nil {
		return e.fail(result, err), nil
	}
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(e.signer.PublicKey()))
	if err != nil {
		return e.fail(result, err), nil
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if e.signer.PublicKey().Equals(key) {
			return &e.signer
		}
		return nil
	}); err != nil {
		return e.fail(result, err), nil
	}

	result.State = types.StateSimulating
	if err := e.chain.Simulate(ctx, tx); err != nil {
		return e.fail(result, err), nil
	}

	balanceBefore, balanceErr := e.chain.Balance(ctx, e.signer.PublicKey())

	result.State = types.StateSubmitting
	sig, err := e.chain.SendAndConfirm(ctx, tx)
	if err != nil {
		return e.fail(result, err), nil
	}

	result.State = types.StateConfirmed
	result.Signature = sig
	e.record(result)

	log := e.log.Info().
		Str("protocol", string(protocol)).
		Str("signature", sig.String()).
		Int64("estimated_profit", estimatedProfit)
	if balanceErr == nil {
		if after, err := e.chain.Balance(ctx, e.signer.PublicKey()); err == nil {
			log = log.Int64("balance_delta", int64(after)-int64(balanceBefore))
			if e.metrics != nil {
				e.metrics.WalletBalance.Set(float64(after))
			}
		}
	}
	log.Msg("execution confirmed")
	return result, nil
}

func (e *Executor) fail(result *types.ExecutionResult, err error) *types.ExecutionResult {
	result.Err = err
	stage := result.State
	result.State = types.StateFailed
	e.record(result)

	event := e.log.Error().Err(err).
		Str("protocol", string(result.Protocol)).
		Str("stage", stage.String())
	var rejected *types.SimulationRejected
	if errors.As(err, &rejected) {
		// Surface the on-chain rejection reason rather than swallowing it;
		// nothing was broadcast and no funds moved.
		event = event.Str("reason", rejected.Reason).Strs("logs", rejected.Logs)
	}
	event.Msg("execution failed")
	return result
}

func (e *Executor) record(result *types.ExecutionResult) {
	if e.metrics == nil {
		return
	}
	status := "failed"
	if result.Confirmed() {
		status = "confirmed"
		if result.DryRun {
			status = "dry_run"
		} else if result.Profit > 0 {
			e.metrics.ProfitBaseUnits.Add(float64(result.Profit))
		}
	}
	e.metrics.ExecutionsTotal.WithLabelValues(string(result.Protocol), status).Inc()
}
