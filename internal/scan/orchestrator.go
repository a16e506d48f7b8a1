// Package scan drives the discovery pipeline: one goroutine per enabled
// protocol fetches and decodes position accounts under a shared rate limit,
// the evaluator prices what survives, and results come back ranked by
// estimated profit.
package scan

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/solmev/liquidator/internal/chain"
	"github.com/solmev/liquidator/internal/evaluate"
	"github.com/solmev/liquidator/internal/metrics"
	"github.com/solmev/liquidator/internal/protocol"
	"github.com/solmev/liquidator/pkg/types"
)

// Fetcher is the RPC surface the scanner needs.
type Fetcher interface {
	ProgramAccounts(ctx context.Context, program solana.PublicKey, filter chain.Filter) ([]chain.KeyedAccount, error)
	AccountData(ctx context.Context, key solana.PublicKey) ([]byte, error)
}

type Config struct {
	Protocols []types.Protocol
	MinProfit int64
	BatchSize int
}

type Orchestrator struct {
	cfg     Config
	fetcher Fetcher
	eval    *evaluate.Evaluator
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu       sync.Mutex
	reserves map[solana.PublicKey]solana.PublicKey
}

// New wires a scan orchestrator. Rate limiting lives inside the fetcher, so
// every outbound call the scan makes, retries included, shares one ceiling.
func New(cfg Config, fetcher Fetcher, eval *evaluate.Evaluator, m *metrics.Metrics, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		fetcher:  fetcher,
		eval:     eval,
		metrics:  m,
		log:      log.With().Str("component", "scan").Logger(),
		reserves: make(map[solana.PublicKey]solana.PublicKey),
	}
}

type protocolResult struct {
	opportunities []*types.LiquidationOpportunity
	decoded       int
	failed        int
	err           error
}

// Scan runs one discovery cycle across all enabled protocols in parallel
// and returns opportunities sorted by descending estimated profit. A panic
// or RPC failure in one protocol's scan never takes down the others.
func (o *Orchestrator) Scan(ctx context.Context) ([]*types.LiquidationOpportunity, error) {
	results := make([]protocolResult, len(o.cfg.Protocols))

	var wg sync.WaitGroup
	for i, proto := range o.cfg.Protocols {
		wg.Add(1)
		go func(i int, proto types.Protocol) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i].err = fmt.Errorf("%s scan panicked: %v", proto, r)
				}
			}()
			results[i] = o.scanProtocol(ctx, proto)
		}(i, proto)
	}
	wg.Wait()

	var out []*types.LiquidationOpportunity
	var firstErr error
	for i, proto := range o.cfg.Protocols {
		res := results[i]
		if res.err != nil {
			o.log.Error().Err(res.err).Str("protocol", string(proto)).Msg("protocol scan failed")
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		out = append(out, res.opportunities...)
	}

	sort.Slice(out, func(a, b int) bool {
		return out[a].EstimatedProfit > out[b].EstimatedProfit
	})

	if o.metrics != nil {
		o.metrics.ScansTotal.Inc()
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (o *Orchestrator) scanProtocol(ctx context.Context, proto types.Protocol) protocolResult {
	var res protocolResult

	accounts, err := o.fetcher.ProgramAccounts(ctx, protocol.Program(proto), scanFilter(proto))
	if err != nil {
		res.err = err
		return res
	}
	if o.cfg.BatchSize > 0 && len(accounts) > o.cfg.BatchSize {
		// Bound per-cycle work; the rest is picked up next cycle.
		accounts = accounts[:o.cfg.BatchSize]
	}

	for _, acc := range accounts {
		rec, err := protocol.Decode(proto, acc.Pubkey, acc.Data)
		if err != nil {
			res.failed++
			continue
		}
		res.decoded++

		opp, ok := o.eval.Liquidation(rec)
		if !ok || opp.EstimatedProfit < o.cfg.MinProfit {
			continue
		}
		o.enrichMints(ctx, opp)
		res.opportunities = append(res.opportunities, opp)
		if o.metrics != nil {
			o.metrics.OpportunitiesFound.WithLabelValues(string(proto)).Inc()
		}
	}

	if o.metrics != nil {
		o.metrics.AccountsDecoded.Add(float64(res.decoded))
		o.metrics.DecodeFailures.Add(float64(res.failed))
	}
	o.log.Info().
		Str("protocol", string(proto)).
		Int("accounts", len(accounts)).
		Int("decoded", res.decoded).
		Int("decode_failures", res.failed).
		Int("opportunities", len(res.opportunities)).
		Msg("protocol scan complete")
	return res
}

func scanFilter(proto types.Protocol) chain.Filter {
	if proto == types.ProtocolKamino {
		return chain.Filter{DataSize: protocol.KaminoObligationFilterSize}
	}
	return chain.Filter{
		DataSize:     protocol.MarginfiAccountSize,
		MemcmpOffset: protocol.MarginfiGroupFilterOffset,
		MemcmpBytes:  protocol.MarginfiGroup.Bytes(),
	}
}

// enrichMints resolves the collateral and debt reserve mints. Failure only
// leaves the mint fields zero; the opportunity still stands.
func (o *Orchestrator) enrichMints(ctx context.Context, opp *types.LiquidationOpportunity) {
	for _, pair := range []struct {
		reserve solana.PublicKey
		dest    *solana.PublicKey
	}{
		{opp.DebtReserve, &opp.DebtMint},
		{opp.CollateralReserve, &opp.CollateralMint},
	} {
		if pair.reserve.IsZero() {
			continue
		}
		data, err := o.fetcher.AccountData(ctx, pair.reserve)
		if err != nil {
			o.log.Debug().Err(err).Str("reserve", pair.reserve.String()).Msg("reserve fetch failed")
			continue
		}
		mint, err := protocol.ReserveLiquidityMint(data)
		if err != nil {
			continue
		}
		*pair.dest = mint
	}
}

// ReserveForMint resolves the lending reserve whose liquidity is denominated
// in mint; it is the flash-loan source for a round trip starting in that
// token. Lookups hit the chain once per mint and are cached for the process
// lifetime, since reserve addresses never move.
func (o *Orchestrator) ReserveForMint(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, error) {
	o.mu.Lock()
	reserve, ok := o.reserves[mint]
	o.mu.Unlock()
	if ok {
		return reserve, nil
	}

	accounts, err := o.fetcher.ProgramAccounts(ctx, protocol.KaminoProgramID, chain.Filter{
		MemcmpOffset: protocol.ReserveMintFilterOffset,
		MemcmpBytes:  mint.Bytes(),
	})
	if err != nil {
		return solana.PublicKey{}, err
	}
	if len(accounts) == 0 {
		return solana.PublicKey{}, fmt.Errorf("no reserve holds mint %s", mint)
	}

	reserve = accounts[0].Pubkey
	o.mu.Lock()
	o.reserves[mint] = reserve
	o.mu.Unlock()
	return reserve, nil
}

// arbPairs is the fixed round-trip menu.
var arbPairs = [][2]solana.PublicKey{
	{protocol.UsdcMint, protocol.SolMint},
	{protocol.UsdcMint, protocol.UsdtMint},
	{protocol.SolMint, protocol.UsdtMint},
}

// ScanArbitrage probes the token menu for round-trip discrepancies. Quote
// failures on one pair are logged and skipped.
func (o *Orchestrator) ScanArbitrage(ctx context.Context, quoter evaluate.Quoter) ([]*types.ArbitrageOpportunity, error) {
	var out []*types.ArbitrageOpportunity
	for _, pair := range arbPairs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		opp, ok, err := o.eval.BestRoundTrip(ctx, quoter, pair[0], pair[1])
		if err != nil {
			o.log.Warn().Err(err).
				Str("token_in", pair[0].String()).
				Str("token_out", pair[1].String()).
				Msg("round-trip quote failed")
			continue
		}
		if ok {
			out = append(out, opp)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].ExpectedProfit > out[b].ExpectedProfit
	})
	return out, nil
}
