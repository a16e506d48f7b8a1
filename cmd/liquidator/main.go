// Command liquidator runs the lending-protocol liquidation engine.
//
// Subcommands:
//
//	start [--dry-run]  run the scan/execute loop (default)
//	scan               one discovery pass, print opportunities, exit
//	test               verify config, wallet, RPC and aggregator reachability
//	config             print the resolved configuration with secrets masked
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/solmev/liquidator/internal/chain"
	"github.com/solmev/liquidator/internal/config"
	"github.com/solmev/liquidator/internal/evaluate"
	"github.com/solmev/liquidator/internal/executor"
	"github.com/solmev/liquidator/internal/jupiter"
	"github.com/solmev/liquidator/internal/metrics"
	"github.com/solmev/liquidator/internal/protocol"
	"github.com/solmev/liquidator/internal/scan"
	"github.com/solmev/liquidator/pkg/types"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	command := "start"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("configuration invalid")
		return 1
	}
	if level, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil {
		log = log.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "start":
		fs := flag.NewFlagSet("start", flag.ContinueOnError)
		dryRun := fs.Bool("dry-run", false, "force dry-run mode regardless of DRY_RUN")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		if *dryRun {
			cfg.Trade.DryRun = true
		}
		if err := startBot(ctx, cfg, log); err != nil {
			log.Error().Err(err).Msg("bot stopped with error")
			return 1
		}
		return 0
	case "scan":
		if err := scanOnce(ctx, cfg, log); err != nil {
			log.Error().Err(err).Msg("scan failed")
			return 1
		}
		return 0
	case "test":
		if err := testSetup(ctx, cfg, log); err != nil {
			log.Error().Err(err).Msg("setup test failed")
			return 1
		}
		return 0
	case "config":
		showConfig(cfg)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want start, scan, test or config)\n", command)
		return 2
	}
}

// engine bundles the wired components one subcommand needs.
type engine struct {
	client      *chain.Client
	orch        *scan.Orchestrator
	exec        *executor.Executor
	quoter      *jupiter.Client
	registry    *prometheus.Registry
	wallet      solana.PublicKey
	slippageBps int64
}

func buildEngine(cfg *config.Config, log zerolog.Logger) (*engine, error) {
	keypair, err := cfg.Wallet.Keypair()
	if err != nil {
		return nil, err
	}
	protocols, err := cfg.Scan.EnabledProtocols()
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	client := chain.New(chain.Config{
		Endpoint:   cfg.RPC.Endpoint(),
		Timeout:    cfg.RPC.Timeout,
		MaxRetries: cfg.RPC.MaxRetries,
		Limiter:    chain.NewLimiter(cfg.Scan.RPS),
	}, log)

	eval := evaluate.New(evaluate.Config{SlippageBps: cfg.Trade.MaxSlippageBps}, log)
	orch := scan.New(scan.Config{
		Protocols: protocols,
		MinProfit: cfg.Trade.MinProfitThreshold,
		BatchSize: cfg.Scan.BatchSize,
	}, client, eval, m, log)

	return &engine{
		client:      client,
		orch:        orch,
		exec:        executor.New(executor.Config{DryRun: cfg.Trade.DryRun}, client, keypair, m, log),
		quoter:      jupiter.New(log),
		registry:    registry,
		wallet:      keypair.PublicKey(),
		slippageBps: cfg.Trade.MaxSlippageBps,
	}, nil
}

func startBot(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	eng, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}

	if err := eng.client.Health(ctx); err != nil {
		return err
	}
	balance, err := eng.client.Balance(ctx, eng.wallet)
	if err != nil {
		return err
	}
	log.Info().
		Str("wallet", eng.wallet.String()).
		Uint64("balance_lamports", balance).
		Bool("dry_run", cfg.Trade.DryRun).
		Dur("poll_interval", cfg.Scan.PollInterval).
		Msg("liquidator started")
	if balance < 10_000_000 {
		log.Warn().Uint64("balance", balance).Msg("wallet balance below 0.01 SOL")
	}

	srv := metrics.NewServer(cfg.App.MetricsAddr, eng.registry, log)
	srv.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(shutdownCtx)
	}()

	ticker := time.NewTicker(cfg.Scan.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return nil
		case <-ticker.C:
			eng.cycle(ctx, log)
		}
	}
}

// cycle runs one scan pass and offers every opportunity to the executor in
// profit order. A busy guard bounce leaves the opportunity for the next
// cycle.
func (e *engine) cycle(ctx context.Context, log zerolog.Logger) {
	opportunities, err := e.orch.Scan(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scan cycle failed")
		return
	}
	if len(opportunities) == 0 {
		log.Debug().Msg("no liquidation opportunities")
	}

	for _, opp := range opportunities {
		opp := opp
		result, err := e.exec.Execute(ctx, opp.Protocol, opp.EstimatedProfit, func(context.Context) ([]solana.Instruction, error) {
			return executor.BuildLiquidation(e.wallet, opp)
		})
		if err != nil {
			log.Warn().Err(err).Str("account", opp.Account.String()).Msg("execution not attempted")
			continue
		}
		if result.Confirmed() && !result.DryRun {
			log.Info().Str("signature", result.Signature.String()).Msg("liquidation landed")
		}
	}

	arbs, err := e.orch.ScanArbitrage(ctx, e.quoter)
	if err != nil {
		log.Debug().Err(err).Msg("arbitrage scan failed")
		return
	}
	for _, arb := range arbs {
		arb := arb
		log.Info().
			Str("token_in", arb.TokenIn.String()).
			Uint64("amount_in", arb.AmountIn).
			Uint64("expected_profit", arb.ExpectedProfit).
			Float64("profit_percent", arb.ProfitPercent).
			Msg("arbitrage opportunity")

		reserve, err := e.orch.ReserveForMint(ctx, arb.TokenIn)
		if err != nil {
			log.Warn().Err(err).Str("mint", arb.TokenIn.String()).Msg("no flash-loan reserve for pair")
			continue
		}
		result, err := e.exec.Execute(ctx, types.VenueArbitrage, int64(arb.ExpectedProfit), func(ctx context.Context) ([]solana.Instruction, error) {
			swaps, err := e.quoter.RoundTripInstructions(ctx, arb.TokenIn, arb.TokenOut, arb.AmountIn, e.slippageBps, e.wallet)
			if err != nil {
				return nil, err
			}
			return executor.BuildArbitrage(e.wallet, arb, reserve, swaps)
		})
		if err != nil {
			log.Warn().Err(err).Str("token_in", arb.TokenIn.String()).Msg("arbitrage not attempted")
			continue
		}
		if result.Confirmed() && !result.DryRun {
			log.Info().Str("signature", result.Signature.String()).Msg("arbitrage landed")
		}
	}
}

func scanOnce(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	eng, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}

	opportunities, err := eng.orch.Scan(ctx)
	if err != nil {
		return err
	}
	if len(opportunities) == 0 {
		log.Info().Msg("no liquidatable positions")
		return nil
	}

	sort.Slice(opportunities, func(a, b int) bool {
		return opportunities[a].EstimatedProfit > opportunities[b].EstimatedProfit
	})
	for i, opp := range opportunities {
		fmt.Printf("%d. %-9s %s\n", i+1, opp.Protocol, opp.Account)
		fmt.Printf("   health: %s\n", opp.HealthRatio)
		fmt.Printf("   profit: %d base units\n", opp.EstimatedProfit)
	}
	return nil
}

func testSetup(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	keypair, err := cfg.Wallet.Keypair()
	if err != nil {
		return err
	}
	log.Info().Str("wallet", keypair.PublicKey().String()).Msg("wallet key OK")

	eng, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	if err := eng.client.Health(ctx); err != nil {
		return err
	}
	log.Info().Msg("RPC connection OK")

	balance, err := eng.client.Balance(ctx, eng.wallet)
	if err != nil {
		return err
	}
	log.Info().Uint64("balance_lamports", balance).Msg("balance OK")

	if _, err := eng.quoter.GetQuote(ctx, protocol.SolMint, protocol.UsdcMint, 1_000_000_000, 50); err != nil {
		return fmt.Errorf("jupiter API unreachable: %w", err)
	}
	log.Info().Msg("jupiter API OK")

	log.Info().Msg("all checks passed")
	return nil
}

func showConfig(cfg *config.Config) {
	view := cfg.Redacted()
	keys := make([]string, 0, len(view))
	for k := range view {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-22s %s\n", k, view[k])
	}
}
