// Package chain wraps the Solana JSON-RPC surface the engine depends on:
// filtered program-account fetches, balance and health queries, blockhash
// lookup, simulation, and submit-and-confirm. Everything takes a context and
// honors a per-call timeout.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/solmev/liquidator/pkg/types"
)

// Filter narrows a program-account scan: an exact data size plus an
// optional offset byte match.
type Filter struct {
	DataSize     uint64
	MemcmpOffset uint64
	MemcmpBytes  []byte
}

// KeyedAccount pairs an address with its raw account data.
type KeyedAccount struct {
	Pubkey solana.PublicKey
	Data   []byte
}

type Config struct {
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
	// Limiter throttles the scan-path calls (program-account and account
	// fetches). Every attempt draws a slot, retries included, so the
	// provider ceiling holds even during a retry storm.
	Limiter *Limiter
}

// Client is a thin, retrying wrapper over the provider RPC.
type Client struct {
	rpc        *rpc.Client
	timeout    time.Duration
	maxRetries int
	limiter    *Limiter
	log        zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		rpc:        rpc.New(cfg.Endpoint),
		timeout:    timeout,
		maxRetries: cfg.MaxRetries,
		limiter:    cfg.Limiter,
		log:        log.With().Str("component", "chain").Logger(),
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// ProgramAccounts fetches all accounts owned by program matching the filter.
func (c *Client) ProgramAccounts(ctx context.Context, program solana.PublicKey, filter Filter) ([]KeyedAccount, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filters := make([]rpc.RPCFilter, 0, 2)
	if filter.DataSize > 0 {
		filters = append(filters, rpc.RPCFilter{DataSize: filter.DataSize})
	}
	if len(filter.MemcmpBytes) > 0 {
		filters = append(filters, rpc.RPCFilter{
			Memcmp: &rpc.RPCFilterMemcmp{
				Offset: filter.MemcmpOffset,
				Bytes:  solana.Base58(filter.MemcmpBytes),
			},
		})
	}

	var out []KeyedAccount
	err := c.retry(ctx, "getProgramAccounts", func() error {
		resp, err := c.rpc.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
			Commitment: rpc.CommitmentConfirmed,
			Filters:    filters,
		})
		if err != nil {
			return err
		}
		out = out[:0]
		for _, item := range resp {
			if item == nil || item.Account == nil {
				continue
			}
			out = append(out, KeyedAccount{Pubkey: item.Pubkey, Data: item.Account.Data.GetBinary()})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getProgramAccounts %s: %w", program, err)
	}
	return out, nil
}

// AccountData fetches one account's raw bytes.
func (c *Client) AccountData(ctx context.Context, key solana.PublicKey) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var data []byte
	err := c.retry(ctx, "getAccountInfo", func() error {
		resp, err := c.rpc.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{Commitment: rpc.CommitmentConfirmed})
		if err != nil {
			return err
		}
		if resp.Value == nil {
			return fmt.Errorf("account %s not found", key)
		}
		data = resp.Value.Data.GetBinary()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Balance returns the lamport balance of key. Not rate limited; scan
// throttling applies only to the scanning pipeline.
func (c *Client) Balance(ctx context.Context, key solana.PublicKey) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.rpc.GetBalance(ctx, key, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getBalance %s: %w", key, err)
	}
	return resp.Value, nil
}

// Health checks the provider node.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	status, err := c.rpc.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("getHealth: %w", err)
	}
	if status != rpc.HealthOk {
		return fmt.Errorf("rpc node unhealthy: %s", status)
	}
	return nil
}

// LatestBlockhash fetches a recent blockhash for transaction assembly.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	return resp.Value.Blockhash, nil
}

// Simulate runs the transaction against current state without broadcasting.
// A program-level rejection surfaces as SimulationRejected with the node's
// logs attached.
func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return fmt.Errorf("simulateTransaction: %w", err)
	}
	if resp.Value != nil && resp.Value.Err != nil {
		return &types.SimulationRejected{
			Reason: fmt.Sprintf("%v", resp.Value.Err),
			Logs:   resp.Value.Logs,
		}
	}
	return nil
}

// SendAndConfirm broadcasts the signed transaction and polls signature
// status until confirmed, the context expires, or the node reports failure.
func (c *Client) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sendCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	sig, err := c.rpc.SendTransactionWithOpts(sendCtx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, &types.SubmissionError{Stage: "send", Err: err}
	}
	c.log.Debug().Str("signature", sig.String()).Msg("transaction sent")

	if err := c.waitForConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func (c *Client) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(700 * time.Millisecond)
	defer ticker.Stop()

	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return &types.SubmissionError{Stage: "confirm", Err: ctx.Err()}
		case <-deadline.C:
			return &types.SubmissionError{Stage: "confirm", Err: fmt.Errorf("confirmation timed out for %s", sig)}
		case <-ticker.C:
			resp, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil || len(resp.Value) == 0 || resp.Value[0] == nil {
				continue
			}
			status := resp.Value[0]
			if status.Err != nil {
				return &types.SubmissionError{Stage: "confirm", Err: fmt.Errorf("transaction failed on chain: %v", status.Err)}
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}
