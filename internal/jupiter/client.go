// Package jupiter talks to the Jupiter v6 quote/swap HTTP API. The swap
// payload comes back as a base64 transaction; we decode it only far enough
// to lift its instructions into our own flash-loan wrapper.
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/solmev/liquidator/pkg/types"
)

const defaultBaseURL = "https://quote-api.jup.ag/v6"

// QuoteResponse mirrors the v6 /quote response shape. Amounts are decimal
// strings per the API.
type QuoteResponse struct {
	InputMint            string      `json:"inputMint"`
	InAmount             string      `json:"inAmount"`
	OutputMint           string      `json:"outputMint"`
	OutAmount            string      `json:"outAmount"`
	OtherAmountThreshold string      `json:"otherAmountThreshold"`
	SwapMode             string      `json:"swapMode"`
	SlippageBps          int64       `json:"slippageBps"`
	PriceImpactPct       string      `json:"priceImpactPct"`
	RoutePlan            []RoutePlan `json:"routePlan"`
	ContextSlot          uint64      `json:"contextSlot,omitempty"`
}

type RoutePlan struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  uint8    `json:"percent"`
}

type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label,omitempty"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

type swapRequest struct {
	QuoteResponse                QuoteResponse `json:"quoteResponse"`
	UserPublicKey                string        `json:"userPublicKey"`
	WrapAndUnwrapSol             bool          `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit      bool          `json:"dynamicComputeUnitLimit"`
	PriorityLevelWithMaxLamports priorityLevel `json:"priorityLevelWithMaxLamports"`
}

type priorityLevel struct {
	PriorityLevel string `json:"priorityLevel"`
	MaxLamports   uint64 `json:"maxLamports"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight,omitempty"`
}

// Client is the aggregator HTTP client.
type Client struct {
	http    *http.Client
	baseURL string
	log     zerolog.Logger
}

type Option func(*Client)

// WithBaseURL overrides the API endpoint, used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func New(log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: defaultBaseURL,
		log:     log.With().Str("component", "jupiter").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetQuote fetches a one-leg swap quote.
func (c *Client) GetQuote(ctx context.Context, input, output solana.PublicKey, amount uint64, slippageBps int64) (*QuoteResponse, error) {
	q := url.Values{}
	q.Set("inputMint", input.String())
	q.Set("outputMint", output.String())
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.FormatInt(slippageBps, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var quote QuoteResponse
	if err := c.do(req, &quote); err != nil {
		return nil, fmt.Errorf("jupiter quote: %w", err)
	}
	return &quote, nil
}

// Quote satisfies the evaluator's quoting collaborator: it returns the
// parsed out amount and route legs for one direction.
func (c *Client) Quote(ctx context.Context, input, output solana.PublicKey, amount uint64, slippageBps int64) (uint64, []types.RouteHop, error) {
	quote, err := c.GetQuote(ctx, input, output, amount, slippageBps)
	if err != nil {
		return 0, nil, err
	}
	out, err := strconv.ParseUint(quote.OutAmount, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("jupiter quote: bad outAmount %q: %w", quote.OutAmount, err)
	}

	route := make([]types.RouteHop, 0, len(quote.RoutePlan))
	for _, leg := range quote.RoutePlan {
		hop := types.RouteHop{Venue: leg.SwapInfo.Label}
		if pool, err := solana.PublicKeyFromBase58(leg.SwapInfo.AmmKey); err == nil {
			hop.Pool = pool
		}
		route = append(route, hop)
	}
	return out, route, nil
}

// GetSwapTransaction asks the aggregator to build the swap transaction for
// a quote, with a low priority-fee ceiling.
func (c *Client) GetSwapTransaction(ctx context.Context, quote *QuoteResponse, user solana.PublicKey) (*solana.Transaction, error) {
	body := swapRequest{
		QuoteResponse:           *quote,
		UserPublicKey:           user.String(),
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
		PriorityLevelWithMaxLamports: priorityLevel{
			PriorityLevel: "low",
			MaxLamports:   5000,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp swapResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("jupiter swap: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("jupiter swap: decode payload: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("jupiter swap: parse transaction: %w", err)
	}
	return tx, nil
}

// RoundTripInstructions builds both swap legs of a round trip and flattens
// their instructions into one list ready for flash-loan wrapping. The second
// leg is quoted off the first leg's out amount, the same sizing the
// opportunity was priced with.
func (c *Client) RoundTripInstructions(ctx context.Context, tokenIn, tokenOut solana.PublicKey, amountIn uint64, slippageBps int64, user solana.PublicKey) ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, 4)
	amount := amountIn
	for _, leg := range [][2]solana.PublicKey{{tokenIn, tokenOut}, {tokenOut, tokenIn}} {
		quote, err := c.GetQuote(ctx, leg[0], leg[1], amount, slippageBps)
		if err != nil {
			return nil, err
		}
		tx, err := c.GetSwapTransaction(ctx, quote, user)
		if err != nil {
			return nil, err
		}
		ixs, err := ExtractInstructions(tx)
		if err != nil {
			return nil, err
		}
		out = append(out, ixs...)

		amount, err = strconv.ParseUint(quote.OutAmount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("jupiter quote: bad outAmount %q: %w", quote.OutAmount, err)
		}
	}
	return out, nil
}

// ExtractInstructions lifts the swap instructions out of an aggregator-built
// transaction so they can be re-wrapped in a flash-loan sequence.
// Compute-budget entries are dropped; the wrapper supplies its own prelude.
func ExtractInstructions(tx *solana.Transaction) ([]solana.Instruction, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}
	msg := tx.Message
	numKeys := len(msg.AccountKeys)
	numSigners := int(msg.Header.NumRequiredSignatures)
	roSigned := int(msg.Header.NumReadonlySignedAccounts)
	roUnsigned := int(msg.Header.NumReadonlyUnsignedAccounts)

	out := make([]solana.Instruction, 0, len(msg.Instructions))
	for _, compiled := range msg.Instructions {
		program, err := msg.Program(compiled.ProgramIDIndex)
		if err != nil {
			return nil, fmt.Errorf("resolve program index %d: %w", compiled.ProgramIDIndex, err)
		}
		if program.Equals(solana.ComputeBudget) {
			continue
		}

		metas := make(solana.AccountMetaSlice, 0, len(compiled.Accounts))
		for _, accIdx := range compiled.Accounts {
			key, err := msg.Account(accIdx)
			if err != nil {
				return nil, fmt.Errorf("resolve account index %d: %w", accIdx, err)
			}
			idx := int(accIdx)
			signer := idx < numSigners
			writable := (signer && idx < numSigners-roSigned) ||
				(!signer && idx < numKeys-roUnsigned)
			metas = append(metas, solana.NewAccountMeta(key, writable, signer))
		}
		out = append(out, solana.NewInstruction(program, metas, compiled.Data))
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
