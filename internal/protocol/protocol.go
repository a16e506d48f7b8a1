// Package protocol decodes raw lending-program account layouts into typed
// position records. Offsets are an external, versioned contract: they mirror
// the programs' published state layouts and are isolated here so a schema
// drift requires updating one decode function per protocol, not call sites.
package protocol

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"

	"github.com/solmev/liquidator/pkg/types"
)

// Mainnet program and market identifiers.
var (
	KaminoProgramID  = solana.MustPublicKeyFromBase58("KLend2g3cP87fffoy8q1mQqGKjrxjC8boSyAYavgmjD")
	KaminoMainMarket = solana.MustPublicKeyFromBase58("7u3HeHxYDLhnCoErrtycNokbQYbWGzLs6JSDqGAv5PfF")

	MarginfiProgramID = solana.MustPublicKeyFromBase58("MFv2hWf31Z9kbCa1snEPYctwafyhdvnV7FZnsebVacA")
	MarginfiGroup     = solana.MustPublicKeyFromBase58("4qp6Fx6tnZkY5Wropq9wUYgtFxXKwE6viZxFHg3rdAG8")

	JupiterV6ProgramID = solana.MustPublicKeyFromBase58("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4")
)

// Common token mints.
var (
	SolMint  = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	UsdcMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	UsdtMint = solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")
)

// Scale constants dividing a protocol's scaled position values down to
// base units, and the liquidation bonus each program grants. Marginfi share
// integrals come out of the decoder already in base units, so its scale is 1.
const (
	KaminoValueScale   = 1_000_000
	MarginfiValueScale = 1
	KaminoBonusBps     = 500
	MarginfiBonusBps   = 250
)

// ValueScale returns the divisor converting a protocol's scaled values to
// base units.
func ValueScale(p types.Protocol) uint64 {
	if p == types.ProtocolKamino {
		return KaminoValueScale
	}
	return MarginfiValueScale
}

// BonusBps returns the liquidation bonus the protocol grants, in basis
// points.
func BonusBps(p types.Protocol) uint16 {
	if p == types.ProtocolKamino {
		return KaminoBonusBps
	}
	return MarginfiBonusBps
}

// RPC scan filters.
const (
	// Obligation accounts vary from ~1200 to 3000+ bytes across versions.
	KaminoObligationFilterSize = 1300
	// Marginfi accounts have a fixed size; the group key sits right after
	// the discriminator.
	MarginfiAccountSize       = 2304
	MarginfiGroupFilterOffset = 8
)

// Program returns the on-chain program id owning p's position accounts.
func Program(p types.Protocol) solana.PublicKey {
	if p == types.ProtocolKamino {
		return KaminoProgramID
	}
	return MarginfiProgramID
}

// ReserveMintFilterOffset locates the liquidity mint inside a reserve or
// bank account. Both layouts keep it at the same position, and it doubles as
// the memcmp offset for resolving a mint's reserve over RPC.
const ReserveMintFilterOffset = 40

// ReserveLiquidityMint extracts the liquidity mint from a raw reserve (or
// bank) account buffer.
func ReserveLiquidityMint(data []byte) (solana.PublicKey, error) {
	if len(data) < ReserveMintFilterOffset+32 {
		return solana.PublicKey{}, &types.DecodeError{Reason: "reserve buffer too short for liquidity mint"}
	}
	return solana.PublicKeyFromBytes(data[ReserveMintFilterOffset : ReserveMintFilterOffset+32]), nil
}

// anchorAccountDiscriminator returns sha256("account:<name>")[:8], the tag
// Anchor prepends to every account of that type.
func anchorAccountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// Decode dispatches a raw account buffer to the protocol's layout decoder.
func Decode(p types.Protocol, address solana.PublicKey, data []byte) (*types.PositionRecord, error) {
	switch p {
	case types.ProtocolKamino:
		return DecodeKaminoObligation(address, data)
	case types.ProtocolMarginfi:
		return DecodeMarginfiAccount(address, data)
	}
	return nil, &types.DecodeError{Protocol: p, Reason: "unsupported protocol"}
}
