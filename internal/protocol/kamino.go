package protocol

import (
	"encoding/binary"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/solmev/liquidator/pkg/types"
)

// Obligation layout, approximate Anchor encoding of the klend state:
//
//	[0..8]    discriminator
//	[8..16]   last_update slot (u64)
//	[16..24]  last_update stale flag + padding
//	[24..56]  lending_market
//	[56..88]  owner
//	[88..104]  deposited_value_sf (u128)
//	[104..120] borrowed_assets_market_value_sf (u128)
//	[120..136] allowed_borrow_value_sf (u128)
//	[136..152] unhealthy_borrow_value_sf (u128)
//	deposits array from ~200 (reserve pubkey + u64 amount, ~80-byte stride)
//	borrows array from ~850 (reserve pubkey + u128 amount_sf, ~96-byte stride)
const (
	kaminoMinSize = 500

	kaminoMarketOffset    = 24
	kaminoOwnerOffset     = 56
	kaminoDepositedOffset = 88
	kaminoBorrowedOffset  = 104
	kaminoUnhealthyOffset = 136

	kaminoDepositsStart = 200
	kaminoDepositStride = 80
	kaminoBorrowsStart  = 850
	kaminoBorrowStride  = 96
	kaminoMaxSubRecords = 8
)

var kaminoObligationDiscriminator = anchorAccountDiscriminator("Obligation")

// DecodeKaminoObligation reconstructs a position record from a raw klend
// Obligation account. Decoding is best-effort: the discriminator is checked
// as a diagnostic only, since minor program upgrades are known to shift it
// while leaving the value fields in place.
func DecodeKaminoObligation(address solana.PublicKey, data []byte) (*types.PositionRecord, error) {
	if len(data) < kaminoMinSize {
		return nil, &types.DecodeError{Protocol: types.ProtocolKamino, Reason: "account data below minimum obligation size"}
	}

	if [8]byte(data[:8]) != kaminoObligationDiscriminator {
		log.Debug().
			Str("account", address.String()).
			Hex("discriminator", data[:8]).
			Msg("Non-standard obligation discriminator, decoding anyway")
	}

	rec := &types.PositionRecord{
		Protocol:           types.ProtocolKamino,
		Address:            address,
		Market:             solana.PublicKeyFromBytes(data[kaminoMarketOffset : kaminoMarketOffset+32]),
		Owner:              solana.PublicKeyFromBytes(data[kaminoOwnerOffset : kaminoOwnerOffset+32]),
		CollateralValue:    readU128(data, kaminoDepositedOffset),
		DebtValue:          readU128(data, kaminoBorrowedOffset),
		UnhealthyThreshold: readU128(data, kaminoUnhealthyOffset),
		DebtAmount:         new(big.Int),
	}

	// First active deposit entry: stop at the first non-default reserve.
	for i := 0; i < kaminoMaxSubRecords; i++ {
		off := kaminoDepositsStart + i*kaminoDepositStride
		if off+40 > len(data) {
			break
		}
		reserve := solana.PublicKeyFromBytes(data[off : off+32])
		if reserve.IsZero() {
			continue
		}
		rec.CollateralReserve = reserve
		rec.CollateralAmount = binary.LittleEndian.Uint64(data[off+32 : off+40])
		break
	}

	// First active borrow entry.
	for i := 0; i < kaminoMaxSubRecords; i++ {
		off := kaminoBorrowsStart + i*kaminoBorrowStride
		if off+48 > len(data) {
			break
		}
		reserve := solana.PublicKeyFromBytes(data[off : off+32])
		if reserve.IsZero() {
			continue
		}
		rec.DebtReserve = reserve
		rec.DebtAmount = readU128(data, off+32)
		break
	}

	return rec, nil
}

// readU128 interprets 16 little-endian bytes at off as an unsigned 128-bit
// integer. Callers guarantee off+16 <= len(data).
func readU128(data []byte, off int) *big.Int {
	lo := binary.LittleEndian.Uint64(data[off : off+8])
	hi := binary.LittleEndian.Uint64(data[off+8 : off+16])
	out := new(big.Int).SetUint64(hi)
	out.Lsh(out, 64)
	return out.Or(out, new(big.Int).SetUint64(lo))
}
