package protocol

import (
	"encoding/binary"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/solmev/liquidator/pkg/types"
)

// MarginfiAccount layout:
//
//	[0..8]   discriminator
//	[8..40]  group
//	[40..72] authority
//	[72..]   lending_account: 16 balance sub-records, 97 bytes each:
//	         active (u8), bank_pk (32), asset_shares (16),
//	         liability_shares (16), emissions_outstanding (16),
//	         last_update (u64), padding (u64)
//
// Share values are 128-bit fixed-point; the signed integral part occupies
// the first eight bytes and is already expressed in token base units.
const (
	marginfiMinSize = MarginfiAccountSize

	marginfiAuthorityOffset = 40
	marginfiBalancesStart   = 72
	marginfiBalanceStride   = 97
	marginfiMaxBalances     = 16

	marginfiAssetSharesOffset = 33 // within one balance record
	marginfiLiabSharesOffset  = 49
)

var marginfiAccountDiscriminator = anchorAccountDiscriminator("MarginfiAccount")

// DecodeMarginfiAccount reconstructs a position record from a raw marginfi
// v2 account. Asset and liability shares are summed across active balances;
// the unhealthy threshold is the total asset value, so health compares
// assets against liabilities directly.
func DecodeMarginfiAccount(address solana.PublicKey, data []byte) (*types.PositionRecord, error) {
	if len(data) < marginfiMinSize {
		return nil, &types.DecodeError{Protocol: types.ProtocolMarginfi, Reason: "account data below marginfi account size"}
	}

	if [8]byte(data[:8]) != marginfiAccountDiscriminator {
		log.Debug().
			Str("account", address.String()).
			Hex("discriminator", data[:8]).
			Msg("Non-standard marginfi discriminator, decoding anyway")
	}

	rec := &types.PositionRecord{
		Protocol: types.ProtocolMarginfi,
		Address:  address,
		Market:   solana.PublicKeyFromBytes(data[MarginfiGroupFilterOffset : MarginfiGroupFilterOffset+32]),
		Owner:    solana.PublicKeyFromBytes(data[marginfiAuthorityOffset : marginfiAuthorityOffset+32]),
	}

	totalAssets := new(big.Int)
	totalLiabs := new(big.Int)

	for i := 0; i < marginfiMaxBalances; i++ {
		off := marginfiBalancesStart + i*marginfiBalanceStride
		if off+marginfiBalanceStride > len(data) {
			break
		}
		if data[off] == 0 { // inactive balance slot
			continue
		}
		bank := solana.PublicKeyFromBytes(data[off+1 : off+33])

		assets := shareIntegral(data, off+marginfiAssetSharesOffset)
		liabs := shareIntegral(data, off+marginfiLiabSharesOffset)

		if assets > 0 {
			totalAssets.Add(totalAssets, big.NewInt(assets))
			if rec.CollateralReserve.IsZero() {
				rec.CollateralReserve = bank
			}
		}
		if liabs > 0 {
			totalLiabs.Add(totalLiabs, big.NewInt(liabs))
			if rec.DebtReserve.IsZero() {
				rec.DebtReserve = bank
			}
		}
	}

	rec.CollateralValue = totalAssets
	rec.DebtValue = totalLiabs
	rec.DebtAmount = new(big.Int).Set(totalLiabs)
	rec.UnhealthyThreshold = new(big.Int).Set(totalAssets)
	if totalAssets.IsUint64() {
		rec.CollateralAmount = totalAssets.Uint64()
	}

	return rec, nil
}

// shareIntegral reads the signed integral part of a 128-bit fixed-point
// share value. Negative values clamp to zero; the programs never report
// negative balances, so a negative integral means a drifted layout.
func shareIntegral(data []byte, off int) int64 {
	v := int64(binary.LittleEndian.Uint64(data[off : off+8]))
	if v < 0 {
		return 0
	}
	return v
}
