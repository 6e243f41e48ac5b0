package claims

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
)

// DefaultAssetDecimals applies to assets without an explicit entry.
const DefaultAssetDecimals = 18

// AssetDecimals maps ERC-20 assets to their decimals.
type AssetDecimals struct {
	byAsset  map[common.Address]int32
	fallback int32
}

// NewAssetDecimals builds the registry from hex addresses. Invalid addresses
// and out-of-range decimals are configuration errors.
func NewAssetDecimals(entries map[string]int32) (AssetDecimals, error) {
	reg := AssetDecimals{byAsset: make(map[common.Address]int32, len(entries)), fallback: DefaultAssetDecimals}
	for asset, d := range entries {
		if !common.IsHexAddress(asset) {
			return AssetDecimals{}, fmt.Errorf("%w: asset %q is not an address", card.ErrConfiguration, asset)
		}
		if d < 0 || d > 77 {
			return AssetDecimals{}, fmt.Errorf("%w: asset %s decimals %d out of range", card.ErrConfiguration, asset, d)
		}
		reg.byAsset[common.HexToAddress(asset)] = d
	}
	return reg, nil
}

// Decimals returns the decimals for asset.
func (r AssetDecimals) Decimals(asset common.Address) int32 {
	if d, ok := r.byAsset[asset]; ok {
		return d
	}
	if r.fallback == 0 && r.byAsset == nil {
		return DefaultAssetDecimals
	}
	return r.fallback
}

// Units converts a decimal amount to the asset's smallest unit, rounding down.
func (r AssetDecimals) Units(amount decimal.Decimal, asset common.Address) *big.Int {
	return amount.Shift(r.Decimals(asset)).Floor().BigInt()
}
