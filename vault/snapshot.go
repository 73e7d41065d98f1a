package vault

import (
	"math/big"
	"time"

	"coinhouse/config"
)

// Snapshot is a point-in-time valuation of the custody pool. Amounts
// are raw on-chain integers in each token's own decimal scale; the
// share price is fixed-point with 1e18 = 1.0 pool-denominated units.
type Snapshot struct {
	TotalAssets   *big.Int  `json:"totalAssets"`
	TotalShares   *big.Int  `json:"totalShares"`
	SharePriceWad *big.Int  `json:"sharePriceWad"`
	CapturedAt    time.Time `json:"capturedAt"`
	IsStale       bool      `json:"isStale"`
}

// ComputeSharePriceWad derives the pool share price from raw totals.
// Asset and share tokens carry different decimal precision, so each
// side is normalized to whole-token units before dividing:
//
//	price = (assets / 10^assetDecimals) / (shares / 10^shareDecimals)
//
// An empty pool (zero shares) is valued at par, 1.0.
func ComputeSharePriceWad(totalAssets, totalShares *big.Int, assetDecimals, shareDecimals int) *big.Int {
	if totalShares == nil || totalShares.Sign() == 0 {
		return new(big.Int).Set(config.SharePriceWad)
	}

	// assets * 1e18 * 10^shareDec / (shares * 10^assetDec)
	num := new(big.Int).Mul(totalAssets, config.SharePriceWad)
	num.Mul(num, pow10(shareDecimals))
	den := new(big.Int).Mul(totalShares, pow10(assetDecimals))
	return num.Div(num, den)
}

// SharePriceFloat converts a wad-scaled price to float64 for logs and
// API responses. Never used for settlement math.
func SharePriceFloat(priceWad *big.Int) float64 {
	if priceWad == nil {
		return 0
	}
	f := new(big.Float).SetInt(priceWad)
	f.Quo(f, new(big.Float).SetInt(config.SharePriceWad))
	out, _ := f.Float64()
	return out
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
