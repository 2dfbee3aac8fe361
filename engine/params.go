package engine

import "math/big"

const (
	// LiquidationThreshold is the percentage of collateral market value
	// credited toward debt coverage. 50 yields the 200% minimum
	// collateralisation ratio.
	LiquidationThreshold = 50
	// LiquidationPrecision is the denominator for LiquidationThreshold.
	LiquidationPrecision = 100
	// LiquidationBonus is the percentage of the covered debt's collateral
	// equivalent awarded to the liquidator on top of the repayment.
	LiquidationBonus = 10
)

var (
	// Precision is the canonical 1e18 fixed-point scale shared by USD
	// values, prices, and health factors.
	Precision = big.NewInt(1_000_000_000_000_000_000)

	// MinHealthFactor is the smallest safe health factor. Positions at or
	// above it are safe; positions below it are liquidatable.
	MinHealthFactor = new(big.Int).Set(Precision)

	// MaxHealthFactor is reported for positions with zero debt, which can
	// never be liquidated. It is the maximum 256-bit value.
	MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)
