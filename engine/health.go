package engine

import "math/big"

// HealthFactor computes the solvency ratio of a position in 1e18 fixed
// point: threshold-adjusted collateral value divided by debt. Zero debt
// yields MaxHealthFactor. The function is pure; callers supply the USD
// collateral value.
func HealthFactor(debt, collateralValue *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor)
	}
	value := collateralValue
	if value == nil {
		value = new(big.Int)
	}
	adjusted := new(big.Int).Mul(value, big.NewInt(LiquidationThreshold))
	adjusted.Quo(adjusted, big.NewInt(LiquidationPrecision))
	adjusted.Mul(adjusted, Precision)
	return adjusted.Quo(adjusted, debt)
}

// healthy reports whether the ratio clears MinHealthFactor. The boundary is
// inclusive: exactly MinHealthFactor is safe.
func healthy(ratio *big.Int) bool {
	return ratio != nil && ratio.Cmp(MinHealthFactor) >= 0
}
