package fpmath

import "math/big"

// All monetary values in the engine are 18-decimal fixed point ("wad")
// carried as *big.Int: amounts regularly exceed the int64 range once
// scaled, so every intermediate runs through big.Int as well.
var (
	// Wad is the 18-decimal fixed-point unit (1e18).
	Wad = pow10(18)

	// FeedPrecisionBoost lifts an 8-decimal oracle price to 18 decimals.
	FeedPrecisionBoost = pow10(10)

	// LiquidationThreshold / LiquidationPrecision apply a 50% haircut to
	// raw collateral value before it is compared against debt.
	LiquidationThreshold = big.NewInt(50)
	LiquidationPrecision = big.NewInt(100)

	// LiquidationBonus is the extra collateral share (10%) awarded to a
	// liquidator on top of the debt-covered amount.
	LiquidationBonus = big.NewInt(10)

	// MinHealthFactor is 1.0 in wad. A position at or above it is solvent.
	MinHealthFactor = pow10(18)

	// MaxHealthFactor is the value reported for debt-free positions
	// (2^256 - 1, the largest representable ratio).
	MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// MulDiv computes a * b / den with the multiplication performed first so
// integer truncation happens exactly once. den must be non-zero.
func MulDiv(a, b, den *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// UsdValue converts a wad token amount to its wad USD value given a
// normalized 18-decimal price.
func UsdValue(price, amount *big.Int) *big.Int {
	return MulDiv(price, amount, Wad)
}

// TokenAmountFromUsd converts a wad USD amount back to a wad token amount
// given a normalized 18-decimal price.
func TokenAmountFromUsd(usdAmount, price *big.Int) *big.Int {
	return MulDiv(usdAmount, Wad, price)
}

// HealthFactor returns the collateralization ratio in wad for a position
// with the given total debt and total USD collateral value. A debt-free
// position is infinitely healthy and reports MaxHealthFactor.
func HealthFactor(totalDebt, collateralValueUsd *big.Int) *big.Int {
	if totalDebt.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor)
	}
	adjusted := MulDiv(collateralValueUsd, LiquidationThreshold, LiquidationPrecision)
	return MulDiv(adjusted, Wad, totalDebt)
}

// BonusAmount returns the liquidation incentive for a seized collateral
// amount: amount * LiquidationBonus / LiquidationPrecision.
func BonusAmount(amount *big.Int) *big.Int {
	return MulDiv(amount, LiquidationBonus, LiquidationPrecision)
}
