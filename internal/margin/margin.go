// Package margin implements the Margin Calculator (spec.md §4.8): stateless
// formulas for initial/maintenance margin and liquidation, grounded on the
// same VWAP/PnL arithmetic the teacher's strategy.Inventory uses, re-derived
// in fixed-point for margined leveraged positions rather than binary-market
// spot holdings.
package margin

import (
	"math/big"

	"polymarket-mm/pkg/types"
)

// Initial returns the initial margin required to open a position of qty
// contracts at price, given the product's initial margin rate (expressed as
// a Price, i.e. rate × 1e6).
func Initial(qty types.Qty, price, initialRate types.Price) int64 {
	notional := types.Notional(price, qty)
	return (notional * int64(initialRate)) / types.MicroUnit
}

// Maintenance returns the maintenance margin for a position of |size|
// contracts marked at mark, given the product's maintenance margin rate.
func Maintenance(size types.Qty, mark, maintRate types.Price) int64 {
	abs := size
	if abs < 0 {
		abs = -abs
	}
	notional := types.Notional(mark, abs)
	return (notional * int64(maintRate)) / types.MicroUnit
}

// Unrealized returns the mark-to-market unrealized PnL for a position:
// size × (mark − entry) for longs, which is already correct sign-wise for
// shorts since size is negative.
func Unrealized(size types.Qty, entry, mark types.Price) int64 {
	return (int64(size) * int64(mark-entry)) / types.MicroUnit
}

// ShouldLiquidate reports whether a position's equity (available balance
// plus unrealized PnL) has fallen below its maintenance margin requirement.
func ShouldLiquidate(size types.Qty, entry, mark types.Price, available int64, maintRate types.Price) bool {
	equity := available + Unrealized(size, entry, mark)
	maint := Maintenance(size, mark, maintRate)
	return equity < maint
}

// LiquidationPrice solves for the mark price at which equity exactly equals
// the maintenance margin requirement, i.e. the price at which
// ShouldLiquidate begins to return true.
//
// Solving available + size·(p − entry) = |size|·p·maintRate for p, with
// s = sign(size) so |size| = s·size:
//
//	available − size·entry = size·p·(s·maintRate − 1)
//	p = (available − size·entry) / (size·(s·maintRate − 1))
//
// Intermediate products exceed int64 range once available/entry/size are all
// at micro-unit scale, so the arithmetic runs in math/big and only the final
// quotient is narrowed back to a Price.
func LiquidationPrice(size types.Qty, entry types.Price, available int64, maintRate types.Price) (types.Price, bool) {
	if size == 0 {
		return 0, false
	}
	sign := int64(1)
	if size < 0 {
		sign = -1
	}

	micro := big.NewInt(types.MicroUnit)
	q := big.NewInt(int64(size))
	e := big.NewInt(int64(entry))
	a := big.NewInt(available)
	r := big.NewInt(int64(maintRate))

	// numerator = (available·MicroUnit − size·entry) · MicroUnit
	numer := new(big.Int).Mul(a, micro)
	numer.Sub(numer, new(big.Int).Mul(q, e))
	numer.Mul(numer, micro)

	// denom = size · (sign·maintRate − MicroUnit)
	signedRate := new(big.Int).Mul(big.NewInt(sign), r)
	signedRate.Sub(signedRate, micro)
	denom := new(big.Int).Mul(q, signedRate)

	if denom.Sign() == 0 {
		return 0, false
	}

	p := new(big.Int).Quo(numer, denom)
	return types.Price(p.Int64()), true
}
