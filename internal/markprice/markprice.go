// Package markprice implements the Mark-Price Composer (spec.md §4.10):
// blends an external reference price, the last traded price, and the
// current book mid into the composite mark price used for unrealized PnL
// and liquidation. Grounded on the teacher's internal/market.Book.MidPrice
// for the book-mid half of the blend; the weighted composite itself has no
// teacher analog and follows spec.md's formula directly.
package markprice

import "polymarket-mm/pkg/types"

// Weights for the composite mark formula (spec.md §4.10): 70% external
// reference, 20% last trade (or reference if no trade yet), 10% book mid
// (or reference if the book is empty on one side).
const (
	weightExternal = 700_000 // 0.70 in micro-units
	weightLast     = 200_000 // 0.20
	weightMid      = 100_000 // 0.10
)

// Compose returns the composite mark price given the external reference r,
// the last traded price l (0 if none yet), and the book mid m (0 if the
// book doesn't have both sides).
func Compose(external, last, mid types.Price) types.Price {
	l := last
	if l <= 0 {
		l = external
	}
	m := mid
	if m <= 0 {
		m = external
	}

	weighted := int64(external)*weightExternal + int64(l)*weightLast + int64(m)*weightMid
	return types.Price(weighted / types.MicroUnit)
}
