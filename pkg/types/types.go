// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the exchange core — price and
// quantity primitives, order/trade shapes, and the error taxonomy every
// component returns. It has no dependencies on internal packages, so it can
// be imported by any layer.
package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Fixed-point price and quantity
// ————————————————————————————————————————————————————————————————————————

// MicroUnit is the scale factor of one quote-currency unit expressed as a Price.
const MicroUnit = 1_000_000

// Price is an integer count of micro-units (10⁻⁶) of the quote currency.
// Price comparisons and equality are always integer; no binary floating
// point is used anywhere on the matching hot path.
type Price int64

// FromDecimal converts a human-entered decimal amount (e.g. config values,
// a fee rate read from YAML) to a Price. This is the one conversion point
// where decimal.Decimal is allowed to exist before becoming a fixed-point
// integer.
func FromDecimal(d decimal.Decimal) Price {
	scaled := d.Mul(decimal.NewFromInt(MicroUnit))
	return Price(scaled.Round(0).IntPart())
}

// Decimal renders a Price back to a human-readable decimal.Decimal, used
// only at display/logging/journal-payload-float boundaries.
func (p Price) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(p)).Div(decimal.NewFromInt(MicroUnit))
}

// SnapToTick rounds p to the nearest multiple of tick, ties rounding toward
// zero, per spec.md §4.1's tick-snap rule.
func SnapToTick(p Price, tick Price) Price {
	if tick <= 0 {
		return p
	}
	neg := p < 0
	v := int64(p)
	t := int64(tick)
	if neg {
		v = -v
	}
	rem := v % t
	if 2*rem > t {
		v += t - rem
	} else {
		v -= rem
	}
	if neg {
		v = -v
	}
	return Price(v)
}

// Qty is a quantity of contracts, also fixed-point in micro-units so that
// partial fills and VWAP math never drift from floating-point rounding.
type Qty int64

func (q Qty) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(q)).Div(decimal.NewFromInt(MicroUnit))
}

func FromDecimalQty(d decimal.Decimal) Qty {
	return Qty(d.Mul(decimal.NewFromInt(MicroUnit)).Round(0).IntPart())
}

// Notional multiplies a price and quantity, both in micro-units, returning
// a value in micro-units of quote currency (requires descaling once).
func Notional(p Price, q Qty) int64 {
	return (int64(p) * int64(q)) / MicroUnit
}

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: Buy or Sell.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the supported order lifecycles (spec.md §3).
type OrderType uint8

const (
	Limit OrderType = iota
	Market
	IOC
	FOK
	PostOnly
	StopLimit
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case Market:
		return "MARKET"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case PostOnly:
		return "POST_ONLY"
	case StopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus tracks an order's lifecycle (spec.md §3).
type OrderStatus uint8

const (
	StatusNew OrderStatus = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
	StatusStopPending
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	case StatusStopPending:
		return "STOP_PENDING"
	default:
		return "UNKNOWN"
	}
}

// IsActive reports whether the order can still receive fills.
func (s OrderStatus) IsActive() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

// FeeType tags a fee journal entry by the activity that generated it,
// carried from the original source's FeeEvent.fee_type field.
type FeeType uint8

const (
	FeeMaker FeeType = iota
	FeeTaker
	FeeFunding
	FeeWithdrawal
)

func (f FeeType) String() string {
	switch f {
	case FeeMaker:
		return "maker"
	case FeeTaker:
		return "taker"
	case FeeFunding:
		return "funding"
	case FeeWithdrawal:
		return "withdrawal"
	default:
		return "unknown"
	}
}

// ————————————————————————————————————————————————————————————————————————
// Error taxonomy (spec.md §7)
// ————————————————————————————————————————————————————————————————————————

// ErrorKind is the flat rejection taxonomy every fallible core operation
// may return, carried as the concrete type behind the standard error
// interface rather than as a bespoke tagged-result struct.
type ErrorKind string

const (
	ErrProductUnknown        ErrorKind = "ProductUnknown"
	ErrProductInactive       ErrorKind = "ProductInactive"
	ErrPriceOffTick          ErrorKind = "PriceOffTick"
	ErrPriceNonPositive      ErrorKind = "PriceNonPositive"
	ErrQuantityBelowMin      ErrorKind = "QuantityBelowMin"
	ErrQuantityAboveMax      ErrorKind = "QuantityAboveMax"
	ErrQuantityNonPositive   ErrorKind = "QuantityNonPositive"
	ErrNotionalBelowMin      ErrorKind = "NotionalBelowMin"
	ErrInsufficientFunds     ErrorKind = "InsufficientFunds"
	ErrInsufficientMargin    ErrorKind = "InsufficientMargin"
	ErrOrderNotFound         ErrorKind = "OrderNotFound"
	ErrOrderNotModifiable    ErrorKind = "OrderNotModifiable"
	ErrRateLimitExceeded     ErrorKind = "RateLimitExceeded"
	ErrPositionLimitExceeded ErrorKind = "PositionLimitExceeded"
	ErrDailyLossLimit        ErrorKind = "DailyLossLimit"
	ErrFatFingerPrice        ErrorKind = "FatFingerPrice"
	ErrMarketHalted          ErrorKind = "MarketHalted"
	ErrSymbolLimitUp         ErrorKind = "SymbolLimitUp"
	ErrSymbolLimitDown       ErrorKind = "SymbolLimitDown"
	ErrSymbolHalted          ErrorKind = "SymbolHalted"
	ErrSelfMatchCancelled    ErrorKind = "SelfMatchCancelled"
	ErrPostOnlyWouldMatch    ErrorKind = "PostOnlyWouldMatch"
	ErrFillOrKillUnfillable  ErrorKind = "FillOrKillUnfillable"
	ErrJournalCorrupt        ErrorKind = "JournalCorrupt"
	ErrJournalIoFailure      ErrorKind = "JournalIoFailure"
	ErrSequencerUnresponsive ErrorKind = "SequencerUnresponsive"
)

// Rejection is the concrete error type returned by every fallible core
// operation. It satisfies the standard error interface so callers may use
// errors.Is/errors.As, and also exposes Kind for direct pattern matching
// against the taxonomy above.
type Rejection struct {
	Kind ErrorKind
	Msg  string
	Err  error // optional wrapped cause (I/O errors, parse errors, etc.)
}

func NewRejection(kind ErrorKind, msg string) *Rejection {
	return &Rejection{Kind: kind, Msg: msg}
}

func WrapRejection(kind ErrorKind, msg string, cause error) *Rejection {
	return &Rejection{Kind: kind, Msg: msg, Err: cause}
}

func (r *Rejection) Error() string {
	if r.Msg == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Msg)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a *Rejection,
// returning ("", false) otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Kind, true
	}
	return "", false
}
