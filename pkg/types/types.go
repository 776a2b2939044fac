// Package types holds the small, shared domain primitives used across the
// engine: bars, directions, and the closed set of trade-exit reasons.
// Richer, stateful entities (Opening Range, Active Trade, Governance state)
// live in the packages that own their mutation (internal/core,
// internal/trade, internal/governance) rather than here.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is a trade or signal direction.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// ExitReason is the closed set of terminal reasons an Active Trade can close for.
type ExitReason string

const (
	ExitReasonStop       ExitReason = "stop"
	ExitReasonTarget     ExitReason = "target"
	ExitReasonTrailing   ExitReason = "trailing"
	ExitReasonSalvage    ExitReason = "salvage"
	ExitReasonEOD        ExitReason = "eod"
	ExitReasonGovernance ExitReason = "governance"
)

// Bar is an immutable OHLCV observation. Timestamps are strictly monotonic
// within a run; the engine never mutates a Bar after it is read.
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Validate checks the invariants spec.md §3 places on a Bar: low <= {open,
// close} <= high, volume >= 0. decimal.Decimal cannot represent NaN/Inf, so
// finiteness reduces to successful construction.
func (b Bar) Validate() error {
	if b.Low.GreaterThan(b.High) {
		return fmt.Errorf("%w: low %s > high %s", ErrMalformedOHLC, b.Low, b.High)
	}
	if b.Open.LessThan(b.Low) || b.Open.GreaterThan(b.High) {
		return fmt.Errorf("%w: open %s outside [%s, %s]", ErrMalformedOHLC, b.Open, b.Low, b.High)
	}
	if b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
		return fmt.Errorf("%w: close %s outside [%s, %s]", ErrMalformedOHLC, b.Close, b.Low, b.High)
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("%w: volume %s", ErrNegativeVolume, b.Volume)
	}
	return nil
}

// TrueRange is the Wilder true range of this bar given the previous close.
// When prevClose is the zero value (first bar of a session), it degrades to
// high-low range.
func (b Bar) TrueRange(prevClose decimal.Decimal) decimal.Decimal {
	hl := b.High.Sub(b.Low)
	if prevClose.IsZero() {
		return hl
	}
	hc := b.High.Sub(prevClose).Abs()
	lc := b.Low.Sub(prevClose).Abs()
	tr := hl
	if hc.GreaterThan(tr) {
		tr = hc
	}
	if lc.GreaterThan(tr) {
		tr = lc
	}
	return tr
}

// Target is an ordered (price, size_fraction) pair within an Active Trade's
// target list. SizeFraction is the portion of remaining_size to release
// when Price is reached.
type Target struct {
	Price        decimal.Decimal
	SizeFraction decimal.Decimal
	Label        string
}

// PartialFill is an append-only record of a target fill against an Active Trade.
type PartialFill struct {
	Timestamp    time.Time
	Price        decimal.Decimal
	TargetIndex  int
	SizeFraction decimal.Decimal
	RMultiple    decimal.Decimal
}

// EquityPoint is one sample of the run's equity curve: a bar timestamp
// paired with the cumulative realized R up to and including that bar.
type EquityPoint struct {
	Timestamp   time.Time
	CumulativeR decimal.Decimal
	BarIndex    int
}
