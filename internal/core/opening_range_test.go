package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestOpeningRangeUpdateExpandsHighLow(t *testing.T) {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	or := NewOpeningRange(start, 15*time.Minute)

	or.Update(start, mustDecimal("100.5"), mustDecimal("99.5"))
	or.Update(start.Add(5*time.Minute), mustDecimal("101.0"), mustDecimal("99.0"))
	or.Update(start.Add(10*time.Minute), mustDecimal("100.8"), mustDecimal("99.2"))

	if !or.RunningHigh.Equal(mustDecimal("101.0")) {
		t.Fatalf("running high = %s, want 101.0", or.RunningHigh)
	}
	if !or.RunningLow.Equal(mustDecimal("99.0")) {
		t.Fatalf("running low = %s, want 99.0", or.RunningLow)
	}
	if or.RunningHigh.LessThan(or.RunningLow) {
		t.Fatalf("invariant violated: high %s < low %s", or.RunningHigh, or.RunningLow)
	}
}

func TestOpeningRangeUpdateIgnoresBarsOutsideWindow(t *testing.T) {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	or := NewOpeningRange(start, 15*time.Minute)

	or.Update(start, mustDecimal("100"), mustDecimal("99"))
	or.Update(start.Add(20*time.Minute), mustDecimal("500"), mustDecimal("1"))

	if !or.RunningHigh.Equal(mustDecimal("100")) {
		t.Fatalf("out-of-window bar leaked into running high: %s", or.RunningHigh)
	}
}

func TestOpeningRangeUpdateNoOpAfterFinalized(t *testing.T) {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	or := NewOpeningRange(start, 15*time.Minute)
	or.Update(start, mustDecimal("100"), mustDecimal("99"))
	or.FinalizeIfDue(start.Add(15*time.Minute), mustDecimal("1"), mustDecimal("0.1"), mustDecimal("10"), false)

	or.Update(start.Add(1*time.Minute), mustDecimal("9999"), mustDecimal("1"))
	if !or.RunningHigh.Equal(mustDecimal("100")) {
		t.Fatalf("update mutated a finalized OR: high = %s", or.RunningHigh)
	}
}

func TestOpeningRangeFinalizeGapIsInvalid(t *testing.T) {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	or := NewOpeningRange(start, 15*time.Minute)

	or.FinalizeIfDue(start.Add(15*time.Minute), mustDecimal("1"), mustDecimal("0.1"), mustDecimal("10"), true)

	if !or.Finalized {
		t.Fatal("expected OR to finalize once due, even with no bars observed")
	}
	if or.Valid {
		t.Fatal("a gap session (no bars observed) must finalize as invalid")
	}
	if !or.Width().IsZero() {
		t.Fatalf("gap OR width = %s, want 0", or.Width())
	}
}

func TestOpeningRangeFinalizeValidityAgainstATRBand(t *testing.T) {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	cases := []struct {
		name       string
		high, low  string
		atr        string
		minM, maxM string
		wantValid  bool
	}{
		{"within band", "101", "99", "1", "0.5", "5", true},
		{"too narrow", "100.1", "100", "1", "0.5", "5", false},
		{"too wide", "200", "0", "1", "0.5", "5", false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			or := NewOpeningRange(start, 15*time.Minute)
			or.Update(start, mustDecimal(c.high), mustDecimal(c.low))
			or.FinalizeIfDue(start.Add(15*time.Minute), mustDecimal(c.atr), mustDecimal(c.minM), mustDecimal(c.maxM), true)
			if or.Valid != c.wantValid {
				t.Fatalf("valid = %v, want %v (width %s)", or.Valid, c.wantValid, or.Width())
			}
		})
	}
}

func TestOpeningRangeFinalizeSkipsValidityCheckWhenDisabled(t *testing.T) {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	or := NewOpeningRange(start, 15*time.Minute)
	or.Update(start, mustDecimal("100.01"), mustDecimal("100"))
	or.FinalizeIfDue(start.Add(15*time.Minute), mustDecimal("1"), mustDecimal("0.5"), mustDecimal("5"), false)

	if !or.Valid {
		t.Fatal("validity check disabled: OR should finalize valid regardless of width")
	}
}

func TestOpeningRangeFinalizeIsOneShot(t *testing.T) {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	or := NewOpeningRange(start, 15*time.Minute)
	or.Update(start, mustDecimal("101"), mustDecimal("99"))
	or.FinalizeIfDue(start.Add(15*time.Minute), mustDecimal("1"), mustDecimal("0.5"), mustDecimal("5"), true)
	firstValid := or.Valid

	or.FinalizeIfDue(start.Add(30*time.Minute), mustDecimal("100"), mustDecimal("0.5"), mustDecimal("5"), true)
	if or.Valid != firstValid {
		t.Fatal("a second FinalizeIfDue call changed an already-finalized OR's validity")
	}
}
