package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSqrtDecimalOfPerfectSquare(t *testing.T) {
	got := SqrtDecimal(decimal.NewFromInt(9))
	want := decimal.NewFromInt(3)
	if got.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(1e-10)) {
		t.Fatalf("sqrt(9) = %s, want ~3", got)
	}
}

func TestSqrtDecimalOfZeroOrNegativeIsZero(t *testing.T) {
	if !SqrtDecimal(decimal.Zero).IsZero() {
		t.Fatal("sqrt(0) should be 0")
	}
	if !SqrtDecimal(decimal.NewFromInt(-4)).IsZero() {
		t.Fatal("sqrt of a negative input should be 0, not NaN or a panic")
	}
}

func TestPowDecimalIntegerExponent(t *testing.T) {
	got := PowDecimal(decimal.NewFromInt(2), 3)
	if !got.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("2^3 = %s, want 8", got)
	}
}

func TestPowDecimalZeroExponentIsOne(t *testing.T) {
	got := PowDecimal(decimal.NewFromFloat(0.7), 0)
	if !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("x^0 = %s, want 1", got)
	}
}

func TestEMAFirstValueSeedsTheAverage(t *testing.T) {
	e := NewEMA(5)
	got := e.Add(decimal.NewFromInt(10))
	if !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("first EMA value should seed to the input, got %s", got)
	}
	if !e.Current().Equal(decimal.NewFromInt(10)) {
		t.Fatalf("Current() = %s, want 10", e.Current())
	}
}

func TestEMAConvergesTowardAConstantInput(t *testing.T) {
	e := NewEMA(5)
	e.Add(decimal.NewFromInt(0))
	var last decimal.Decimal
	for i := 0; i < 50; i++ {
		last = e.Add(decimal.NewFromInt(100))
	}
	if last.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(decimal.NewFromFloat(1e-6)) {
		t.Fatalf("EMA fed a constant 100 for many periods should converge to ~100, got %s", last)
	}
}

func TestGenerateTradeIDAndSignalIDHaveDistinctPrefixesAndAreUnique(t *testing.T) {
	trade1, trade2 := GenerateTradeID(), GenerateTradeID()
	signal1 := GenerateSignalID()

	if trade1 == trade2 {
		t.Fatal("two calls to GenerateTradeID should not collide")
	}
	if trade1[:4] != "trd_" {
		t.Fatalf("trade id %q should carry the trd_ prefix", trade1)
	}
	if signal1[:4] != "sig_" {
		t.Fatalf("signal id %q should carry the sig_ prefix", signal1)
	}
}
