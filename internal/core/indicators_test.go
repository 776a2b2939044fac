package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRelativeVolumeSpikeFlag(t *testing.T) {
	rv := NewRelativeVolume(3, decimal.NewFromFloat(2.0))

	rv.Update(mustDecimal("100"))
	rv.Update(mustDecimal("100"))
	rv.Update(mustDecimal("100"))
	if rv.Spike {
		t.Fatal("flat volume should never spike")
	}

	rv.Update(mustDecimal("500"))
	if !rv.Spike {
		t.Fatalf("500 vs window mean ~233 (ratio ~2.14) should spike, got ratio %s", rv.Current)
	}
}

func TestRelativeVolumeRingEvictsOldest(t *testing.T) {
	rv := NewRelativeVolume(2, decimal.NewFromFloat(2.0))
	rv.Update(mustDecimal("1000"))
	rv.Update(mustDecimal("10"))
	rv.Update(mustDecimal("10"))

	if len(rv.ring) != 2 {
		t.Fatalf("ring length = %d, want bounded to lookback 2", len(rv.ring))
	}
	if !rv.Current.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("current ratio = %s, want 1 once the 1000 sample rolled off", rv.Current)
	}
}

func TestSessionVWAPValueAndReset(t *testing.T) {
	v := &SessionVWAP{}
	v.Update(mustDecimal("100"), mustDecimal("10"))
	v.Update(mustDecimal("110"), mustDecimal("10"))

	want := mustDecimal("105")
	if !v.Value().Equal(want) {
		t.Fatalf("vwap = %s, want %s", v.Value(), want)
	}

	v.Reset()
	if !v.Value().IsZero() {
		t.Fatalf("vwap after reset = %s, want 0", v.Value())
	}
	if !v.StdDev().IsZero() {
		t.Fatalf("stddev after reset = %s, want 0", v.StdDev())
	}
}

func TestSessionVWAPStdDevNonNegative(t *testing.T) {
	v := &SessionVWAP{}
	v.Update(mustDecimal("100"), mustDecimal("5"))
	v.Update(mustDecimal("90"), mustDecimal("5"))
	v.Update(mustDecimal("110"), mustDecimal("5"))

	if v.StdDev().IsNegative() {
		t.Fatalf("stddev must never be negative, got %s", v.StdDev())
	}
}

func TestADXTrendWeakBelowThreshold(t *testing.T) {
	adx := NewADX(14, decimal.NewFromInt(20))

	// A flat, directionless series should keep ADX near zero.
	price := mustDecimal("100")
	adx.Update(price, price, price)
	for i := 0; i < 20; i++ {
		adx.Update(price, price, price)
	}

	if !adx.TrendWeak {
		t.Fatalf("flat price series should report trend weak, value = %s", adx.Value)
	}
}

func TestADXStrongTrendNotWeak(t *testing.T) {
	adx := NewADX(14, decimal.NewFromInt(20))

	price := 100.0
	adx.Update(mustDecimal("100"), mustDecimal("99"), mustDecimal("99.5"))
	for i := 0; i < 30; i++ {
		price += 2
		high := decimal.NewFromFloat(price + 1)
		low := decimal.NewFromFloat(price)
		closeP := decimal.NewFromFloat(price + 0.5)
		adx.Update(high, low, closeP)
	}

	if adx.TrendWeak {
		t.Fatalf("a steadily rising series should not report trend weak, value = %s", adx.Value)
	}
}

func TestATRFirstBarSeedsValueFromTrueRange(t *testing.T) {
	atr := NewATR(14)
	atr.Update(mustDecimal("105"), mustDecimal("100"), mustDecimal("102"))
	if !atr.Value.Equal(mustDecimal("5")) {
		t.Fatalf("first-bar ATR = %s, want 5 (high-low range)", atr.Value)
	}
}

func TestATRSmoothsTowardNewRange(t *testing.T) {
	atr := NewATR(14)
	atr.Update(mustDecimal("105"), mustDecimal("100"), mustDecimal("102"))
	first := atr.Value

	for i := 0; i < 50; i++ {
		atr.Update(mustDecimal("210"), mustDecimal("200"), mustDecimal("205"))
	}

	if !atr.Value.GreaterThan(first) {
		t.Fatalf("ATR should rise toward the new, wider true range; got %s after seeding at %s", atr.Value, first)
	}
}
