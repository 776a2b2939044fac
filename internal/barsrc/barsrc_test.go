package barsrc

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/pkg/types"
)

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture csv: %v", err)
	}
	return path
}

const validHeader = "timestamp,open,high,low,close,volume\n"

func TestCSVSourceReadsBarsInOrder(t *testing.T) {
	path := writeCSV(t, validHeader+
		"2024-01-02T09:30:00Z,100,101,99,100.5,1000\n"+
		"2024-01-02T09:31:00Z,100.5,102,100,101.5,1200\n")

	src, err := NewCSVSource(path)
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}
	defer src.Close()

	b1, err := src.Next()
	if err != nil {
		t.Fatalf("first Next: %v", err)
	}
	if !b1.Close.Equal(mustDec("100.5")) {
		t.Fatalf("first bar close = %s, want 100.5", b1.Close)
	}

	b2, err := src.Next()
	if err != nil {
		t.Fatalf("second Next: %v", err)
	}
	if !b2.Timestamp.After(b1.Timestamp) {
		t.Fatal("second bar timestamp should be strictly after the first")
	}

	if _, err := src.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after the last row, got %v", err)
	}
}

func TestCSVSourceRejectsBadHeader(t *testing.T) {
	path := writeCSV(t, "time,o,h,l,c,v\n2024-01-02T09:30:00Z,100,101,99,100.5,1000\n")
	if _, err := NewCSVSource(path); err == nil {
		t.Fatal("expected an error for a malformed header")
	}
}

func TestCSVSourceRejectsNonMonotonicTimestamps(t *testing.T) {
	path := writeCSV(t, validHeader+
		"2024-01-02T09:31:00Z,100,101,99,100.5,1000\n"+
		"2024-01-02T09:30:00Z,100.5,102,100,101.5,1200\n")

	src, err := NewCSVSource(path)
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}
	defer src.Close()

	if _, err := src.Next(); err != nil {
		t.Fatalf("first Next: %v", err)
	}
	_, err = src.Next()
	if !errors.Is(err, types.ErrNonMonotonicTime) {
		t.Fatalf("expected ErrNonMonotonicTime, got %v", err)
	}
}

func TestCSVSourceRejectsInvalidOHLC(t *testing.T) {
	path := writeCSV(t, validHeader+"2024-01-02T09:30:00Z,100,90,99,100.5,1000\n")
	src, err := NewCSVSource(path)
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}
	defer src.Close()

	if _, err := src.Next(); err == nil {
		t.Fatal("a bar with high < open should fail Bar.Validate and be rejected")
	}
}

func TestSliceSourceReplaysInOrderThenEOF(t *testing.T) {
	bars := []types.Bar{
		{Close: mustDec("1")},
		{Close: mustDec("2")},
	}
	s := NewSliceSource(bars)

	b1, err := s.Next()
	if err != nil || !b1.Close.Equal(mustDec("1")) {
		t.Fatalf("first bar = %+v, err %v", b1, err)
	}
	b2, err := s.Next()
	if err != nil || !b2.Close.Equal(mustDec("2")) {
		t.Fatalf("second bar = %+v, err %v", b2, err)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close should be a no-op, got %v", err)
	}
}
