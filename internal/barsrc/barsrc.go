// Package barsrc provides the bar-stream sources the engine replays
// (spec.md §2 component "Bar Source"), grounded on the teacher's
// internal/data.Store (a directory-backed loader with an in-memory cache
// keyed by symbol), narrowed to this module's single concern: deliver an
// ordered, strictly-monotonic stream of types.Bar for one session.
package barsrc

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/pkg/types"
)

// Source streams bars for a single backtest run in timestamp order.
type Source interface {
	// Next returns the next bar, or io.EOF once the stream is exhausted.
	Next() (types.Bar, error)
	// Close releases any underlying resource (open file, connection).
	Close() error
}

// CSVSource reads bars from a CSV file with the header
// timestamp,open,high,low,close,volume, where timestamp is RFC3339.
// Grounded on the teacher's file-backed Store.LoadOHLCV, simplified to a
// streaming reader since a backtest only ever walks a session forward
// once.
type CSVSource struct {
	file   *os.File
	reader *csv.Reader

	lastTimestamp time.Time
	haveLast      bool
}

// NewCSVSource opens path and validates its header.
func NewCSVSource(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bar source %s: %w", path, err)
	}
	r := csv.NewReader(bufio.NewReader(f))
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading bar source header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		f.Close()
		return nil, err
	}
	return &CSVSource{file: f, reader: r}, nil
}

func validateHeader(header []string) error {
	want := []string{"timestamp", "open", "high", "low", "close", "volume"}
	if len(header) < len(want) {
		return fmt.Errorf("bar source header has %d columns, want at least %d", len(header), len(want))
	}
	for i, w := range want {
		if header[i] != w {
			return fmt.Errorf("bar source header column %d is %q, want %q", i, header[i], w)
		}
	}
	return nil
}

// Next parses and returns the next row as a validated Bar, enforcing the
// strictly-monotonic-timestamp invariant spec.md §3 places on a bar
// stream.
func (c *CSVSource) Next() (types.Bar, error) {
	row, err := c.reader.Read()
	if err != nil {
		return types.Bar{}, err
	}

	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return types.Bar{}, fmt.Errorf("parsing bar timestamp %q: %w", row[0], err)
	}
	if c.haveLast && !ts.After(c.lastTimestamp) {
		return types.Bar{}, fmt.Errorf("%w: %s after %s", types.ErrNonMonotonicTime, ts, c.lastTimestamp)
	}

	open, err := parseDecimal(row[1], "open")
	if err != nil {
		return types.Bar{}, err
	}
	high, err := parseDecimal(row[2], "high")
	if err != nil {
		return types.Bar{}, err
	}
	low, err := parseDecimal(row[3], "low")
	if err != nil {
		return types.Bar{}, err
	}
	close, err := parseDecimal(row[4], "close")
	if err != nil {
		return types.Bar{}, err
	}
	volume, err := parseDecimal(row[5], "volume")
	if err != nil {
		return types.Bar{}, err
	}

	bar := types.Bar{Timestamp: ts, Open: open, High: high, Low: low, Close: close, Volume: volume}
	if err := bar.Validate(); err != nil {
		return types.Bar{}, err
	}

	c.lastTimestamp = ts
	c.haveLast = true
	return bar, nil
}

// Close closes the underlying file.
func (c *CSVSource) Close() error {
	return c.file.Close()
}

func parseDecimal(field, name string) (decimal.Decimal, error) {
	f, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing bar %s %q: %w", name, field, err)
	}
	return decimal.NewFromFloat(f), nil
}

// SliceSource replays a preloaded, in-memory slice of bars — used by
// tests and by the optional Monte Carlo/walk-forward analytics, which
// both need to replay perturbed or windowed copies of an original run's
// bars without re-reading a file each time.
type SliceSource struct {
	bars []types.Bar
	pos  int
}

// NewSliceSource wraps bars for replay.
func NewSliceSource(bars []types.Bar) *SliceSource {
	return &SliceSource{bars: bars}
}

// Next returns the next bar in the slice, or io.EOF when exhausted.
func (s *SliceSource) Next() (types.Bar, error) {
	if s.pos >= len(s.bars) {
		return types.Bar{}, io.EOF
	}
	b := s.bars[s.pos]
	s.pos++
	return b, nil
}

// Close is a no-op for an in-memory source.
func (s *SliceSource) Close() error { return nil }
