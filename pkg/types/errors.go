package types

import "errors"

// Sentinel errors for the bad-input error kind (spec.md §7). Wrapped with
// fmt.Errorf("...: %w", ...) at the call site so callers can still match
// with errors.Is while getting a bar-specific message.
var (
	ErrMalformedOHLC    = errors.New("malformed ohlc: low must be <= open,close <= high")
	ErrNegativeVolume   = errors.New("negative volume")
	ErrNonMonotonicTime = errors.New("non-monotonic bar timestamp")
)
