// Package governance implements the signal-suppression layer spec.md §4.5
// names: the daily signal cap, the consecutive-full-stop-loss lockout, the
// time cutoff, an optional daily-loss-R cap, and session-boundary reset.
// Grounded on the mutex-protected struct-with-methods shape of the
// teacher's internal/backtester.RiskManager (consecutiveLosses and
// killSwitchActive generalize directly into this package's counters), now
// driven by R-multiples instead of equity-fraction drawdown.
package governance

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/internal/config"
)

// Reason is the closed set of causes a signal or trade can be suppressed
// for.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonMaxSignalsPerDay   Reason = "max_signals_per_day"
	ReasonLockout            Reason = "consecutive_stop_loss_lockout"
	ReasonTimeCutoff         Reason = "time_cutoff"
	ReasonMaxDailyLossR      Reason = "max_daily_loss_r"
)

// State tracks the governance counters for the current session. One State
// is owned by the event loop and reset at each session boundary.
type State struct {
	mu sync.Mutex

	cfg config.Governance

	signalsToday       int
	consecutiveFullSL  int
	lockoutActive      bool
	realizedRToday      decimal.Decimal
	secondChanceUsed   bool
}

// New constructs governance state from the configured limits.
func New(cfg config.Governance) *State {
	return &State{cfg: cfg}
}

// ResetSession clears all per-session counters, matching spec.md §4.5's
// session-boundary reset (a new session starts with a clean slate:
// signal count, consecutive-loss counter, lockout, and realized R all
// zero).
func (s *State) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signalsToday = 0
	s.consecutiveFullSL = 0
	s.lockoutActive = false
	s.realizedRToday = decimal.Zero
	s.secondChanceUsed = false
}

// AllowSignal reports whether a new signal may be emitted at ts, and the
// Reason if not. Checked before a signal is allowed to become a trade
// (spec.md §4.5's pre-emission gate).
func (s *State) AllowSignal(ts time.Time) (bool, Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockoutActive {
		return false, ReasonLockout
	}
	if s.signalsToday >= s.cfg.MaxSignalsPerDay {
		return false, ReasonMaxSignalsPerDay
	}
	if s.cfg.HasTimeCutoff {
		if hour, minute, ok, err := s.cfg.ParsedTimeCutoff(); ok && err == nil {
			cutoff := time.Date(ts.Year(), ts.Month(), ts.Day(), hour, minute, 0, 0, ts.Location())
			if !ts.Before(cutoff) {
				return false, ReasonTimeCutoff
			}
		}
	}
	if s.cfg.HasMaxDailyLossR && s.realizedRToday.LessThanOrEqual(s.cfg.MaxDailyLossR.Neg()) {
		return false, ReasonMaxDailyLossR
	}
	return true, ReasonNone
}

// RecordSignalEmitted increments the daily signal counter. Called once a
// signal clears AllowSignal and is actually emitted.
func (s *State) RecordSignalEmitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signalsToday++
}

// RecordTradeClosed folds a closed trade's outcome into the lockout
// counter and the daily realized-R running total. A full-size stop-loss
// (no partials filled, realized R at or below the -1R baseline) increments
// the consecutive counter; any other outcome resets it, matching the
// teacher's RecordWin/RecordLoss pairing.
func (s *State) RecordTradeClosed(realizedR decimal.Decimal, wasFullStopLoss bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.realizedRToday = s.realizedRToday.Add(realizedR)

	if wasFullStopLoss {
		s.consecutiveFullSL++
		if s.consecutiveFullSL >= s.cfg.LockoutAfterLosses {
			s.lockoutActive = true
		}
	} else {
		s.consecutiveFullSL = 0
	}
}

// IsLockoutActive reports whether the consecutive-stop-loss lockout is
// currently in force.
func (s *State) IsLockoutActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockoutActive
}

// RealizedRToday returns the running sum of realized R for the current
// session.
func (s *State) RealizedRToday() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realizedRToday
}

// ShouldFlatten reports whether ts is at or past the session's configured
// flatten point (the time cutoff, when FlattenAtSessionEnd is set) — used
// by the event loop to force-close any open trade rather than merely
// block new signals.
func (s *State) ShouldFlatten(ts time.Time) bool {
	if !s.cfg.FlattenAtSessionEnd || !s.cfg.HasTimeCutoff {
		return false
	}
	hour, minute, ok, err := s.cfg.ParsedTimeCutoff()
	if !ok || err != nil {
		return false
	}
	cutoff := time.Date(ts.Year(), ts.Month(), ts.Day(), hour, minute, 0, 0, ts.Location())
	return !ts.Before(cutoff)
}

// SecondChance reports whether the single post-lockout re-entry is still
// available while a lockout is active, and if so consumes it and clears
// the lockout. A positive SecondChanceMinutes enables the feature and a
// zero value disables it; the time elapsed since the lockout trigger is
// not checked.
func (s *State) SecondChance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.SecondChanceMinutes <= 0 || s.secondChanceUsed || !s.lockoutActive {
		return false
	}
	s.secondChanceUsed = true
	s.lockoutActive = false
	s.consecutiveFullSL = 0
	return true
}
