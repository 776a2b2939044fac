// Package config defines the engine's recognized configuration surface
// (spec.md §6) and validates it before a run starts (spec.md §7,
// "Configuration invariant"). Loading from YAML/JSON/env is the concern of
// internal/config's Load function, adapted from the teacher's viper-backed
// bootstrap in cmd/server/main.go; the invariants enforced here mirror the
// teacher's types.RiskLimits validation spirit, generalized to every
// numeric threshold this module exposes.
package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session describes the trading session the bar stream belongs to.
type Session struct {
	StartTime  string `mapstructure:"start_time" yaml:"start_time"`
	EndTime    string `mapstructure:"end_time" yaml:"end_time"`
	Timezone   string `mapstructure:"timezone" yaml:"timezone"`
	TickSize   decimal.Decimal `mapstructure:"tick_size" yaml:"tick_size"`
	PointValue decimal.Decimal `mapstructure:"point_value" yaml:"point_value"`
}

// OpeningRangeValidity gates OR width against a precomputed ATR.
type OpeningRangeValidity struct {
	Enabled     bool            `mapstructure:"enabled" yaml:"enabled"`
	MinATRMult  decimal.Decimal `mapstructure:"min_atr_mult" yaml:"min_atr_mult"`
	MaxATRMult  decimal.Decimal `mapstructure:"max_atr_mult" yaml:"max_atr_mult"`
}

// OpeningRange configures the OR builder (§4.1).
type OpeningRange struct {
	BaseMinutes    int                  `mapstructure:"base_minutes" yaml:"base_minutes"`
	Adaptive       bool                 `mapstructure:"adaptive" yaml:"adaptive"`
	ShortMinutes   int                  `mapstructure:"short_minutes" yaml:"short_minutes"`
	LongMinutes    int                  `mapstructure:"long_minutes" yaml:"long_minutes"`
	ShortVolThresh decimal.Decimal      `mapstructure:"short_vol_threshold" yaml:"short_vol_threshold"`
	LongVolThresh  decimal.Decimal      `mapstructure:"long_vol_threshold" yaml:"long_vol_threshold"`
	ATRPeriod      int                  `mapstructure:"atr_period" yaml:"atr_period"`
	Validity       OpeningRangeValidity `mapstructure:"validity" yaml:"validity"`
}

// Buffers configures the breakout trigger distance (§4.3).
type Buffers struct {
	Fixed  decimal.Decimal `mapstructure:"fixed" yaml:"fixed"`
	UseATR bool            `mapstructure:"use_atr" yaml:"use_atr"`
	ATRMult decimal.Decimal `mapstructure:"atr_mult" yaml:"atr_mult"`
}

// FactorConfig enables and parameterizes a single confluence factor (§4.2).
type FactorConfig struct {
	Enabled    bool                       `mapstructure:"enabled" yaml:"enabled"`
	Parameters map[string]decimal.Decimal `mapstructure:"parameters" yaml:"parameters"`
}

// Factors is the closed enumerated set of confluence factors.
type Factors struct {
	RelativeVolume FactorConfig `mapstructure:"relative_volume" yaml:"relative_volume"`
	PriceAction    FactorConfig `mapstructure:"price_action" yaml:"price_action"`
	Profile        FactorConfig `mapstructure:"profile" yaml:"profile"`
	VWAP           FactorConfig `mapstructure:"vwap" yaml:"vwap"`
	ADX            FactorConfig `mapstructure:"adx" yaml:"adx"`
}

// Scoring configures the confluence scorer's required thresholds and weights (§4.2).
type Scoring struct {
	BaseRequired      decimal.Decimal            `mapstructure:"base_required" yaml:"base_required"`
	WeakTrendRequired decimal.Decimal            `mapstructure:"weak_trend_required" yaml:"weak_trend_required"`
	Weights           map[string]decimal.Decimal `mapstructure:"weights" yaml:"weights"`
	// TiePriority is the default direction favored when both long and short
	// pass with an equal margin (§4.2's tie-break).
	TiePriority string `mapstructure:"tie_priority" yaml:"tie_priority"`
}

// StopMode is the closed set of stop-placement strategies.
type StopMode string

const (
	StopModeORPOpposite StopMode = "or_opposite"
	StopModeSwing      StopMode = "swing"
	StopModeATRCapped  StopMode = "atr_capped"
)

// Trailing configures the trade manager's trailing-stop phase (§4.4 step 6).
type Trailing struct {
	Enabled    bool            `mapstructure:"enabled" yaml:"enabled"`
	StartR     decimal.Decimal `mapstructure:"start_r" yaml:"start_r"`
	DistanceR  decimal.Decimal `mapstructure:"distance_r" yaml:"distance_r"`
}

// Trade configures the trade manager (§4.4).
type Trade struct {
	StopMode         StopMode        `mapstructure:"stop_mode" yaml:"stop_mode"`
	ExtraStopBuffer  decimal.Decimal `mapstructure:"extra_stop_buffer" yaml:"extra_stop_buffer"`
	Partials         bool            `mapstructure:"partials" yaml:"partials"`
	T1R              decimal.Decimal `mapstructure:"t1_r" yaml:"t1_r"`
	T1Pct            decimal.Decimal `mapstructure:"t1_pct" yaml:"t1_pct"`
	T2R              decimal.Decimal `mapstructure:"t2_r" yaml:"t2_r"`
	T2Pct            decimal.Decimal `mapstructure:"t2_pct" yaml:"t2_pct"`
	RunnerR          decimal.Decimal `mapstructure:"runner_r" yaml:"runner_r"`
	PrimaryR         decimal.Decimal `mapstructure:"primary_r" yaml:"primary_r"`
	MoveBEAtR        decimal.Decimal `mapstructure:"move_be_at_r" yaml:"move_be_at_r"`
	BEBuffer         decimal.Decimal `mapstructure:"be_buffer" yaml:"be_buffer"`
	ConservativeFills bool           `mapstructure:"conservative_fills" yaml:"conservative_fills"`
	Trailing         Trailing        `mapstructure:"trailing" yaml:"trailing"`
}

// Governance configures the suppression layer (§4.5).
type Governance struct {
	MaxSignalsPerDay     int             `mapstructure:"max_signals_per_day" yaml:"max_signals_per_day"`
	LockoutAfterLosses   int             `mapstructure:"lockout_after_losses" yaml:"lockout_after_losses"`
	MaxDailyLossR        decimal.Decimal `mapstructure:"max_daily_loss_r" yaml:"max_daily_loss_r"`
	HasMaxDailyLossR     bool            `mapstructure:"-" yaml:"-"`
	TimeCutoff           string          `mapstructure:"time_cutoff" yaml:"time_cutoff"`
	HasTimeCutoff        bool            `mapstructure:"-" yaml:"-"`
	FlattenAtSessionEnd  bool            `mapstructure:"flatten_at_session_end" yaml:"flatten_at_session_end"`
	SecondChanceMinutes  int             `mapstructure:"second_chance_minutes" yaml:"second_chance_minutes"`
}

// PlaybookConfig enables and parameterizes one named playbook (§4.6).
type PlaybookConfig struct {
	Name       string                     `mapstructure:"name" yaml:"name"`
	Enabled    bool                       `mapstructure:"enabled" yaml:"enabled"`
	Parameters map[string]decimal.Decimal `mapstructure:"parameters" yaml:"parameters"`
}

// MultiPlaybook configures the orchestrator path (§4.6-4.8). A nil
// *MultiPlaybook on Root means single-strategy mode (§9's "both as
// selectable modes").
type MultiPlaybook struct {
	AccountSize             decimal.Decimal            `mapstructure:"account_size" yaml:"account_size"`
	BaseRisk                decimal.Decimal            `mapstructure:"base_risk" yaml:"base_risk"`
	MaxSimultaneousPositions int                       `mapstructure:"max_simultaneous_positions" yaml:"max_simultaneous_positions"`
	TargetVolatility        decimal.Decimal            `mapstructure:"target_volatility" yaml:"target_volatility"`
	MaxPortfolioHeat        decimal.Decimal            `mapstructure:"max_portfolio_heat" yaml:"max_portfolio_heat"`
	CorrelationThreshold    decimal.Decimal            `mapstructure:"correlation_threshold" yaml:"correlation_threshold"`
	MinRegimeClarity        decimal.Decimal            `mapstructure:"min_regime_clarity" yaml:"min_regime_clarity"`
	PointValue              decimal.Decimal            `mapstructure:"point_value" yaml:"point_value"`
	Playbooks               []PlaybookConfig           `mapstructure:"playbooks" yaml:"playbooks"`
	ArbitratorWeights       map[string]decimal.Decimal `mapstructure:"arbitrator_weights" yaml:"arbitrator_weights"`
	WeightLearning          bool                       `mapstructure:"weight_learning" yaml:"weight_learning"`
	ResetHeatPerSession     bool                       `mapstructure:"reset_heat_per_session" yaml:"reset_heat_per_session"`
}

// Root is the engine's full recognized configuration (§6).
type Root struct {
	Session       Session        `mapstructure:"session" yaml:"session"`
	OpeningRange  OpeningRange   `mapstructure:"opening_range" yaml:"opening_range"`
	Buffers       Buffers        `mapstructure:"buffers" yaml:"buffers"`
	Factors       Factors        `mapstructure:"factors" yaml:"factors"`
	Scoring       Scoring        `mapstructure:"scoring" yaml:"scoring"`
	Trade         Trade          `mapstructure:"trade" yaml:"trade"`
	Governance    Governance     `mapstructure:"governance" yaml:"governance"`
	MultiPlaybook *MultiPlaybook `mapstructure:"multi_playbook" yaml:"multi_playbook"`
}

// ParsedTimeCutoff parses Governance.TimeCutoff ("HH:MM") into an hour/minute
// pair; callers combine it with a session date in the configured timezone.
func (g Governance) ParsedTimeCutoff() (hour, minute int, ok bool, err error) {
	if !g.HasTimeCutoff || g.TimeCutoff == "" {
		return 0, 0, false, nil
	}
	t, err := time.Parse("15:04", g.TimeCutoff)
	if err != nil {
		return 0, 0, false, err
	}
	return t.Hour(), t.Minute(), true, nil
}

// Default returns a Root populated with the same numeric defaults used by
// the testable-property scenarios in spec.md §8 (t1_r=1.5, move_be_at_r=1.0,
// etc.), in single-strategy mode (MultiPlaybook is nil).
func Default() *Root {
	return &Root{
		Session: Session{
			StartTime:  "09:30",
			EndTime:    "16:00",
			Timezone:   "America/New_York",
			TickSize:   decimal.NewFromFloat(0.25),
			PointValue: decimal.NewFromInt(50),
		},
		OpeningRange: OpeningRange{
			BaseMinutes: 15,
			ATRPeriod:   14,
			Validity: OpeningRangeValidity{
				Enabled:    true,
				MinATRMult: decimal.NewFromFloat(0.25),
				MaxATRMult: decimal.NewFromFloat(3.0),
			},
		},
		Buffers: Buffers{
			Fixed:  decimal.NewFromFloat(0.05),
			UseATR: false,
		},
		Scoring: Scoring{
			BaseRequired:      decimal.NewFromFloat(0.6),
			WeakTrendRequired: decimal.NewFromFloat(0.75),
			Weights: map[string]decimal.Decimal{
				"relative_volume": decimal.NewFromFloat(0.25),
				"price_action":    decimal.NewFromFloat(0.25),
				"profile":         decimal.NewFromFloat(0.2),
				"vwap":            decimal.NewFromFloat(0.15),
				"adx":             decimal.NewFromFloat(0.15),
			},
			TiePriority: "long",
		},
		Trade: Trade{
			StopMode:          StopModeORPOpposite,
			Partials:          true,
			T1R:               decimal.NewFromFloat(1.5),
			T1Pct:             decimal.NewFromFloat(1.0),
			MoveBEAtR:         decimal.NewFromFloat(1.0),
			ConservativeFills: true,
			Trailing: Trailing{
				Enabled:   false,
				StartR:    decimal.NewFromFloat(1.0),
				DistanceR: decimal.NewFromFloat(0.5),
			},
		},
		Governance: Governance{
			MaxSignalsPerDay:    3,
			LockoutAfterLosses:  2,
			FlattenAtSessionEnd: true,
		},
	}
}
