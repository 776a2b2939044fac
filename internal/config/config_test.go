package config

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Default() should satisfy Validate, got %v", err)
	}
}

func TestParsedTimeCutoffDisabledWithoutFlag(t *testing.T) {
	g := Governance{TimeCutoff: "15:00", HasTimeCutoff: false}
	_, _, ok, err := g.ParsedTimeCutoff()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("ParsedTimeCutoff should report ok=false when HasTimeCutoff is unset, regardless of TimeCutoff content")
	}
}

func TestParsedTimeCutoffParsesHourMinute(t *testing.T) {
	g := Governance{TimeCutoff: "15:04", HasTimeCutoff: true}
	hour, minute, ok, err := g.ParsedTimeCutoff()
	if err != nil || !ok {
		t.Fatalf("expected a valid parse, got ok=%v err=%v", ok, err)
	}
	if hour != 15 || minute != 4 {
		t.Fatalf("parsed %d:%d, want 15:4", hour, minute)
	}
}

func TestParsedTimeCutoffRejectsMalformedValue(t *testing.T) {
	g := Governance{TimeCutoff: "not-a-time", HasTimeCutoff: true}
	_, _, _, err := g.ParsedTimeCutoff()
	if err == nil {
		t.Fatal("expected an error for a malformed time_cutoff value")
	}
}

func TestValidateRejectsNonPositiveORBaseMinutes(t *testing.T) {
	cfg := Default()
	cfg.OpeningRange.BaseMinutes = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for opening_range.base_minutes <= 0")
	}
}

func TestValidateRejectsWeakTrendBelowBaseRequired(t *testing.T) {
	cfg := Default()
	cfg.Scoring.WeakTrendRequired = cfg.Scoring.BaseRequired.Sub(decimal.NewFromFloat(0.1))
	if err := Validate(cfg); err == nil {
		t.Fatal("weak_trend_required below base_required should be rejected")
	}
}

func TestValidateRejectsTrailingStartBelowMoveBEAtR(t *testing.T) {
	cfg := Default()
	cfg.Trade.Trailing.Enabled = true
	cfg.Trade.Trailing.StartR = cfg.Trade.MoveBEAtR.Sub(decimal.NewFromFloat(0.5))
	if err := Validate(cfg); err == nil {
		t.Fatal("trailing.start_r below move_be_at_r should be rejected")
	}
}

func TestValidateRejectsPartialPercentagesOverOne(t *testing.T) {
	cfg := Default()
	cfg.Trade.T1Pct = decimal.NewFromFloat(0.7)
	cfg.Trade.T2Pct = decimal.NewFromFloat(0.7)
	cfg.Trade.T2R = decimal.NewFromFloat(3.0)
	if err := Validate(cfg); err == nil {
		t.Fatal("t1_pct + t2_pct > 1 should be rejected")
	}
}

func TestValidateRejectsDuplicatePlaybookNames(t *testing.T) {
	cfg := Default()
	cfg.MultiPlaybook = &MultiPlaybook{
		AccountSize:              decimal.NewFromInt(100000),
		BaseRisk:                 decimal.NewFromFloat(0.01),
		MaxSimultaneousPositions: 2,
		TargetVolatility:         decimal.NewFromFloat(0.015),
		MaxPortfolioHeat:         decimal.NewFromFloat(0.06),
		PointValue:               decimal.NewFromInt(50),
		Playbooks: []PlaybookConfig{
			{Name: "vwap_magnet", Enabled: true},
			{Name: "vwap_magnet", Enabled: true},
		},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("duplicate playbook names should be rejected")
	}
}

func TestValidateRejectsArbitratorWeightsNotSummingToOne(t *testing.T) {
	cfg := Default()
	cfg.MultiPlaybook = &MultiPlaybook{
		AccountSize:              decimal.NewFromInt(100000),
		BaseRisk:                 decimal.NewFromFloat(0.01),
		MaxSimultaneousPositions: 2,
		TargetVolatility:         decimal.NewFromFloat(0.015),
		MaxPortfolioHeat:         decimal.NewFromFloat(0.06),
		PointValue:               decimal.NewFromInt(50),
		ArbitratorWeights: map[string]decimal.Decimal{
			"regime_alignment": decimal.NewFromFloat(0.3),
			"signal_strength":  decimal.NewFromFloat(0.3),
		},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("arbitrator weights not summing to 1 should be rejected")
	}
}

func TestValidateAccumulatesMultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.OpeningRange.BaseMinutes = 0
	cfg.Governance.MaxSignalsPerDay = 0
	cfg.Governance.LockoutAfterLosses = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatal("expected an errors.Join result exposing Unwrap() []error")
	}
	if len(joined.Unwrap()) < 3 {
		t.Fatalf("expected at least 3 accumulated errors, got %d", len(joined.Unwrap()))
	}
}

func TestCloneDeepCopiesWeightsMap(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()

	clone.Scoring.Weights["relative_volume"] = decimal.NewFromFloat(0.99)
	if cfg.Scoring.Weights["relative_volume"].Equal(decimal.NewFromFloat(0.99)) {
		t.Fatal("mutating the clone's weights map should not affect the original")
	}
}

func TestCloneDeepCopiesMultiPlaybook(t *testing.T) {
	cfg := Default()
	cfg.MultiPlaybook = &MultiPlaybook{
		Playbooks:         []PlaybookConfig{{Name: "vwap_magnet"}},
		ArbitratorWeights: map[string]decimal.Decimal{"signal_strength": decimal.NewFromFloat(1)},
	}

	clone := cfg.Clone()
	clone.MultiPlaybook.Playbooks[0].Name = "changed"
	clone.MultiPlaybook.ArbitratorWeights["signal_strength"] = decimal.NewFromFloat(0.5)

	if cfg.MultiPlaybook.Playbooks[0].Name == "changed" {
		t.Fatal("mutating the clone's playbook slice should not affect the original")
	}
	if cfg.MultiPlaybook.ArbitratorWeights["signal_strength"].Equal(decimal.NewFromFloat(0.5)) {
		t.Fatal("mutating the clone's arbitrator weights should not affect the original")
	}
}

func TestCloneNilMultiPlaybookStaysNil(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	if clone.MultiPlaybook != nil {
		t.Fatal("cloning single-strategy mode config should keep MultiPlaybook nil")
	}
}
