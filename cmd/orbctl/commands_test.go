package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/orbconfluence/backtest-engine/internal/barsrc"
)

func writeTempCSV(t *testing.T, rows []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.csv")
	content := "timestamp,open,high,low,close,volume\n"
	for _, r := range rows {
		content += r + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp CSV: %v", err)
	}
	return path
}

func fiveBarRows() []string {
	return []string{
		"2026-01-05T09:30:00Z,100,101,99,100.5,1000",
		"2026-01-05T09:31:00Z,100.5,102,100,101.5,1100",
		"2026-01-05T09:32:00Z,101.5,103,101,102.5,1200",
		"2026-01-05T09:33:00Z,102.5,104,102,103.5,1300",
		"2026-01-05T09:34:00Z,103.5,105,103,104.5,1400",
	}
}

func TestReadWindowToMinusOneReadsToEndOfFile(t *testing.T) {
	path := writeTempCSV(t, fiveBarRows())
	src, err := barsrc.NewCSVSource(path)
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}
	defer src.Close()

	bars, err := readWindow(src, 0, -1)
	if err != nil {
		t.Fatalf("readWindow: %v", err)
	}
	if len(bars) != 5 {
		t.Fatalf("got %d bars, want all 5", len(bars))
	}
}

func TestReadWindowBoundsAreInclusiveExclusive(t *testing.T) {
	path := writeTempCSV(t, fiveBarRows())
	src, err := barsrc.NewCSVSource(path)
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}
	defer src.Close()

	bars, err := readWindow(src, 1, 3)
	if err != nil {
		t.Fatalf("readWindow: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2 (indices 1,2)", len(bars))
	}
	wantFirst := "2026-01-05T09:31:00Z"
	if bars[0].Timestamp.Format("2006-01-02T15:04:05Z") != wantFirst {
		t.Fatalf("first bar timestamp = %s, want %s", bars[0].Timestamp, wantFirst)
	}
}

func TestReadWindowFromBeyondLastBarYieldsEmpty(t *testing.T) {
	path := writeTempCSV(t, fiveBarRows())
	src, err := barsrc.NewCSVSource(path)
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}
	defer src.Close()

	bars, err := readWindow(src, 100, -1)
	if err != nil {
		t.Fatalf("readWindow: %v", err)
	}
	if len(bars) != 0 {
		t.Fatalf("got %d bars, want 0", len(bars))
	}
}

func TestValidateConfigCmdAcceptsDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}

	prevConfigPath := configPath
	configPath = path
	defer func() { configPath = prevConfigPath }()

	cmd := newValidateConfigCmd()
	if err := cmd.RunE(cmd, nil); err != nil {
		t.Fatalf("validate-config on a blank (default) config should succeed, got %v", err)
	}
}

func TestValidateConfigCmdRejectsMissingFile(t *testing.T) {
	prevConfigPath := configPath
	configPath = filepath.Join(t.TempDir(), "does-not-exist.yaml")
	defer func() { configPath = prevConfigPath }()

	cmd := newValidateConfigCmd()
	if err := cmd.RunE(cmd, nil); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
