package main

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSetupLoggerDebugLevelEnablesDebug(t *testing.T) {
	logger, err := setupLogger("debug")
	if err != nil {
		t.Fatalf("setupLogger: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug level should enable debug-level logging")
	}
}

func TestSetupLoggerUnknownLevelDefaultsToInfo(t *testing.T) {
	logger, err := setupLogger("not-a-real-level")
	if err != nil {
		t.Fatalf("setupLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("an unrecognized level should default to info, not enable debug")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("an unrecognized level should default to info")
	}
}

func TestSetupLoggerErrorLevelSuppressesWarn(t *testing.T) {
	logger, err := setupLogger("error")
	if err != nil {
		t.Fatalf("setupLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("error level should not enable warn-level logging")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatal("error level should enable error-level logging")
	}
}

func TestNewRootCmdRegistersAllSubcommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"run": false, "validate-config": false, "replay": false, "serve": false}
	for _, cmd := range root.Commands() {
		name := cmd.Name()
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("root command is missing subcommand %q", name)
		}
	}
}

func TestNewRootCmdDefaultPersistentFlags(t *testing.T) {
	root := newRootCmd()
	cfgFlag := root.PersistentFlags().Lookup("config")
	if cfgFlag == nil {
		t.Fatal("root command should define a --config flag")
	}
	if cfgFlag.DefValue != "config.yaml" {
		t.Fatalf("--config default = %q, want config.yaml", cfgFlag.DefValue)
	}

	levelFlag := root.PersistentFlags().Lookup("log-level")
	if levelFlag == nil {
		t.Fatal("root command should define a --log-level flag")
	}
	if levelFlag.DefValue != "info" {
		t.Fatalf("--log-level default = %q, want info", levelFlag.DefValue)
	}
}

func TestNewRunCmdRequiresBarsFlag(t *testing.T) {
	cmd := newRunCmd()
	flag := cmd.Flags().Lookup("bars")
	if flag == nil {
		t.Fatal("run command should define a --bars flag")
	}
	ann := flag.Annotations["cobra_annotation_bash_completion_one_required_flag"]
	if len(ann) == 0 {
		t.Fatal("--bars should be marked as a required flag on the run command")
	}
}

func TestNewReplayCmdDefaultToIndexMeansEndOfFile(t *testing.T) {
	cmd := newReplayCmd()
	flag := cmd.Flags().Lookup("to")
	if flag == nil {
		t.Fatal("replay command should define a --to flag")
	}
	if flag.DefValue != "-1" {
		t.Fatalf("--to default = %s, want -1 (end of file)", flag.DefValue)
	}
}
