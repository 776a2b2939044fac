package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orbconfluence/backtest-engine/internal/barsrc"
	"github.com/orbconfluence/backtest-engine/internal/config"
	"github.com/orbconfluence/backtest-engine/internal/engine"
	"github.com/orbconfluence/backtest-engine/internal/telemetry"
	"github.com/orbconfluence/backtest-engine/pkg/types"
)

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate a configuration file without running",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := config.Load(configPath)
			if err != nil {
				return err
			}
			mode := "single-strategy"
			if root.MultiPlaybook != nil {
				mode = "multi-playbook"
			}
			fmt.Printf("config %s is valid (%s mode)\n", configPath, mode)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var barsPath string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a bar file through the engine and report the resulting trade ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := setupLogger(logLevel)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			root, err := config.Load(configPath)
			if err != nil {
				return err
			}

			source, err := barsrc.NewCSVSource(barsPath)
			if err != nil {
				return fmt.Errorf("opening bar source: %w", err)
			}
			defer source.Close()

			var recorder telemetry.Recorder = telemetry.NoOp{}
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				recorder = telemetry.NewProm(reg)
				stopMetrics := serveMetrics(logger, metricsAddr, reg)
				defer stopMetrics()
			}

			eng := engine.New(logger, root, source, recorder, nil)
			ctx, cancel := signalContext()
			defer cancel()

			logger.Info("starting run", zap.String("config", configPath), zap.String("bars", barsPath))
			result, err := eng.Run(ctx)
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}

			printResult(result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&barsPath, "bars", "b", "", "Path to a CSV bar file (timestamp,open,high,low,close,volume)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on, e.g. :9090 (disabled if empty)")
	cmd.MarkFlagRequired("bars")
	return cmd
}

func newReplayCmd() *cobra.Command {
	var barsPath string
	var fromIndex, toIndex int

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a bounded window of a bar file, for inspecting a specific session",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := setupLogger(logLevel)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			root, err := config.Load(configPath)
			if err != nil {
				return err
			}

			full, err := barsrc.NewCSVSource(barsPath)
			if err != nil {
				return fmt.Errorf("opening bar source: %w", err)
			}
			defer full.Close()

			bars, err := readWindow(full, fromIndex, toIndex)
			if err != nil {
				return err
			}

			source := barsrc.NewSliceSource(bars)
			eng := engine.New(logger, root, source, telemetry.NoOp{}, nil)
			ctx, cancel := signalContext()
			defer cancel()

			result, err := eng.Run(ctx)
			if err != nil {
				return fmt.Errorf("replay failed: %w", err)
			}
			printResult(result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&barsPath, "bars", "b", "", "Path to a CSV bar file")
	cmd.Flags().IntVar(&fromIndex, "from", 0, "First bar index to replay (inclusive)")
	cmd.Flags().IntVar(&toIndex, "to", -1, "Last bar index to replay (exclusive, -1 for end of file)")
	cmd.MarkFlagRequired("bars")
	return cmd
}

func readWindow(src *barsrc.CSVSource, from, to int) ([]types.Bar, error) {
	var out []types.Bar
	idx := 0
	for {
		bar, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading bar %d: %w", idx, err)
		}
		if idx >= from && (to < 0 || idx < to) {
			out = append(out, bar)
		}
		idx++
	}
	return out, nil
}

func serveMetrics(logger *zap.Logger, addr string, reg *prometheus.Registry) func() {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		server.Close()
	}
}

func printResult(result *engine.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "bars processed:\t%d\n", result.BarsProcessed)
	fmt.Fprintf(w, "trades closed:\t%d\n", len(result.ClosedTrades))
	fmt.Fprintf(w, "duration:\t%s\n", result.Duration)
	if len(result.EquityCurve) > 0 {
		fmt.Fprintf(w, "final cumulative R:\t%s\n", result.EquityCurve[len(result.EquityCurve)-1].CumulativeR)
	}
}
