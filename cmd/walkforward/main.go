// Package main runs a single walk-forward validation in the foreground and
// prints its summary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"walkforward-lab/internal/api"
	"walkforward-lab/internal/app"
	"walkforward-lab/internal/config"
	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/walkforward"
)

func main() {
	// Run
	symbols := flag.String("symbols", "", "Comma-separated symbols (required unless --resume-run-id)")
	start := flag.String("start", "", "First test day, YYYY-MM-DD (required unless --resume-run-id)")
	days := flag.Int("days", 252, "Trading days to evaluate")
	frequency := flag.String("frequency", "weekly", "Retrain cadence: daily, weekly, monthly, quarterly")
	features := flag.String("features", domain.FeatureSetDefault16, "Feature set: essential_8, default_16, advanced")
	threshold := flag.Float64("threshold", 0.5, "High-confidence threshold")
	resumeRunID := flag.String("resume-run-id", "", "Resume an interrupted run instead of creating one")

	// Environment
	configFile := flag.String("config", "", "YAML config file (default $WF_CONFIG_FILE)")
	offline := flag.Bool("offline", false, "Use synthetic warehouse collaborators")
	verbose := flag.Bool("verbose", false, "Log every batch")

	// Output
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[walkforward] ", log.LstdFlags)

	if *offline {
		if err := os.Setenv("WF_WAREHOUSE_OFFLINE", "true"); err != nil {
			logger.Fatalf("set offline: %v", err)
		}
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *verbose {
		cfg.Logging.Verbose = true
	}

	var runCfg domain.RunConfig
	if *resumeRunID == "" {
		runCfg, err = buildRunConfig(*symbols, *start, *days, *frequency, *features, *threshold)
		if err != nil {
			logger.Fatalf("Invalid run: %v", err)
		}
	}

	// Cancelling ctx interrupts the run at the next batch boundary.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer application.Close()
	ctrl := application.Controller

	var result *walkforward.RunResult
	if *resumeRunID != "" {
		logger.Printf("Resuming run %s", *resumeRunID)
		result, err = ctrl.ResumeSync(ctx, *resumeRunID)
	} else {
		var run *domain.Run
		run, err = ctrl.Create(context.Background(), runCfg)
		if err != nil {
			logger.Fatalf("Create run: %v", err)
		}
		logger.Printf("Created run %s (%d symbols, %d days, %s)",
			run.RunID, len(runCfg.Symbols), runCfg.HorizonDays, runCfg.Cadence)
		result, err = ctrl.Execute(ctx, run.RunID)
	}
	if err != nil && result == nil {
		logger.Fatalf("Run failed: %v", err)
	}

	if *outputJSON {
		if err := printJSON(result); err != nil {
			logger.Fatalf("Encode summary: %v", err)
		}
	} else {
		printSummary(result)
	}

	if err != nil {
		logger.Printf("Run failed: %v", err)
		os.Exit(1)
	}
	if errors.Is(result.Cause, walkforward.ErrCancelled) {
		logger.Printf("%v; continue with --resume-run-id %s", result.Cause, result.Run.RunID)
	}
}

// buildRunConfig parses the run flags.
func buildRunConfig(symbols, start string, days int, frequency, features string, threshold float64) (domain.RunConfig, error) {
	var list []string
	for _, s := range strings.Split(symbols, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		return domain.RunConfig{}, fmt.Errorf("--symbols is required")
	}
	if start == "" {
		return domain.RunConfig{}, fmt.Errorf("--start is required")
	}
	testStart, err := domain.ParseDay(start)
	if err != nil {
		return domain.RunConfig{}, fmt.Errorf("--start: %w", err)
	}
	cadence, err := domain.ParseCadence(frequency)
	if err != nil {
		return domain.RunConfig{}, fmt.Errorf("--frequency: %w", err)
	}

	cfg := domain.RunConfig{
		Symbols:             list,
		TestStart:           testStart,
		HorizonDays:         days,
		Cadence:             cadence,
		FeatureSet:          features,
		ConfidenceThreshold: threshold,
	}
	if err := cfg.Validate(); err != nil {
		return domain.RunConfig{}, err
	}
	return cfg, nil
}

// summary is the JSON form of a finished run.
type summary struct {
	api.RunSummary
	Batches          int       `json:"batches"`
	SkippedBatches   []skipped `json:"skipped_batches,omitempty"`
	PredictionsSaved int       `json:"predictions_saved"`
}

type skipped struct {
	Symbol     string `json:"symbol"`
	BatchIndex int    `json:"batch_index"`
	Error      string `json:"error"`
}

func newSummary(r *walkforward.RunResult) summary {
	s := summary{
		RunSummary:       api.NewRunSummary(r.Run),
		Batches:          len(r.Batches),
		PredictionsSaved: r.PredictionsSaved,
	}
	for _, sk := range r.Skipped {
		s.SkippedBatches = append(s.SkippedBatches, skipped{
			Symbol:     sk.Symbol,
			BatchIndex: sk.BatchIndex,
			Error:      sk.Err.Error(),
		})
	}
	return s
}

func printJSON(r *walkforward.RunResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(newSummary(r))
}

func printSummary(r *walkforward.RunResult) {
	s := newSummary(r)
	fmt.Printf("Run:         %s (attempt %d)\n", s.RunID, s.Attempt)
	fmt.Printf("Status:      %s\n", s.Status)
	fmt.Printf("Progress:    %.1f%% of %d batches\n", s.ProgressPct, s.Batches)
	fmt.Printf("Predictions: %d saved this attempt\n", s.PredictionsSaved)
	if s.ErrorMessage != "" {
		fmt.Printf("Error:       %s\n", s.ErrorMessage)
	}
	for _, sk := range s.SkippedBatches {
		fmt.Printf("Skipped:     %s batch %d: %s\n", sk.Symbol, sk.BatchIndex, sk.Error)
	}

	m := s.Metrics
	if m == nil {
		return
	}
	fmt.Println()
	fmt.Printf("Accuracy:        %.2f%% (%d/%d)\n", m.OverallAccuracy*100, m.CorrectPredictions, m.TotalPredictions)
	fmt.Printf("  up / down:     %.2f%% / %.2f%%\n", m.UpAccuracy*100, m.DownAccuracy*100)
	fmt.Printf("  high conf:     %.2f%%\n", m.HighConfidenceAccuracy*100)
	fmt.Printf("Total return:    %.2f%%\n", m.TotalReturn*100)
	fmt.Printf("Final equity:    %.2f\n", m.FinalEquity)
	fmt.Printf("Max drawdown:    %.2f%%\n", m.MaxDrawdown*100)
}
