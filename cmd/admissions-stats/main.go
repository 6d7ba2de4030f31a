package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/camapply/admissions-stats/internal/config"
	"github.com/camapply/admissions-stats/internal/pipeline"
	"github.com/camapply/admissions-stats/internal/report"
	"github.com/camapply/admissions-stats/internal/store"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// newLogger builds the run logger at the configured level.
func newLogger(levelStr string) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	switch levelStr {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func printVersion() {
	fmt.Printf("admissions-stats %s\n", version)
	fmt.Printf("  build time: %s\n", buildTime)
	fmt.Printf("  git commit: %s\n", gitCommit)
	fmt.Printf("  go version: %s\n", runtime.Version())
}

func run() error {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	layout, err := config.LoadLayout(cfg.LayoutPath)
	if err != nil {
		return err
	}
	logger.Info("layout loaded",
		zap.String("path", cfg.LayoutPath),
		zap.Int("schema_version", layout.SchemaVersion))

	pdfBytes, err := os.ReadFile(cfg.InputPath)
	if err != nil {
		return fmt.Errorf("failed to read input PDF: %w", err)
	}

	var st store.Store
	if cfg.DatabasePath != "" {
		sqlStore, err := store.OpenSQLite(cfg.DatabasePath)
		if err != nil {
			return err
		}
		st = sqlStore
	} else {
		st = store.NewMemoryStore()
	}
	defer st.Close()

	// Abort the whole run on SIGINT/SIGTERM; partial results are
	// discardable, never partially committed.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.Run(ctx, pdfBytes, st, pipeline.Options{
		Layout:     layout,
		Year:       cfg.Year,
		Workers:    cfg.Workers,
		StrictRows: cfg.StrictRows,
		TopGrades:  cfg.TopGrades,
		BandWidth:  cfg.BandWidth,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	generator := report.NewGenerator(cfg.OutputDir)
	if err := generator.WriteAll(result.Tables); err != nil {
		return err
	}
	if err := generator.WriteSummary(result.Summaries, result.GradeFrequency); err != nil {
		return err
	}

	logger.Info("reports written",
		zap.String("dir", cfg.OutputDir),
		zap.Int("tables", len(result.Tables)))
	return nil
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "admissions-stats: %v\n", err)
		os.Exit(1)
	}
}
