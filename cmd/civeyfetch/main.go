package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/civey-polls/config"
	"github.com/aluiziolira/civey-polls/fetcher"
	"github.com/aluiziolira/civey-polls/metrics"
	"github.com/aluiziolira/civey-polls/models"
	"github.com/aluiziolira/civey-polls/pipeline"
)

func main() {
	defaultCfg := config.DefaultConfig()
	pollDefault := defaultCfg.PollID
	if value, ok := config.EnvString("CIVEY_POLL_ID"); ok {
		pollDefault = value
	}
	baseURLDefault := defaultCfg.BaseURL
	if value, ok := config.EnvString("CIVEY_BASE_URL"); ok {
		baseURLDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("CIVEY_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsFile
	if value, ok := config.EnvString("CIVEY_METRICS_FILE"); ok {
		metricsDefault = value
	}
	dedupeDefault := defaultCfg.SkipDuplicates
	if value, ok, err := config.EnvBool("CIVEY_SKIP_DUPLICATES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid CIVEY_SKIP_DUPLICATES: %v\n", err)
		os.Exit(1)
	} else if ok {
		dedupeDefault = value
	}
	windowDefault := defaultCfg.DedupeWindow
	if value, ok, err := config.EnvInt("CIVEY_DEDUPE_WINDOW"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid CIVEY_DEDUPE_WINDOW: %v\n", err)
		os.Exit(1)
	} else if ok {
		windowDefault = value
	}

	pollID := flag.String("poll", pollDefault, "Civey poll id")
	baseURL := flag.String("base-url", baseURLDefault, "Poll API base URL")
	outputFile := flag.String("output", outputDefault, "CSV file to append to")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, or dual (csv plus jsonl archive)")
	timeoutMs := flag.Int("timeout", int(defaultCfg.Timeout/time.Millisecond), "Request timeout (milliseconds)")
	skipDuplicates := flag.Bool("skip-duplicates", dedupeDefault, "Skip polls whose date and question are already recorded")
	dedupeWindow := flag.Int("dedupe-window", windowDefault, "Number of recent rows checked for duplicates")
	metricsFile := flag.String("metrics-file", metricsDefault, "Write Prometheus metrics to this textfile after the run")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := buildConfigFromFlags(*pollID, *baseURL, *outputFile, *outputFormat, *timeoutMs, *skipDuplicates, *dedupeWindow, *metricsFile, *verbose)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, cfg)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config) int {
	m := metrics.New()
	defer func() {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			slog.Error("writing metrics failed", slog.Any("error", err))
		}
	}()

	f, err := fetcher.NewFetcher(cfg, m)
	if err != nil {
		slog.Error("initialising fetcher", slog.Any("error", err))
		return 1
	}

	writer, err := createWriter(cfg)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	slog.Info("fetching poll",
		slog.String("poll_id", cfg.PollID),
		slog.String("url", f.URL(cfg.PollID)),
		slog.String("output", cfg.OutputFile),
	)

	result, err := pipeline.NewPipeline(f, writer, cfg, m).Run(ctx)
	if err != nil {
		slog.Error("poll run failed", slog.String("poll_id", cfg.PollID), slog.Any("error", err))
		return 1
	}

	if result.Written {
		if err := writer.Validate(); err != nil {
			slog.Error("output validation failed", slog.Any("error", err))
			return 1
		}
	}

	printSummary(result, cfg.OutputFile)
	return 0
}

func buildConfigFromFlags(pollID, baseURL, outputFile, outputFormat string, timeoutMs int, skipDuplicates bool, dedupeWindow int, metricsFile string, verbose bool) *config.Config {
	cfg := config.DefaultConfig()
	cfg.PollID = strings.TrimSpace(pollID)
	cfg.BaseURL = baseURL
	cfg.OutputFile = outputFile
	cfg.OutputFormat = strings.ToLower(outputFormat)
	cfg.Timeout = time.Duration(timeoutMs) * time.Millisecond
	cfg.SkipDuplicates = skipDuplicates
	cfg.DedupeWindow = dedupeWindow
	cfg.MetricsFile = metricsFile
	cfg.Verbose = verbose
	return cfg
}

func createWriter(cfg *config.Config) (pipeline.OutputWriter, error) {
	var csvWriter *pipeline.CSVWriter
	var out pipeline.OutputWriter

	switch cfg.OutputFormat {
	case "csv":
		w, err := pipeline.NewCSVWriter(cfg.OutputFile)
		if err != nil {
			return nil, err
		}
		csvWriter, out = w, w
	case "dual":
		w, err := pipeline.NewDualWriter(cfg.OutputFile, cfg.ArchiveFile())
		if err != nil {
			return nil, err
		}
		csvWriter, out = w.CSV(), w
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}

	if cfg.SkipDuplicates {
		if err := csvWriter.EnableDedupe(cfg.DedupeWindow); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func printSummary(result *models.RunResult, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Poll run complete")
	fmt.Printf("  Poll id:       %s\n", result.PollID)
	if result.Record != nil {
		fmt.Printf("  Poll date:     %s\n", result.Record.DateString())
		fmt.Printf("  Parties:       %d\n", len(result.Record.Parties))
	}
	if result.Written {
		fmt.Printf("  Appended to:   %s\n", outputFile)
	} else {
		fmt.Printf("  Skipped:       %s\n", result.SkipReason)
	}
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime))
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
