package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aluiziolira/civey-polls/config"
	"github.com/aluiziolira/civey-polls/dashboard"
)

func main() {
	inputDefault := config.DefaultConfig().OutputFile
	if value, ok := config.EnvString("CIVEY_OUTPUT"); ok {
		inputDefault = value
	}

	input := flag.String("input", inputDefault, "Poll CSV file to read")
	months := flag.Int("months", 3, "Months of history to list (0 hides the history table)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *months < 0 {
		slog.Error("invalid configuration", slog.Any("error", fmt.Errorf("months must be >= 0")))
		os.Exit(1)
	}

	if err := run(os.Stdout, *input, *months, time.Now()); err != nil {
		slog.Error("loading poll data failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(w io.Writer, input string, months int, now time.Time) error {
	ds, err := dashboard.Load(input)
	if err != nil {
		return err
	}

	summary := dashboard.Summarize(ds)
	dashboard.RenderSummary(w, summary, now)

	if summary.Latest != nil && months > 0 {
		from := summary.Latest.Date.AddDate(0, -months, 0)
		fmt.Fprintf(w, "\nHistory since %s\n", from.Format("02.01.2006"))
		dashboard.RenderRows(w, ds.Parties, ds.Since(from))
	}

	if ds.Dropped > 0 {
		fmt.Fprintf(w, "\n%d row(s) skipped: malformed row or unrecognised date\n", ds.Dropped)
	}
	return nil
}
