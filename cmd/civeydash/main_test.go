package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleCSV = "timestamp,date,question,error_margin,SPD\n" +
	"1,2023-10-01,Q,0.03,0.14\n" +
	"2,10.01.2024,Q,0.03,0.15\n" +
	"3,2024-02-20,Q,0.03,0.16\n" +
	"4,not-a-date,Q,0.03,0.17\n"

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return path
}

func TestRunHistoryWindow(t *testing.T) {
	path := writeSample(t)
	now := time.Date(2024, 2, 21, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		months  int
		want    []string
		notWant []string
	}{
		{name: "one month", months: 1, want: []string{"20.02.2024"}, notWant: []string{"10.01.2024", "01.10.2023"}},
		{name: "two months", months: 2, want: []string{"10.01.2024", "20.02.2024"}, notWant: []string{"01.10.2023"}},
		{name: "six months", months: 6, want: []string{"01.10.2023", "10.01.2024", "20.02.2024"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := run(&buf, path, tt.months, now); err != nil {
				t.Fatalf("run: %v", err)
			}
			_, history, ok := strings.Cut(buf.String(), "History since")
			if !ok {
				t.Fatalf("history section missing:\n%s", buf.String())
			}
			for _, want := range tt.want {
				if !strings.Contains(history, want) {
					t.Fatalf("history missing %q:\n%s", want, history)
				}
			}
			for _, notWant := range tt.notWant {
				if strings.Contains(history, notWant) {
					t.Fatalf("history should not contain %q:\n%s", notWant, history)
				}
			}
		})
	}
}

func TestRunReportsDroppedRows(t *testing.T) {
	var buf bytes.Buffer
	if err := run(&buf, writeSample(t), 0, time.Now()); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "1 row(s) skipped") {
		t.Fatalf("dropped notice missing:\n%s", out)
	}
	if strings.Contains(out, "History since") {
		t.Fatalf("months=0 should hide history:\n%s", out)
	}
}

func TestRunMissingFile(t *testing.T) {
	var buf bytes.Buffer
	if err := run(&buf, filepath.Join(t.TempDir(), "absent.csv"), 3, time.Now()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(buf.String(), "No poll data available.") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}
