package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/civey-polls/config"
	"github.com/aluiziolira/civey-polls/fetcher"
	"github.com/aluiziolira/civey-polls/metrics"
	"github.com/aluiziolira/civey-polls/models"
	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const scenarioPoll = `{"text":"Q1","answers":[{"id":1,"label":"SPD"},{"id":2,"label":"NICHTWAEHLER"}],` +
	`"representative_result":{"timeframe_to":"2024-01-15T23:59:59+01:00","error_margin":0.03,"result_ratios":{"1":0.25,"2":0.10}}}`

type stubFetcher struct {
	poll  *models.Poll
	err   error
	calls int
}

func (sf *stubFetcher) Fetch(ctx context.Context, pollID string) (*models.Poll, error) {
	sf.calls++
	return sf.poll, sf.err
}

type recordingWriter struct {
	records []*models.PollRecord
	err     error
}

func (rw *recordingWriter) Write(record *models.PollRecord) error {
	if rw.err != nil {
		return rw.err
	}
	rw.records = append(rw.records, record)
	return nil
}

func (rw *recordingWriter) Close() error {
	return nil
}

func (rw *recordingWriter) Validate() error {
	return nil
}

func mustPoll(t *testing.T, payload string) *models.Poll {
	t.Helper()
	var poll models.Poll
	if err := json.Unmarshal([]byte(payload), &poll); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	return &poll
}

func steppingClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(step)
		return now
	}
}

func TestPipelineRunWritesRecord(t *testing.T) {
	cfg := config.DefaultConfig()
	m := metrics.New()
	writer := &recordingWriter{}
	p := NewPipeline(&stubFetcher{poll: mustPoll(t, scenarioPoll)}, writer, cfg, m)
	p.SetClock(func() time.Time { return time.Unix(1705400000, 0) })

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Written || result.SkipReason != "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(writer.records) != 1 {
		t.Fatalf("records written = %d, want 1", len(writer.records))
	}
	if got := writer.records[0].Timestamp; got != 1705400000 {
		t.Fatalf("timestamp = %d", got)
	}
	if got := testutil.ToFloat64(m.RowsAppendedTotal); got != 1 {
		t.Fatalf("rows appended = %v, want 1", got)
	}
}

func TestPipelineRunSkipsMalformedPoll(t *testing.T) {
	cfg := config.DefaultConfig()
	m := metrics.New()
	writer := &recordingWriter{}
	poll := mustPoll(t, `{"text":"Q1","answers":[{"id":1,"label":"SPD"}]}`)
	p := NewPipeline(&stubFetcher{poll: poll}, writer, cfg, m)

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("malformed poll should not fail the run: %v", err)
	}
	if result.Written || result.SkipReason != SkipMalformed {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(writer.records) != 0 {
		t.Fatalf("no write expected, got %d", len(writer.records))
	}
	if got := testutil.ToFloat64(m.SkippedTotal.WithLabelValues(SkipMalformed)); got != 1 {
		t.Fatalf("skipped{malformed} = %v, want 1", got)
	}
}

func TestPipelineRunFetchErrorAborts(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &recordingWriter{}
	fetchErr := fetcher.ErrNotFound{Err: errors.New("Not Found")}
	p := NewPipeline(&stubFetcher{err: fetchErr}, writer, cfg, nil)

	_, err := p.Run(context.Background())
	var notFound fetcher.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(writer.records) != 0 {
		t.Fatalf("no write expected")
	}
}

func TestPipelineRunPersistenceErrorAborts(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &recordingWriter{err: ErrPersistence{Op: "open", Path: "data.csv", Err: os.ErrPermission}}
	p := NewPipeline(&stubFetcher{poll: mustPoll(t, scenarioPoll)}, writer, cfg, nil)

	_, err := p.Run(context.Background())
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	var persistErr ErrPersistence
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected ErrPersistence, got %T", err)
	}
}

func TestPipelineRunDuplicateIsSkipped(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputFile = filepath.Join(t.TempDir(), "data.csv")
	m := metrics.New()

	writer, err := NewCSVWriter(cfg.OutputFile)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.EnableDedupe(cfg.DedupeWindow); err != nil {
		t.Fatalf("enable dedupe: %v", err)
	}
	p := NewPipeline(&stubFetcher{poll: mustPoll(t, scenarioPoll)}, writer, cfg, m)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Written || result.SkipReason != SkipDuplicate {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := testutil.ToFloat64(m.SkippedTotal.WithLabelValues(SkipDuplicate)); got != 1 {
		t.Fatalf("skipped{duplicate} = %v, want 1", got)
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://example.test/v1/voter/polls/"
	cfg.PollID = "37307"
	cfg.OutputFile = filepath.Join(t.TempDir(), "data.csv")

	m := metrics.New()
	f, err := fetcher.NewFetcher(cfg, m)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/v1/voter/polls/37307", func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, `{"poll":`+scenarioPoll+`}`)
		resp.Header.Set("Content-Type", "application/json")
		return resp, nil
	})
	f.WithTransport(transport)

	writer, err := NewCSVWriter(cfg.OutputFile)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	p := NewPipeline(f, writer, cfg, m)
	p.SetClock(steppingClock(time.Unix(1705400000, 0), time.Minute))

	for i := 0; i < 2; i++ {
		result, err := p.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if !result.Written {
			t.Fatalf("run %d did not write: %+v", i, result)
		}
	}

	records := readCSV(t, cfg.OutputFile)
	if len(records) != 3 {
		t.Fatalf("lines = %d, want 3", len(records))
	}
	if diff := cmp.Diff([]string{"timestamp", "date", "question", "error_margin", "SPD"}, records[0]); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
	for _, row := range records[1:] {
		if diff := cmp.Diff([]string{"2024-01-15", "Q1", "0.03", "0.25"}, row[1:]); diff != "" {
			t.Fatalf("row mismatch (-want +got):\n%s", diff)
		}
	}
	if records[1][0] == records[2][0] {
		t.Fatalf("re-runs should differ in timestamp, both %s", records[1][0])
	}
	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("api calls = %d, want 2", got)
	}
}

func TestPipelineEndToEndServerErrorWritesNothing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://example.test/v1/voter/polls/"
	cfg.OutputFile = filepath.Join(t.TempDir(), "data.csv")

	f, err := fetcher.NewFetcher(cfg, nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/v1/voter/polls/37307", httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))
	f.WithTransport(transport)

	writer, err := NewCSVWriter(cfg.OutputFile)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	if _, err := NewPipeline(f, writer, cfg, nil).Run(context.Background()); !fetcher.IsNetworkError(err) {
		t.Fatalf("expected network error, got %v", err)
	}
	if _, err := os.Stat(cfg.OutputFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("csv should not exist after a failed fetch")
	}
}
