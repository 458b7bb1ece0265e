// Package pipeline runs fetch, transform and append for one poll.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/civey-polls/config"
	"github.com/aluiziolira/civey-polls/metrics"
	"github.com/aluiziolira/civey-polls/models"
	"github.com/aluiziolira/civey-polls/transform"
)

// Skip reasons reported in RunResult and the skipped-records metric.
const (
	SkipMalformed = "malformed"
	SkipDuplicate = "duplicate"
)

// Fetcher retrieves the raw poll for an id.
type Fetcher interface {
	Fetch(ctx context.Context, pollID string) (*models.Poll, error)
}

// OutputWriter persists a single record per call.
type OutputWriter interface {
	Write(record *models.PollRecord) error
	Close() error
	Validate() error
}

// Pipeline runs fetch -> transform -> append once per Run call.
type Pipeline struct {
	fetcher Fetcher
	writer  OutputWriter
	cfg     *config.Config
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewPipeline wires the stages together. m may be nil.
func NewPipeline(fetcher Fetcher, writer OutputWriter, cfg *config.Config, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		writer:  writer,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

// SetClock overrides the clock used to stamp records.
func (p *Pipeline) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Run performs one fetch and appends at most one row. Malformed payloads and
// duplicates end the run cleanly with nothing written; fetch and persistence
// failures are returned.
func (p *Pipeline) Run(ctx context.Context) (*models.RunResult, error) {
	result := &models.RunResult{
		PollID:    p.cfg.PollID,
		StartTime: p.now(),
	}
	defer func() {
		result.EndTime = p.now()
	}()

	poll, err := p.fetcher.Fetch(ctx, p.cfg.PollID)
	if err != nil {
		return result, err
	}

	record, err := transform.Transform(poll, p.now())
	if errors.Is(err, transform.ErrMalformedPoll) {
		slog.Warn("skipping malformed poll",
			slog.String("poll_id", p.cfg.PollID),
			slog.Any("error", err),
		)
		p.metrics.IncSkipped(SkipMalformed)
		result.SkipReason = SkipMalformed
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("transform poll %s: %w", p.cfg.PollID, err)
	}
	result.Record = record

	if err := p.writer.Write(record); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			slog.Info("poll already recorded, nothing appended",
				slog.String("poll_id", p.cfg.PollID),
				slog.String("date", record.DateString()),
			)
			p.metrics.IncSkipped(SkipDuplicate)
			result.SkipReason = SkipDuplicate
			return result, nil
		}
		return result, fmt.Errorf("append poll %s: %w", p.cfg.PollID, err)
	}

	result.Written = true
	p.metrics.IncAppended(p.now())
	slog.Info("poll appended",
		slog.String("poll_id", p.cfg.PollID),
		slog.String("date", record.DateString()),
		slog.Int("parties", len(record.Parties)),
	)
	return result, nil
}
