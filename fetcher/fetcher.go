// Package fetcher retrieves a single poll from the Civey voter API.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/civey-polls/config"
	"github.com/aluiziolira/civey-polls/metrics"
	"github.com/aluiziolira/civey-polls/models"
	"github.com/gocolly/colly/v2"
)

// Fetcher wraps a colly collector configured for the poll API.
type Fetcher struct {
	baseURL   string
	collector *colly.Collector
	Metrics   *metrics.Metrics
}

// NewFetcher builds a fetcher configured from cfg. m may be nil.
func NewFetcher(cfg *config.Config, m *metrics.Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &Fetcher{
		baseURL:   cfg.BaseURL,
		collector: collector,
		Metrics:   m,
	}, nil
}

// WithTransport replaces the HTTP transport used for API calls.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// URL returns the endpoint for pollID.
func (f *Fetcher) URL(pollID string) string {
	return strings.TrimSuffix(f.baseURL, "/") + "/" + url.PathEscape(strings.Trim(pollID, "/"))
}

// Fetch issues one GET for pollID and returns the decoded poll object.
// A body without a poll key yields an empty Poll. Failures are not retried.
func (f *Fetcher) Fetch(ctx context.Context, pollID string) (*models.Poll, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch poll %s: %w", pollID, err)
	}

	target := f.URL(pollID)
	c := f.collector.Clone()
	c.Context = ctx

	var (
		body       []byte
		statusCode int
		fetchErr   error
		start      time.Time
	)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
		start = time.Now()
	})
	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	slog.Debug("fetching poll", slog.String("poll_id", pollID), slog.String("url", target))
	visitErr := c.Visit(target)
	if !start.IsZero() {
		f.Metrics.ObserveDuration(time.Since(start))
	}
	if fetchErr == nil {
		fetchErr = visitErr
	}
	if err := ctx.Err(); err != nil {
		f.Metrics.IncRequest("canceled")
		slog.Warn("poll request canceled", slog.String("poll_id", pollID), slog.Any("error", err))
		return nil, fmt.Errorf("fetch poll %s: %w", pollID, err)
	}

	if classified := classifyError(fetchErr, statusCode); classified != nil {
		category := errorTypeLabel(classified)
		f.Metrics.IncRequest("error")
		f.Metrics.IncError(category)
		slog.Error("poll request failed",
			slog.String("poll_id", pollID),
			slog.String("url", target),
			slog.Int("status", statusCode),
			slog.String("category", category),
			slog.Any("error", fetchErr),
		)
		return nil, fmt.Errorf("fetch poll %s: %w", pollID, classified)
	}
	f.Metrics.IncRequest("ok")

	poll, err := decodePoll(body)
	if err != nil {
		f.Metrics.IncError(errorTypeLabel(err))
		return nil, fmt.Errorf("fetch poll %s: %w", pollID, err)
	}
	return poll, nil
}

func decodePoll(body []byte) (*models.Poll, error) {
	var envelope models.PollResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, ErrDecode{Err: err}
	}
	if envelope.Poll == nil {
		return &models.Poll{}, nil
	}
	return envelope.Poll, nil
}
