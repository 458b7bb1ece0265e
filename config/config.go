package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds poll tracker configuration.
type Config struct {
	BaseURL        string
	PollID         string
	OutputFile     string
	OutputFormat   string // csv or dual
	Timeout        time.Duration
	UserAgent      string
	Verbose        bool
	SkipDuplicates bool
	DedupeWindow   int
	MetricsFile    string
}

// DefaultConfig returns the settings for the Sonntagsfrage poll.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://api.civey.com/v1/voter/polls/",
		PollID:         "37307",
		OutputFile:     "data.csv",
		OutputFormat:   "csv",
		Timeout:        10 * time.Second,
		UserAgent:      "civey-polls/1.0 (+https://github.com/aluiziolira/civey-polls)",
		Verbose:        false,
		SkipDuplicates: false,
		DedupeWindow:   512,
		MetricsFile:    "",
	}
}

// ArchiveFile is the JSONL file written next to the CSV in dual mode.
func (c *Config) ArchiveFile() string {
	return strings.TrimSuffix(c.OutputFile, ".csv") + ".jsonl"
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if strings.TrimSpace(c.PollID) == "" {
		return fmt.Errorf("poll id cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.SkipDuplicates && c.DedupeWindow <= 0 {
		return fmt.Errorf("dedupe window must be positive when skipping duplicates")
	}

	return nil
}
