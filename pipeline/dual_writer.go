package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/civey-polls/models"
)

// DualWriter appends to the CSV and mirrors every appended row into a JSONL archive.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

// NewDualWriter creates a writer for both the CSV file and the JSONL archive.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		return nil, fmt.Errorf("create json writer: %w", err)
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// CSV exposes the CSV appender, e.g. to enable dedupe.
func (dw *DualWriter) CSV() *CSVWriter {
	return dw.csvWriter
}

// Write appends to the CSV first; the archive only sees rows the CSV accepted.
// An archive failure after a successful append is logged, not returned.
func (dw *DualWriter) Write(record *models.PollRecord) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(record); err != nil {
		return err
	}
	if err := dw.jsonWriter.Write(record); err != nil {
		slog.Warn("json archive write failed, csv row kept",
			slog.String("path", dw.jsonWriter.path),
			slog.Any("error", err),
		)
	}
	return nil
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	return errors.Join(dw.csvWriter.Close(), dw.jsonWriter.Close())
}

// Validate validates both output files.
func (dw *DualWriter) Validate() error {
	var errs []error
	if err := dw.csvWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("csv validation failed: %w", err))
	}
	if err := dw.jsonWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("json validation failed: %w", err))
	}
	return errors.Join(errs...)
}
