package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aluiziolira/civey-polls/models"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrDuplicateRecord is returned when dedupe is enabled and the record's
// (date, question) pair is already among the recent rows.
var ErrDuplicateRecord = errors.New("pipeline: duplicate record")

// ErrPersistence wraps a filesystem failure on an output file.
type ErrPersistence struct {
	Op   string
	Path string
	Err  error
}

func (e ErrPersistence) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e ErrPersistence) Unwrap() error {
	return e.Err
}

// CSVWriter appends records to a CSV file whose header fixes the column order.
type CSVWriter struct {
	path string
	mu   sync.Mutex

	dedupeWindow int
	recent       *lru.Cache[string, struct{}]
}

// NewCSVWriter prepares an appender for filename. The file itself is only
// touched on Write.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return &CSVWriter{path: filename}, nil
}

// EnableDedupe makes Write reject records whose (date, question) pair appears
// in the last window rows of the file.
func (cw *CSVWriter) EnableDedupe(window int) error {
	if window <= 0 {
		return fmt.Errorf("dedupe window must be positive")
	}
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.dedupeWindow = window
	cw.recent = nil
	return nil
}

// Path returns the CSV file path.
func (cw *CSVWriter) Path() string {
	return cw.path
}

// Write appends record as one row. A missing or empty file is created with a
// header in record order. Otherwise the row is reconciled against the
// existing header: unknown columns are dropped, missing ones left blank.
func (cw *CSVWriter) Write(record *models.PollRecord) error {
	if record == nil {
		slog.Info("no record to persist", slog.String("path", cw.path))
		return nil
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	header, err := ReadHeader(cw.path)
	if err != nil {
		return err
	}

	if header == nil {
		if err := cw.create(record); err != nil {
			return err
		}
		cw.remember(record)
		return nil
	}

	if cw.dedupeWindow > 0 {
		if err := cw.loadRecent(header); err != nil {
			return err
		}
		if cw.recent.Contains(record.DedupeKey()) {
			return fmt.Errorf("%w: date=%s question=%q", ErrDuplicateRecord, record.DateString(), record.Question)
		}
	}

	row, dropped := ReconcileRow(header, record.Fields())
	if len(dropped) > 0 {
		slog.Warn("columns not in csv header were dropped",
			slog.String("path", cw.path),
			slog.Any("columns", dropped),
		)
	}
	if err := cw.appendRow(row); err != nil {
		return err
	}
	cw.remember(record)
	return nil
}

// Close is a no-op; every Write opens and closes the file.
func (cw *CSVWriter) Close() error {
	return nil
}

// Validate ensures the file exists and has a header.
func (cw *CSVWriter) Validate() error {
	header, err := ReadHeader(cw.path)
	if err != nil {
		return err
	}
	if header == nil {
		return fmt.Errorf("csv file %s is empty", cw.path)
	}
	return nil
}

func (cw *CSVWriter) create(record *models.PollRecord) error {
	f, err := os.OpenFile(cw.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return ErrPersistence{Op: "create", Path: cw.path, Err: err}
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(record.Header()); err != nil {
		f.Close()
		return ErrPersistence{Op: "write header", Path: cw.path, Err: err}
	}
	if err := writer.Write(record.Row()); err != nil {
		f.Close()
		return ErrPersistence{Op: "write row", Path: cw.path, Err: err}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return ErrPersistence{Op: "flush", Path: cw.path, Err: err}
	}
	if err := f.Close(); err != nil {
		return ErrPersistence{Op: "close", Path: cw.path, Err: err}
	}
	return nil
}

func (cw *CSVWriter) appendRow(row []string) error {
	f, err := os.OpenFile(cw.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return ErrPersistence{Op: "open", Path: cw.path, Err: err}
	}

	// A hand-edited file may lack the final newline.
	missing, err := missingTrailingNewline(f)
	if err != nil {
		f.Close()
		return ErrPersistence{Op: "inspect", Path: cw.path, Err: err}
	}
	if missing {
		if _, err := f.WriteString("\n"); err != nil {
			f.Close()
			return ErrPersistence{Op: "write row", Path: cw.path, Err: err}
		}
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(row); err != nil {
		f.Close()
		return ErrPersistence{Op: "write row", Path: cw.path, Err: err}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return ErrPersistence{Op: "flush", Path: cw.path, Err: err}
	}
	if err := f.Close(); err != nil {
		return ErrPersistence{Op: "close", Path: cw.path, Err: err}
	}
	return nil
}

func (cw *CSVWriter) loadRecent(header []string) error {
	if cw.recent != nil {
		return nil
	}

	recent, err := lru.New[string, struct{}](cw.dedupeWindow)
	if err != nil {
		return fmt.Errorf("create dedupe cache: %w", err)
	}

	dateIdx, questionIdx := indexOf(header, models.ColumnDate), indexOf(header, models.ColumnQuestion)
	if dateIdx < 0 || questionIdx < 0 {
		cw.recent = recent
		return nil
	}

	f, err := os.Open(cw.path)
	if err != nil {
		return ErrPersistence{Op: "open", Path: cw.path, Err: err}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	if _, err := reader.Read(); err != nil {
		return ErrPersistence{Op: "read header", Path: cw.path, Err: err}
	}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ErrPersistence{Op: "read rows", Path: cw.path, Err: err}
		}
		if dateIdx >= len(row) || questionIdx >= len(row) {
			continue
		}
		recent.Add(models.DedupeKey(row[dateIdx], row[questionIdx]), struct{}{})
	}

	cw.recent = recent
	return nil
}

func (cw *CSVWriter) remember(record *models.PollRecord) {
	if cw.recent != nil {
		cw.recent.Add(record.DedupeKey(), struct{}{})
	}
}

// ReadHeader returns the first row of the CSV at path, or nil when the file
// does not exist or is empty. Only the header line is read.
func ReadHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, ErrPersistence{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, ErrPersistence{Op: "read header", Path: path, Err: err}
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return header, nil
}

// ReconcileRow lays fields out in header order. Header columns without a
// field are blank; fields without a header column are returned as dropped.
func ReconcileRow(header []string, fields []models.Field) (row []string, dropped []string) {
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		values[f.Name] = f.Value
	}

	row = make([]string, len(header))
	known := make(map[string]struct{}, len(header))
	for i, column := range header {
		known[column] = struct{}{}
		row[i] = values[column]
	}
	for _, f := range fields {
		if _, ok := known[f.Name]; !ok {
			dropped = append(dropped, f.Name)
		}
	}
	return row, dropped
}

func missingTrailingNewline(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

func indexOf(header []string, column string) int {
	for i, name := range header {
		if name == column {
			return i
		}
	}
	return -1
}

// JSONWriter appends newline-delimited JSON records, one per appended row.
type JSONWriter struct {
	path    string
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

type archiveEntry struct {
	Timestamp   int64               `json:"timestamp"`
	Date        string              `json:"date"`
	Question    string              `json:"question"`
	ErrorMargin float64             `json:"error_margin"`
	Parties     []models.PartyRatio `json:"parties"`
}

// NewJSONWriter opens filename for appending, creating it if needed.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ErrPersistence{Op: "open", Path: filename, Err: err}
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		path:    filename,
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends record as one JSON line.
func (jw *JSONWriter) Write(record *models.PollRecord) error {
	if record == nil {
		return nil
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	entry := archiveEntry{
		Timestamp:   record.Timestamp,
		Date:        record.DateString(),
		Question:    record.Question,
		ErrorMargin: record.ErrorMargin,
		Parties:     record.Parties,
	}
	if err := jw.encoder.Encode(entry); err != nil {
		return ErrPersistence{Op: "encode json record", Path: jw.path, Err: err}
	}
	if err := jw.writer.Flush(); err != nil {
		return ErrPersistence{Op: "flush", Path: jw.path, Err: err}
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return ErrPersistence{Op: "flush", Path: jw.path, Err: err}
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return ErrPersistence{Op: "stat", Path: jw.path, Err: err}
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file %s is empty", jw.path)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ErrPersistence{Op: "create directory", Path: dir, Err: err}
	}
	return nil
}
