// Package dashboard reads the poll CSV back for display.
package dashboard

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/civey-polls/models"
)

// DateLayouts are tried in order; the second covers rows written by the
// first generation of the fetcher.
var DateLayouts = []string{models.DateLayout, "02.01.2006"}

// Row is one parsed observation. Parties holds only non-blank numeric cells.
type Row struct {
	Date        time.Time
	Timestamp   int64
	Question    string
	ErrorMargin float64
	Parties     map[string]float64
}

// Dataset is the parsed CSV sorted by date ascending. Dropped counts rows
// skipped for a malformed record or an unrecognised date.
type Dataset struct {
	Parties []string
	Rows    []Row
	Dropped int
}

// Empty reports whether there is nothing to display.
func (d *Dataset) Empty() bool {
	return d == nil || len(d.Rows) == 0
}

// ParseDate tries each of DateLayouts in turn.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

// Load reads the CSV at path. A missing or empty file yields an empty dataset.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("poll data file not found", slog.String("path", path))
		return &Dataset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	ds, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if ds.Dropped > 0 {
		slog.Warn("rows with unparseable dates were skipped",
			slog.String("path", path),
			slog.Int("dropped", ds.Dropped),
		)
	}
	return ds, nil
}

// Parse reads CSV data from r. Columns are located by header name, so files
// from either fetcher generation load the same way.
func Parse(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &Dataset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	fixed := make(map[string]struct{}, len(models.FixedColumns))
	for _, column := range models.FixedColumns {
		fixed[column] = struct{}{}
	}
	ds := &Dataset{}
	for _, column := range header {
		if _, ok := fixed[column]; !ok {
			ds.Parties = append(ds.Parties, column)
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			// A torn row may leave an open quote; the reader then consumes the
			// rest of the file and the next Read reports EOF.
			slog.Debug("dropping malformed csv row",
				slog.Int("line", parseErr.StartLine),
				slog.Any("error", err),
			)
			ds.Dropped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		cells := make(map[string]string, len(header))
		for i, column := range header {
			if i < len(record) {
				cells[column] = strings.TrimSpace(record[i])
			}
		}

		date, err := ParseDate(cells[models.ColumnDate])
		if err != nil {
			ds.Dropped++
			continue
		}

		row := Row{
			Date:     date,
			Question: cells[models.ColumnQuestion],
			Parties:  make(map[string]float64, len(ds.Parties)),
		}
		if ts, err := strconv.ParseFloat(cells[models.ColumnTimestamp], 64); err == nil {
			row.Timestamp = int64(ts)
		}
		if margin, err := strconv.ParseFloat(cells[models.ColumnErrorMargin], 64); err == nil {
			row.ErrorMargin = margin
		}
		for _, party := range ds.Parties {
			if v, err := strconv.ParseFloat(cells[party], 64); err == nil {
				row.Parties[party] = v
			}
		}
		ds.Rows = append(ds.Rows, row)
	}

	sort.SliceStable(ds.Rows, func(i, j int) bool {
		return ds.Rows[i].Date.Before(ds.Rows[j].Date)
	})
	return ds, nil
}
