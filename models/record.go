package models

import (
	"strconv"
	"time"
)

// DateLayout is the ISO date format written to the date column.
const DateLayout = "2006-01-02"

// Fixed columns that precede the party columns.
const (
	ColumnTimestamp   = "timestamp"
	ColumnDate        = "date"
	ColumnQuestion    = "question"
	ColumnErrorMargin = "error_margin"
)

// FixedColumns lists the non-party columns in file order.
var FixedColumns = []string{ColumnTimestamp, ColumnDate, ColumnQuestion, ColumnErrorMargin}

// PartyRatio is the share of one answer option.
type PartyRatio struct {
	Label string  `json:"label"`
	Ratio float64 `json:"ratio"`
}

// PollRecord is one flattened poll observation, one CSV row.
type PollRecord struct {
	Timestamp   int64        `json:"timestamp"`
	Date        time.Time    `json:"-"`
	Question    string       `json:"question"`
	ErrorMargin float64      `json:"error_margin"`
	Parties     []PartyRatio `json:"parties"`
}

// Field is a named cell value.
type Field struct {
	Name  string
	Value string
}

// DateString formats Date for the date column.
func (r *PollRecord) DateString() string {
	return r.Date.Format(DateLayout)
}

// Fields returns the record cells in column order.
func (r *PollRecord) Fields() []Field {
	fields := make([]Field, 0, len(FixedColumns)+len(r.Parties))
	fields = append(fields,
		Field{Name: ColumnTimestamp, Value: strconv.FormatInt(r.Timestamp, 10)},
		Field{Name: ColumnDate, Value: r.DateString()},
		Field{Name: ColumnQuestion, Value: r.Question},
		Field{Name: ColumnErrorMargin, Value: FormatFloat(r.ErrorMargin)},
	)
	for _, party := range r.Parties {
		fields = append(fields, Field{Name: party.Label, Value: FormatFloat(party.Ratio)})
	}
	return fields
}

// Header returns the column names in record order.
func (r *PollRecord) Header() []string {
	fields := r.Fields()
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Name
	}
	return header
}

// Row returns the cell values in record order.
func (r *PollRecord) Row() []string {
	fields := r.Fields()
	row := make([]string, len(fields))
	for i, f := range fields {
		row[i] = f.Value
	}
	return row
}

// Party looks up the ratio for label.
func (r *PollRecord) Party(label string) (float64, bool) {
	for _, party := range r.Parties {
		if party.Label == label {
			return party.Ratio, true
		}
	}
	return 0, false
}

// DedupeKey identifies an observation by poll end date and question.
func (r *PollRecord) DedupeKey() string {
	return DedupeKey(r.DateString(), r.Question)
}

// DedupeKey builds the key used to detect repeated observations.
func DedupeKey(date, question string) string {
	return date + "\x1f" + question
}

// FormatFloat renders v with the fewest digits that round-trip.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// RunResult summarises one fetch-transform-append run.
type RunResult struct {
	PollID     string
	Record     *PollRecord
	Written    bool
	SkipReason string
	StartTime  time.Time
	EndTime    time.Time
}
