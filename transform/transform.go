// Package transform flattens a raw poll into a PollRecord.
package transform

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aluiziolira/civey-polls/models"
)

// NonVoterLabel is the answer option that never becomes a party column.
const NonVoterLabel = "NICHTWAEHLER"

// ErrMalformedPoll marks a payload that is skipped rather than persisted.
var ErrMalformedPoll = errors.New("malformed poll")

// Transform converts poll into a record stamped with now. Payloads without a
// representative result or with an unparseable timeframe_to return an error
// wrapping ErrMalformedPoll and no record.
func Transform(poll *models.Poll, now time.Time) (*models.PollRecord, error) {
	if poll == nil {
		return nil, fmt.Errorf("%w: empty poll", ErrMalformedPoll)
	}
	result := poll.RepresentativeResult
	if result == nil {
		return nil, fmt.Errorf("%w: missing representative_result", ErrMalformedPoll)
	}

	date, err := ParseTimeframeDate(result.TimeframeTo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPoll, err)
	}

	record := &models.PollRecord{
		Timestamp:   now.Unix(),
		Date:        date,
		Question:    poll.Text,
		ErrorMargin: result.ErrorMargin,
		Parties:     make([]models.PartyRatio, 0, len(poll.Answers)),
	}
	for _, answer := range poll.Answers {
		if answer.Label == NonVoterLabel {
			continue
		}
		ratio, ok := result.ResultRatios[answer.ID.String()]
		if !ok {
			continue
		}
		record.Parties = append(record.Parties, models.PartyRatio{Label: answer.Label, Ratio: ratio})
	}
	return record, nil
}

// ParseTimeframeDate keeps the date part of an ISO-8601 timestamp.
func ParseTimeframeDate(value string) (time.Time, error) {
	datePart, _, _ := strings.Cut(strings.TrimSpace(value), "T")
	if datePart == "" {
		return time.Time{}, fmt.Errorf("empty timeframe_to")
	}
	date, err := time.Parse(models.DateLayout, datePart)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timeframe_to %q: %w", value, err)
	}
	return date, nil
}
