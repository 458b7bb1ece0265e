// Package models defines the poll payload and the flattened records written to disk.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PollResponse is the envelope returned by the voter polls endpoint.
type PollResponse struct {
	Poll *Poll `json:"poll"`
}

// Poll is one published survey with its answer options and weighted result.
type Poll struct {
	Text                 string                `json:"text"`
	Answers              []Answer              `json:"answers"`
	RepresentativeResult *RepresentativeResult `json:"representative_result,omitempty"`
}

// Answer is a single answer option, usually a party.
type Answer struct {
	ID    AnswerID `json:"id"`
	Label string   `json:"label"`
}

// RepresentativeResult is the provider's weighted result block.
type RepresentativeResult struct {
	TimeframeTo  string             `json:"timeframe_to"`
	ErrorMargin  float64            `json:"error_margin"`
	ResultRatios map[string]float64 `json:"result_ratios"`
}

// AnswerID is the key into ResultRatios. The API sends it as a number in
// answers and as an object key in result_ratios, so both decode to the same string.
type AnswerID string

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (id *AnswerID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("answer id: %w", err)
		}
		*id = AnswerID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("answer id: %w", err)
	}
	*id = AnswerID(n.String())
	return nil
}

// String returns the id as used in result_ratios.
func (id AnswerID) String() string {
	return string(id)
}
