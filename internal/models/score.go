package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Score is the normalized score pair the room state machine accepts.
type Score struct {
	Normal float64
	Ex     float64
}

// ScoreInput decodes the shapes clients send for a score: a bare number
// (applied to both fields) or an object with normalScore/exScore. Numeric
// strings are accepted. Anything else leaves the input invalid.
type ScoreInput struct {
	score Score
	valid bool
}

// NewScoreInput builds an already-normalized input.
func NewScoreInput(normal, ex float64) ScoreInput {
	return ScoreInput{score: Score{Normal: normal, Ex: ex}, valid: true}
}

// Normalize returns the score pair and whether the payload was numeric.
func (in ScoreInput) Normalize() (Score, bool) {
	return in.score, in.valid
}

// ParseScoreInput decodes a raw score payload. Unusable payloads come
// back invalid rather than as an error, so callers can drop them quietly.
func ParseScoreInput(data []byte) ScoreInput {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ScoreInput{}
	}
	if data[0] == '{' {
		var obj struct {
			Normal json.RawMessage `json:"normalScore"`
			Ex     json.RawMessage `json:"exScore"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return ScoreInput{}
		}
		normal, ok := parseNumber(obj.Normal)
		if !ok {
			return ScoreInput{}
		}
		ex, ok := parseNumber(obj.Ex)
		if !ok {
			return ScoreInput{}
		}
		return NewScoreInput(normal, ex)
	}
	if n, ok := parseNumber(data); ok {
		return NewScoreInput(n, n)
	}
	return ScoreInput{}
}

// UnmarshalJSON never fails; see ParseScoreInput.
func (in *ScoreInput) UnmarshalJSON(data []byte) error {
	*in = ParseScoreInput(data)
	return nil
}

func (in ScoreInput) MarshalJSON() ([]byte, error) {
	if !in.valid {
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		Normal float64 `json:"normalScore"`
		Ex     float64 `json:"exScore"`
	}{in.score.Normal, in.score.Ex})
}

func parseNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}
