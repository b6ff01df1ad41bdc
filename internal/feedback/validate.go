package feedback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
)

// InvalidKind classifies why a raw completion was rejected
type InvalidKind string

const (
	InvalidNotJSON      InvalidKind = "not_json"
	InvalidMissingField InvalidKind = "missing_field"
	InvalidNotNumeric   InvalidKind = "not_numeric"
)

// InvalidOutputError is the error half of a validation outcome
type InvalidOutputError struct {
	Kind   InvalidKind
	Field  string
	Detail string
}

func (e *InvalidOutputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid feedback output (%s): %s %s", e.Kind, e.Field, e.Detail)
	}
	return fmt.Sprintf("invalid feedback output (%s): %s", e.Kind, e.Detail)
}

// Outcome is the tagged result of validating one completion: exactly one of
// Result and Err is set
type Outcome struct {
	Result *domain.FeedbackResult
	Err    *InvalidOutputError
}

// OK reports whether the completion produced a usable result
func (o Outcome) OK() bool {
	return o.Err == nil && o.Result != nil
}

const maxListItems = 8

type rawFeedback struct {
	Communication    json.RawMessage `json:"communication_score"`
	Technical        json.RawMessage `json:"technical_score"`
	Clarity          json.RawMessage `json:"clarity_score"`
	Strengths        json.RawMessage `json:"strengths"`
	Improvements     json.RawMessage `json:"improvements"`
	Feedback         *string         `json:"feedback"`
	DetailedFeedback *string         `json:"detailed_feedback"`
}

// Validate parses a raw completion into a feedback result. The three scores
// must be present and numeric (numbers or numeric strings); they are clamped
// into range. Text fields are repaired rather than rejected.
func Validate(raw string) Outcome {
	body := stripFence(raw)

	var parsed rawFeedback
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&parsed); err != nil {
		return invalid(InvalidNotJSON, "", err.Error())
	}

	scores := make([]float64, 3)
	for i, f := range []struct {
		name string
		raw  json.RawMessage
	}{
		{"communication_score", parsed.Communication},
		{"technical_score", parsed.Technical},
		{"clarity_score", parsed.Clarity},
	} {
		v, kind, detail := parseScore(f.raw)
		if kind != "" {
			return invalid(kind, f.name, detail)
		}
		scores[i] = domain.ClampScore(v)
	}

	result := &domain.FeedbackResult{
		CommunicationScore: scores[0],
		TechnicalScore:     scores[1],
		ClarityScore:       scores[2],
		OverallScore:       domain.OverallScore(scores[0], scores[1], scores[2]),
		Strengths:          parseList(parsed.Strengths),
		Improvements:       parseList(parsed.Improvements),
	}
	switch {
	case parsed.Feedback != nil && strings.TrimSpace(*parsed.Feedback) != "":
		result.DetailedFeedback = strings.TrimSpace(*parsed.Feedback)
	case parsed.DetailedFeedback != nil && strings.TrimSpace(*parsed.DetailedFeedback) != "":
		result.DetailedFeedback = strings.TrimSpace(*parsed.DetailedFeedback)
	default:
		result.DetailedFeedback = fallbackSummary(result)
	}
	return Outcome{Result: result}
}

func invalid(kind InvalidKind, field, detail string) Outcome {
	return Outcome{Err: &InvalidOutputError{Kind: kind, Field: field, Detail: detail}}
}

func parseScore(raw json.RawMessage) (float64, InvalidKind, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, InvalidMissingField, "is missing"
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, InvalidNotNumeric, fmt.Sprintf("is not a number: %s", raw)
		}
		v, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, InvalidNotNumeric, fmt.Sprintf("is not a number: %q", s)
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, InvalidNotNumeric, "is not finite"
	}
	return v, "", ""
}

// parseList accepts an array of strings, skipping blank or non-string items,
// or a single string
func parseList(raw json.RawMessage) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		var single string
		if json.Unmarshal(raw, &single) == nil && strings.TrimSpace(single) != "" {
			out = append(out, strings.TrimSpace(single))
		}
		return out
	}
	for _, item := range items {
		var s string
		if json.Unmarshal(item, &s) != nil || strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(s))
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func fallbackSummary(r *domain.FeedbackResult) string {
	return fmt.Sprintf("Communication %.0f/100, technical depth %.0f/100, clarity %.0f/100. Overall %.1f/100.",
		r.CommunicationScore, r.TechnicalScore, r.ClarityScore, r.OverallScore)
}
