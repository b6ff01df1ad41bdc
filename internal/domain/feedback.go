package domain

import (
	"fmt"
	"math"
)

// Score bounds for every feedback dimension
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// FeedbackResult is the validated output of the feedback composer
type FeedbackResult struct {
	CommunicationScore float64
	TechnicalScore     float64
	ClarityScore       float64
	OverallScore       float64
	Strengths          []string
	Improvements       []string
	DetailedFeedback   string
	Transcript         string
}

// ClampScore bounds v into [MinScore, MaxScore]
func ClampScore(v float64) float64 {
	return math.Max(MinScore, math.Min(MaxScore, v))
}

// OverallScore is the unweighted mean of the three dimensions, rounded to one decimal
func OverallScore(communication, technical, clarity float64) float64 {
	mean := (communication + technical + clarity) / 3
	return math.Round(mean*10) / 10
}

// ValidateFeedbackResult checks the score ranges of a result
func ValidateFeedbackResult(r *FeedbackResult) error {
	if r == nil {
		return fmt.Errorf("%w: feedback result", ErrMissingRequiredField)
	}
	for name, v := range map[string]float64{
		"communication_score": r.CommunicationScore,
		"technical_score":     r.TechnicalScore,
		"clarity_score":       r.ClarityScore,
	} {
		if math.IsNaN(v) || v < MinScore || v > MaxScore {
			return NewValidationError(fmt.Sprintf("%s out of range: %v", name, v))
		}
	}
	return nil
}
