package events

import (
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
)

// Kind is a session lifecycle event type
type Kind string

const (
	KindCreated   Kind = "created"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// SubjectPrefix is the root of every subject this service publishes
const SubjectPrefix = "events.session."

// Event is a session lifecycle notification. The persistence layer subscribes
// to these to store session records durably.
type Event struct {
	Kind            Kind                 `json:"kind"`
	SessionID       string               `json:"session_id"`
	UserID          string               `json:"user_id,omitempty"`
	Title           string               `json:"title,omitempty"`
	Question        string               `json:"question"`
	State           domain.SessionState  `json:"state"`
	FailureReason   domain.FailureReason `json:"failure_reason,omitempty"`
	Transcript      string               `json:"transcript,omitempty"`
	AudioRef        string               `json:"audio_ref,omitempty"`
	OverallScore    *float64             `json:"overall_score,omitempty"`
	DurationSeconds float64              `json:"duration_seconds,omitempty"`
	Warnings        int                  `json:"warnings,omitempty"`
	OccurredAt      time.Time            `json:"occurred_at"`
}

// Subject returns the subject the event is published on
func (e Event) Subject() string {
	return SubjectPrefix + string(e.Kind)
}

// FromSession snapshots s into an event of the given kind
func FromSession(kind Kind, s *domain.Session, at time.Time) Event {
	e := Event{
		Kind:            kind,
		SessionID:       s.ID,
		UserID:          s.UserID,
		Title:           s.Title,
		Question:        s.Question,
		State:           s.State,
		FailureReason:   s.FailureReason,
		Transcript:      s.TranscriptText(),
		AudioRef:        s.AudioRef,
		DurationSeconds: s.DurationSeconds,
		Warnings:        len(s.Warnings),
		OccurredAt:      at,
	}
	if s.OverallScore != nil {
		v := *s.OverallScore
		e.OverallScore = &v
	}
	return e
}
