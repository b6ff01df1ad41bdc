package domain

import (
	"fmt"
	"strings"
	"time"
)

// SessionState represents the lifecycle state of an interview session
type SessionState string

const (
	SessionStateCreated            SessionState = "created"
	SessionStateAwaitingAudio      SessionState = "awaiting_audio"
	SessionStateTranscribing       SessionState = "transcribing"
	SessionStateReadyForCompletion SessionState = "ready_for_completion"
	SessionStateGeneratingFeedback SessionState = "generating_feedback"
	SessionStateCompleted          SessionState = "completed"
	SessionStateFailed             SessionState = "failed"
)

// IsTerminal reports whether no further transitions are possible
func (s SessionState) IsTerminal() bool {
	return s == SessionStateCompleted || s == SessionStateFailed
}

// IsValid checks if the state is one of the known states
func (s SessionState) IsValid() bool {
	switch s {
	case SessionStateCreated, SessionStateAwaitingAudio, SessionStateTranscribing,
		SessionStateReadyForCompletion, SessionStateGeneratingFeedback,
		SessionStateCompleted, SessionStateFailed:
		return true
	}
	return false
}

// FailureReason is the stable reason code exposed for a failed session
type FailureReason string

const (
	FailureReasonEmptyTranscript            FailureReason = "EmptyTranscript"
	FailureReasonFeedbackGeneration         FailureReason = "FeedbackGenerationError"
	FailureReasonCancelled                  FailureReason = "Cancelled"
	FailureReasonExternalServiceUnavailable FailureReason = "ExternalServiceUnavailable"
	FailureReasonInvalidAudio               FailureReason = "InvalidAudio"
)

var failureMessages = map[FailureReason]string{
	FailureReasonEmptyTranscript:            "no speech was detected in the recording",
	FailureReasonFeedbackGeneration:         "feedback could not be generated",
	FailureReasonCancelled:                  "session was cancelled",
	FailureReasonExternalServiceUnavailable: "an external service is unavailable, try again later",
	FailureReasonInvalidAudio:               "the recording could not be processed",
}

// Message returns the fixed user-facing message for the reason
func (r FailureReason) Message() string {
	if msg, ok := failureMessages[r]; ok {
		return msg
	}
	return "session failed"
}

// Supported audio container formats, named by file extension
var supportedFormats = map[string]bool{
	"flac": true, "m4a": true, "mp3": true, "mp4": true, "mpeg": true,
	"mpga": true, "oga": true, "ogg": true, "wav": true, "webm": true,
}

// DefaultAudioFormat is used when a session does not declare one
const DefaultAudioFormat = "m4a"

// IsSupportedAudioFormat checks a container extension such as "webm"
func IsSupportedAudioFormat(format string) bool {
	return supportedFormats[strings.ToLower(format)]
}

// DimensionScores holds the three scored dimensions
type DimensionScores struct {
	Communication float64
	Technical     float64
	Clarity       float64
}

// Session is one mock interview answer moving through transcription and scoring
type Session struct {
	ID               string
	UserID           string
	Title            string
	Question         string
	AudioFormat      string
	State            SessionState
	Transcript       []string
	AudioRef         string
	Scores           *DimensionScores
	Strengths        []string
	Improvements     []string
	DetailedFeedback string
	OverallScore     *float64
	FailureReason    FailureReason
	Warnings         []AudioWarning
	DurationSeconds  float64
	CreatedAt        time.Time
	AudioStartedAt   *time.Time
	CompletedAt      *time.Time
}

// NewSession creates a session in the created state
func NewSession(id, userID, title, question, audioFormat string, createdAt time.Time) *Session {
	if audioFormat == "" {
		audioFormat = DefaultAudioFormat
	}
	return &Session{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Question:    question,
		AudioFormat: strings.ToLower(audioFormat),
		State:       SessionStateCreated,
		CreatedAt:   createdAt,
	}
}

// ValidateNewSession checks the caller-supplied fields of a new session
func ValidateNewSession(s *Session) error {
	if s.ID == "" {
		return fmt.Errorf("%w: id", ErrMissingRequiredField)
	}
	if strings.TrimSpace(s.Question) == "" {
		return fmt.Errorf("%w: question", ErrMissingRequiredField)
	}
	if !IsSupportedAudioFormat(s.AudioFormat) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, s.AudioFormat)
	}
	return nil
}

// TranscriptText joins the finalized transcript segments
func (s *Session) TranscriptText() string {
	return strings.Join(s.Transcript, " ")
}

// ApplyFeedback stores a validated result on the session
func (s *Session) ApplyFeedback(result *FeedbackResult) {
	s.Scores = &DimensionScores{
		Communication: result.CommunicationScore,
		Technical:     result.TechnicalScore,
		Clarity:       result.ClarityScore,
	}
	overall := result.OverallScore
	s.OverallScore = &overall
	s.Strengths = append([]string(nil), result.Strengths...)
	s.Improvements = append([]string(nil), result.Improvements...)
	s.DetailedFeedback = result.DetailedFeedback
}

// Feedback rebuilds the stored result, or nil unless the session completed
func (s *Session) Feedback() *FeedbackResult {
	if s.State != SessionStateCompleted || s.Scores == nil || s.OverallScore == nil {
		return nil
	}
	return &FeedbackResult{
		CommunicationScore: s.Scores.Communication,
		TechnicalScore:     s.Scores.Technical,
		ClarityScore:       s.Scores.Clarity,
		OverallScore:       *s.OverallScore,
		Strengths:          append([]string(nil), s.Strengths...),
		Improvements:       append([]string(nil), s.Improvements...),
		DetailedFeedback:   s.DetailedFeedback,
		Transcript:         s.TranscriptText(),
	}
}

// Clone returns a deep copy safe to hand outside the owning actor
func (s *Session) Clone() *Session {
	c := *s
	c.Transcript = append([]string(nil), s.Transcript...)
	c.Strengths = append([]string(nil), s.Strengths...)
	c.Improvements = append([]string(nil), s.Improvements...)
	c.Warnings = append([]AudioWarning(nil), s.Warnings...)
	if s.Scores != nil {
		scores := *s.Scores
		c.Scores = &scores
	}
	if s.OverallScore != nil {
		v := *s.OverallScore
		c.OverallScore = &v
	}
	if s.AudioStartedAt != nil {
		t := *s.AudioStartedAt
		c.AudioStartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
