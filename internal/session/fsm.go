package session

import "github.com/cloo-solutions/interviewcoach/internal/domain"

// Event drives a session from one state to the next
type Event string

const (
	EventStartAudio             Event = "start_audio"
	EventEndOfStream            Event = "end_of_stream"
	EventTranscriptionSucceeded Event = "transcription_succeeded"
	EventTranscriptionFailed    Event = "transcription_failed"
	EventCompletionRequested    Event = "completion_requested"
	EventFeedbackReady          Event = "feedback_ready"
	EventFeedbackFailed         Event = "feedback_failed"
	EventCancel                 Event = "cancel"
)

var transitions = map[domain.SessionState]map[Event]domain.SessionState{
	domain.SessionStateCreated: {
		EventStartAudio: domain.SessionStateAwaitingAudio,
		EventCancel:     domain.SessionStateFailed,
	},
	domain.SessionStateAwaitingAudio: {
		EventEndOfStream: domain.SessionStateTranscribing,
		EventCancel:      domain.SessionStateFailed,
	},
	domain.SessionStateTranscribing: {
		EventTranscriptionSucceeded: domain.SessionStateReadyForCompletion,
		EventTranscriptionFailed:    domain.SessionStateFailed,
		EventCancel:                 domain.SessionStateFailed,
	},
	domain.SessionStateReadyForCompletion: {
		EventCompletionRequested: domain.SessionStateGeneratingFeedback,
		EventCancel:              domain.SessionStateFailed,
	},
	domain.SessionStateGeneratingFeedback: {
		EventFeedbackReady:  domain.SessionStateCompleted,
		EventFeedbackFailed: domain.SessionStateFailed,
		EventCancel:         domain.SessionStateFailed,
	},
}

// Next returns the state reached by applying ev in from. Terminal states
// accept nothing.
func Next(from domain.SessionState, ev Event) (domain.SessionState, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}

// Allowed lists the events accepted in state
func Allowed(state domain.SessionState) []Event {
	events := make([]Event, 0, len(transitions[state]))
	for _, ev := range eventOrder {
		if _, ok := transitions[state][ev]; ok {
			events = append(events, ev)
		}
	}
	return events
}

var eventOrder = []Event{
	EventStartAudio, EventEndOfStream, EventTranscriptionSucceeded, EventTranscriptionFailed,
	EventCompletionRequested, EventFeedbackReady, EventFeedbackFailed, EventCancel,
}
