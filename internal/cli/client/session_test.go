package client

import (
	"bytes"
	"testing"

	"github.com/cloo-solutions/interviewcoach/internal/api/handlers"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func withColor(t *testing.T, enabled bool) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = !enabled
	t.Cleanup(func() { color.NoColor = prev })
}

func TestPrintFeedback(t *testing.T) {
	fb := handlers.FeedbackResponse{
		CommunicationScore: 80,
		TechnicalScore:     60,
		ClarityScore:       40,
		OverallScore:       60,
		Strengths:          []string{"Clear structure"},
		Improvements:       []string{"Quantify impact"},
		DetailedFeedback:   "Solid answer.",
	}

	t.Run("plain", func(t *testing.T) {
		withColor(t, false)
		var out bytes.Buffer
		printFeedback(&out, fb)

		assert.Contains(t, out.String(), "Overall: 60.0/100")
		assert.Contains(t, out.String(), "Communication 80  Technical 60  Clarity 40")
		assert.Contains(t, out.String(), "  - Quantify impact")
		assert.NotContains(t, out.String(), "\x1b[")
	})

	t.Run("colored by score band", func(t *testing.T) {
		withColor(t, true)
		var out bytes.Buffer
		printFeedback(&out, fb)

		assert.Contains(t, out.String(), "\x1b[32m80")
		assert.Contains(t, out.String(), "\x1b[33m60")
		assert.Contains(t, out.String(), "\x1b[31m40")
	})
}

func TestPrintSession_Failed(t *testing.T) {
	withColor(t, false)
	var out bytes.Buffer
	printSession(&out, handlers.SessionResponse{
		ID:             "s-1",
		Question:       "Explain indexes",
		State:          "failed",
		FailureReason:  "EmptyTranscript",
		FailureMessage: "no speech was detected in the recording",
		Warnings:       []handlers.WarningResponse{{Code: "SEQUENCE_GAP", Sequence: 4, Message: "chunk 4 missing"}},
	})

	assert.Contains(t, out.String(), "State:    failed")
	assert.Contains(t, out.String(), "Failure:  EmptyTranscript (no speech was detected in the recording)")
	assert.Contains(t, out.String(), "warning SEQUENCE_GAP at chunk 4: chunk 4 missing")
	assert.NotContains(t, out.String(), "Overall")
}

func TestPrintStreamMessage(t *testing.T) {
	withColor(t, false)
	seq := uint32(7)

	var out bytes.Buffer
	printStreamMessage(&out, handlers.StreamMessage{Type: handlers.MessageAck, Sequence: &seq, Duplicate: true})
	printStreamMessage(&out, handlers.StreamMessage{Type: handlers.MessageWarning, Code: "SEQUENCE_GAP", Message: "gap"})
	printStreamMessage(&out, handlers.StreamMessage{Type: handlers.MessageState, State: "transcribing"})

	assert.Equal(t, "ack 7 (duplicate)\nwarning SEQUENCE_GAP: gap\nstate transcribing\n", out.String())
}
