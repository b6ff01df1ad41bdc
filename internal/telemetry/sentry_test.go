package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventSink struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (s *eventSink) beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *eventSink) captured() []*sentry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*sentry.Event(nil), s.events...)
}

// testHub returns a context carrying a hub whose events land in the sink
func testHub(t *testing.T) (context.Context, *eventSink) {
	t.Helper()
	sink := &eventSink{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:        "https://public@sentry.example.com/1",
		BeforeSend: sink.beforeSend,
	})
	require.NoError(t, err)
	hub := sentry.NewHub(client, sentry.NewScope())
	return sentry.SetHubOnContext(context.Background(), hub), sink
}

func TestInit_NoDSN(t *testing.T) {
	shutdown, err := Init(Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}

func TestCaptureSessionFailure(t *testing.T) {
	t.Run("tags the session and reason", func(t *testing.T) {
		ctx, sink := testHub(t)

		CaptureSessionFailure(ctx, "sess-1", "ExternalServiceUnavailable", errors.New("transcribe unavailable"))

		events := sink.captured()
		require.Len(t, events, 1)
		assert.Equal(t, "sess-1", events[0].Tags["session_id"])
		assert.Equal(t, "ExternalServiceUnavailable", events[0].Tags["failure_reason"])
		assert.Equal(t, []string{"session-failed", "ExternalServiceUnavailable"}, events[0].Fingerprint)
	})

	t.Run("cancellation is not reported", func(t *testing.T) {
		ctx, sink := testHub(t)

		CaptureSessionFailure(ctx, "sess-2", "Cancelled", context.Canceled)

		assert.Empty(t, sink.captured())
	})

	t.Run("scope does not leak into later events", func(t *testing.T) {
		ctx, sink := testHub(t)

		CaptureSessionFailure(ctx, "sess-3", "FeedbackGenerationError", errors.New("bad output"))
		sentry.GetHubFromContext(ctx).CaptureMessage("unrelated")

		events := sink.captured()
		require.Len(t, events, 2)
		assert.NotContains(t, events[1].Tags, "session_id")
	})
}

func TestBreadcrumbsAttachToNextEvent(t *testing.T) {
	ctx, sink := testHub(t)

	AddBreadcrumb(ctx, "session", "awaiting_audio -> transcribing")
	AddWarningBreadcrumb(ctx, "audio", "gap: chunk 3 missing")
	CaptureSessionFailure(ctx, "sess-4", "InvalidAudio", errors.New("no audio"))

	events := sink.captured()
	require.Len(t, events, 1)
	require.Len(t, events[0].Breadcrumbs, 2)
	assert.Equal(t, sentry.LevelInfo, events[0].Breadcrumbs[0].Level)
	assert.Equal(t, sentry.LevelWarning, events[0].Breadcrumbs[1].Level)
	assert.Equal(t, "audio", events[0].Breadcrumbs[1].Category)
}

func TestSampler(t *testing.T) {
	sample := sampler(0.25)

	tests := []struct {
		name string
		want float64
	}{
		{"GET /health", 0},
		{"GET /sessions/abc/audio", 0},
		{"POST /sessions/abc/audio/end", 0.25},
		{"POST /sessions", 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span := &sentry.Span{Name: tt.name}
			assert.Equal(t, tt.want, sample(sentry.SamplingContext{Span: span}))
		})
	}
}
