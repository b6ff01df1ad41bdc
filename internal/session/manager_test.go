package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/audio"
	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/cloo-solutions/interviewcoach/internal/events"
	"github.com/cloo-solutions/interviewcoach/internal/feedback"
	"github.com/cloo-solutions/interviewcoach/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const validFeedback = `{
	"communication_score": 70,
	"technical_score": 80,
	"clarity_score": 60,
	"strengths": ["Named the exact optimization"],
	"improvements": ["Quantify the speedup"],
	"feedback": "Solid answer with a concrete technique."
}`

const answer = "I optimized the query using an index"

type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	args := m.Called(ctx, audio, filename)
	return args.String(0), args.Error(1)
}

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() {}

func (p *capturePublisher) kinds(sessionID string) []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var kinds []events.Kind
	for _, e := range p.events {
		if e.SessionID == sessionID {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type harness struct {
	m   *Manager
	tr  *MockTranscriber
	cm  *MockCompleter
	pub *capturePublisher
}

func testManagerConfig() Config {
	return Config{
		Audio:  audio.Config{Window: 64, FirstSequence: 1, EndGrace: 50 * time.Millisecond},
		Linger: time.Minute,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	fast := gateway.Policy{Timeout: 2 * time.Second, MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 4 * time.Millisecond}
	tr := new(MockTranscriber)
	cm := new(MockCompleter)
	gw := gateway.New(gateway.Config{Concurrency: 4, Transcription: fast, Generation: fast}, tr, cm, nil, zap.NewNop())
	composer := feedback.NewComposer(feedback.Config{Retries: 2}, gw, nil, nil, zap.NewNop())
	pub := &capturePublisher{}
	clock := &fakeClock{t: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}

	m := NewManager(cfg, Deps{
		Transcriber: gw,
		Composer:    composer,
		Publisher:   pub,
		Logger:      zap.NewNop(),
		Now:         clock.Now,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return &harness{m: m, tr: tr, cm: cm, pub: pub}
}

func (h *harness) start(t *testing.T, userID string) *domain.Session {
	t.Helper()
	s, err := h.m.StartSession(context.Background(), StartInput{
		UserID:   userID,
		Title:    "Databases",
		Question: "How did you speed up a slow query?",
	})
	require.NoError(t, err)
	return s
}

func (h *harness) push(t *testing.T, sessionID string, chunks ...domain.AudioChunk) IngestReceipt {
	t.Helper()
	var last IngestReceipt
	for _, c := range chunks {
		r, err := h.m.IngestAudioChunk(context.Background(), sessionID, c)
		require.NoError(t, err, "chunk %d", c.Sequence)
		last = r
	}
	return last
}

func (h *harness) waitForState(t *testing.T, sessionID string, want domain.SessionState) *domain.Session {
	t.Helper()
	var got *domain.Session
	require.Eventually(t, func() bool {
		s, err := h.m.Get(context.Background(), sessionID)
		if err != nil {
			return false
		}
		got = s
		return s.State == want
	}, 3*time.Second, 5*time.Millisecond, "waiting for %s", want)
	return got
}

// ready drives a new session to ready_for_completion with a one-chunk answer
func (h *harness) ready(t *testing.T, userID string) *domain.Session {
	t.Helper()
	s := h.start(t, userID)
	h.push(t, s.ID, chunk(1, "answer", true))
	return h.waitForState(t, s.ID, domain.SessionStateReadyForCompletion)
}

func chunk(seq uint32, payload string, final bool) domain.AudioChunk {
	return domain.AudioChunk{Sequence: seq, Payload: []byte(payload), Final: final}
}

func TestManager_ScoresAnswer(t *testing.T) {
	h := newHarness(t, testManagerConfig())
	h.tr.On("Transcribe", mock.Anything, []byte("onetwothree"), "answer.m4a").Return(answer, nil).Once()
	h.cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(validFeedback, nil).Once()
	ctx := context.Background()

	s := h.start(t, "user-1")
	assert.Equal(t, domain.SessionStateAwaitingAudio, s.State)
	assert.Equal(t, domain.DefaultAudioFormat, s.AudioFormat)

	receipt := h.push(t, s.ID, chunk(1, "one", false), chunk(3, "three", true), chunk(2, "two", false))
	assert.True(t, receipt.Accepted)
	assert.Equal(t, domain.SessionStateTranscribing, receipt.State)

	ready := h.waitForState(t, s.ID, domain.SessionStateReadyForCompletion)
	assert.Equal(t, []string{answer}, ready.Transcript)
	assert.Nil(t, ready.Feedback())

	result, err := h.m.RequestCompletion(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 70.0, result.OverallScore)
	assert.Equal(t, 70.0, result.CommunicationScore)
	assert.Equal(t, 80.0, result.TechnicalScore)
	assert.Equal(t, 60.0, result.ClarityScore)
	assert.Equal(t, answer, result.Transcript)
	assert.Equal(t, []string{"Named the exact optimization"}, result.Strengths)

	done, err := h.m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateCompleted, done.State)
	assert.Equal(t, "mem://sessions/"+s.ID+"/answer.m4a", done.AudioRef)
	assert.NotNil(t, done.CompletedAt)
	assert.Positive(t, done.DurationSeconds)
	assert.Empty(t, done.Warnings)
	assert.Equal(t, result, done.Feedback())

	h.tr.AssertExpectations(t)
	h.cm.AssertExpectations(t)
	require.Eventually(t, func() bool {
		kinds := h.pub.kinds(s.ID)
		return len(kinds) == 2 && kinds[0] == events.KindCreated && kinds[1] == events.KindCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestManager_ReorderedAudioMatchesInOrder(t *testing.T) {
	h := newHarness(t, testManagerConfig())
	h.tr.On("Transcribe", mock.Anything, []byte("onetwothree"), "answer.m4a").Return(answer, nil).Twice()

	inOrder := h.start(t, "user-1")
	h.push(t, inOrder.ID, chunk(1, "one", false), chunk(2, "two", false), chunk(3, "three", true))

	reordered := h.start(t, "user-1")
	h.push(t, reordered.ID, chunk(1, "one", false), chunk(3, "three", true), chunk(2, "two", false))

	a := h.waitForState(t, inOrder.ID, domain.SessionStateReadyForCompletion)
	b := h.waitForState(t, reordered.ID, domain.SessionStateReadyForCompletion)
	assert.Equal(t, a.Transcript, b.Transcript)
	h.tr.AssertExpectations(t)
}

func TestManager_ConcurrentCompletionsShareOneGeneration(t *testing.T) {
	h := newHarness(t, testManagerConfig())
	h.tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(answer, nil)
	release := make(chan struct{})
	h.cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			select {
			case <-release:
			case <-args.Get(0).(context.Context).Done():
			}
		}).
		Return(validFeedback, nil).Once()
	ctx := context.Background()

	s := h.ready(t, "user-1")

	var wg sync.WaitGroup
	results := make([]*domain.FeedbackResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.m.RequestCompletion(ctx, s.ID)
		}(i)
	}

	h.waitForState(t, s.ID, domain.SessionStateGeneratingFeedback)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0], results[1])
	h.cm.AssertNumberOfCalls(t, "Complete", 1)
}

func TestManager_CompletedSessionMakesNoExternalCalls(t *testing.T) {
	h := newHarness(t, testManagerConfig())
	h.tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(answer, nil).Once()
	h.cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(validFeedback, nil).Once()
	ctx := context.Background()

	s := h.ready(t, "user-1")
	first, err := h.m.RequestCompletion(ctx, s.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := h.m.RequestCompletion(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	h.tr.AssertNumberOfCalls(t, "Transcribe", 1)
	h.cm.AssertNumberOfCalls(t, "Complete", 1)
}

func TestManager_InvalidEventsLeaveStateUnchanged(t *testing.T) {
	h := newHarness(t, testManagerConfig())
	ctx := context.Background()

	s := h.start(t, "user-1")

	_, err := h.m.RequestCompletion(ctx, s.ID)
	assert.True(t, domain.HasCode(err, domain.ErrCodeConcurrency), err)

	got, err := h.m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateAwaitingAudio, got.State)

	require.NoError(t, h.m.Cancel(ctx, s.ID))

	err = h.m.Cancel(ctx, s.ID)
	assert.Equal(t, domain.ErrCodeConcurrency, domain.CodeOf(err))
	err = h.m.EndAudio(ctx, s.ID)
	assert.Equal(t, domain.ErrCodeConcurrency, domain.CodeOf(err))
	_, err = h.m.IngestAudioChunk(ctx, s.ID, chunk(1, "late", false))
	assert.Equal(t, domain.ErrCodeValidation, domain.CodeOf(err))

	_, err = h.m.RequestCompletion(ctx, s.ID)
	var failed *domain.SessionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, domain.FailureReasonCancelled, failed.Reason)

	got, err = h.m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateFailed, got.State)
	assert.Equal(t, domain.FailureReasonCancelled, got.FailureReason)
	h.tr.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_CompletionBeforeReadyIsRejectedNotParked(t *testing.T) {
	h := newHarness(t, testManagerConfig())
	release := make(chan struct{})
	h.tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(answer, nil).Once()
	h.cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(validFeedback, nil).Once()
	ctx := context.Background()

	s := h.start(t, "user-1")
	receipt := h.push(t, s.ID, chunk(1, "answer", true))
	require.Equal(t, domain.SessionStateTranscribing, receipt.State)

	done := make(chan error, 1)
	go func() {
		_, err := h.m.RequestCompletion(ctx, s.ID)
		done <- err
	}()
	select {
	case err := <-done:
		assert.True(t, domain.HasCode(err, domain.ErrCodeConcurrency), err)
	case <-time.After(2 * time.Second):
		t.Fatal("completion request was parked while transcribing")
	}

	close(release)
	h.waitForState(t, s.ID, domain.SessionStateReadyForCompletion)
	result, err := h.m.RequestCompletion(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 70.0, result.OverallScore)
}

func TestManager_IngestValidation(t *testing.T) {
	h := newHarness(t, testManagerConfig())
	h.tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(answer, nil)
	ctx := context.Background()

	t.Run("unknown session", func(t *testing.T) {
		_, err := h.m.IngestAudioChunk(ctx, "missing", chunk(1, "x", false))
		assert.Equal(t, domain.ErrCodeValidation, domain.CodeOf(err))
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		_, err = h.m.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("empty payload", func(t *testing.T) {
		s := h.start(t, "user-1")
		_, err := h.m.IngestAudioChunk(ctx, s.ID, domain.AudioChunk{Sequence: 1})
		assert.ErrorIs(t, err, domain.ErrEmptyChunk)
	})

	t.Run("after end of stream", func(t *testing.T) {
		s := h.ready(t, "user-1")
		_, err := h.m.IngestAudioChunk(ctx, s.ID, chunk(2, "late", false))
		assert.Equal(t, domain.ErrCodeValidation, domain.CodeOf(err))
	})

	t.Run("duplicates are accepted silently", func(t *testing.T) {
		s := h.start(t, "user-1")
		h.push(t, s.ID, chunk(1, "one", false))
		r := h.push(t, s.ID, chunk(1, "uno", false))
		assert.True(t, r.Duplicate)
		assert.False(t, r.Accepted)
		assert.Empty(t, r.Warnings)
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := h.m.StartSession(ctx, StartInput{UserID: "u", Question: "Q", AudioFormat: "aiff"})
		assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	})

	t.Run("missing question", func(t *testing.T) {
		_, err := h.m.StartSession(ctx, StartInput{UserID: "u", Question: "  "})
		assert.ErrorIs(t, err, domain.ErrMissingRequiredField)
	})
}

func TestManager_OutOfWindowChunkIsWarningNotFailure(t *testing.T) {
	cfg := testManagerConfig()
	cfg.Audio.Window = 4
	cfg.Audio.EndGrace = 5 * time.Second
	h := newHarness(t, cfg)
	h.tr.On("Transcribe", mock.Anything, []byte("a789X"), "answer.m4a").Return(answer, nil).Once()
	ctx := context.Background()

	s := h.start(t, "user-1")
	h.push(t, s.ID, chunk(1, "a", false))

	r := h.push(t, s.ID, chunk(10, "X", true))
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, domain.AudioWarningSequenceGap, r.Warnings[0].Kind)

	late := h.push(t, s.ID, chunk(3, "c", false))
	assert.False(t, late.Accepted)
	require.Len(t, late.Warnings, 1)
	assert.Equal(t, domain.AudioWarningSequenceGap, late.Warnings[0].Kind)

	got, err := h.m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateAwaitingAudio, got.State)
	assert.Len(t, got.Warnings, 2)

	h.push(t, s.ID, chunk(7, "7", false), chunk(8, "8", false), chunk(9, "9", false))
	ready := h.waitForState(t, s.ID, domain.SessionStateReadyForCompletion)
	assert.Len(t, ready.Warnings, 2)
	h.tr.AssertExpectations(t)
}

func TestManager_IncompleteAudioAfterGrace(t *testing.T) {
	h := newHarness(t, testManagerConfig())
	h.tr.On("Transcribe", mock.Anything, []byte("one"), "answer.m4a").Return(answer, nil).Once()

	s := h.start(t, "user-1")
	r := h.push(t, s.ID, chunk(1, "one", false), chunk(3, "three", true))
	assert.Equal(t, domain.SessionStateAwaitingAudio, r.State)

	ready := h.waitForState(t, s.ID, domain.SessionStateReadyForCompletion)
	require.NotEmpty(t, ready.Warnings)
	assert.Equal(t, domain.AudioWarningIncompleteAudio, ready.Warnings[len(ready.Warnings)-1].Kind)
	h.tr.AssertExpectations(t)
}

func TestManager_EndAudio(t *testing.T) {
	h := newHarness(t, testManagerConfig())
	h.tr.On("Transcribe", mock.Anything, []byte("onetwo"), "answer.m4a").Return(answer, nil).Once()
	ctx := context.Background()

	s := h.start(t, "user-1")
	h.push(t, s.ID, chunk(1, "one", false), chunk(2, "two", false))
	require.NoError(t, h.m.EndAudio(ctx, s.ID))

	h.waitForState(t, s.ID, domain.SessionStateReadyForCompletion)
	err := h.m.EndAudio(ctx, s.ID)
	assert.Equal(t, domain.ErrCodeConcurrency, domain.CodeOf(err))
	assert.ErrorIs(t, h.m.EndAudio(ctx, "missing"), domain.ErrSessionNotFound)
}

func TestManager_EmptyTranscriptFails(t *testing.T) {
	ctx := context.Background()

	t.Run("blank transcription", func(t *testing.T) {
		h := newHarness(t, testManagerConfig())
		h.tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return("   ", nil).Once()

		s := h.start(t, "user-1")
		h.push(t, s.ID, chunk(1, "silence", true))
		got := h.waitForState(t, s.ID, domain.SessionStateFailed)
		assert.Equal(t, domain.FailureReasonEmptyTranscript, got.FailureReason)
		assert.Empty(t, got.Transcript)

		_, err := h.m.RequestCompletion(ctx, s.ID)
		var failed *domain.SessionFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, domain.FailureReasonEmptyTranscript, failed.Reason)
		h.cm.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no audio at all", func(t *testing.T) {
		h := newHarness(t, testManagerConfig())

		s := h.start(t, "user-1")
		require.NoError(t, h.m.EndAudio(ctx, s.ID))
		got := h.waitForState(t, s.ID, domain.SessionStateFailed)
		assert.Equal(t, domain.FailureReasonEmptyTranscript, got.FailureReason)
		h.tr.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestManager_TranscriptionFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		calls  int
		reason domain.FailureReason
	}{
		{"retries exhausted", domain.ErrServiceDown, 4, domain.FailureReasonExternalServiceUnavailable},
		{"audio rejected", domain.ErrInvalidAudio, 1, domain.FailureReasonInvalidAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testManagerConfig())
			h.tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return("", tt.err)

			s := h.start(t, "user-1")
			h.push(t, s.ID, chunk(1, "noise", true))
			got := h.waitForState(t, s.ID, domain.SessionStateFailed)
			assert.Equal(t, tt.reason, got.FailureReason)
			h.tr.AssertNumberOfCalls(t, "Transcribe", tt.calls)
		})
	}
}

func TestManager_FeedbackRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed twice then valid", func(t *testing.T) {
		h := newHarness(t, testManagerConfig())
		h.tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(answer, nil)
		h.cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("Sure! Here is your feedback.", nil).Once()
		h.cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(`{"communication_score": 70}`, nil).Once()
		h.cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(validFeedback, nil).Once()

		s := h.ready(t, "user-1")
		result, err := h.m.RequestCompletion(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, 70.0, result.OverallScore)
		h.cm.AssertNumberOfCalls(t, "Complete", 3)
	})

	t.Run("never valid", func(t *testing.T) {
		h := newHarness(t, testManagerConfig())
		h.tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(answer, nil)
		h.cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("not json", nil)

		s := h.ready(t, "user-1")
		_, err := h.m.RequestCompletion(ctx, s.ID)
		var failed *domain.SessionFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, domain.FailureReasonFeedbackGeneration, failed.Reason)
		h.cm.AssertNumberOfCalls(t, "Complete", 3)

		got, err := h.m.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Scores)
		assert.Nil(t, got.OverallScore)
	})

	t.Run("generation unavailable", func(t *testing.T) {
		h := newHarness(t, testManagerConfig())
		h.tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(answer, nil)
		h.cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", domain.ErrRateLimited)

		s := h.ready(t, "user-1")
		_, err := h.m.RequestCompletion(ctx, s.ID)
		var failed *domain.SessionFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, domain.FailureReasonExternalServiceUnavailable, failed.Reason)
	})
}

func TestManager_CancelAbortsGeneration(t *testing.T) {
	h := newHarness(t, testManagerConfig())
	h.tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(answer, nil)
	h.cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return("", context.Canceled)
	ctx := context.Background()

	s := h.ready(t, "user-1")

	errCh := make(chan error, 1)
	go func() {
		_, err := h.m.RequestCompletion(ctx, s.ID)
		errCh <- err
	}()
	h.waitForState(t, s.ID, domain.SessionStateGeneratingFeedback)

	require.NoError(t, h.m.Cancel(ctx, s.ID))

	select {
	case err := <-errCh:
		var failed *domain.SessionFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, domain.FailureReasonCancelled, failed.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("completion waiter was not released")
	}

	got, err := h.m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateFailed, got.State)
	assert.Equal(t, domain.FailureReasonCancelled, got.FailureReason)
}

func TestManager_CallerContext(t *testing.T) {
	h := newHarness(t, testManagerConfig())
	h.tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(answer, nil)
	release := make(chan struct{})
	defer close(release)
	h.cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(validFeedback, nil)

	s := h.ready(t, "user-1")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := h.m.RequestCompletion(ctx, s.ID)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	got, err := h.m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateGeneratingFeedback, got.State)
}

func TestManager_ArchiveServesStoppedSessions(t *testing.T) {
	cfg := testManagerConfig()
	cfg.Linger = 10 * time.Millisecond
	h := newHarness(t, cfg)
	h.tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(answer, nil).Once()
	h.cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(validFeedback, nil).Once()
	ctx := context.Background()

	s := h.ready(t, "user-1")
	first, err := h.m.RequestCompletion(ctx, s.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.m.Active() == 0 }, time.Second, 5*time.Millisecond)

	again, err := h.m.RequestCompletion(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	got, err := h.m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateCompleted, got.State)

	assert.Equal(t, domain.ErrCodeConcurrency, domain.CodeOf(h.m.Cancel(ctx, s.ID)))
	assert.Equal(t, domain.ErrCodeConcurrency, domain.CodeOf(h.m.EndAudio(ctx, s.ID)))
	_, err = h.m.IngestAudioChunk(ctx, s.ID, chunk(2, "x", false))
	assert.Equal(t, domain.ErrCodeValidation, domain.CodeOf(err))
	h.cm.AssertNumberOfCalls(t, "Complete", 1)
}

func TestManager_ListAndStats(t *testing.T) {
	h := newHarness(t, testManagerConfig())
	h.tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(answer, nil)
	h.cm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(validFeedback, nil)
	ctx := context.Background()

	scored := h.ready(t, "user-1")
	_, err := h.m.RequestCompletion(ctx, scored.ID)
	require.NoError(t, err)
	pending := h.start(t, "user-1")
	h.start(t, "user-2")

	sessions, err := h.m.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, pending.ID, sessions[0].ID)
	assert.Equal(t, scored.ID, sessions[1].ID)

	stats, err := h.m.Stats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Average: 70}, stats)

	all, err := h.m.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestManager_Shutdown(t *testing.T) {
	h := newHarness(t, testManagerConfig())
	ctx := context.Background()

	s := h.start(t, "user-1")
	require.NoError(t, h.m.Shutdown(ctx))
	assert.Zero(t, h.m.Active())

	got, err := h.m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateFailed, got.State)
	assert.Equal(t, domain.FailureReasonCancelled, got.FailureReason)

	_, err = h.m.StartSession(ctx, StartInput{UserID: "u", Question: "Q"})
	assert.Equal(t, domain.ErrCodeConcurrency, domain.CodeOf(err))
	assert.ElementsMatch(t, []events.Kind{events.KindCreated, events.KindFailed}, h.pub.kinds(s.ID))
}

type failingStore struct{}

func (failingStore) Store(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket unreachable")
}

type recordingStore struct {
	mu   sync.Mutex
	keys []string
}

func (s *recordingStore) Store(_ context.Context, sessionID, format string, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := "sessions/" + sessionID + "/answer." + format
	s.keys = append(s.keys, key)
	return key, nil
}

func TestManager_AudioArchive(t *testing.T) {
	tr := new(MockTranscriber)
	tr.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(answer, nil)

	for _, tc := range []struct {
		name  string
		store AudioStore
		ref   func(id string) string
	}{
		{"stored", &recordingStore{}, func(id string) string { return "sessions/" + id + "/answer.webm" }},
		{"store failure falls back", failingStore{}, func(id string) string { return "mem://sessions/" + id + "/answer.webm" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(testManagerConfig(), Deps{Transcriber: tr, AudioStore: tc.store, Logger: zap.NewNop()})
			defer m.Shutdown(context.Background())
			ctx := context.Background()

			s, err := m.StartSession(ctx, StartInput{UserID: "u", Question: "Q", AudioFormat: "webm"})
			require.NoError(t, err)
			_, err = m.IngestAudioChunk(ctx, s.ID, chunk(1, "audio", true))
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				got, err := m.Get(ctx, s.ID)
				return err == nil && got.State == domain.SessionStateReadyForCompletion && got.AudioRef == tc.ref(s.ID)
			}, 2*time.Second, 5*time.Millisecond)
		})
	}
}
