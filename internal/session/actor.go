package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/audio"
	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/cloo-solutions/interviewcoach/internal/events"
	"github.com/cloo-solutions/interviewcoach/internal/feedback"
	"github.com/cloo-solutions/interviewcoach/internal/gateway"
	"github.com/cloo-solutions/interviewcoach/internal/telemetry"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

type ingestMsg struct {
	chunk domain.AudioChunk
	reply chan ingestReply
}

type ingestReply struct {
	receipt IngestReceipt
	err     error
}

type endAudioMsg struct {
	reply chan error
}

type audioReadyMsg struct {
	assembled audio.Assembled
}

type transcriptionDoneMsg struct {
	text     string
	audioRef string
	err      error
}

type completeMsg struct {
	reply chan completionReply
}

type completionReply struct {
	result *domain.FeedbackResult
	err    error
}

type feedbackDoneMsg struct {
	result *domain.FeedbackResult
	err    error
}

type cancelMsg struct {
	reply chan error
}

type getMsg struct {
	reply chan *domain.Session
}

// actor serializes every event of one session. Only the run goroutine touches
// session; background work reports back through the mailbox.
type actor struct {
	m       *Manager
	id      string
	userID  string
	format  string
	session *domain.Session

	mailbox chan any
	done    chan struct{}

	// ctx scopes external calls and is cancelled when the session fails or
	// the actor stops
	ctx    context.Context
	cancel context.CancelFunc

	pipeline *audio.Pipeline
	waiters  []chan completionReply
	log      *zap.Logger
}

func newActor(m *Manager, s *domain.Session) *actor {
	ctx, cancel := context.WithCancel(context.Background())
	return &actor{
		m:       m,
		id:      s.ID,
		userID:  s.UserID,
		format:  s.AudioFormat,
		session: s,
		mailbox: make(chan any, m.cfg.MailboxSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		log:     m.logger.With(zap.String("session_id", s.ID)),
	}
}

func (a *actor) run() {
	var linger *time.Timer
	defer func() {
		if linger != nil {
			linger.Stop()
		}
		a.exit()
	}()

	var lingerC <-chan time.Time
	for {
		select {
		case msg := <-a.mailbox:
			a.handle(msg)
		case <-lingerC:
			return
		case <-a.m.quit:
			if !a.session.State.IsTerminal() {
				a.fail(EventCancel, domain.FailureReasonCancelled, nil)
			}
			return
		}

		if linger == nil && a.session.State.IsTerminal() {
			linger = time.NewTimer(a.m.cfg.Linger)
			lingerC = linger.C
		}
	}
}

// exit archives the final snapshot before the actor disappears from the
// active set, so a lookup always finds one or the other
func (a *actor) exit() {
	a.cancel()
	if a.pipeline != nil {
		a.pipeline.Close()
	}
	a.m.archive.Set(a.id, a.session.Clone(), cache.DefaultExpiration)
	a.m.actors.Delete(a.id)
	close(a.done)
	a.m.wg.Done()
	a.log.Debug("session actor stopped", zap.String("state", string(a.session.State)))
}

// post delivers the result of background work. It gives up once the actor
// has stopped.
func (a *actor) post(msg any) {
	select {
	case a.mailbox <- msg:
	case <-a.done:
	}
}

func (a *actor) handle(msg any) {
	switch msg := msg.(type) {
	case ingestMsg:
		msg.reply <- a.ingest(msg.chunk)
	case endAudioMsg:
		msg.reply <- a.endAudio()
	case audioReadyMsg:
		a.audioReady(msg.assembled)
	case transcriptionDoneMsg:
		a.transcriptionDone(msg)
	case completeMsg:
		a.requestCompletion(msg.reply)
	case feedbackDoneMsg:
		a.feedbackDone(msg)
	case cancelMsg:
		msg.reply <- a.cancelSession()
	case getMsg:
		msg.reply <- a.session.Clone()
	default:
		a.log.Error("unknown session message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (a *actor) transition(ev Event) error {
	from := a.session.State
	to, ok := Next(from, ev)
	if !ok {
		return domain.NewConcurrencyError(a.id, from, string(ev))
	}
	a.session.State = to
	a.log.Debug("session transition",
		zap.String("event", string(ev)),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	telemetry.AddBreadcrumb(a.ctx, "session", fmt.Sprintf("%s -> %s", from, to))
	return nil
}

// startAudio runs before the actor goroutine starts
func (a *actor) startAudio() error {
	if err := a.transition(EventStartAudio); err != nil {
		return err
	}
	started := a.m.now()
	a.session.AudioStartedAt = &started
	a.pipeline = audio.NewPipeline(a.m.cfg.Audio, func(assembled audio.Assembled) {
		a.post(audioReadyMsg{assembled: assembled})
	})
	return nil
}

func (a *actor) ingest(chunk domain.AudioChunk) ingestReply {
	if a.session.State != domain.SessionStateAwaitingAudio {
		return ingestReply{err: notAcceptingAudio(a.session)}
	}

	res, assembled, err := a.pipeline.Push(chunk)
	if errors.Is(err, audio.ErrPipelineClosed) {
		return ingestReply{err: notAcceptingAudio(a.session)}
	}
	if err != nil {
		return ingestReply{err: err}
	}
	a.recordWarnings(res.Warnings)

	receipt := IngestReceipt{
		Sequence:  chunk.Sequence,
		Accepted:  res.Accepted,
		Duplicate: res.Duplicate,
		Warnings:  res.Warnings,
	}
	if assembled != nil {
		a.audioReady(*assembled)
	}
	receipt.State = a.session.State
	return ingestReply{receipt: receipt}
}

func (a *actor) endAudio() error {
	if a.session.State != domain.SessionStateAwaitingAudio {
		return domain.NewConcurrencyError(a.id, a.session.State, string(EventEndOfStream))
	}
	if assembled := a.pipeline.End(); assembled != nil {
		a.audioReady(*assembled)
	}
	return nil
}

func (a *actor) audioReady(assembled audio.Assembled) {
	if a.session.State != domain.SessionStateAwaitingAudio {
		return
	}
	// the assembled list repeats warnings already reported per chunk
	if n := len(a.session.Warnings); n <= len(assembled.Warnings) {
		a.recordWarnings(assembled.Warnings[n:])
	}
	if err := a.transition(EventEndOfStream); err != nil {
		a.log.Error("end of stream rejected", zap.Error(err))
		return
	}
	if a.session.AudioStartedAt != nil {
		elapsed := a.m.now().Sub(*a.session.AudioStartedAt).Seconds()
		a.session.DurationSeconds = math.Round(math.Max(elapsed, 0)*10) / 10
	}

	a.log.Info("audio assembled",
		zap.Int("bytes", len(assembled.Audio)),
		zap.Int("chunks", assembled.Chunks),
		zap.Bool("incomplete", assembled.Incomplete))
	go a.transcribe(assembled.Audio)
}

func (a *actor) transcribe(data []byte) {
	ctx, span := telemetry.StartSpan(a.ctx, "session.transcribe", telemetry.SpanAttributes{
		SessionID: a.id,
		UserID:    a.userID,
		Operation: gateway.OpTranscribe,
	})
	defer span.End()

	ref := a.storeAudio(ctx, data)
	if len(data) == 0 {
		a.post(transcriptionDoneMsg{audioRef: ref})
		return
	}
	text, err := a.m.transcriber.Transcribe(ctx, data, "answer."+a.format)
	a.post(transcriptionDoneMsg{text: text, audioRef: ref, err: err})
}

// storeAudio archives the answer when object storage is configured. Failure
// only costs the archive copy.
func (a *actor) storeAudio(ctx context.Context, data []byte) string {
	ref := fmt.Sprintf("mem://sessions/%s/answer.%s", a.id, a.format)
	if a.m.store == nil || len(data) == 0 {
		return ref
	}

	storeCtx, cancel := context.WithTimeout(ctx, a.m.cfg.StoreTimeout)
	defer cancel()
	key, err := a.m.store.Store(storeCtx, a.id, a.format, data)
	if err != nil {
		a.log.Warn("failed to archive audio", zap.Error(err))
		telemetry.AddWarningBreadcrumb(ctx, "storage", "audio archive failed")
		return ref
	}
	return key
}

func (a *actor) transcriptionDone(msg transcriptionDoneMsg) {
	if a.session.State != domain.SessionStateTranscribing {
		return
	}
	a.session.AudioRef = msg.audioRef

	if msg.err != nil {
		a.log.Warn("transcription failed", zap.Error(msg.err))
		a.fail(EventTranscriptionFailed, transcriptionFailure(msg.err), msg.err)
		return
	}
	text := strings.TrimSpace(msg.text)
	if text == "" {
		a.fail(EventTranscriptionSucceeded, domain.FailureReasonEmptyTranscript, nil)
		return
	}
	if err := a.transition(EventTranscriptionSucceeded); err != nil {
		a.log.Error("transcript rejected", zap.Error(err))
		return
	}
	a.session.Transcript = append(a.session.Transcript, text)
	a.log.Info("transcript stored", zap.Int("chars", len(text)))
}

func (a *actor) requestCompletion(reply chan completionReply) {
	switch a.session.State {
	case domain.SessionStateReadyForCompletion:
		if err := a.transition(EventCompletionRequested); err != nil {
			reply <- completionReply{err: err}
			return
		}
		a.waiters = append(a.waiters, reply)
		go a.generate(feedback.Input{
			SessionID:       a.id,
			Question:        a.session.Question,
			Transcript:      a.session.TranscriptText(),
			DurationSeconds: a.session.DurationSeconds,
		})
	case domain.SessionStateGeneratingFeedback:
		a.waiters = append(a.waiters, reply)
	case domain.SessionStateCompleted:
		reply <- completionReply{result: a.session.Feedback()}
	case domain.SessionStateFailed:
		reply <- completionReply{err: &domain.SessionFailedError{SessionID: a.id, Reason: a.session.FailureReason}}
	default:
		reply <- completionReply{err: domain.NewConcurrencyError(a.id, a.session.State, string(EventCompletionRequested))}
	}
}

func (a *actor) generate(in feedback.Input) {
	ctx, span := telemetry.StartSpan(a.ctx, "session.generate", telemetry.SpanAttributes{
		SessionID: a.id,
		UserID:    a.userID,
		Operation: gateway.OpGenerate,
	})
	defer span.End()

	result, err := a.m.composer.Compose(ctx, in)
	a.post(feedbackDoneMsg{result: result, err: err})
}

func (a *actor) feedbackDone(msg feedbackDoneMsg) {
	if a.session.State != domain.SessionStateGeneratingFeedback {
		return
	}
	if msg.err != nil {
		a.log.Warn("feedback generation failed", zap.Error(msg.err))
		a.fail(EventFeedbackFailed, feedbackFailure(msg.err), msg.err)
		return
	}
	if err := a.transition(EventFeedbackReady); err != nil {
		a.log.Error("feedback rejected", zap.Error(err))
		return
	}

	a.session.ApplyFeedback(msg.result)
	completed := a.m.now()
	a.session.CompletedAt = &completed

	for _, w := range a.waiters {
		w <- completionReply{result: a.session.Feedback()}
	}
	a.waiters = nil

	a.log.Info("session completed", zap.Float64("overall_score", *a.session.OverallScore))
	a.m.publish(events.KindCompleted, a.session.Clone())
}

func (a *actor) cancelSession() error {
	if a.session.State.IsTerminal() {
		return domain.NewConcurrencyError(a.id, a.session.State, string(EventCancel))
	}
	a.fail(EventCancel, domain.FailureReasonCancelled, nil)
	return nil
}

// fail moves the session to failed. ev must be accepted in the current state;
// its guard, not the table, routes it to failed.
func (a *actor) fail(ev Event, reason domain.FailureReason, cause error) {
	if _, ok := Next(a.session.State, ev); !ok {
		a.log.Error("failure event rejected",
			zap.String("event", string(ev)),
			zap.String("state", string(a.session.State)))
		return
	}
	from := a.session.State
	a.session.State = domain.SessionStateFailed
	a.session.FailureReason = reason

	a.cancel()
	if a.pipeline != nil {
		a.pipeline.Close()
	}
	for _, w := range a.waiters {
		w <- completionReply{err: &domain.SessionFailedError{SessionID: a.id, Reason: reason}}
	}
	a.waiters = nil

	a.log.Warn("session failed",
		zap.String("event", string(ev)),
		zap.String("from", string(from)),
		zap.String("reason", string(reason)))
	if cause != nil {
		telemetry.CaptureSessionFailure(a.ctx, a.id, string(reason), cause)
	} else {
		telemetry.AddWarningBreadcrumb(a.ctx, "session", fmt.Sprintf("session %s failed: %s", a.id, reason))
	}
	a.m.publish(events.KindFailed, a.session.Clone())
}

func (a *actor) recordWarnings(warnings []domain.AudioWarning) {
	for _, w := range warnings {
		a.session.Warnings = append(a.session.Warnings, w)
		a.log.Warn("audio warning",
			zap.String("kind", string(w.Kind)),
			zap.Uint32("sequence", w.Sequence),
			zap.String("message", w.Message))
		telemetry.AddWarningBreadcrumb(a.ctx, "audio", string(w.Kind)+": "+w.Message)
	}
}

func transcriptionFailure(err error) domain.FailureReason {
	switch {
	case errors.Is(err, context.Canceled):
		return domain.FailureReasonCancelled
	case gateway.Rejected(err):
		return domain.FailureReasonInvalidAudio
	default:
		return domain.FailureReasonExternalServiceUnavailable
	}
}

func feedbackFailure(err error) domain.FailureReason {
	switch {
	case errors.Is(err, context.Canceled):
		return domain.FailureReasonCancelled
	case gateway.Unavailable(err):
		return domain.FailureReasonExternalServiceUnavailable
	default:
		return domain.FailureReasonFeedbackGeneration
	}
}
