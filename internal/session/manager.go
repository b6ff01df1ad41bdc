package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/audio"
	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/cloo-solutions/interviewcoach/internal/events"
	"github.com/cloo-solutions/interviewcoach/internal/feedback"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	DefaultLinger         = 5 * time.Second
	DefaultResultTTL      = time.Hour
	DefaultMailboxSize    = 64
	DefaultPublishTimeout = 5 * time.Second
	DefaultStoreTimeout   = 30 * time.Second
)

// Transcriber turns assembled audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Composer produces validated feedback for a transcript
type Composer interface {
	Compose(ctx context.Context, in feedback.Input) (*domain.FeedbackResult, error)
}

// AudioStore archives assembled audio and returns a handle to it
type AudioStore interface {
	Store(ctx context.Context, sessionID, format string, audio []byte) (string, error)
}

// Config tunes the manager
type Config struct {
	Audio          audio.Config
	Linger         time.Duration
	ResultTTL      time.Duration
	MailboxSize    int
	PublishTimeout time.Duration
	StoreTimeout   time.Duration
}

// Deps are the collaborators of the manager. AudioStore and Publisher are
// optional.
type Deps struct {
	Transcriber Transcriber
	Composer    Composer
	AudioStore  AudioStore
	Publisher   events.Publisher
	Logger      *zap.Logger
	NewID       func() string
	Now         func() time.Time
}

// StartInput is what a caller supplies to open a session
type StartInput struct {
	UserID      string
	Title       string
	Question    string
	AudioFormat string
}

// IngestReceipt reports what happened to one pushed chunk
type IngestReceipt struct {
	Sequence  uint32
	Accepted  bool
	Duplicate bool
	Warnings  []domain.AudioWarning
	State     domain.SessionState
}

// Manager owns every session actor. Each active session is served by one
// goroutine; finished sessions are archived for ResultTTL so reads keep
// working after the actor stops.
type Manager struct {
	cfg         Config
	transcriber Transcriber
	composer    Composer
	store       AudioStore
	publisher   events.Publisher
	logger      *zap.Logger
	newID       func() string
	now         func() time.Time

	actors  sync.Map
	archive *cache.Cache

	mu     sync.RWMutex
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup
	bg     sync.WaitGroup
}

// NewManager creates a manager
func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.Linger <= 0 {
		cfg.Linger = DefaultLinger
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Manager{
		cfg:         cfg,
		transcriber: deps.Transcriber,
		composer:    deps.Composer,
		store:       deps.AudioStore,
		publisher:   deps.Publisher,
		logger:      deps.Logger.Named("session"),
		newID:       deps.NewID,
		now:         deps.Now,
		archive:     cache.New(cfg.ResultTTL, cfg.ResultTTL/2),
		quit:        make(chan struct{}),
	}
}

// StartSession creates a session and opens its audio pipeline. The returned
// snapshot is in awaiting_audio.
func (m *Manager) StartSession(ctx context.Context, in StartInput) (*domain.Session, error) {
	s := domain.NewSession(m.newID(), strings.TrimSpace(in.UserID), strings.TrimSpace(in.Title),
		strings.TrimSpace(in.Question), strings.TrimSpace(in.AudioFormat), m.now())
	if err := domain.ValidateNewSession(s); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, domain.NewDomainError(domain.ErrCodeConcurrency, "session manager is shutting down")
	}

	a := newActor(m, s)
	if err := a.startAudio(); err != nil {
		return nil, err
	}
	m.actors.Store(s.ID, a)
	m.wg.Add(1)
	go a.run()

	snapshot := s.Clone()
	m.logger.Info("session started",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID),
		zap.String("audio_format", s.AudioFormat))
	m.publish(events.KindCreated, snapshot)
	return snapshot, nil
}

// IngestAudioChunk hands one chunk to the session's reorder buffer
func (m *Manager) IngestAudioChunk(ctx context.Context, sessionID string, chunk domain.AudioChunk) (IngestReceipt, error) {
	if a, ok := m.active(sessionID); ok {
		r, answered, err := ask(ctx, a, func(reply chan ingestReply) any {
			return ingestMsg{chunk: chunk, reply: reply}
		})
		if err != nil {
			return IngestReceipt{}, err
		}
		if answered {
			return r.receipt, r.err
		}
	}
	if s, ok := m.archived(sessionID); ok {
		return IngestReceipt{}, notAcceptingAudio(s)
	}
	return IngestReceipt{}, domain.NewDomainErrorWithCause(domain.ErrCodeValidation,
		fmt.Sprintf("session %s does not exist", sessionID), domain.ErrSessionNotFound)
}

// EndAudio marks the end of the stream. Transcription runs after it returns.
func (m *Manager) EndAudio(ctx context.Context, sessionID string) error {
	if a, ok := m.active(sessionID); ok {
		err, answered, askErr := ask(ctx, a, func(reply chan error) any {
			return endAudioMsg{reply: reply}
		})
		if askErr != nil {
			return askErr
		}
		if answered {
			return err
		}
	}
	if s, ok := m.archived(sessionID); ok {
		return domain.NewConcurrencyError(s.ID, s.State, string(EventEndOfStream))
	}
	return domain.ErrSessionNotFound
}

// RequestCompletion generates feedback once and returns it. Concurrent callers
// share the in-flight generation; later callers get the stored result.
func (m *Manager) RequestCompletion(ctx context.Context, sessionID string) (*domain.FeedbackResult, error) {
	if a, ok := m.active(sessionID); ok {
		reply := make(chan completionReply, 1)
		accepted, err := deliver(ctx, a, completeMsg{reply: reply})
		if err != nil {
			return nil, err
		}
		if accepted {
			// generation can outlive the linger window, so the actor is
			// watched only until it exits
			select {
			case r := <-reply:
				return r.result, r.err
			case <-a.done:
				select {
				case r := <-reply:
					return r.result, r.err
				default:
				}
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if s, ok := m.archived(sessionID); ok {
		return terminalResult(s)
	}
	return nil, domain.ErrSessionNotFound
}

// Cancel fails a non-terminal session with Cancelled and aborts in-flight work
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	if a, ok := m.active(sessionID); ok {
		err, answered, askErr := ask(ctx, a, func(reply chan error) any {
			return cancelMsg{reply: reply}
		})
		if askErr != nil {
			return askErr
		}
		if answered {
			return err
		}
	}
	if s, ok := m.archived(sessionID); ok {
		return domain.NewConcurrencyError(s.ID, s.State, string(EventCancel))
	}
	return domain.ErrSessionNotFound
}

// Get returns a copy of the session
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if a, ok := m.active(sessionID); ok {
		s, answered, err := ask(ctx, a, func(reply chan *domain.Session) any {
			return getMsg{reply: reply}
		})
		if err != nil {
			return nil, err
		}
		if answered {
			return s, nil
		}
	}
	if s, ok := m.archived(sessionID); ok {
		return s, nil
	}
	return nil, domain.ErrSessionNotFound
}

// List returns the known sessions of userID, newest first. An empty userID
// lists every session.
func (m *Manager) List(ctx context.Context, userID string) ([]*domain.Session, error) {
	byID := make(map[string]*domain.Session)

	var actors []*actor
	m.actors.Range(func(_, v any) bool {
		a := v.(*actor)
		if userID == "" || a.userID == userID {
			actors = append(actors, a)
		}
		return true
	})
	for _, a := range actors {
		s, answered, err := ask(ctx, a, func(reply chan *domain.Session) any {
			return getMsg{reply: reply}
		})
		if err != nil {
			return nil, err
		}
		if answered {
			byID[s.ID] = s
		}
	}
	for id, item := range m.archive.Items() {
		s := item.Object.(*domain.Session)
		if userID != "" && s.UserID != userID {
			continue
		}
		if _, ok := byID[id]; !ok {
			byID[id] = s.Clone()
		}
	}

	sessions := make([]*domain.Session, 0, len(byID))
	for _, s := range byID {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Stats summarizes the sessions of userID
func (m *Manager) Stats(ctx context.Context, userID string) (Stats, error) {
	sessions, err := m.List(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(sessions), nil
}

// Active returns the number of running session actors
func (m *Manager) Active() int {
	n := 0
	m.actors.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Shutdown cancels every unfinished session and waits for the actors and
// pending event publishes to stop
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.quit)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.bg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("session manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) active(id string) (*actor, bool) {
	v, ok := m.actors.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*actor), true
}

func (m *Manager) archived(id string) (*domain.Session, bool) {
	v, ok := m.archive.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*domain.Session).Clone(), true
}

func (m *Manager) publish(kind events.Kind, s *domain.Session) {
	if m.publisher == nil {
		return
	}
	event := events.FromSession(kind, s, m.now())

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PublishTimeout)
		defer cancel()
		if err := m.publisher.Publish(ctx, event); err != nil {
			m.logger.Warn("failed to publish session event",
				zap.String("session_id", event.SessionID),
				zap.String("kind", string(event.Kind)),
				zap.Error(err))
		}
	}()
}

// deliver puts msg in the actor's mailbox. accepted is false when the actor
// stopped first.
func deliver(ctx context.Context, a *actor, msg any) (bool, error) {
	select {
	case a.mailbox <- msg:
		return true, nil
	case <-a.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ask sends a request and waits for its reply. answered is false when the
// actor stopped before replying; callers then read the archive.
func ask[T any](ctx context.Context, a *actor, build func(chan T) any) (T, bool, error) {
	var zero T
	reply := make(chan T, 1)

	accepted, err := deliver(ctx, a, build(reply))
	if err != nil || !accepted {
		return zero, false, err
	}

	select {
	case r := <-reply:
		return r, true, nil
	case <-a.done:
		select {
		case r := <-reply:
			return r, true, nil
		default:
			return zero, false, nil
		}
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

func terminalResult(s *domain.Session) (*domain.FeedbackResult, error) {
	switch s.State {
	case domain.SessionStateCompleted:
		return s.Feedback(), nil
	case domain.SessionStateFailed:
		return nil, &domain.SessionFailedError{SessionID: s.ID, Reason: s.FailureReason}
	default:
		return nil, domain.NewConcurrencyError(s.ID, s.State, string(EventCompletionRequested))
	}
}

func notAcceptingAudio(s *domain.Session) error {
	return domain.NewValidationError(fmt.Sprintf("session %s is not accepting audio (state %s)", s.ID, s.State))
}
