package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/cloo-solutions/interviewcoach/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Operation names, used in logs, spans and CallError
const (
	OpTranscribe = "transcribe"
	OpGenerate   = "generate"
	OpChat       = "chat"
	OpEmbed      = "embed"
)

// Transcriber turns recorded audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Completer runs a chat completion and returns the raw message content
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Chatter continues a coaching conversation. A Completer that also
// implements Chatter serves the chat route.
type Chatter interface {
	Chat(ctx context.Context, system string, history []domain.ChatMessage) (string, error)
}

// Embedder turns text into a vector
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Prompt is one generation request
type Prompt struct {
	System string
	User   string
}

// Policy is the retry and timeout policy for one external service
type Policy struct {
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Config configures the gateway
type Config struct {
	Concurrency         int64
	EmbeddingDimensions int
	Transcription       Policy
	Generation          Policy
	Embedding           Policy
}

// DefaultPolicy retries 3 times with delays of 500ms, 1s, 2s (capped at 8s)
func DefaultPolicy(timeout time.Duration) Policy {
	return Policy{
		Timeout:         timeout,
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     8 * time.Second,
	}
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Concurrency:   8,
		Transcription: DefaultPolicy(60 * time.Second),
		Generation:    DefaultPolicy(45 * time.Second),
		Embedding:     DefaultPolicy(15 * time.Second),
	}
}

// CallError describes a gateway call that did not succeed
type CallError struct {
	Op        string
	Attempts  int
	Exhausted bool
	Err       error
}

func (e *CallError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Gateway is the single way the coach talks to AI services. Every call gets a
// timeout, classified retries with exponential backoff, output validation and
// a slot from a semaphore shared by all sessions.
type Gateway struct {
	transcriber Transcriber
	completer   Completer
	embedder    Embedder
	sem         *semaphore.Weighted
	cfg         Config
	logger      *zap.Logger
}

// New creates a gateway. embedder may be nil when retrieval is disabled.
func New(cfg Config, transcriber Transcriber, completer Completer, embedder Embedder, logger *zap.Logger) *Gateway {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Gateway{
		transcriber: transcriber,
		completer:   completer,
		embedder:    embedder,
		sem:         semaphore.NewWeighted(cfg.Concurrency),
		cfg:         cfg,
		logger:      logger.Named("gateway"),
	}
}

// Transcribe returns the text of audio. filename carries the container format.
func (g *Gateway) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodePermanentExternal, "nothing to transcribe",
			&CallError{Op: OpTranscribe, Err: domain.ErrInvalidAudio})
	}
	return call(ctx, g, OpTranscribe, g.cfg.Transcription,
		func(ctx context.Context) (string, error) {
			return g.transcriber.Transcribe(ctx, audio, filename)
		},
		func(text string) error {
			if !utf8.ValidString(text) {
				return fmt.Errorf("%w: transcript is not valid UTF-8", domain.ErrMalformedOutput)
			}
			return nil
		})
}

// Generate returns the raw completion for prompt
func (g *Gateway) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return call(ctx, g, OpGenerate, g.cfg.Generation,
		func(ctx context.Context) (string, error) {
			return g.completer.Complete(ctx, prompt.System, prompt.User)
		},
		func(raw string) error {
			if strings.TrimSpace(raw) == "" {
				return fmt.Errorf("%w: empty completion", domain.ErrMalformedOutput)
			}
			return nil
		})
}

// Chat returns the coach's reply to the last turn of history. It shares the
// generation policy and the semaphore with feedback generation.
func (g *Gateway) Chat(ctx context.Context, history []domain.ChatMessage) (string, error) {
	chatter, ok := g.completer.(Chatter)
	if !ok {
		return "", domain.NewDomainError(domain.ErrCodePermanentExternal, "chat is not configured")
	}
	return call(ctx, g, OpChat, g.cfg.Generation,
		func(ctx context.Context) (string, error) {
			return chatter.Chat(ctx, domain.CoachChatPrompt, history)
		},
		func(reply string) error {
			if strings.TrimSpace(reply) == "" {
				return fmt.Errorf("%w: empty reply", domain.ErrMalformedOutput)
			}
			return nil
		})
}

// Embed returns the embedding of text
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.embedder == nil {
		return nil, domain.NewDomainError(domain.ErrCodePermanentExternal, "embeddings are not configured")
	}
	return call(ctx, g, OpEmbed, g.cfg.Embedding,
		func(ctx context.Context) ([]float32, error) {
			return g.embedder.GenerateEmbedding(ctx, text)
		},
		func(vec []float32) error {
			if len(vec) == 0 {
				return fmt.Errorf("%w: empty embedding", domain.ErrMalformedOutput)
			}
			if d := g.cfg.EmbeddingDimensions; d > 0 && len(vec) != d {
				return fmt.Errorf("%w: got %d, expected %d", domain.ErrDimensionMismatch, len(vec), d)
			}
			return nil
		})
}

func newBackOff(ctx context.Context, p Policy) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.MaxRetries, 0))), ctx)
}

func call[T any](ctx context.Context, g *Gateway, op string, p Policy, fn func(context.Context) (T, error), validate func(T) error) (T, error) {
	var (
		result   T
		lastErr  error
		attempts int
	)

	ctx, span := telemetry.StartSpan(ctx, "ai."+op, telemetry.SpanAttributes{Operation: op})
	defer span.End()

	attempt := func() error {
		attempts++
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(err)
		}
		defer g.sem.Release(1)

		callCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		out, err := fn(callCtx)
		if err == nil {
			err = validate(out)
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				err = domain.NewDomainErrorWithCause(domain.ErrCodeTimeout, domain.ErrExternalTimeout.Message, err)
			}
			lastErr = err
			if Classify(err) == Permanent {
				return backoff.Permanent(err)
			}
			return err
		}
		result = out
		return nil
	}

	notify := func(err error, wait time.Duration) {
		g.logger.Warn("retrying external call",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
		telemetry.AddWarningBreadcrumb(ctx, "ai."+op, fmt.Sprintf("attempt %d failed: %v", attempts, err))
	}

	err := backoff.RetryNotify(attempt, newBackOff(ctx, p), notify)
	if err == nil {
		return result, nil
	}
	if lastErr == nil {
		lastErr = err
	}

	var zero T
	switch {
	case ctx.Err() != nil:
		err = &CallError{Op: op, Attempts: attempts, Err: ctx.Err()}
	case Classify(lastErr) == Permanent:
		err = domain.NewDomainErrorWithCause(domain.ErrCodePermanentExternal, op+" rejected",
			&CallError{Op: op, Attempts: attempts, Err: lastErr})
	default:
		err = domain.NewDomainErrorWithCause(domain.ErrCodePermanentExternal, op+" unavailable",
			&CallError{Op: op, Attempts: attempts, Exhausted: true, Err: lastErr})
	}
	span.SetError(err)
	g.logger.Error("external call failed", zap.String("op", op), zap.Int("attempts", attempts), zap.Error(err))
	return zero, err
}

// Unavailable reports whether err is a gateway call that exhausted its retries
func Unavailable(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Exhausted
}

// Rejected reports whether err is a permanent rejection of the request itself,
// as opposed to exhausted retries or cancellation
func Rejected(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && !ce.Exhausted && !errors.Is(ce.Err, context.Canceled) && !errors.Is(ce.Err, context.DeadlineExceeded)
}
