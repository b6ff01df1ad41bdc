// Package telemetry wraps Sentry tracing and error reporting for sessions and
// external AI calls.
package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const serviceName = "interviewcoach"

// Config holds the configuration for Sentry initialization.
type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// Init initializes Sentry and returns a flush function for shutdown. An empty
// DSN disables reporting; an init failure is logged and also disables it.
func Init(cfg Config, logger *zap.Logger) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate == 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		ServerName:       serviceName,
		TracesSampler:    sampler(cfg.TracesSampleRate),
	})
	if err != nil {
		logger.Warn("sentry: failed to initialize, continuing without tracing", zap.Error(err))
		return func() {}, nil
	}

	logger.Info("sentry: tracing initialized",
		zap.String("environment", cfg.Environment),
		zap.Float64("sample_rate", cfg.TracesSampleRate))
	return func() { sentry.Flush(5 * time.Second) }, nil
}

// sampler drops health checks and long-lived audio sockets, and keeps child
// spans consistent with their parent.
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		name := ctx.Span.Name
		if strings.HasSuffix(name, " /health") || (strings.HasPrefix(name, "GET ") && strings.HasSuffix(name, "/audio")) {
			return 0
		}
		var emptySpanID sentry.SpanID
		if ctx.Span.ParentSpanID != emptySpanID {
			if ctx.Span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

// SpanAttributes are the tags and data attached to a span.
type SpanAttributes struct {
	SessionID string
	UserID    string
	Operation string
	Attempt   int
}

// Span wraps sentry.Span so callers never deal with a nil span.
type Span struct {
	inner *sentry.Span
}

// End finishes the span.
func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetError marks the span as failed and reports err on the span's hub.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		s.inner.Status = sentry.SpanStatusCanceled
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.inner.Status = sentry.SpanStatusDeadlineExceeded
	} else {
		s.inner.Status = sentry.SpanStatusInternalError
	}
	if hub := sentry.GetHubFromContext(s.inner.Context()); hub != nil {
		hub.CaptureException(err)
	}
}

// StartSpan starts a child of the span in ctx, or a new transaction when ctx
// carries none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}

	if attrs.SessionID != "" {
		span.SetTag("session_id", attrs.SessionID)
	}
	if attrs.UserID != "" {
		span.SetTag("user_id", attrs.UserID)
	}
	if attrs.Operation != "" {
		span.SetData("operation", attrs.Operation)
	}
	if attrs.Attempt > 0 {
		span.SetData("attempt", attrs.Attempt)
	}
	return span.Context(), &Span{inner: span}
}

// CaptureSessionFailure reports the error that moved a session to failed,
// tagged with the session and its failure reason. Cancellation is not an
// error and is recorded as a breadcrumb only.
func CaptureSessionFailure(ctx context.Context, sessionID, reason string, err error) {
	if errors.Is(err, context.Canceled) {
		AddWarningBreadcrumb(ctx, "session", "session "+sessionID+" cancelled")
		return
	}
	hub := hubFrom(ctx)
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("session_id", sessionID)
		scope.SetTag("failure_reason", reason)
		scope.SetFingerprint([]string{"session-failed", reason})
		hub.CaptureException(err)
	})
}

// AddBreadcrumb records a step, such as a session state transition.
func AddBreadcrumb(ctx context.Context, category, message string) {
	addBreadcrumb(ctx, category, message, sentry.LevelInfo)
}

// AddWarningBreadcrumb records a non-fatal problem, such as a gap in streamed audio.
func AddWarningBreadcrumb(ctx context.Context, category, message string) {
	addBreadcrumb(ctx, category, message, sentry.LevelWarning)
}

func addBreadcrumb(ctx context.Context, category, message string, level sentry.Level) {
	hubFrom(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "default",
		Category:  category,
		Message:   message,
		Level:     level,
		Timestamp: time.Now(),
	}, nil)
}

func hubFrom(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}
