package middleware

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
)

// SentryMiddleware runs each request in a Sentry transaction on a cloned hub.
// The transaction is renamed to the matched route pattern once routing is
// done, so per-session paths do not each become a transaction name.
func SentryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub := sentry.GetHubFromContext(r.Context())
		if hub == nil {
			hub = sentry.CurrentHub().Clone()
		}

		options := []sentry.SpanOption{
			sentry.WithOpName("http.server"),
			sentry.WithTransactionSource(sentry.SourceURL),
		}
		if sentryTrace := r.Header.Get(sentry.SentryTraceHeader); sentryTrace != "" {
			options = append(options, sentry.ContinueFromHeaders(sentryTrace, r.Header.Get(sentry.SentryBaggageHeader)))
		}

		transaction := sentry.StartTransaction(
			sentry.SetHubOnContext(r.Context(), hub),
			fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			options...,
		)
		defer transaction.Finish()
		r = r.WithContext(transaction.Context())

		scope := hub.Scope()
		// not SetRequest: the query string may carry api_key
		scope.SetContext("request", sentry.Context{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": clientIP(r),
		})
		if requestID := GetRequestID(r.Context()); requestID != "" {
			scope.SetTag("request_id", requestID)
			transaction.SetTag("request_id", requestID)
		}

		defer func() {
			if err := recover(); err != nil {
				transaction.Status = sentry.SpanStatusInternalError
				hub.RecoverWithContext(r.Context(), err)
				panic(err)
			}
		}()

		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		transaction.Status = httpStatusToSpanStatus(status)
		transaction.SetData("http.response.status_code", status)

		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				transaction.Name = r.Method + " " + pattern
				transaction.Source = sentry.SourceRoute
			}
			if sessionID := rctx.URLParam("id"); sessionID != "" {
				scope.SetTag("session_id", sessionID)
				transaction.SetTag("session_id", sessionID)
			}
		}

		if reportable(status) {
			hub.CaptureMessage(fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status)))
		}
	})
}

// reportable is true for server faults. 502 and 504 mean an AI service failed
// or timed out; those are reported by the gateway and session with their cause.
func reportable(status int) bool {
	return status >= 500 && status != http.StatusBadGateway && status != http.StatusGatewayTimeout
}

func httpStatusToSpanStatus(status int) sentry.SpanStatus {
	switch {
	case status < 400:
		return sentry.SpanStatusOK
	case status == http.StatusUnauthorized:
		return sentry.SpanStatusUnauthenticated
	case status == http.StatusForbidden:
		return sentry.SpanStatusPermissionDenied
	case status == http.StatusNotFound:
		return sentry.SpanStatusNotFound
	case status == http.StatusConflict:
		return sentry.SpanStatusFailedPrecondition
	case status == http.StatusUnprocessableEntity:
		return sentry.SpanStatusAborted
	case status == http.StatusTooManyRequests:
		return sentry.SpanStatusResourceExhausted
	case status == 499:
		return sentry.SpanStatusCanceled
	case status < 500:
		return sentry.SpanStatusInvalidArgument
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable:
		return sentry.SpanStatusUnavailable
	case status == http.StatusGatewayTimeout:
		return sentry.SpanStatusDeadlineExceeded
	case status == http.StatusNotImplemented:
		return sentry.SpanStatusUnimplemented
	default:
		return sentry.SpanStatusInternalError
	}
}
