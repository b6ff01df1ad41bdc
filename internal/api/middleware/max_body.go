package middleware

import (
	"net/http"

	"github.com/cloo-solutions/interviewcoach/internal/api"
	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/gorilla/websocket"
)

// DefaultMaxBodyBytes bounds JSON request bodies when no limit is configured
const DefaultMaxBodyBytes int64 = 1 << 20

// MaxBodyBytes rejects request bodies larger than limit with a 413 and a
// PAYLOAD_TOO_LARGE code. A declared Content-Length is checked up front;
// chunked bodies are cut off while reading and surface through api.DecodeJSON.
// WebSocket upgrades pass untouched, audio frames have their own read limit.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody || websocket.IsWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > limit {
				api.HandleError(w, domain.ErrPayloadTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
