package server

import (
	"net/http"

	"github.com/cloo-solutions/interviewcoach/internal/api"
	"github.com/cloo-solutions/interviewcoach/internal/api/handlers"
	"github.com/cloo-solutions/interviewcoach/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type RouterConfig struct {
	// AuthValidator guards the session routes; nil leaves them open
	AuthValidator  middleware.AuthValidator
	SessionHandler *handlers.SessionHandler
	AudioHandler   *handlers.AudioHandler
	// ChatHandler serves POST /ai/chat; nil leaves the route out
	ChatHandler    *handlers.ChatHandler
	ActiveSessions func() int
	// MaxBodyBytes bounds JSON request bodies; zero uses the middleware default
	MaxBodyBytes   int64
	Logger         *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.MaxBodyBytes(cfg.MaxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if cfg.ActiveSessions != nil {
			body["active_sessions"] = cfg.ActiveSessions()
		}
		api.Success(w, http.StatusOK, body)
	})

	r.Group(func(r chi.Router) {
		if cfg.AuthValidator != nil {
			r.Use(middleware.APIKeyAuth(cfg.AuthValidator))
		}

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", cfg.SessionHandler.Start)
			r.Get("/", cfg.SessionHandler.List)
			r.Get("/{id}", cfg.SessionHandler.Get)
			r.Get("/{id}/audio", cfg.AudioHandler.Stream)
			r.Post("/{id}/audio/end", cfg.SessionHandler.EndAudio)
			r.Post("/{id}/complete", cfg.SessionHandler.Complete)
			r.Get("/{id}/feedback", cfg.SessionHandler.Feedback)
			r.Post("/{id}/cancel", cfg.SessionHandler.Cancel)
		})

		if cfg.ChatHandler != nil {
			r.Post("/ai/chat", cfg.ChatHandler.Chat)
		}
	})

	return r
}
