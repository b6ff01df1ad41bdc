package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/api"
	"github.com/cloo-solutions/interviewcoach/internal/api/middleware"
	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/cloo-solutions/interviewcoach/internal/pagination"
	"github.com/cloo-solutions/interviewcoach/internal/session"
	"github.com/go-chi/chi/v5"
)

type SessionService interface {
	StartSession(ctx context.Context, in session.StartInput) (*domain.Session, error)
	IngestAudioChunk(ctx context.Context, sessionID string, chunk domain.AudioChunk) (session.IngestReceipt, error)
	EndAudio(ctx context.Context, sessionID string) error
	RequestCompletion(ctx context.Context, sessionID string) (*domain.FeedbackResult, error)
	Cancel(ctx context.Context, sessionID string) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	List(ctx context.Context, userID string) ([]*domain.Session, error)
}

type SessionHandler struct {
	svc SessionService
}

func NewSessionHandler(svc SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type StartSessionRequest struct {
	UserID      string `json:"user_id" validate:"max=128"`
	Title       string `json:"title" validate:"max=200"`
	Question    string `json:"question" validate:"required,max=4000"`
	AudioFormat string `json:"audio_format" validate:"omitempty,audioformat"`
}

type ScoresResponse struct {
	Communication float64 `json:"communication"`
	Technical     float64 `json:"technical"`
	Clarity       float64 `json:"clarity"`
}

type WarningResponse struct {
	Kind     string `json:"kind"`
	Code     string `json:"code"`
	Sequence uint32 `json:"sequence"`
	Message  string `json:"message"`
	At       string `json:"at"`
}

type SessionResponse struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id,omitempty"`
	Title            string            `json:"title,omitempty"`
	Question         string            `json:"question"`
	AudioFormat      string            `json:"audio_format"`
	State            string            `json:"state"`
	Transcript       string            `json:"transcript,omitempty"`
	AudioRef         string            `json:"audio_ref,omitempty"`
	Scores           *ScoresResponse   `json:"scores,omitempty"`
	OverallScore     *float64          `json:"overall_score,omitempty"`
	Strengths        []string          `json:"strengths,omitempty"`
	Improvements     []string          `json:"improvements,omitempty"`
	DetailedFeedback string            `json:"detailed_feedback,omitempty"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	FailureMessage   string            `json:"failure_message,omitempty"`
	Warnings         []WarningResponse `json:"warnings"`
	DurationSeconds  float64           `json:"duration_seconds"`
	CreatedAt        string            `json:"created_at"`
	CompletedAt      string            `json:"completed_at,omitempty"`
}

type FeedbackResponse struct {
	CommunicationScore float64  `json:"communication_score"`
	TechnicalScore     float64  `json:"technical_score"`
	ClarityScore       float64  `json:"clarity_score"`
	OverallScore       float64  `json:"overall_score"`
	Strengths          []string `json:"strengths"`
	Improvements       []string `json:"improvements"`
	DetailedFeedback   string   `json:"detailed_feedback"`
	Transcript         string   `json:"transcript"`
}

type SessionListItem struct {
	ID       string   `json:"id"`
	Title    string   `json:"title,omitempty"`
	State    string   `json:"state"`
	Date     string   `json:"date"`
	Duration string   `json:"duration,omitempty"`
	Score    *float64 `json:"score,omitempty"`
}

type SessionListResponse struct {
	Sessions []SessionListItem `json:"sessions"`
	Stats    session.Stats     `json:"stats"`
	Cursor   string            `json:"cursor,omitempty"`
	HasMore  bool              `json:"has_more"`
}

type StateResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

const timeFormat = "2006-01-02T15:04:05Z"

func sessionToResponse(s *domain.Session) *SessionResponse {
	resp := &SessionResponse{
		ID:               s.ID,
		UserID:           s.UserID,
		Title:            s.Title,
		Question:         s.Question,
		AudioFormat:      s.AudioFormat,
		State:            string(s.State),
		Transcript:       s.TranscriptText(),
		AudioRef:         s.AudioRef,
		OverallScore:     s.OverallScore,
		Strengths:        s.Strengths,
		Improvements:     s.Improvements,
		DetailedFeedback: s.DetailedFeedback,
		Warnings:         make([]WarningResponse, 0, len(s.Warnings)),
		DurationSeconds:  s.DurationSeconds,
		CreatedAt:        s.CreatedAt.UTC().Format(timeFormat),
	}
	if s.Scores != nil {
		resp.Scores = &ScoresResponse{
			Communication: s.Scores.Communication,
			Technical:     s.Scores.Technical,
			Clarity:       s.Scores.Clarity,
		}
	}
	if s.FailureReason != "" {
		resp.FailureReason = string(s.FailureReason)
		resp.FailureMessage = s.FailureReason.Message()
	}
	if s.CompletedAt != nil {
		resp.CompletedAt = s.CompletedAt.UTC().Format(timeFormat)
	}
	for _, w := range s.Warnings {
		resp.Warnings = append(resp.Warnings, WarningResponse{
			Kind:     string(w.Kind),
			Code:     w.Kind.Code(),
			Sequence: w.Sequence,
			Message:  w.Message,
			At:       w.At.UTC().Format(timeFormat),
		})
	}
	return resp
}

func feedbackToResponse(f *domain.FeedbackResult) *FeedbackResponse {
	return &FeedbackResponse{
		CommunicationScore: f.CommunicationScore,
		TechnicalScore:     f.TechnicalScore,
		ClarityScore:       f.ClarityScore,
		OverallScore:       f.OverallScore,
		Strengths:          nonNil(f.Strengths),
		Improvements:       nonNil(f.Improvements),
		DetailedFeedback:   f.DetailedFeedback,
		Transcript:         f.Transcript,
	}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

// formatDuration renders whole seconds as "3m 7s"
func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	d := time.Duration(seconds) * time.Second
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

// authorize loads a session the caller may act on. Requests bound to a user
// only reach that user's sessions; anything else looks missing.
func authorize(ctx context.Context, svc SessionService, id string) (*domain.Session, error) {
	s, err := svc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if uid := middleware.GetUserID(ctx); uid != "" && s.UserID != uid {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// checkOwner is authorize for handlers that do not need the session itself
func checkOwner(ctx context.Context, svc SessionService, id string) error {
	if middleware.GetUserID(ctx) == "" {
		return nil
	}
	_, err := authorize(ctx, svc, id)
	return err
}

// boundUserID resolves the user a request acts for. A token-bound user wins
// over an empty requested one and must match a non-empty one.
func boundUserID(ctx context.Context, requested string) (string, error) {
	uid := middleware.GetUserID(ctx)
	if uid == "" {
		return requested, nil
	}
	if requested != "" && requested != uid {
		return "", domain.NewValidationError("user_id does not match the access token")
	}
	return uid, nil
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := api.ValidateStruct(&req); err != nil {
		api.HandleError(w, err)
		return
	}

	userID, err := boundUserID(r.Context(), req.UserID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	s, err := h.svc.StartSession(r.Context(), session.StartInput{
		UserID:      userID,
		Title:       req.Title,
		Question:    req.Question,
		AudioFormat: req.AudioFormat,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, sessionToResponse(s))
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := authorize(r.Context(), h.svc, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, sessionToResponse(s))
}

// List pages through a user's sessions newest first. Stats always cover every
// session of the user, not just the page.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID, err := boundUserID(r.Context(), strings.TrimSpace(query.Get("user_id")))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	limit, err := pagination.ParseLimit(query.Get("limit"))
	if err != nil {
		api.HandleError(w, domain.NewValidationError(err.Error()))
		return
	}
	cursor, err := pagination.DecodeCursor(query.Get("cursor"))
	if err != nil {
		api.HandleError(w, domain.NewValidationError(err.Error()))
		return
	}

	sessions, err := h.svc.List(r.Context(), userID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	page := pagination.Page(sessions, cursor, limit, func(s *domain.Session) (string, time.Time) {
		return s.ID, s.CreatedAt
	})
	items := make([]SessionListItem, 0, len(page.Items))
	for _, s := range page.Items {
		items = append(items, SessionListItem{
			ID:       s.ID,
			Title:    s.Title,
			State:    string(s.State),
			Date:     s.CreatedAt.UTC().Format("Jan 02, 2006"),
			Duration: formatDuration(s.DurationSeconds),
			Score:    s.OverallScore,
		})
	}
	api.Success(w, http.StatusOK, SessionListResponse{
		Sessions: items,
		Stats:    session.ComputeStats(sessions),
		Cursor:   page.Cursor,
		HasMore:  page.HasMore,
	})
}

func (h *SessionHandler) EndAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := checkOwner(r.Context(), h.svc, id); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.svc.EndAudio(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}
	h.writeState(w, r, id, http.StatusAccepted)
}

// Complete blocks until feedback is ready. Repeated calls return the stored
// result.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := checkOwner(r.Context(), h.svc, id); err != nil {
		api.HandleError(w, err)
		return
	}
	result, err := h.svc.RequestCompletion(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, feedbackToResponse(result))
}

// Feedback returns stored feedback without triggering generation
func (h *SessionHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	s, err := authorize(r.Context(), h.svc, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	switch s.State {
	case domain.SessionStateCompleted:
		api.Success(w, http.StatusOK, feedbackToResponse(s.Feedback()))
	case domain.SessionStateFailed:
		api.HandleError(w, &domain.SessionFailedError{SessionID: s.ID, Reason: s.FailureReason})
	default:
		api.HandleError(w, domain.NewDomainError(domain.ErrCodeConcurrency,
			fmt.Sprintf("feedback for session %s is not ready (state %s)", s.ID, s.State)))
	}
}

func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := checkOwner(r.Context(), h.svc, id); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}
	h.writeState(w, r, id, http.StatusOK)
}

func (h *SessionHandler) writeState(w http.ResponseWriter, r *http.Request, id string, status int) {
	s, err := h.svc.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, status, StateResponse{ID: s.ID, State: string(s.State)})
}
