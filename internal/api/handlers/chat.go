package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/interviewcoach/internal/api"
	"github.com/cloo-solutions/interviewcoach/internal/domain"
)

// ChatService answers a coaching conversation
type ChatService interface {
	Chat(ctx context.Context, history []domain.ChatMessage) (string, error)
}

type ChatHandler struct {
	svc ChatService
}

func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type ChatTurn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,max=4000"`
}

// ChatRequest carries the new message and, optionally, the earlier turns of
// the conversation. The service keeps no chat state of its own.
type ChatRequest struct {
	Message string     `json:"message" validate:"required,max=4000"`
	History []ChatTurn `json:"history" validate:"max=20,dive"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

// Chat handles POST /ai/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := api.ValidateStruct(&req); err != nil {
		api.HandleError(w, err)
		return
	}

	history := make([]domain.ChatMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		history = append(history, domain.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	history = append(history, domain.ChatMessage{Role: domain.ChatRoleUser, Content: req.Message})

	reply, err := h.svc.Chat(r.Context(), history)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ChatResponse{Reply: reply})
}
