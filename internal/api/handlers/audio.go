package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/api"
	"github.com/cloo-solutions/interviewcoach/internal/audio"
	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Stream message types sent to the client
const (
	MessageAck     = "ack"
	MessageWarning = "warning"
	MessageError   = "error"
	MessageState   = "state"
)

// Control frame types accepted from the client
const (
	ControlEnd    = "end"
	ControlCancel = "cancel"
)

const (
	DefaultMaxFrameBytes = 1 << 20
	DefaultIdleTimeout   = 60 * time.Second
	writeTimeout         = 10 * time.Second
	endOnCloseTimeout    = 5 * time.Second
)

// StreamMessage is one JSON text frame written back on the audio stream
type StreamMessage struct {
	Type      string  `json:"type"`
	Sequence  *uint32 `json:"sequence,omitempty"`
	Accepted  bool    `json:"accepted,omitempty"`
	Duplicate bool    `json:"duplicate,omitempty"`
	Kind      string  `json:"kind,omitempty"`
	Code      string  `json:"code,omitempty"`
	Message   string  `json:"message,omitempty"`
	State     string  `json:"state,omitempty"`
}

// ControlFrame is a JSON text frame sent by the client
type ControlFrame struct {
	Type string `json:"type"`
}

type AudioStreamConfig struct {
	MaxFrameBytes int64
	IdleTimeout   time.Duration
}

// AudioHandler streams binary audio frames over a websocket into a session
type AudioHandler struct {
	svc      SessionService
	cfg      AudioStreamConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewAudioHandler(svc SessionService, cfg AudioStreamConfig, logger *zap.Logger) *AudioHandler {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &AudioHandler{
		svc:    svc,
		cfg:    cfg,
		logger: logger.Named("audio_stream"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *AudioHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s, err := authorize(r.Context(), h.svc, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if s.State != domain.SessionStateAwaitingAudio {
		api.HandleError(w, domain.NewDomainError(domain.ErrCodeConcurrency,
			"session "+id+" is not accepting audio (state "+string(s.State)+")"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.cfg.MaxFrameBytes)

	logger := h.logger.With(zap.String("session_id", id))
	logger.Info("audio stream opened")

	ended := h.readLoop(r.Context(), conn, id, logger)
	if !ended {
		// The client went away without an end frame; whatever arrived is
		// still transcribed. The session may already be past audio.
		ctx, cancel := context.WithTimeout(context.Background(), endOnCloseTimeout)
		defer cancel()
		if err := h.svc.EndAudio(ctx, id); err != nil && !domain.HasCode(err, domain.ErrCodeConcurrency) {
			logger.Warn("end audio on disconnect failed", zap.Error(err))
		}
	}
	logger.Info("audio stream closed", zap.Bool("ended", ended))
}

// readLoop returns true once the stream has left awaiting_audio by the
// client's own hand (final chunk, end or cancel)
func (h *AudioHandler) readLoop(ctx context.Context, conn *websocket.Conn, id string, logger *zap.Logger) bool {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("audio stream read ended", zap.Error(err))
			}
			return false
		}

		switch msgType {
		case websocket.BinaryMessage:
			done, err := h.ingest(ctx, conn, id, data)
			if err != nil {
				return false
			}
			if done {
				return true
			}
		case websocket.TextMessage:
			done, err := h.control(ctx, conn, id, data)
			if err != nil {
				return false
			}
			if done {
				return true
			}
		}
	}
}

func (h *AudioHandler) ingest(ctx context.Context, conn *websocket.Conn, id string, frame []byte) (bool, error) {
	chunk, err := audio.DecodeFrame(frame)
	if err != nil {
		return false, h.write(conn, errorMessage(err))
	}

	receipt, err := h.svc.IngestAudioChunk(ctx, id, chunk)
	if err != nil {
		if werr := h.write(conn, errorMessage(err)); werr != nil {
			return false, werr
		}
		if errors.Is(err, domain.ErrSessionNotFound) {
			return true, nil
		}
		return h.stateChanged(ctx, conn, id)
	}

	seq := receipt.Sequence
	if err := h.write(conn, StreamMessage{
		Type:      MessageAck,
		Sequence:  &seq,
		Accepted:  receipt.Accepted,
		Duplicate: receipt.Duplicate,
		State:     string(receipt.State),
	}); err != nil {
		return false, err
	}
	for _, warning := range receipt.Warnings {
		ws := warning.Sequence
		if err := h.write(conn, StreamMessage{
			Type:     MessageWarning,
			Sequence: &ws,
			Kind:     string(warning.Kind),
			Code:     warning.Kind.Code(),
			Message:  warning.Message,
		}); err != nil {
			return false, err
		}
	}

	if receipt.State != domain.SessionStateAwaitingAudio {
		return true, h.write(conn, StreamMessage{Type: MessageState, State: string(receipt.State)})
	}
	return false, nil
}

func (h *AudioHandler) control(ctx context.Context, conn *websocket.Conn, id string, data []byte) (bool, error) {
	var frame ControlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return false, h.write(conn, StreamMessage{Type: MessageError, Code: domain.ErrCodeValidation, Message: "invalid control frame"})
	}

	var err error
	switch frame.Type {
	case ControlEnd:
		err = h.svc.EndAudio(ctx, id)
	case ControlCancel:
		err = h.svc.Cancel(ctx, id)
	default:
		return false, h.write(conn, StreamMessage{Type: MessageError, Code: domain.ErrCodeValidation, Message: "unknown control frame: " + frame.Type})
	}
	if err != nil {
		if werr := h.write(conn, errorMessage(err)); werr != nil {
			return false, werr
		}
	}
	return h.stateChanged(ctx, conn, id)
}

// stateChanged reports the session state to the client and whether the stream
// is finished
func (h *AudioHandler) stateChanged(ctx context.Context, conn *websocket.Conn, id string) (bool, error) {
	s, err := h.svc.Get(ctx, id)
	if err != nil {
		return true, h.write(conn, errorMessage(err))
	}
	if s.State == domain.SessionStateAwaitingAudio {
		return false, nil
	}
	return true, h.write(conn, StreamMessage{Type: MessageState, State: string(s.State)})
}

func (h *AudioHandler) write(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func errorMessage(err error) StreamMessage {
	msg := StreamMessage{Type: MessageError, Code: domain.CodeOf(err), Message: err.Error()}
	var de *domain.DomainError
	if errors.As(err, &de) {
		msg.Message = de.Message
	}
	return msg
}
