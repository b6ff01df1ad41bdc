package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/audio"
	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/cloo-solutions/interviewcoach/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAudioServer(t *testing.T, svc SessionService) *httptest.Server {
	t.Helper()
	h := NewAudioHandler(svc, AudioStreamConfig{IdleTimeout: 2 * time.Second}, zap.NewNop())
	r := chi.NewRouter()
	r.Get("/sessions/{id}/audio", h.Stream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func mustDialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestAudioHandler_StreamsChunks(t *testing.T) {
	svc := new(MockSessionService)
	svc.On("Get", mock.Anything, "s-123").Return(newTestSession(domain.SessionStateAwaitingAudio), nil)

	chunks := audio.Split([]byte("hello world"), 6, 1)
	require.Len(t, chunks, 2)
	svc.On("IngestAudioChunk", mock.Anything, "s-123", chunks[0]).
		Return(session.IngestReceipt{Sequence: 1, Accepted: true, State: domain.SessionStateAwaitingAudio}, nil)
	svc.On("IngestAudioChunk", mock.Anything, "s-123", chunks[1]).
		Return(session.IngestReceipt{Sequence: 2, Accepted: true, State: domain.SessionStateTranscribing}, nil)

	conn := mustDialWS(t, newAudioServer(t, svc), "/sessions/s-123/audio")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, audio.EncodeFrame(chunks[0])))
	ack := readMessage(t, conn)
	assert.Equal(t, MessageAck, ack.Type)
	require.NotNil(t, ack.Sequence)
	assert.Equal(t, uint32(1), *ack.Sequence)
	assert.True(t, ack.Accepted)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, audio.EncodeFrame(chunks[1])))
	ack = readMessage(t, conn)
	assert.Equal(t, uint32(2), *ack.Sequence)
	state := readMessage(t, conn)
	assert.Equal(t, MessageState, state.Type)
	assert.Equal(t, "transcribing", state.State)

	svc.AssertNotCalled(t, "EndAudio", mock.Anything, mock.Anything)
}

func TestAudioHandler_ReportsWarnings(t *testing.T) {
	svc := new(MockSessionService)
	svc.On("Get", mock.Anything, "s-123").Return(newTestSession(domain.SessionStateAwaitingAudio), nil)
	svc.On("EndAudio", mock.Anything, "s-123").Return(nil).Maybe()

	chunk := domain.AudioChunk{Sequence: 90, Payload: []byte("late")}
	svc.On("IngestAudioChunk", mock.Anything, "s-123", chunk).Return(session.IngestReceipt{
		Sequence: 90,
		State:    domain.SessionStateAwaitingAudio,
		Warnings: []domain.AudioWarning{{Kind: domain.AudioWarningSequenceGap, Sequence: 90, Message: "outside window"}},
	}, nil)

	conn := mustDialWS(t, newAudioServer(t, svc), "/sessions/s-123/audio")
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, audio.EncodeFrame(chunk)))

	ack := readMessage(t, conn)
	assert.False(t, ack.Accepted)
	warning := readMessage(t, conn)
	assert.Equal(t, MessageWarning, warning.Type)
	assert.Equal(t, domain.ErrCodeSequenceGap, warning.Code)
	assert.Equal(t, "outside window", warning.Message)
}

func TestAudioHandler_MalformedFrame(t *testing.T) {
	svc := new(MockSessionService)
	svc.On("Get", mock.Anything, "s-123").Return(newTestSession(domain.SessionStateAwaitingAudio), nil)
	svc.On("EndAudio", mock.Anything, "s-123").Return(nil).Maybe()

	conn := mustDialWS(t, newAudioServer(t, svc), "/sessions/s-123/audio")
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0, 1}))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, domain.ErrCodeValidation, msg.Code)
	svc.AssertNotCalled(t, "IngestAudioChunk", mock.Anything, mock.Anything, mock.Anything)
}

func TestAudioHandler_EndControlFrame(t *testing.T) {
	svc := new(MockSessionService)
	svc.On("Get", mock.Anything, "s-123").Return(newTestSession(domain.SessionStateAwaitingAudio), nil).Once()
	svc.On("EndAudio", mock.Anything, "s-123").Return(nil).Once()
	svc.On("Get", mock.Anything, "s-123").Return(newTestSession(domain.SessionStateTranscribing), nil)

	conn := mustDialWS(t, newAudioServer(t, svc), "/sessions/s-123/audio")
	require.NoError(t, conn.WriteJSON(ControlFrame{Type: ControlEnd}))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageState, msg.Type)
	assert.Equal(t, "transcribing", msg.State)
}

func TestAudioHandler_DisconnectEndsAudio(t *testing.T) {
	svc := new(MockSessionService)
	svc.On("Get", mock.Anything, "s-123").Return(newTestSession(domain.SessionStateAwaitingAudio), nil)

	ended := make(chan struct{})
	svc.On("EndAudio", mock.Anything, "s-123").Return(nil).Run(func(mock.Arguments) { close(ended) })

	conn := mustDialWS(t, newAudioServer(t, svc), "/sessions/s-123/audio")
	require.NoError(t, conn.Close())

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("EndAudio was not called after disconnect")
	}
}

func TestAudioHandler_RejectsBeforeUpgrade(t *testing.T) {
	svc := new(MockSessionService)
	svc.On("Get", mock.Anything, "missing").Return(nil, domain.ErrSessionNotFound)
	svc.On("Get", mock.Anything, "s-done").Return(completedSession("s-done", 80, testCreatedAt), nil)
	srv := newAudioServer(t, svc)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/sessions/missing/audio", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"/sessions/s-done/audio", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
