package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/api/handlers"
	"github.com/cloo-solutions/interviewcoach/internal/audio"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// DefaultChunkSize is how much audio goes into one websocket frame
const DefaultChunkSize = 32 * 1024

type APIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewAPIClientWithCmd creates an APIClient with config cascade: flag → env → global config → default
func NewAPIClientWithCmd(cmd *cobra.Command) (*APIClient, error) {
	_ = godotenv.Load()

	var flagKey, flagURL string
	if cmd != nil {
		flagKey, _ = cmd.Flags().GetString("api-key")
		flagURL, _ = cmd.Flags().GetString("api-url")
	}

	_, apiKey, baseURL, err := ResolveCredentials(flagKey, flagURL)
	if err != nil {
		return nil, err
	}
	return NewAPIClientWithConfig(apiKey, baseURL), nil
}

// NewAPIClientWithConfig creates an APIClient with explicit config
func NewAPIClientWithConfig(apiKey, baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// completion waits for the model, so leave room above the server's
		// generation timeout
		httpClient: &http.Client{Timeout: 3 * time.Minute},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// APIResponse represents the standard API response format.
type APIResponse struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// APIError represents an error from the API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Get performs a GET request and decodes the data field into out.
func (c *APIClient) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post performs a POST request with JSON body and decodes the data field into out.
func (c *APIClient) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiResp.Error,
			Code:       apiResp.Code,
			Reason:     apiResp.Reason,
		}
	}

	if out != nil && len(apiResp.Data) > 0 {
		if err := json.Unmarshal(apiResp.Data, out); err != nil {
			return fmt.Errorf("failed to parse response data: %w", err)
		}
	}
	return nil
}

// StreamResult summarizes one audio upload
type StreamResult struct {
	Chunks   int
	State    string
	Warnings []handlers.StreamMessage
}

// StreamAudio sends data to a session's audio channel in numbered chunks and
// waits until the server reports that the session left awaiting_audio.
// onMessage, when set, sees every message the server sends.
func (c *APIClient) StreamAudio(ctx context.Context, sessionID string, data []byte, chunkSize int, onMessage func(handlers.StreamMessage)) (*StreamResult, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunks := audio.Split(data, chunkSize, audio.DefaultFirstSequence)
	if len(chunks) == 0 {
		return nil, errors.New("no audio to send")
	}

	wsURL, err := c.websocketURL("/sessions/" + url.PathEscape(sessionID) + "/audio")
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			var apiResp APIResponse
			if json.Unmarshal(body, &apiResp) == nil && apiResp.Error != "" {
				return nil, &APIError{StatusCode: resp.StatusCode, Message: apiResp.Error, Code: apiResp.Code}
			}
			return nil, &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer conn.Close()

	result := &StreamResult{Chunks: len(chunks)}
	done := make(chan error, 1)
	go func() {
		for {
			var msg handlers.StreamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				done <- fmt.Errorf("audio stream closed before the session advanced: %w", err)
				return
			}
			if onMessage != nil {
				onMessage(msg)
			}
			switch msg.Type {
			case handlers.MessageWarning:
				result.Warnings = append(result.Warnings, msg)
			case handlers.MessageState:
				result.State = msg.State
				done <- nil
				return
			}
		}
	}()

	for _, chunk := range chunks {
		if err := conn.WriteMessage(websocket.BinaryMessage, audio.EncodeFrame(chunk)); err != nil {
			return nil, fmt.Errorf("failed to send chunk %d: %w", chunk.Sequence, err)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return result, nil
}

func (c *APIClient) websocketURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid API URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported API URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func jsonOutput(cmd *cobra.Command) bool {
	output, _ := cmd.Flags().GetBool("output")
	return output
}
