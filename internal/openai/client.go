package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.AdaEmbeddingV2
	// DefaultEmbeddingDimensions is the expected dimension of embeddings from ada-002
	DefaultEmbeddingDimensions = 1536
	// DefaultChatModel scores answers
	DefaultChatModel = openai.GPT4oMini
	// DefaultTranscriptionModel transcribes recorded answers
	DefaultTranscriptionModel = openai.Whisper1
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrEmptyAudio is returned when there is nothing to transcribe
	ErrEmptyAudio = errors.New("audio cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

// API is the subset of the OpenAI surface the coach uses
type API interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
	CreateTranscription(ctx context.Context, audio []byte, filename string) (string, error)
	CreateChatCompletion(ctx context.Context, system, user string) (string, error)
	CreateChat(ctx context.Context, system string, history []domain.ChatMessage) (string, error)
}

// Client wraps the OpenAI API client
type Client struct {
	api        API
	dimensions int
}

type OpenAIAdapter struct {
	client             *openai.Client
	embeddingModel     openai.EmbeddingModel
	chatModel          string
	transcriptionModel string
}

func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = DefaultTranscriptionModel
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIAdapter{
		client:             openai.NewClientWithConfig(clientCfg),
		embeddingModel:     cfg.EmbeddingModel,
		chatModel:          cfg.ChatModel,
		transcriptionModel: cfg.TranscriptionModel,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.embeddingModel,
	})
	if err != nil {
		return nil, TranslateError(err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

// CreateTranscription sends audio to Whisper. The filename extension tells the
// service which container format to expect.
func (a *OpenAIAdapter) CreateTranscription(ctx context.Context, audio []byte, filename string) (string, error) {
	resp, err := a.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    a.transcriptionModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", TranslateError(err)
	}
	return resp.Text, nil
}

// CreateChatCompletion asks for a JSON object answer
func (a *OpenAIAdapter) CreateChatCompletion(ctx context.Context, system, user string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", TranslateError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// CreateChat continues a free-form conversation and answers in plain text
func (a *OpenAIAdapter) CreateChat(ctx context.Context, system string, history []domain.ChatMessage) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == domain.ChatRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.chatModel,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		return "", TranslateError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	ChatModel           string
	TranscriptionModel  string
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{
		api:        NewOpenAIAdapter(cfg),
		dimensions: dimensions,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// Dimensions returns the embedding length this client validates against
func (c *Client) Dimensions() int {
	return c.dimensions
}

// GenerateEmbedding generates an embedding for the given text
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	embedding, err := c.api.CreateEmbeddings(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	if len(embedding) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrWrongDimensions, len(embedding), c.dimensions)
	}

	return embedding, nil
}

// Transcribe returns the text spoken in audio
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	text, err := c.api.CreateTranscription(ctx, audio, filename)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Complete runs one chat completion and returns the raw message content
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", ErrEmptyText
	}

	raw, err := c.api.CreateChatCompletion(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	return raw, nil
}

// Chat answers the last user turn of history
func (c *Client) Chat(ctx context.Context, system string, history []domain.ChatMessage) (string, error) {
	if len(history) == 0 || strings.TrimSpace(history[len(history)-1].Content) == "" {
		return "", ErrEmptyText
	}

	reply, err := c.api.CreateChat(ctx, system, history)
	if err != nil {
		return "", fmt.Errorf("failed to create chat reply: %w", err)
	}
	return strings.TrimSpace(reply), nil
}
