package feedback

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/cloo-solutions/interviewcoach/internal/gateway"
	"github.com/cloo-solutions/interviewcoach/internal/retrieval"
	"go.uber.org/zap"
)

// DefaultRetries is how many times an invalid completion is regenerated
const DefaultRetries = 2

// maxQueryChars bounds the transcript text embedded as the retrieval query
const maxQueryChars = 8000

// Generator produces raw completions
type Generator interface {
	Generate(ctx context.Context, prompt gateway.Prompt) (string, error)
}

// Embedder embeds the retrieval query
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever answers similarity queries over reference material
type Retriever interface {
	Query(vector []float32, k int) []domain.RetrievalDocument
	Len() int
}

// Config configures the composer
type Config struct {
	TopK    int
	Retries int
}

// Input is everything the composer needs from a session
type Input struct {
	SessionID       string
	Question        string
	Transcript      string
	DurationSeconds float64
}

// Composer turns a transcript into validated, scored feedback
type Composer struct {
	cfg       Config
	generator Generator
	embedder  Embedder
	retriever Retriever
	logger    *zap.Logger
}

// NewComposer creates a composer. embedder and retriever may be nil, in which
// case prompts carry no reference material.
func NewComposer(cfg Config, generator Generator, embedder Embedder, retriever Retriever, logger *zap.Logger) *Composer {
	if cfg.TopK <= 0 {
		cfg.TopK = retrieval.DefaultTopK
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Composer{
		cfg:       cfg,
		generator: generator,
		embedder:  embedder,
		retriever: retriever,
		logger:    logger.Named("feedback"),
	}
}

// Compose generates feedback for in. Invalid completions are regenerated up to
// cfg.Retries times; gateway errors are returned as-is.
func (c *Composer) Compose(ctx context.Context, in Input) (*domain.FeedbackResult, error) {
	log := c.logger.With(zap.String("session_id", in.SessionID))
	prompt := BuildPrompt(in, c.context(ctx, in, log))

	var last *InvalidOutputError
	attempts := c.cfg.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := c.generator.Generate(ctx, prompt)
		if err != nil {
			return nil, err
		}

		outcome := Validate(raw)
		if outcome.OK() {
			outcome.Result.Transcript = in.Transcript
			return outcome.Result, nil
		}
		last = outcome.Err
		log.Warn("discarding invalid feedback output",
			zap.Int("attempt", attempt),
			zap.String("kind", string(last.Kind)),
			zap.String("field", last.Field))
	}

	return nil, domain.NewDomainErrorWithCause(domain.ErrCodePermanentExternal,
		fmt.Sprintf("no valid feedback after %d attempts", attempts), last)
}

// context fetches the top-K reference documents for the transcript. Any
// failure degrades to an empty context.
func (c *Composer) context(ctx context.Context, in Input, log *zap.Logger) []domain.RetrievalDocument {
	if c.embedder == nil || c.retriever == nil || c.retriever.Len() == 0 {
		return nil
	}

	vec, err := c.embedder.Embed(ctx, truncate(in.Transcript, maxQueryChars))
	if err != nil {
		log.Warn("retrieval query embedding failed, continuing without context", zap.Error(err))
		return nil
	}
	docs := c.retriever.Query(vec, c.cfg.TopK)
	log.Debug("retrieved context", zap.Int("documents", len(docs)))
	return docs
}
