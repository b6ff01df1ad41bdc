//go:build integration

package openai

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_GenerateEmbedding_RealAPI(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set, skipping integration test")
	}

	client := NewClient(apiKey)
	embedding, err := client.GenerateEmbedding(context.Background(), "Describe a time you disagreed with a teammate.")

	require.NoError(t, err)
	assert.Len(t, embedding, DefaultEmbeddingDimensions)
}

func TestIntegration_Complete_RealAPI(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set, skipping integration test")
	}

	client := NewClient(apiKey)
	raw, err := client.Complete(context.Background(),
		"Reply with a JSON object.",
		`Return {"communication_score": 50} as JSON.`)

	require.NoError(t, err)
	assert.Contains(t, raw, "communication_score")
}
