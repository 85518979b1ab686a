package embeddings

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatible calls an OpenAI-compatible embeddings endpoint via
// go-openai's CreateEmbeddings — the one concrete embedding transport this
// module ships, per SPEC_FULL.md §4.7; any other provider is a drop-in
// Provider implementation. Grounded on
// haasonsaas-nexus/internal/memory/embeddings/openai/openai.go's
// Provider, reduced from its batch-oriented EmbedBatch to this package's
// single-text Embed per the narrower Provider interface.
type OpenAICompatible struct {
	client  *openai.Client
	Model   string
	Dim     int
	Timeout time.Duration
}

// NewOpenAICompatible returns a provider bound to endpoint (the provider's
// base URL) using model, with the default short embedding timeout spec.md
// §5 specifies (15s).
func NewOpenAICompatible(endpoint, apiKey, model string, dim int) *OpenAICompatible {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return &OpenAICompatible{
		client:  openai.NewClientWithConfig(cfg),
		Model:   model,
		Dim:     dim,
		Timeout: 15 * time.Second,
	}
}

// Embed implements Provider.
func (p *OpenAICompatible) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: text,
		Model: openai.EmbeddingModel(p.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response missing data")
	}
	return resp.Data[0].Embedding, nil
}

// Name implements Provider.
func (p *OpenAICompatible) Name() string { return "openai-compatible:" + p.Model }

// Dimension implements Provider.
func (p *OpenAICompatible) Dimension() int { return p.Dim }
