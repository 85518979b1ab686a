// Package embeddings defines the pluggable embedding provider used by the
// Recall Engine's similarity search. The provider's own network transport
// is out of scope for the core per spec.md §1; this package specifies the
// interface plus one concrete HTTP-based reference implementation.
package embeddings

import "context"

// Provider computes a fixed-dimension vector embedding for a piece of text.
type Provider interface {
	// Embed returns the embedding for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name identifies the provider for logging and index-versioning.
	Name() string

	// Dimension returns the embedding's vector length.
	Dimension() int
}

// Noop is the zero-dependency default: every embedding is the zero vector,
// so cosine similarity never promotes anything. It exists so the Recall
// Engine degrades to a no-op rather than panicking when no provider is
// configured, matching spec.md §4.7's "degrades silently on error" rule.
type Noop struct{}

func (Noop) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (Noop) Name() string                                              { return "noop" }
func (Noop) Dimension() int                                            { return 0 }
