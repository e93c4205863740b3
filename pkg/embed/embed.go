// Package embed defines the external embedding capability consumed by
// Bifrost and a deterministic mock implementation.
//
// The embedding model is an external collaborator: given text it returns a
// fixed-length float32 vector. Bifrost treats it as an opaque, possibly
// slow, possibly failing function behind the Embedder interface. The
// MockEmbedder exists so ingestion, the spatial index, and the suggestion
// pipeline are fully testable offline.
package embed

import (
	"context"
	"errors"
)

// Common embedding errors.
var (
	// ErrEmptyText is returned when there is nothing to embed.
	ErrEmptyText = errors.New("embed: empty text")
	// ErrUnavailable is returned when the backing model cannot be reached.
	ErrUnavailable = errors.New("embed: model unavailable")
)

// Embedder converts text into fixed-length embedding vectors.
//
// Implementations must be safe for concurrent use. Embed and EmbedBatch
// must honor ctx cancellation.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the vector length this embedder produces.
	Dimensions() int

	// Model identifies the backing model, for logs and stats.
	Model() string
}
