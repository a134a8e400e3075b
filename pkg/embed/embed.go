// Package embed turns text into dense vectors for semantic knowledge search.
package embed

import (
	"context"
	"errors"
)

// Embedder converts text into float32 vectors of a fixed dimension.
type Embedder interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the length of the vectors.
	Dimension() int
}

// ErrEmptyInput is returned for an empty text or batch.
var ErrEmptyInput = errors.New("embed: empty input")
