package embed

import (
	"context"
	"fmt"
	"slices"

	"github.com/openai/openai-go"
)

// Defaults for the OpenAI embedder.
const (
	DefaultModel     = "text-embedding-3-small"
	DefaultDimension = 1536
)

const openAIMaxBatch = 2048

// OpenAI embeds text with the OpenAI embeddings API or a compatible one.
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
}

var _ Embedder = (*OpenAI)(nil)

// Option configures an OpenAI embedder.
type Option func(*OpenAI)

// WithModel sets the embedding model. Empty keeps the default.
func WithModel(model string) Option {
	return func(o *OpenAI) {
		if model != "" {
			o.model = model
		}
	}
}

// WithDimension sets the requested vector length. Zero keeps the default.
func WithDimension(dim int) Option {
	return func(o *OpenAI) {
		if dim > 0 {
			o.dim = dim
		}
	}
}

// NewOpenAI returns an embedder that calls the API through client.
func NewOpenAI(client *openai.Client, opts ...Option) *OpenAI {
	o := &OpenAI{client: client, model: DefaultModel, dim: DefaultDimension}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Embed returns the vector for text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text. Large batches are split into
// several requests.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, 0, len(texts))
	for batch := range slices.Chunk(texts, openAIMaxBatch) {
		vecs, err := o.request(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Dimension returns the requested vector length.
func (o *OpenAI) Dimension() int {
	return o.dim
}

// Model returns the embedding model name.
func (o *OpenAI) Model() string {
	return o.model
}

func (o *OpenAI) request(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          o.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Dimensions:     openai.Int(int64(o.dim)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= int64(len(texts)) {
			return nil, fmt.Errorf("embed: index %d out of range for %d inputs", item.Index, len(texts))
		}
		v := make([]float32, len(item.Embedding))
		for i, f := range item.Embedding {
			v[i] = float32(f)
		}
		vecs[item.Index] = v
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("embed: no vector for input %d", i)
		}
	}
	return vecs, nil
}
