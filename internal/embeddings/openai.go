package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIEmbedder calls OpenAI's embeddings API. Phrases are embedded whole.
type OpenAIEmbedder struct {
	model  openai.EmbeddingModel
	dim    int
	client *openai.Client
}

const defaultEmbeddingTimeout = 30 * time.Second

// NewOpenAIEmbedder creates a new OpenAI embedder producing dim-wide vectors.
func NewOpenAIEmbedder(apiKey string, model openai.EmbeddingModel, dim int, opts ...option.RequestOption) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	cli := openai.NewClient(reqOpts...)
	return &OpenAIEmbedder{
		model:  model,
		dim:    dim,
		client: &cli,
	}, nil
}

func (e *OpenAIEmbedder) Name() string { return string(e.model) }

func (e *OpenAIEmbedder) Dim() int { return e.dim }

func (e *OpenAIEmbedder) Lookup(ctx context.Context, text string) (Vector, bool, error) {
	if e == nil || e.client == nil {
		return nil, false, fmt.Errorf("nil openai client")
	}
	reqCtx, cancel := context.WithTimeout(ctx, defaultEmbeddingTimeout)
	defer cancel()

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	// Only the text-embedding-3 family accepts a custom width.
	if strings.HasPrefix(string(e.model), "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.dim))
	}

	resp, err := e.client.Embeddings.New(reqCtx, params)
	if err != nil {
		return nil, false, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, false, nil
	}
	embedding := resp.Data[0].Embedding
	if len(embedding) != e.dim {
		return nil, false, fmt.Errorf("openai embeddings: got %d dimensions, want %d", len(embedding), e.dim)
	}
	// Convert []float64 to []float32
	vec := make(Vector, len(embedding))
	for i, v := range embedding {
		vec[i] = float32(v)
	}
	return vec, true, nil
}
