package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIEngine embeds text through any OpenAI-compatible /embeddings
// endpoint. The model is fixed when the engine is built; the remote side
// owns model availability, so HasModel is always true and PullModel is a no-op.
type OpenAIEngine struct {
	model    string
	embedder *embeddings.EmbedderImpl
}

// NewOpenAIEngine creates an OpenAIEngine. An empty token is replaced with a
// placeholder so that local servers without auth can be used.
func NewOpenAIEngine(baseURL, model, token string) (*OpenAIEngine, error) {
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &OpenAIEngine{model: model, embedder: emb}, nil
}

// Embed ignores model when it differs from the configured one; the
// langchaingo client is bound to a single embedding model.
func (e *OpenAIEngine) Embed(ctx context.Context, _ string, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("openai embed (%s): %w", e.model, err)
	}
	return vec, nil
}

// IsRunning embeds a short probe string.
func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.embedder.EmbedQuery(ctx, "ping")
	return err == nil
}

func (e *OpenAIEngine) HasModel(context.Context, string) bool { return true }

func (e *OpenAIEngine) PullModel(context.Context, string, func(PullProgress)) error { return nil }
