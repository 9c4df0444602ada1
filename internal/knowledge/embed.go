package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/philippgille/chromem-go"
	"google.golang.org/genai"
)

// DefaultEmbeddingModel is the Gemini embedding model used when none is
// configured.
const DefaultEmbeddingModel = "text-embedding-004"

// GeminiEmbedding adapts the Gemini embedding API to chromem's
// EmbeddingFunc contract.
func GeminiEmbedding(client *genai.Client, model string) chromem.EmbeddingFunc {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := client.Models.EmbedContent(ctx, model, genai.Text(text), nil)
		if err != nil {
			return nil, fmt.Errorf("knowledge: embedding with %s: %w", model, err)
		}
		if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
			return nil, errors.New("knowledge: embedding response carried no vector")
		}
		return resp.Embeddings[0].Values, nil
	}
}
