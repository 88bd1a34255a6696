package openai

import (
	"context"
	"net/http"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// GenerateEmbedding embeds text through /embeddings.
func (p *Provider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, llmerrors.NewValidationError("embedding input must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var resp embeddingResponse
	req := embeddingRequest{Model: p.embeddingModel, Input: text}
	if err := p.http.Do(ctx, http.MethodPost, p.url("/embeddings"), p.authHeaders(), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, llmerrors.NewTransientError(p.name, p.embeddingModel, "response contained no embedding", nil)
	}
	return resp.Data[0].Embedding, nil
}
