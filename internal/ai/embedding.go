package ai

import (
	"context"
	"fmt"
	"strings"
)

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for the given text.
func (c *OpenAICompatibleClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one embedding per text, in input order. Empty texts
// are rejected so the result always lines up with the input.
func (c *OpenAICompatibleClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("embedding input %d is empty", i)
		}
	}

	reqBody := map[string]interface{}{
		"model": c.cfg.EmbeddingModel,
		"input": texts,
	}
	var parsed embeddingResponse
	if err := c.post(ctx, "/embeddings", reqBody, &parsed); err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(parsed.Data), len(texts))
	}

	result := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if err := placeEmbedding(result, d.Index, d.Embedding); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// placeEmbedding stores vec at result[index]. Each index must appear exactly
// once, so with a matching count every input gets its own vector.
func placeEmbedding(result [][]float32, index int, vec []float32) error {
	if index < 0 || index >= len(result) {
		return fmt.Errorf("embedding index %d out of range", index)
	}
	if result[index] != nil {
		return fmt.Errorf("duplicate embedding index %d", index)
	}
	if len(vec) == 0 {
		return fmt.Errorf("empty embedding for index %d", index)
	}
	result[index] = vec
	return nil
}
