package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"docchat/internal/model"
)

const (
	DefaultTopK     = 5
	maxContextRunes = 8000

	promptTemplate = "You are a helpful assistant. Use the following context from uploaded PDF documents to answer the query. " +
		"Do not rely on external knowledge unless the query cannot be answered from the context. " +
		"If the context is insufficient, say so and provide a general answer. " +
		"Context: {context}\n\nQuery: {query}\n\nAnswer:"
)

// Generator produces a completion for a single prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Retriever is the part of an index the query engine needs.
type Retriever interface {
	Search(ctx context.Context, vec []float32, k int) ([]model.ScoredChunk, error)
}

// Answer is a generated reply and the chunks it was grounded on.
type Answer struct {
	Text    string              `json:"answer"`
	Sources []model.ScoredChunk `json:"sources"`
	Prompt  string              `json:"-"`
}

type QueryEngine struct {
	embedder  Embedder
	generator Generator
	topK      int
}

func NewQueryEngine(embedder Embedder, generator Generator) *QueryEngine {
	return &QueryEngine{
		embedder:  embedder,
		generator: generator,
		topK:      DefaultTopK,
	}
}

// Answer retrieves the top chunks for query and asks the generator once.
// Generated text is returned as is.
func (e *QueryEngine) Answer(ctx context.Context, query string, index Retriever) (*Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("embed query failed")
		return nil, fmt.Errorf("%w: embed query failed: %w", ErrQuery, err)
	}
	sources, err := index.Search(ctx, vec, e.topK)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("retrieve chunks failed")
		return nil, fmt.Errorf("%w: retrieve chunks failed: %w", ErrQuery, err)
	}

	prompt := BuildPrompt(buildContext(sources), query)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	text, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("generate answer failed")
		return nil, fmt.Errorf("%w: generate answer failed: %w", ErrQuery, err)
	}

	log.Info().Str("query", query).Str("response", text).Int("sources", len(sources)).Msg("query answered")
	return &Answer{Text: text, Sources: sources, Prompt: prompt}, nil
}

// BuildPrompt fills the fixed instruction template.
func BuildPrompt(context, query string) string {
	r := strings.NewReplacer("{context}", context, "{query}", query)
	return r.Replace(promptTemplate)
}

// buildContext joins chunk texts in the given order, stopping before the
// context exceeds maxContextRunes.
func buildContext(sources []model.ScoredChunk) string {
	var b strings.Builder
	used := 0
	for _, s := range sources {
		text := s.Chunk.Content
		n := len([]rune(text))
		if used > 0 && used+n > maxContextRunes {
			break
		}
		if used > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
		used += n
	}
	return b.String()
}
