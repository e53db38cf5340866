package app

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"strings"
	"sync"
	"unicode"

	"docchat/internal/model"
)

const fakeDims = 64

// bagOfWords embeds text as hashed word counts, enough for similarity to
// follow word overlap.
type bagOfWords struct {
	mu    sync.Mutex
	calls int
}

func (b *bagOfWords) vector(text string) []float32 {
	vec := make([]float32, fakeDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%fakeDims]++
	}
	return vec
}

func (b *bagOfWords) Embed(ctx context.Context, text string) ([]float32, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return b.vector(text), nil
}

func (b *bagOfWords) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = b.vector(t)
	}
	return out, nil
}

type failingEmbedder struct {
	err error
}

func (f failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, f.err
}

func (f failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, f.err
}

// contextEcho answers with the context section of the prompt it receives.
type contextEcho struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (g *contextEcho) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	start := strings.Index(prompt, "Context: ")
	end := strings.Index(prompt, "\n\nQuery:")
	if start < 0 || end < start {
		return "", errors.New("unexpected prompt")
	}
	return prompt[start+len("Context: ") : end], nil
}

func (g *contextEcho) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// plainExtractor reads files as text; names ending in .bad fail.
type plainExtractor struct{}

func (plainExtractor) Extract(ctx context.Context, path string) (string, error) {
	if strings.HasSuffix(path, ".bad") {
		return "", errors.New("cannot parse")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// staticRetriever returns fixed results.
type staticRetriever struct {
	results []model.ScoredChunk
	err     error
}

func (s staticRetriever) Search(ctx context.Context, vec []float32, k int) ([]model.ScoredChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.results) {
		return s.results[:k], nil
	}
	return s.results, nil
}

// memoryCache is an in-process HistoryCache.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]model.ChatMessage
	hits    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]model.ChatMessage{}}
}

func (c *memoryCache) GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[sessionID]
	if ok {
		c.hits++
	}
	return m, ok, nil
}

func (c *memoryCache) SetHistory(ctx context.Context, sessionID string, messages []model.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sessionID] = messages
	return nil
}

func (c *memoryCache) DeleteHistory(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
	return nil
}

func (c *memoryCache) DeleteAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]model.ChatMessage{}
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (p *recordingPublisher) PublishBuild(ctx context.Context, sessionID string) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, sessionID)
	return nil
}

// failingHistory accepts reads but rejects every write.
type failingHistory struct {
	appends int
}

func (f *failingHistory) AppendMessage(ctx context.Context, sessionID, role, text string, title *string) (*model.ChatMessage, error) {
	f.appends++
	return nil, ErrStorage
}

func (f *failingHistory) LoadHistory(ctx context.Context, sessionID string) []model.ChatMessage {
	return []model.ChatMessage{}
}

func (f *failingHistory) DeleteHistory(ctx context.Context, sessionID string) error {
	return ErrStorage
}

func (f *failingHistory) ListGlobalHistory(ctx context.Context, limit, offset int) []model.ChatMessage {
	return []model.ChatMessage{}
}

func (f *failingHistory) ListRecentSessionTitles(ctx context.Context, limit, offset int) []model.SessionTitle {
	return []model.SessionTitle{}
}
