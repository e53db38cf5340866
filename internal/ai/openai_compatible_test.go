package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpenAI serves the two routes both clients use. Embeddings are
// returned in reverse order to check that results are re-sorted by index.
func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	return fakeOpenAIWithIndexes(t, nil)
}

// fakeOpenAIWithIndexes reports indexes(i) as the index of input i when set.
func fakeOpenAIWithIndexes(t *testing.T, indexes func(i int) int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "chat-model", req.Model)
		reply := "echo: " + req.Messages[len(req.Messages)-1].Content
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]interface{}{{"index": 0, "message": map[string]string{"role": "assistant", "content": reply}}},
		})
	})
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed-model", req.Model)
		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			index := i
			if indexes != nil {
				index = indexes(i)
			}
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     index,
				"embedding": []float32{float32(i), float32(len(req.Input[i]))},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"object": "list", "data": data})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		Model:          "chat-model",
		EmbeddingModel: "embed-model",
	}
}

func TestOpenAICompatibleClient_Generate(t *testing.T) {
	srv := fakeOpenAI(t)
	client := NewOpenAICompatibleClient(testConfig(srv.URL + "/"))

	got, err := client.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", got)
}

func TestOpenAICompatibleClient_EmbedBatchKeepsOrder(t *testing.T) {
	srv := fakeOpenAI(t)
	client := NewOpenAICompatibleClient(testConfig(srv.URL))

	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 2}, {2, 3}}, vectors)

	vec, err := client.Embed(context.Background(), "dddd")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 4}, vec)
}

func TestEmbedBatch_RejectsBadIndexes(t *testing.T) {
	tests := []struct {
		name    string
		indexes func(i int) int
		wantErr string
	}{
		{"duplicate", func(i int) int { return i / 2 }, "duplicate embedding index"},
		{"out of range", func(i int) int { return i + 1 }, "out of range"},
		{"negative", func(i int) int { return i - 1 }, "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeOpenAIWithIndexes(t, tt.indexes)
			texts := []string{"a", "bb", "ccc"}

			_, err := NewOpenAICompatibleClient(testConfig(srv.URL)).EmbedBatch(context.Background(), texts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			sdk, err := NewSDKClient(testConfig(srv.URL))
			require.NoError(t, err)
			_, err = sdk.EmbedBatch(context.Background(), texts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOpenAICompatibleClient_RejectsEmptyInput(t *testing.T) {
	client := NewOpenAICompatibleClient(testConfig("http://unused"))

	_, err := client.Embed(context.Background(), "  ")
	assert.Error(t, err)
	_, err = client.EmbedBatch(context.Background(), []string{"ok", ""})
	assert.Error(t, err)
}

func TestOpenAICompatibleClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()
	client := NewOpenAICompatibleClient(testConfig(srv.URL))

	_, err := client.Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSDKClient(t *testing.T) {
	srv := fakeOpenAI(t)
	client, err := NewSDKClient(testConfig(srv.URL))
	require.NoError(t, err)

	got, err := client.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", got)

	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 2}}, vectors)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider("", testConfig("http://x"))
	require.NoError(t, err)
	assert.IsType(t, &OpenAICompatibleClient{}, p)

	p, err = NewProvider(ProviderOpenAI, testConfig("http://x"))
	require.NoError(t, err)
	assert.IsType(t, &SDKClient{}, p)

	_, err = NewProvider(ProviderCompatible, Config{BaseURL: "http://x"})
	assert.Error(t, err)

	_, err = NewProvider(ProviderOpenAI, Config{})
	assert.Error(t, err)

	_, err = NewProvider("llama", testConfig("http://x"))
	assert.Error(t, err)
}
