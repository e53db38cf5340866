package app

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"

	"docchat/internal/model"
)

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 64
)

// chunkText splits text into overlapping chunks by rune count, dropping
// windows that are only whitespace.
func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 2
	}
	var chunks []string
	runes := []rune(text)
	for i := 0; i < len(runes); {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		if chunk := strings.TrimSpace(string(runes[i:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		i += size - overlap
	}
	return chunks
}

// chunkID is the content hash used to upsert chunks idempotently.
func chunkID(source, content string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// topK scores every chunk against query and keeps the k best, most similar first.
func topK(chunks []model.RAGChunk, query []float32, k int) []model.ScoredChunk {
	if k <= 0 || len(chunks) == 0 {
		return nil
	}
	scored := make([]model.ScoredChunk, len(chunks))
	for i := range chunks {
		scored[i] = model.ScoredChunk{
			Chunk: chunks[i],
			Score: cosineSimilarity(query, chunks[i].EmbeddingVector()),
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}
