package model

import (
	"encoding/json"
	"time"
)

// RAGChunk stores a text chunk and its embedding inside a session's index
// collection. ID is the content hash of (Source, Content).
// Embedding is stored as JSON array of float32 for portability.
type RAGChunk struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Source    string    `gorm:"size:512;not null;index" json:"source"`
	Position  int       `gorm:"not null" json:"position"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Embedding string    `gorm:"type:text" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *RAGChunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON.
func (c *RAGChunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}

// ScoredChunk is a retrieved chunk with its similarity to the query.
type ScoredChunk struct {
	Chunk RAGChunk `json:"chunk"`
	Score float32  `json:"score"`
}
