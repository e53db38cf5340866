package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"docchat/internal/model"
	"docchat/internal/platform/database"
	"docchat/internal/repository"
)

const (
	DefaultCollection  = "pdf_docs"
	indexFileName      = "index.db"
	embeddingBatchSize = 10 // DashScope and similar APIs often limit batch size
)

// Embedder maps text to vectors. EmbedBatch returns one vector per input, in order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexHandle is an open, fully built index for one session.
type IndexHandle struct {
	SessionID string

	db     *gorm.DB
	chunks *repository.RAGChunkRepository

	// mu lets Close wait for searches in flight.
	mu     sync.RWMutex
	closed bool
}

// Search returns the k chunks most similar to vec.
func (h *IndexHandle) Search(ctx context.Context, vec []float32, k int) ([]model.ScoredChunk, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrNoIndex
	}
	chunks, err := h.chunks.List(ctx)
	if err != nil {
		return nil, err
	}
	return topK(chunks, vec, k), nil
}

func (h *IndexHandle) Count(ctx context.Context) (int64, error) {
	return h.chunks.Count(ctx)
}

func (h *IndexHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return database.Close(h.db)
}

// BuildStats describes one build run.
type BuildStats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Inserted  int `json:"inserted"`
	Total     int `json:"total"`
}

// IndexManager builds and opens the per-session index collections stored
// under <root>/<session>/index.db.
type IndexManager struct {
	root         string
	collection   string
	embedder     Embedder
	chunkSize    int
	chunkOverlap int
}

func NewIndexManager(root, collection string, embedder Embedder) *IndexManager {
	if collection == "" {
		collection = DefaultCollection
	}
	return &IndexManager{
		root:         root,
		collection:   collection,
		embedder:     embedder,
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
	}
}

func (m *IndexManager) IndexPath(sessionID string) string {
	return filepath.Join(m.root, sessionID, indexFileName)
}

// Exists reports whether the session has a persisted index with at least one chunk.
func (m *IndexManager) Exists(ctx context.Context, sessionID string) (bool, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return false, err
	}
	if _, err := os.Stat(m.IndexPath(sessionID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	h, err := m.open(ctx, sessionID)
	if err != nil {
		return false, err
	}
	defer h.Close()
	if !h.chunks.HasCollection(ctx) {
		return false, nil
	}
	n, err := h.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Build embeds every chunk of docs and upserts them into the session's
// collection, creating it if absent. Chunks already present (same source and
// text) are kept as they are, so rebuilding unchanged uploads adds nothing.
// All vectors are computed before the store is touched and written in one
// transaction: on error nothing from this run is visible.
func (m *IndexManager) Build(ctx context.Context, sessionID string, docs []model.RAGDocument) (*IndexHandle, BuildStats, error) {
	var stats BuildStats
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, stats, err
	}
	if len(docs) == 0 {
		return nil, stats, ErrEmptyContent
	}

	seen := make(map[string]struct{})
	var pending []model.RAGChunk
	for _, doc := range docs {
		if doc.SessionID != sessionID {
			return nil, stats, fmt.Errorf("%w: document %s belongs to session %s", ErrInvalidInput, doc.Name, doc.SessionID)
		}
		for i, text := range chunkText(doc.Text, m.chunkSize, m.chunkOverlap) {
			id := chunkID(doc.Name, text)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			pending = append(pending, model.RAGChunk{
				ID:       id,
				Source:   doc.Name,
				Position: i,
				Content:  text,
			})
		}
	}
	stats.Documents = len(docs)
	stats.Chunks = len(pending)
	if len(pending) == 0 {
		return nil, stats, ErrEmptyContent
	}

	if err := m.embedChunks(ctx, pending); err != nil {
		return nil, stats, fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}

	h, err := m.open(ctx, sessionID)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}
	if err := h.chunks.Migrate(ctx); err != nil {
		_ = h.Close()
		return nil, stats, fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}
	inserted, err := h.chunks.UpsertBatch(ctx, pending)
	if err != nil {
		_ = h.Close()
		return nil, stats, fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}
	total, err := h.Count(ctx)
	if err != nil {
		_ = h.Close()
		return nil, stats, fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}
	stats.Inserted = int(inserted)
	stats.Total = int(total)

	log.Info().
		Str("session_id", sessionID).
		Int("documents", stats.Documents).
		Int("chunks", stats.Chunks).
		Int("inserted", stats.Inserted).
		Int("total", stats.Total).
		Msg("index built")
	return h, stats, nil
}

// Load opens a previously built index without embedding anything.
func (m *IndexManager) Load(ctx context.Context, sessionID string) (*IndexHandle, error) {
	ok, err := m.Exists(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no index for session %s", ErrNotFound, sessionID)
	}
	return m.open(ctx, sessionID)
}

func (m *IndexManager) open(ctx context.Context, sessionID string) (*IndexHandle, error) {
	db, err := database.OpenSQLite(ctx, m.IndexPath(sessionID))
	if err != nil {
		return nil, err
	}
	return &IndexHandle{
		SessionID: sessionID,
		db:        db,
		chunks:    repository.NewRAGChunkRepository(db, m.collection),
	}, nil
}

// embedChunks calls the embedding API in batches to avoid provider limits.
func (m *IndexManager) embedChunks(ctx context.Context, chunks []model.RAGChunk) error {
	for i := 0; i < len(chunks); i += embeddingBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := i + embeddingBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-i)
		for _, c := range chunks[i:end] {
			texts = append(texts, c.Content)
		}
		vectors, err := m.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks failed: %w", err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
		}
		for j := range vectors {
			if len(vectors[j]) == 0 {
				return fmt.Errorf("empty embedding for chunk %s", chunks[i+j].ID)
			}
			chunks[i+j].SetEmbedding(vectors[j])
			chunks[i+j].CreatedAt = time.Now()
		}
	}
	return nil
}
