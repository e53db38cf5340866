package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docchat/internal/model"
)

const upsertBatchSize = 100

// RAGChunkRepository reads and writes one index collection. Each session's
// collection lives in its own database, so no query filters by session.
type RAGChunkRepository struct {
	db         *gorm.DB
	collection string
}

func NewRAGChunkRepository(db *gorm.DB, collection string) *RAGChunkRepository {
	return &RAGChunkRepository{db: db, collection: collection}
}

func (r *RAGChunkRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Table(r.collection).AutoMigrate(&model.RAGChunk{}); err != nil {
		return fmt.Errorf("migrate collection %s failed: %w", r.collection, err)
	}
	return nil
}

func (r *RAGChunkRepository) HasCollection(ctx context.Context) bool {
	return r.db.WithContext(ctx).Migrator().HasTable(r.collection)
}

// UpsertBatch inserts chunks in a single transaction, skipping IDs already
// present. It returns the number of newly inserted rows.
func (r *RAGChunkRepository) UpsertBatch(ctx context.Context, chunks []model.RAGChunk) (int64, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	var inserted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(r.collection).
			Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(&chunks, upsertBatchSize)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert chunks into %s failed: %w", r.collection, err)
	}
	return inserted, nil
}

func (r *RAGChunkRepository) List(ctx context.Context) ([]model.RAGChunk, error) {
	var chunks []model.RAGChunk
	if err := r.db.WithContext(ctx).Table(r.collection).Order("source ASC").Order("position ASC").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks from %s failed: %w", r.collection, err)
	}
	return chunks, nil
}

func (r *RAGChunkRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Table(r.collection).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count chunks in %s failed: %w", r.collection, err)
	}
	return n, nil
}
