package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docchat/internal/model"
)

// TimestampLayout is fixed width so that lexical order equals time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ChatHistoryRepository persists chat turns and session titles.
//
// Every call runs as its own short unit of work against the pool; there is
// no transaction spanning calls. Reads never fail: a storage error is logged
// and an empty result returned. Writes return errors wrapping ErrStorage.
type ChatHistoryRepository struct {
	db  *gorm.DB
	now func() time.Time

	migrateMu sync.Mutex
}

func NewChatHistoryRepository(db *gorm.DB) *ChatHistoryRepository {
	return &ChatHistoryRepository{
		db:  db,
		now: time.Now,
	}
}

// WithClock replaces the time source used for message timestamps.
func (r *ChatHistoryRepository) WithClock(now func() time.Time) *ChatHistoryRepository {
	r.now = now
	return r
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// InitSchema creates chat_history and chat_history_metadata if missing.
// Safe to call repeatedly and from several goroutines.
func (r *ChatHistoryRepository) InitSchema(ctx context.Context) error {
	r.migrateMu.Lock()
	defer r.migrateMu.Unlock()

	if err := r.db.WithContext(ctx).AutoMigrate(&model.ChatMessage{}, &model.SessionMetadata{}); err != nil {
		log.Error().Err(err).Msg("init chat history schema failed")
		return fmt.Errorf("%w: init chat history schema failed: %w", ErrStorage, err)
	}
	return nil
}

// AppendMessage stores one message stamped with the current time. The
// session's metadata row is created on its first message; a non-nil title is
// only applied while the stored title is still empty.
func (r *ChatHistoryRepository) AppendMessage(ctx context.Context, sessionID, role, text string, title *string) (*model.ChatMessage, error) {
	msg := &model.ChatMessage{
		SessionID: sessionID,
		Timestamp: FormatTimestamp(r.now()),
		Role:      role,
		Message:   text,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		meta := &model.SessionMetadata{SessionID: sessionID, Title: title}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(meta).Error; err != nil {
			return err
		}
		if title == nil {
			return nil
		}
		return tx.Model(&model.SessionMetadata{}).
			Where("session_id = ? AND title IS NULL", sessionID).
			Update("title", *title).Error
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("role", role).Msg("append chat message failed")
		return nil, fmt.Errorf("%w: append message for session %s failed: %w", ErrStorage, sessionID, err)
	}
	return msg, nil
}

// LoadHistory returns the session's messages oldest first.
func (r *ChatHistoryRepository) LoadHistory(ctx context.Context, sessionID string) []model.ChatMessage {
	messages := []model.ChatMessage{}
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC").Order("id ASC").
		Find(&messages).Error; err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("load chat history failed")
		return []model.ChatMessage{}
	}
	return messages
}

// DeleteHistory removes one session's messages and metadata, or every
// session's when sessionID is empty.
func (r *ChatHistoryRepository) DeleteHistory(ctx context.Context, sessionID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msgQuery, metaQuery := tx.Where("1 = 1"), tx.Where("1 = 1")
		if sessionID != "" {
			msgQuery = tx.Where("session_id = ?", sessionID)
			metaQuery = tx.Where("session_id = ?", sessionID)
		}
		if err := msgQuery.Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		return metaQuery.Delete(&model.SessionMetadata{}).Error
	})
	if err != nil {
		if sessionID != "" {
			log.Error().Err(err).Str("session_id", sessionID).Msg("delete chat history failed")
			return fmt.Errorf("%w: delete history for session %s failed: %w", ErrStorage, sessionID, err)
		}
		log.Error().Err(err).Msg("delete all chat history failed")
		return fmt.Errorf("%w: delete all history failed: %w", ErrStorage, err)
	}
	return nil
}

// ListGlobalHistory pages through every session's messages, newest first.
func (r *ChatHistoryRepository) ListGlobalHistory(ctx context.Context, limit, offset int) []model.ChatMessage {
	limit, offset = normalizePage(limit, offset)

	messages := []model.ChatMessage{}
	if err := r.db.WithContext(ctx).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&messages).Error; err != nil {
		log.Error().Err(err).Int("limit", limit).Int("offset", offset).Msg("list global chat history failed")
		return []model.ChatMessage{}
	}
	return messages
}

// ListRecentSessionTitles pages through sessions ordered by their latest
// message, newest first. Sessions without messages are not listed.
func (r *ChatHistoryRepository) ListRecentSessionTitles(ctx context.Context, limit, offset int) []model.SessionTitle {
	limit, offset = normalizePage(limit, offset)

	db := r.db.WithContext(ctx)
	latest := db.Model(&model.ChatMessage{}).
		Select("session_id, MAX(timestamp) AS latest").
		Group("session_id")

	titles := []model.SessionTitle{}
	if err := db.Table("chat_history_metadata AS m").
		Select("m.session_id, m.title").
		Joins("JOIN (?) AS h ON m.session_id = h.session_id", latest).
		Order("h.latest DESC").Order("m.session_id ASC").
		Limit(limit).Offset(offset).
		Scan(&titles).Error; err != nil {
		log.Error().Err(err).Int("limit", limit).Int("offset", offset).Msg("list recent session titles failed")
		return []model.SessionTitle{}
	}
	return titles
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
