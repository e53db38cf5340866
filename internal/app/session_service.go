package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"docchat/internal/metrics"
	"docchat/internal/model"
)

const maxTitleRunes = 512

// SessionContext identifies the session a request acts on.
type SessionContext struct {
	SessionID string
}

// NewSessionContext starts a fresh session with a random id.
func NewSessionContext() SessionContext {
	return SessionContext{SessionID: uuid.NewString()}
}

// HistoryStore is the chat history persistence used by SessionService.
type HistoryStore interface {
	AppendMessage(ctx context.Context, sessionID, role, text string, title *string) (*model.ChatMessage, error)
	LoadHistory(ctx context.Context, sessionID string) []model.ChatMessage
	DeleteHistory(ctx context.Context, sessionID string) error
	ListGlobalHistory(ctx context.Context, limit, offset int) []model.ChatMessage
	ListRecentSessionTitles(ctx context.Context, limit, offset int) []model.SessionTitle
}

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, bool, error)
	SetHistory(ctx context.Context, sessionID string, messages []model.ChatMessage) error
	DeleteHistory(ctx context.Context, sessionID string) error
	DeleteAll(ctx context.Context) error
}

// BuildPublisher hands index builds to a background worker.
type BuildPublisher interface {
	PublishBuild(ctx context.Context, sessionID string) error
}

type UploadFile struct {
	Name   string
	Reader io.Reader
}

type UploadResult struct {
	Saved  []string          `json:"saved"`
	Failed map[string]string `json:"failed,omitempty"`
	Queued bool              `json:"queued"`
	Build  *BuildStats       `json:"build,omitempty"`
}

type AskResult struct {
	Answer   string              `json:"answer"`
	Sources  []model.ScoredChunk `json:"sources"`
	Recorded bool                `json:"recorded"`
	Warning  string              `json:"warning,omitempty"`

	// RecordErr is the history write failure behind Recorded == false.
	RecordErr error `json:"-"`
}

// SessionService is the entry point for the transport layer. It keeps one
// open index per session it has seen and records every answered turn.
type SessionService struct {
	loader    *DocumentLoader
	indexes   *IndexManager
	engine    *QueryEngine
	history   HistoryStore
	cache     HistoryCache
	publisher BuildPublisher

	mu      sync.Mutex
	handles map[string]*IndexHandle
}

func NewSessionService(
	loader *DocumentLoader,
	indexes *IndexManager,
	engine *QueryEngine,
	history HistoryStore,
	cache HistoryCache,
	publisher BuildPublisher,
) *SessionService {
	return &SessionService{
		loader:    loader,
		indexes:   indexes,
		engine:    engine,
		history:   history,
		cache:     cache,
		publisher: publisher,
		handles:   make(map[string]*IndexHandle),
	}
}

// Upload stores files for the session and (re)builds its index, inline or
// through the build queue when one is configured.
func (s *SessionService) Upload(ctx context.Context, sc SessionContext, files []UploadFile) (*UploadResult, error) {
	if err := ValidateSessionID(sc.SessionID); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrInvalidInput)
	}

	result := &UploadResult{Failed: map[string]string{}}
	for _, f := range files {
		path, err := s.loader.SaveUpload(sc.SessionID, f.Name, f.Reader)
		if err != nil {
			log.Error().Err(err).Str("session_id", sc.SessionID).Str("file", f.Name).Msg("save upload failed")
			result.Failed[f.Name] = err.Error()
			continue
		}
		result.Saved = append(result.Saved, path)
	}
	if len(result.Saved) == 0 {
		return result, fmt.Errorf("%w: no file could be saved", ErrInvalidInput)
	}

	if s.publisher != nil {
		err := s.publisher.PublishBuild(ctx, sc.SessionID)
		if err == nil {
			result.Queued = true
			return result, nil
		}
		log.Warn().Err(err).Str("session_id", sc.SessionID).Msg("enqueue index build failed, building inline")
	}

	stats, err := s.BuildSession(ctx, sc)
	if err != nil {
		return result, err
	}
	result.Build = stats
	return result, nil
}

// BuildSession ingests the session's uploads and builds its index. The
// cached handle is only replaced once the build has succeeded.
func (s *SessionService) BuildSession(ctx context.Context, sc SessionContext) (*BuildStats, error) {
	start := time.Now()
	stats, err := s.buildSession(ctx, sc)
	metrics.IndexBuilds.WithLabelValues(metrics.Result(err)).Inc()
	metrics.IndexBuildSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Str("session_id", sc.SessionID).Msg("build session index failed")
		return nil, err
	}
	return stats, nil
}

func (s *SessionService) buildSession(ctx context.Context, sc SessionContext) (*BuildStats, error) {
	if err := ValidateSessionID(sc.SessionID); err != nil {
		return nil, err
	}
	docs, err := s.loader.Load(ctx, sc.SessionID)
	if err != nil {
		return nil, err
	}
	h, stats, err := s.indexes.Build(ctx, sc.SessionID, docs)
	if err != nil {
		return nil, err
	}
	s.swapHandle(sc.SessionID, h)
	return &stats, nil
}

// Prepare makes the session queryable: it reuses or loads a persisted
// index, and builds one from the uploads when none exists yet.
func (s *SessionService) Prepare(ctx context.Context, sc SessionContext) error {
	_, err := s.resolve(ctx, sc.SessionID)
	if !errors.Is(err, ErrNoIndex) {
		return err
	}
	if !s.loader.HasUploads(sc.SessionID) {
		return ErrNoIndex
	}
	_, err = s.BuildSession(ctx, sc)
	return err
}

// Ask answers question against the session's index and records the turn.
// A failed history write does not discard the answer; it is reported through
// Recorded, Warning and RecordErr instead.
func (s *SessionService) Ask(ctx context.Context, sc SessionContext, question string) (*AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrInvalidInput)
	}
	h, err := s.resolve(ctx, sc.SessionID)
	if err != nil {
		return nil, err
	}

	answer, err := s.engine.Answer(ctx, question, h)
	if errors.Is(err, ErrNoIndex) {
		// h was closed by a concurrent rebuild; retry on the current index.
		s.dropHandle(sc.SessionID, h)
		if h, err = s.resolve(ctx, sc.SessionID); err == nil {
			answer, err = s.engine.Answer(ctx, question, h)
		}
	}
	metrics.Queries.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}

	result := &AskResult{
		Answer:   answer.Text,
		Sources:  answer.Sources,
		Recorded: true,
	}
	if err := s.recordTurn(ctx, sc.SessionID, question, answer.Text); err != nil {
		metrics.HistoryWriteFailures.Inc()
		result.Recorded = false
		result.Warning = "the answer could not be saved to chat history"
		result.RecordErr = err
	}
	return result, nil
}

// recordTurn appends the user turn, then the assistant turn, as two
// separate commits. The first message of a session becomes its title.
func (s *SessionService) recordTurn(ctx context.Context, sessionID, question, answer string) error {
	defer s.invalidate(ctx, sessionID)

	var title *string
	if len(s.history.LoadHistory(ctx, sessionID)) == 0 {
		t := truncateRunes(question, maxTitleRunes)
		title = &t
	}
	if _, err := s.history.AppendMessage(ctx, sessionID, model.RoleUser, question, title); err != nil {
		return err
	}
	if _, err := s.history.AppendMessage(ctx, sessionID, model.RoleAssistant, answer, nil); err != nil {
		return err
	}
	return nil
}

// History returns the session's messages oldest first.
func (s *SessionService) History(ctx context.Context, sc SessionContext) ([]model.ChatMessage, error) {
	if err := ValidateSessionID(sc.SessionID); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if cached, hit, err := s.cache.GetHistory(ctx, sc.SessionID); err == nil && hit {
			return cached, nil
		} else if err != nil {
			log.Warn().Err(err).Str("session_id", sc.SessionID).Msg("history cache read failed")
		}
	}
	messages := s.history.LoadHistory(ctx, sc.SessionID)
	if s.cache != nil && len(messages) > 0 {
		if err := s.cache.SetHistory(ctx, sc.SessionID, messages); err != nil {
			log.Warn().Err(err).Str("session_id", sc.SessionID).Msg("history cache write failed")
		}
	}
	return messages, nil
}

// DeleteHistory removes the session's messages and title. Its index stays.
func (s *SessionService) DeleteHistory(ctx context.Context, sc SessionContext) error {
	if err := ValidateSessionID(sc.SessionID); err != nil {
		return err
	}
	defer s.invalidate(ctx, sc.SessionID)
	return s.history.DeleteHistory(ctx, sc.SessionID)
}

// DeleteAllHistory removes every session's messages and titles.
func (s *SessionService) DeleteAllHistory(ctx context.Context) error {
	err := s.history.DeleteHistory(ctx, "")
	if s.cache != nil {
		if cacheErr := s.cache.DeleteAll(ctx); cacheErr != nil {
			log.Warn().Err(cacheErr).Msg("history cache flush failed")
		}
	}
	return err
}

func (s *SessionService) GlobalHistory(ctx context.Context, limit, offset int) []model.ChatMessage {
	return s.history.ListGlobalHistory(ctx, limit, offset)
}

func (s *SessionService) RecentSessions(ctx context.Context, limit, offset int) []model.SessionTitle {
	return s.history.ListRecentSessionTitles(ctx, limit, offset)
}

// Close releases every cached index.
func (s *SessionService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var closeErr error
	for id, h := range s.handles {
		if err := h.Close(); err != nil {
			closeErr = err
		}
		delete(s.handles, id)
	}
	return closeErr
}

// resolve returns the cached handle, or loads a persisted index into the cache.
func (s *SessionService) resolve(ctx context.Context, sessionID string) (*IndexHandle, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	h, ok := s.handles[sessionID]
	s.mu.Unlock()
	if ok {
		return h, nil
	}

	h, err := s.indexes.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoIndex
		}
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.handles[sessionID]; ok {
		_ = h.Close()
		return existing, nil
	}
	s.handles[sessionID] = h
	return h, nil
}

func (s *SessionService) swapHandle(sessionID string, h *IndexHandle) {
	s.mu.Lock()
	old := s.handles[sessionID]
	s.handles[sessionID] = h
	s.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("close replaced index failed")
		}
	}
}

// dropHandle evicts h if it is still the cached handle for the session.
func (s *SessionService) dropHandle(sessionID string, h *IndexHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles[sessionID] == h {
		delete(s.handles, sessionID)
	}
}

func (s *SessionService) invalidate(ctx context.Context, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteHistory(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("history cache invalidate failed")
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
