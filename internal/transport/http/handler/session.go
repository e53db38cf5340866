package handler

import (
	"context"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"docchat/internal/app"
	"docchat/internal/model"
	"docchat/internal/transport/http/response"
)

// SessionService is what the HTTP layer needs from app.SessionService.
type SessionService interface {
	Upload(ctx context.Context, sc app.SessionContext, files []app.UploadFile) (*app.UploadResult, error)
	BuildSession(ctx context.Context, sc app.SessionContext) (*app.BuildStats, error)
	Prepare(ctx context.Context, sc app.SessionContext) error
	Ask(ctx context.Context, sc app.SessionContext, question string) (*app.AskResult, error)
	History(ctx context.Context, sc app.SessionContext) ([]model.ChatMessage, error)
	DeleteHistory(ctx context.Context, sc app.SessionContext) error
	DeleteAllHistory(ctx context.Context) error
	GlobalHistory(ctx context.Context, limit, offset int) []model.ChatMessage
	RecentSessions(ctx context.Context, limit, offset int) []model.SessionTitle
}

type SessionHandler struct {
	sessions SessionService
}

type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

type sessionItem struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
}

func NewSessionHandler(sessions SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	sc := app.NewSessionContext()
	response.OK(c, gin.H{"session_id": sc.SessionID})
}

// ListSessions returns sessions most recently active first.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	limit, offset := pageFromQuery(c)
	titles := h.sessions.RecentSessions(c.Request.Context(), limit, offset)
	items := make([]sessionItem, 0, len(titles))
	for _, t := range titles {
		items = append(items, sessionItem{SessionID: t.SessionID, Title: t.DisplayTitle()})
	}
	response.OK(c, items)
}

// UploadDocuments accepts a multipart form with one or more "files" parts.
func (h *SessionHandler) UploadDocuments(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["file"]
	}
	if len(headers) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing files")
		return
	}

	files := make([]app.UploadFile, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to read "+fh.Filename)
			return
		}
		opened = append(opened, f)
		files = append(files, app.UploadFile{Name: fh.Filename, Reader: f})
	}

	result, err := h.sessions.Upload(c.Request.Context(), sessionFromPath(c), files)
	if err != nil {
		writeError(c, err, "upload failed")
		return
	}
	response.OK(c, result)
}

func (h *SessionHandler) BuildIndex(c *gin.Context) {
	stats, err := h.sessions.BuildSession(c.Request.Context(), sessionFromPath(c))
	if err != nil {
		writeError(c, err, "index build failed")
		return
	}
	response.OK(c, stats)
}

// OpenSession makes a session queryable, building its index if needed.
func (h *SessionHandler) OpenSession(c *gin.Context) {
	sc := sessionFromPath(c)
	if err := h.sessions.Prepare(c.Request.Context(), sc); err != nil {
		writeError(c, err, "open session failed")
		return
	}
	response.OK(c, gin.H{"session_id": sc.SessionID, "ready": true})
}

func (h *SessionHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	sc := sessionFromPath(c)
	result, err := h.sessions.Ask(c.Request.Context(), sc, req.Question)
	if err != nil {
		writeError(c, err, "answer failed")
		return
	}
	if !result.Recorded {
		log.Error().Err(result.RecordErr).Str("session_id", sc.SessionID).Msg("chat turn not recorded")
	}
	response.OK(c, result)
}

func (h *SessionHandler) GetHistory(c *gin.Context) {
	messages, err := h.sessions.History(c.Request.Context(), sessionFromPath(c))
	if err != nil {
		writeError(c, err, "load history failed")
		return
	}
	response.OK(c, messages)
}

func (h *SessionHandler) DeleteHistory(c *gin.Context) {
	sc := sessionFromPath(c)
	if err := h.sessions.DeleteHistory(c.Request.Context(), sc); err != nil {
		writeError(c, err, "delete history failed")
		return
	}
	response.OK(c, gin.H{"deleted_session_id": sc.SessionID})
}

func (h *SessionHandler) GlobalHistory(c *gin.Context) {
	limit, offset := pageFromQuery(c)
	response.OK(c, h.sessions.GlobalHistory(c.Request.Context(), limit, offset))
}

func (h *SessionHandler) DeleteAllHistory(c *gin.Context) {
	if err := h.sessions.DeleteAllHistory(c.Request.Context()); err != nil {
		writeError(c, err, "delete history failed")
		return
	}
	response.OK(c, gin.H{"deleted": "all"})
}
