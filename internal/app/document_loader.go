package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"docchat/internal/model"
)

const defaultMaxUploadBytes = 20 << 20

var ErrUploadTooLarge = fmt.Errorf("%w: upload exceeds size limit", ErrInvalidInput)

// TextExtractor turns a stored upload into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// DocumentLoader owns the per-session upload directories under root.
type DocumentLoader struct {
	root           string
	extractor      TextExtractor
	maxUploadBytes int64
}

func NewDocumentLoader(root string, extractor TextExtractor, maxUploadBytes int64) *DocumentLoader {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &DocumentLoader{
		root:           root,
		extractor:      extractor,
		maxUploadBytes: maxUploadBytes,
	}
}

// SessionDir returns the upload directory of a session.
func (l *DocumentLoader) SessionDir(sessionID string) string {
	return filepath.Join(l.root, sessionID)
}

// HasUploads reports whether the session's upload directory exists.
func (l *DocumentLoader) HasUploads(sessionID string) bool {
	info, err := os.Stat(l.SessionDir(sessionID))
	return err == nil && info.IsDir()
}

// SaveUpload writes r to <root>/<session>/<session>_<name> and returns the path.
// The file only appears under its final name once fully written.
func (l *DocumentLoader) SaveUpload(sessionID, filename string, r io.Reader) (string, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "." || name == ".." || name == string(filepath.Separator) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: bad file name %q", ErrInvalidInput, filename)
	}

	dir := l.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload directory failed: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp upload failed: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, l.maxUploadBytes+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("write upload %s failed: %w", name, err)
	}
	if n > l.maxUploadBytes {
		return "", ErrUploadTooLarge
	}

	path := filepath.Join(dir, sessionID+"_"+name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("store upload %s failed: %w", name, err)
	}
	log.Info().Str("session_id", sessionID).Str("file", path).Msg("saved upload")
	return path, nil
}

// Load extracts text from every upload of the session. Files that yield no
// text, or fail extraction, are left out.
func (l *DocumentLoader) Load(ctx context.Context, sessionID string) ([]model.RAGDocument, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	dir := l.SessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: upload directory %s does not exist", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("read upload directory %s failed: %w", dir, err)
	}

	var docs []model.RAGDocument
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, entry.Name())
		text, err := l.extractor.Extract(ctx, path)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Str("file", path).Msg("skipping unreadable upload")
			continue
		}
		if strings.TrimSpace(text) == "" {
			log.Warn().Str("session_id", sessionID).Str("file", path).Msg("skipping upload without text")
			continue
		}
		docs = append(docs, model.RAGDocument{
			SessionID: sessionID,
			Name:      entry.Name(),
			Path:      path,
			Text:      text,
		})
	}
	if len(docs) == 0 {
		return nil, ErrEmptyContent
	}
	return docs, nil
}
