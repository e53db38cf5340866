package model

// RAGDocument is one uploaded file after text extraction. It only lives
// for the duration of an index build.
type RAGDocument struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Text      string `json:"-"`
}
