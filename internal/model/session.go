package model

// SessionMetadata holds the write-once title of a session.
type SessionMetadata struct {
	SessionID string  `gorm:"primaryKey;size:64" json:"session_id"`
	Title     *string `gorm:"size:512" json:"title"`
}

func (SessionMetadata) TableName() string {
	return "chat_history_metadata"
}

// SessionTitle is a row of the recent sessions listing.
type SessionTitle struct {
	SessionID string  `json:"session_id"`
	Title     *string `json:"title"`
}

// DisplayTitle returns the title, or "Untitled" when none was recorded.
func (t SessionTitle) DisplayTitle() string {
	if t.Title == nil || *t.Title == "" {
		return "Untitled"
	}
	return *t.Title
}
