package model

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one immutable row of chat_history. ID only breaks ties
// between rows sharing a timestamp; Timestamp is the ordering key.
type ChatMessage struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	SessionID string `gorm:"size:64;not null;index" json:"session_id"`
	Timestamp string `gorm:"column:timestamp;size:32;not null;index" json:"timestamp"`
	Role      string `gorm:"size:16;not null" json:"role"`
	Message   string `gorm:"type:text;not null" json:"message"`
}

func (ChatMessage) TableName() string {
	return "chat_history"
}
