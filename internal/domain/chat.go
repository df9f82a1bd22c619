package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// Message speaker roles, matching the LLM wire format.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

func ValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}

type Session struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID    string    `gorm:"column:user_id;not null;index" json:"user_id"`
	StartedAt time.Time `gorm:"column:started_at;not null;default:now()" json:"started_at"`
}

func (Session) TableName() string { return "sessions" }

type ChatMessage struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index:idx_chat_message_session_created,priority:1" json:"session_id"`
	UserID    string    `gorm:"column:user_id;not null;index" json:"user_id"`

	Role    string `gorm:"column:role;not null" json:"role"`
	Content string `gorm:"column:content;type:text;not null;default:''" json:"content"`

	IsBlocked   bool   `gorm:"column:is_blocked;not null;default:false" json:"is_blocked"`
	BlockReason string `gorm:"column:block_reason;not null;default:''" json:"block_reason,omitempty"`

	// Messages covered by a stored summary are tagged so context building
	// uses the summary instead.
	Summarized bool `gorm:"column:summarized;not null;default:false;index" json:"summarized"`

	CreatedAt time.Time      `gorm:"not null;default:now();index:idx_chat_message_session_created,priority:2" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ChatMessage) TableName() string { return "chat_messages" }
