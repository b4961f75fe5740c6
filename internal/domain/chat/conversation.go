package chat

import (
	"time"

	"github.com/google/uuid"
)

const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

func ValidVisibility(v string) bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

type Conversation struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Title      string    `gorm:"column:title;type:text;not null;default:''" json:"title"`
	Visibility string    `gorm:"column:visibility;not null;default:'private';index" json:"visibility"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
}

func (Conversation) TableName() string { return "conversation" }

// VisibleTo reports whether userID may read the conversation.
func (c *Conversation) VisibleTo(userID uuid.UUID) bool {
	if c == nil {
		return false
	}
	return c.UserID == userID || c.Visibility == VisibilityPublic
}
