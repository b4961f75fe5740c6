package prompt

import (
	"time"

	"github.com/google/uuid"
)

// Version is one candidate system instruction. At most one row is active.
type Version struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Text      string     `gorm:"column:text;type:text;not null" json:"text"`
	IsActive  bool       `gorm:"column:is_active;not null;default:false" json:"is_active"`
	Version   int        `gorm:"column:version;not null;default:1" json:"version"`
	CreatedBy *uuid.UUID `gorm:"type:uuid;column:created_by" json:"created_by,omitempty"`
	CreatedAt time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

func (Version) TableName() string { return "prompt_version" }
