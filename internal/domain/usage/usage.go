package usage

import (
	"time"

	"github.com/google/uuid"
)

// Record is one completed generation's token cost. Never mutated.
type Record struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           uuid.UUID  `gorm:"type:uuid;not null;index:idx_usage_record_user_created,priority:1" json:"user_id"`
	ConversationID   *uuid.UUID `gorm:"type:uuid;index" json:"conversation_id,omitempty"`
	PromptTokens     int64      `gorm:"column:prompt_tokens;not null;default:0;check:chk_usage_prompt_tokens,prompt_tokens >= 0" json:"prompt_tokens"`
	CompletionTokens int64      `gorm:"column:completion_tokens;not null;default:0;check:chk_usage_completion_tokens,completion_tokens >= 0" json:"completion_tokens"`
	CreatedAt        time.Time  `gorm:"not null;index:idx_usage_record_user_created,priority:2" json:"created_at"`
}

func (Record) TableName() string { return "usage_record" }

func (r Record) Total() int64 { return r.PromptTokens + r.CompletionTokens }
