package chat

import (
	"time"

	"github.com/google/uuid"
)

// StreamHandle is the durable resumption key of one generation. Rows are
// append-only; the newest row per conversation is the current stream.
type StreamHandle struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index:idx_stream_handle_conv_created,priority:1" json:"conversation_id"`
	CreatedAt      time.Time `gorm:"not null;index:idx_stream_handle_conv_created,priority:2" json:"created_at"`
}

func (StreamHandle) TableName() string { return "stream_handle" }
