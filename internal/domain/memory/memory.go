package memory

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingDim is the fixed dimensionality of every stored embedding.
const EmbeddingDim = 1536

type Fragment struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID       `gorm:"type:uuid;not null;index:idx_memory_fragment_user_created,priority:1" json:"user_id"`
	Content   string          `gorm:"column:content;type:text;not null" json:"content"`
	Embedding pgvector.Vector `gorm:"type:vector(1536);not null" json:"-"`
	CreatedAt time.Time       `gorm:"not null;index:idx_memory_fragment_user_created,priority:2" json:"created_at"`
}

func (Fragment) TableName() string { return "memory_fragment" }
