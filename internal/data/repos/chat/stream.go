package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// StreamRepo is the stream registry: an append-only list of stream ids per
// conversation.
type StreamRepo interface {
	CreateHandle(dbc dbctx.Context, conversationID uuid.UUID) (*chat.StreamHandle, error)
	ListIDs(dbc dbctx.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	Latest(dbc dbctx.Context, conversationID uuid.UUID) (*chat.StreamHandle, error)
}

type streamRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStreamRepo(db *gorm.DB, log *logger.Logger) StreamRepo {
	return &streamRepo{db: db, log: log.With("repo", "StreamRepo")}
}

func (r *streamRepo) CreateHandle(dbc dbctx.Context, conversationID uuid.UUID) (*chat.StreamHandle, error) {
	row := &chat.StreamHandle{
		ID:             uuid.New(),
		ConversationID: conversationID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := dbc.DB(r.db).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

// ListIDs returns stream ids oldest first.
func (r *streamRepo) ListIDs(dbc dbctx.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	if err := dbc.DB(r.db).
		Model(&chat.StreamHandle{}).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC").
		Pluck("id", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns nil when the conversation never streamed.
func (r *streamRepo) Latest(dbc dbctx.Context, conversationID uuid.UUID) (*chat.StreamHandle, error) {
	var out []*chat.StreamHandle
	if err := dbc.DB(r.db).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}
