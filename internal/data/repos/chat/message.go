package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

type MessageRepo interface {
	Create(dbc dbctx.Context, rows []*chat.Message) ([]*chat.Message, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*chat.Message, error)
	ListByConversation(dbc dbctx.Context, conversationID uuid.UUID) ([]*chat.Message, error)
	Latest(dbc dbctx.Context, conversationID uuid.UUID) (*chat.Message, error)
	DeleteFrom(dbc dbctx.Context, conversationID uuid.UUID, from time.Time) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "MessageRepo")}
}

func (r *messageRepo) Create(dbc dbctx.Context, rows []*chat.Message) ([]*chat.Message, error) {
	if len(rows) == 0 {
		return []*chat.Message{}, nil
	}
	now := time.Now().UTC()
	for _, m := range rows {
		if m.ConversationID == uuid.Nil {
			return nil, fmt.Errorf("missing conversation_id")
		}
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if len(m.Parts) == 0 {
			m.Parts = chat.EncodeParts(nil)
		}
		if len(m.Attachments) == 0 {
			m.Attachments = chat.EncodeAttachments(nil)
		}
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetByID returns nil, nil when the row does not exist.
func (r *messageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*chat.Message, error) {
	var out chat.Message
	err := dbc.DB(r.db).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *messageRepo) ListByConversation(dbc dbctx.Context, conversationID uuid.UUID) ([]*chat.Message, error) {
	var out []*chat.Message
	if err := dbc.DB(r.db).
		Model(&chat.Message{}).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns the newest turn, or nil when the conversation is empty.
func (r *messageRepo) Latest(dbc dbctx.Context, conversationID uuid.UUID) (*chat.Message, error) {
	var out []*chat.Message
	if err := dbc.DB(r.db).
		Model(&chat.Message{}).
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

// DeleteFrom removes every turn created at or after from, with its votes.
func (r *messageRepo) DeleteFrom(dbc dbctx.Context, conversationID uuid.UUID, from time.Time) (int64, error) {
	var deleted int64
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&chat.Message{}).
			Select("id").
			Where("conversation_id = ? AND created_at >= ?", conversationID, from.UTC())
		if err := tx.Where("conversation_id = ? AND message_id IN (?)", conversationID, sub).Delete(&chat.Vote{}).Error; err != nil {
			return fmt.Errorf("delete trailing votes: %w", err)
		}
		res := tx.Where("conversation_id = ? AND created_at >= ?", conversationID, from.UTC()).Delete(&chat.Message{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}
