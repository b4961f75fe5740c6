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

type ConversationRepo interface {
	Create(dbc dbctx.Context, row *chat.Conversation) (*chat.Conversation, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*chat.Conversation, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int, before *time.Time) ([]*chat.Conversation, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	DeleteCascade(dbc dbctx.Context, id uuid.UUID) error
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, log *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: log.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) Create(dbc dbctx.Context, row *chat.Conversation) (*chat.Conversation, error) {
	if row == nil {
		return nil, fmt.Errorf("missing conversation")
	}
	if row.UserID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Visibility == "" {
		row.Visibility = chat.VisibilityPrivate
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := dbc.DB(r.db).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

// GetByID returns nil, nil when the row does not exist.
func (r *conversationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*chat.Conversation, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	var out chat.Conversation
	err := dbc.DB(r.db).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *conversationRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int, before *time.Time) ([]*chat.Conversation, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := dbc.DB(r.db).Model(&chat.Conversation{}).Where("user_id = ?", userID)
	if before != nil && !before.IsZero() {
		q = q.Where("created_at < ?", before.UTC())
	}
	var out []*chat.Conversation
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if len(updates) == 0 {
		return nil
	}
	res := dbc.DB(r.db).Model(&chat.Conversation{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteCascade removes the conversation with its votes, messages and
// stream handles in one transaction.
func (r *conversationRepo) DeleteCascade(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	return dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&chat.Vote{}).Error; err != nil {
			return fmt.Errorf("delete votes: %w", err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&chat.Message{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&chat.StreamHandle{}).Error; err != nil {
			return fmt.Errorf("delete stream handles: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&chat.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
