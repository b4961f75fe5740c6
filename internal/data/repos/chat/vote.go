package chat

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

type VoteRepo interface {
	Upsert(dbc dbctx.Context, v *chat.Vote) error
	ListByConversation(dbc dbctx.Context, conversationID uuid.UUID) ([]*chat.Vote, error)
}

type voteRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVoteRepo(db *gorm.DB, log *logger.Logger) VoteRepo {
	return &voteRepo{db: db, log: log.With("repo", "VoteRepo")}
}

func (r *voteRepo) Upsert(dbc dbctx.Context, v *chat.Vote) error {
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_upvoted"}),
	}).Create(v).Error
}

func (r *voteRepo) ListByConversation(dbc dbctx.Context, conversationID uuid.UUID) ([]*chat.Vote, error) {
	var out []*chat.Vote
	if err := dbc.DB(r.db).Where("conversation_id = ?", conversationID).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
