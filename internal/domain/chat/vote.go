package chat

import "github.com/google/uuid"

type Vote struct {
	ConversationID uuid.UUID `gorm:"type:uuid;primaryKey" json:"conversation_id"`
	MessageID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"message_id"`
	IsUpvoted      bool      `gorm:"column:is_upvoted;not null" json:"is_upvoted"`
}

func (Vote) TableName() string { return "conversation_vote" }
