package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-chat/internal/data/repos/chat"
	"github.com/yungbote/neurobridge-chat/internal/data/repos/memory"
	"github.com/yungbote/neurobridge-chat/internal/data/repos/prompt"
	"github.com/yungbote/neurobridge-chat/internal/data/repos/usage"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

type ConversationRepo = chat.ConversationRepo
type MessageRepo = chat.MessageRepo
type VoteRepo = chat.VoteRepo
type StreamRepo = chat.StreamRepo

type UsageRepo = usage.UsageRepo
type PromptRepo = prompt.PromptRepo
type PromptPatch = prompt.Patch
type MemoryRepo = memory.MemoryRepo

// Set bundles every repository the services need.
type Set struct {
	Conversations ConversationRepo
	Messages      MessageRepo
	Votes         VoteRepo
	Streams       StreamRepo
	Usage         UsageRepo
	Prompts       PromptRepo
	Memory        MemoryRepo
}

func NewSet(db *gorm.DB, log *logger.Logger) Set {
	return Set{
		Conversations: chat.NewConversationRepo(db, log),
		Messages:      chat.NewMessageRepo(db, log),
		Votes:         chat.NewVoteRepo(db, log),
		Streams:       chat.NewStreamRepo(db, log),
		Usage:         usage.NewUsageRepo(db, log),
		Prompts:       prompt.NewPromptRepo(db, log),
		Memory:        memory.NewMemoryRepo(db, log),
	}
}
