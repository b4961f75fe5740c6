// Package domain re-exports the persisted models so wiring code can refer to
// them without importing each subpackage.
package domain

import (
	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/domain/memory"
	"github.com/yungbote/neurobridge-chat/internal/domain/prompt"
	"github.com/yungbote/neurobridge-chat/internal/domain/usage"
)

type (
	Conversation   = chat.Conversation
	Message        = chat.Message
	Part           = chat.Part
	Attachment     = chat.Attachment
	Vote           = chat.Vote
	StreamHandle   = chat.StreamHandle
	UsageRecord    = usage.Record
	PromptVersion  = prompt.Version
	MemoryFragment = memory.Fragment
)

const EmbeddingDim = memory.EmbeddingDim

// Models lists every table in migration order.
func Models() []any {
	return []any{
		&chat.Conversation{},
		&chat.Message{},
		&chat.Vote{},
		&chat.StreamHandle{},
		&usage.Record{},
		&prompt.Version{},
		&memory.Fragment{},
	}
}
