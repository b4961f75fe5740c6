package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-chat/internal/data/repos"
	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/domain/usage"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/platform/tokens"
)

const finalizeTimeout = 30 * time.Second

// Completion is everything the finalizer needs once a generation drained.
type Completion struct {
	UserID         uuid.UUID
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	Model          string
	// PromptText is used to estimate prompt tokens when the provider
	// reported none.
	PromptText       string
	Text             string
	PromptTokens     int
	CompletionTokens int
	Err              error
}

// CompletionFinalizer persists the outcome of one generation. It runs once,
// on the producer goroutine, after the model stream returned.
type CompletionFinalizer interface {
	Finalize(ctx context.Context, c Completion) (*chat.Message, error)
}

type completionFinalizer struct {
	log      *logger.Logger
	messages repos.MessageRepo
	usage    repos.UsageRepo
}

func NewCompletionFinalizer(log *logger.Logger, messages repos.MessageRepo, usage repos.UsageRepo) CompletionFinalizer {
	return &completionFinalizer{
		log:      log.With("service", "CompletionFinalizer"),
		messages: messages,
		usage:    usage,
	}
}

func (f *completionFinalizer) Finalize(ctx context.Context, c Completion) (*chat.Message, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	dbc := dbctx.Context{Ctx: ctx}

	// Providers that report nothing (stream cut short, local models) get a
	// tokenizer estimate so the ledger still moves.
	estimated := false
	if c.PromptTokens == 0 && c.CompletionTokens == 0 && c.Text != "" {
		c.CompletionTokens = tokens.Count(c.Model, c.Text)
		c.PromptTokens = tokens.Count(c.Model, c.PromptText)
		estimated = true
	}

	var (
		msg    *chat.Message
		msgErr error
	)
	if strings.TrimSpace(c.Text) != "" {
		msg, msgErr = f.persistMessage(dbc, c)
		if msgErr != nil {
			f.log.Error("assistant message not persisted",
				"conversation_id", c.ConversationID,
				"message_id", c.MessageID,
				"error", msgErr,
			)
		}
	} else if c.Err != nil {
		f.log.Warn("generation failed before any output", "conversation_id", c.ConversationID, "error", c.Err)
	}

	if out := f.recordUsage(dbc, c); !out.OK() {
		f.log.Warn("usage not recorded",
			"user_id", c.UserID,
			"conversation_id", c.ConversationID,
			"prompt_tokens", c.PromptTokens,
			"completion_tokens", c.CompletionTokens,
			"error", out.Err,
		)
	} else {
		f.log.Debug("generation finalized",
			"conversation_id", c.ConversationID,
			"prompt_tokens", c.PromptTokens,
			"completion_tokens", c.CompletionTokens,
			"estimated", estimated,
		)
	}
	return msg, msgErr
}

func (f *completionFinalizer) persistMessage(dbc dbctx.Context, c Completion) (*chat.Message, error) {
	row := &chat.Message{
		ID:             c.MessageID,
		ConversationID: c.ConversationID,
		Role:           chat.RoleAssistant,
		Parts:          chat.EncodeParts([]chat.Part{{Type: chat.PartTypeText, Text: c.Text}}),
		Attachments:    chat.EncodeAttachments(nil),
		CreatedAt:      time.Now().UTC(),
	}
	rows, err := f.messages.Create(dbc, []*chat.Message{row})
	if err != nil {
		return nil, fmt.Errorf("create assistant message: %w", err)
	}
	return rows[0], nil
}

func (f *completionFinalizer) recordUsage(dbc dbctx.Context, c Completion) Outcome {
	if c.PromptTokens == 0 && c.CompletionTokens == 0 {
		return Succeeded()
	}
	convID := c.ConversationID
	rec := &usage.Record{
		UserID:           c.UserID,
		ConversationID:   &convID,
		PromptTokens:     int64(c.PromptTokens),
		CompletionTokens: int64(c.CompletionTokens),
	}
	if err := f.usage.Create(dbc, rec); err != nil {
		return Ignored(err)
	}
	return Succeeded()
}
