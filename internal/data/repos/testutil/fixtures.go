package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/domain/usage"
)

func SeedConversation(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, visibility string) *chat.Conversation {
	tb.Helper()
	c := &chat.Conversation{
		ID:         uuid.New(),
		UserID:     userID,
		Title:      "seeded",
		Visibility: visibility,
		CreatedAt:  time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed conversation: %v", err)
	}
	return c
}

func SeedMessage(tb testing.TB, ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, role, text string, at time.Time) *chat.Message {
	tb.Helper()
	m := &chat.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Parts:          chat.EncodeParts([]chat.Part{{Type: chat.PartTypeText, Text: text}}),
		Attachments:    chat.EncodeAttachments(nil),
		CreatedAt:      at.UTC(),
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed message: %v", err)
	}
	return m
}

func SeedUsage(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, prompt, completion int64, at time.Time) *usage.Record {
	tb.Helper()
	rec := &usage.Record{
		ID:               uuid.New(),
		UserID:           userID,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		CreatedAt:        at.UTC(),
	}
	if err := tx.WithContext(ctx).Create(rec).Error; err != nil {
		tb.Fatalf("seed usage: %v", err)
	}
	return rec
}
