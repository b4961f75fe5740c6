package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	PartTypeText = "text"
)

// Part is one ordered content part of a turn.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Message is one turn. Ordering within a conversation is by CreatedAt.
type Message struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID      `gorm:"type:uuid;not null;index:idx_conversation_message_conv_created,priority:1" json:"conversation_id"`
	Role           string         `gorm:"column:role;not null" json:"role"`
	Parts          datatypes.JSON `gorm:"type:jsonb;column:parts;not null;default:'[]'" json:"parts"`
	Attachments    datatypes.JSON `gorm:"type:jsonb;column:attachments;not null;default:'[]'" json:"attachments"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_conversation_message_conv_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "conversation_message" }

func EncodeParts(parts []Part) datatypes.JSON {
	if parts == nil {
		parts = []Part{}
	}
	b, _ := json.Marshal(parts)
	return datatypes.JSON(b)
}

func EncodeAttachments(atts []Attachment) datatypes.JSON {
	if atts == nil {
		atts = []Attachment{}
	}
	b, _ := json.Marshal(atts)
	return datatypes.JSON(b)
}

func (m *Message) DecodeParts() []Part {
	var parts []Part
	if m == nil || len(m.Parts) == 0 {
		return parts
	}
	_ = json.Unmarshal(m.Parts, &parts)
	return parts
}

// Text joins the text parts of the turn with newlines.
func (m *Message) Text() string {
	return TextOf(m.DecodeParts())
}

func TextOf(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if p.Type == PartTypeText && strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}
