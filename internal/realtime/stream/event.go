package stream

import (
	"encoding/json"
)

const (
	EventStart   = "start"
	EventDelta   = "delta"
	EventFinish  = "finish"
	EventError   = "error"
	EventMessage = "message"
)

// Event is one chunk of a generation. ID is assigned by the broker and is
// monotonically increasing within a stream.
type Event struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type StartData struct {
	StreamID  string `json:"stream_id"`
	MessageID string `json:"message_id"`
}

type DeltaData struct {
	Text string `json:"text"`
}

type FinishData struct {
	MessageID        string `json:"message_id"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// NewEvent marshals data as the event payload.
func NewEvent(typ string, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte(`{}`)
	}
	return Event{Type: typ, Data: raw}
}

func Delta(text string) Event { return NewEvent(EventDelta, DeltaData{Text: text}) }

func Failure(msg string) Event { return NewEvent(EventError, ErrorData{Message: msg}) }

// MessageData carries a complete persisted turn, sent instead of a live
// stream when the generation already finished.
type MessageData struct {
	Message any `json:"message"`
}
