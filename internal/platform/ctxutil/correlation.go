package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type correlationKey struct{}

// Correlation carries the identifiers that tie one HTTP request to its spans,
// log lines and, for chat routes, the conversation and resumable stream it
// ended up serving.
type Correlation struct {
	RequestID string
	TraceID   string
	ChatID    uuid.UUID
	StreamID  uuid.UUID
}

func WithCorrelation(ctx context.Context, c *Correlation) context.Context {
	return context.WithValue(ctx, correlationKey{}, c)
}

func CorrelationFrom(ctx context.Context) *Correlation {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(correlationKey{}).(*Correlation)
	return c
}

// TagStream records the conversation and stream a request is attached to.
// It is a no-op when ctx carries no Correlation.
func TagStream(ctx context.Context, chatID, streamID uuid.UUID) {
	if c := CorrelationFrom(ctx); c != nil {
		c.ChatID = chatID
		c.StreamID = streamID
	}
}

// Fields renders the non-empty identifiers as logger key/value pairs.
func (c *Correlation) Fields() []interface{} {
	if c == nil {
		return nil
	}
	out := make([]interface{}, 0, 8)
	if c.RequestID != "" {
		out = append(out, "request_id", c.RequestID)
	}
	if c.TraceID != "" {
		out = append(out, "trace_id", c.TraceID)
	}
	if c.ChatID != uuid.Nil {
		out = append(out, "chat_id", c.ChatID.String())
	}
	if c.StreamID != uuid.Nil {
		out = append(out, "stream_id", c.StreamID.String())
	}
	return out
}

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
