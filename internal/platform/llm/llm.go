// Package llm holds the provider-neutral contracts for text generation and
// embeddings. Provider clients live in sibling packages.
package llm

import (
	"context"
	"errors"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	VariantDefault   = "chat-model"
	VariantReasoning = "chat-model-reasoning"
)

var ErrNoOutput = errors.New("llm: model produced no output")

type Message struct {
	Role string
	Text string
}

type Request struct {
	Instruction string
	History     []Message
	// Variant selects between the provider's default and reasoning model.
	Variant string
}

type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Generator streams one completion. onDelta is called in emission order from
// the calling goroutine.
type Generator interface {
	Stream(ctx context.Context, req Request, onDelta func(delta string)) (Result, error)
}

type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// IsReasoning reports whether variant names the reasoning model.
func IsReasoning(variant string) bool {
	return strings.EqualFold(strings.TrimSpace(variant), VariantReasoning)
}

// PickModel returns reasoning when the request asks for it and one is configured.
func PickModel(req Request, def, reasoning string) string {
	if IsReasoning(req.Variant) && strings.TrimSpace(reasoning) != "" {
		return reasoning
	}
	return def
}

// PromptText flattens instruction and history for token estimation.
func PromptText(req Request) string {
	var b strings.Builder
	b.WriteString(req.Instruction)
	for _, m := range req.History {
		b.WriteString("\n")
		b.WriteString(m.Text)
	}
	return b.String()
}
