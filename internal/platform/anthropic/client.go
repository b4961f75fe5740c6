// Package anthropic adapts the Anthropic Messages API to llm.Generator.
package anthropic

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/yungbote/neurobridge-chat/internal/platform/llm"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/platform/tokens"
)

const defaultMaxTokens = 4096

type Client struct {
	log            *logger.Logger
	api            *anthropic.Client
	model          string
	reasoningModel string
	maxTokens      int64
}

var _ llm.Generator = (*Client)(nil)

func NewClient(log *logger.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}
	model := strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL"))
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if base := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	api := anthropic.NewClient(opts...)
	return &Client{
		log:            log.With("client", "Anthropic"),
		api:            &api,
		model:          model,
		reasoningModel: strings.TrimSpace(os.Getenv("ANTHROPIC_REASONING_MODEL")),
		maxTokens:      defaultMaxTokens,
	}, nil
}

func (c *Client) Stream(ctx context.Context, req llm.Request, onDelta func(delta string)) (llm.Result, error) {
	model := llm.PickModel(req, c.model, c.reasoningModel)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  toMessages(req.History),
	}
	if sys := strings.TrimSpace(req.Instruction); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	stream := c.api.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	var full strings.Builder
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			c.log.Debug("accumulate stream event failed", "error", err)
		}
		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				full.WriteString(delta.Text)
				if onDelta != nil {
					onDelta(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return llm.Result{Text: full.String()}, fmt.Errorf("anthropic stream: %w", err)
	}

	res := llm.Result{
		Text:             full.String(),
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
	}
	if res.PromptTokens == 0 {
		res.PromptTokens = tokens.Estimate(llm.PromptText(req))
	}
	if res.CompletionTokens == 0 {
		res.CompletionTokens = tokens.Estimate(res.Text)
	}
	return res, nil
}

// toMessages maps history onto alternating user/assistant turns. Adjacent
// turns with the same role are merged since the API rejects them.
func toMessages(history []llm.Message) []anthropic.MessageParam {
	type turn struct {
		role string
		text []string
	}
	var turns []turn
	for _, m := range history {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		role := llm.RoleUser
		if m.Role == llm.RoleAssistant {
			role = llm.RoleAssistant
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].text = append(turns[n-1].text, text)
			continue
		}
		turns = append(turns, turn{role: role, text: []string{text}})
	}
	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(strings.Join(t.text, "\n\n"))
		if t.role == llm.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// Model is the default model name, used to label usage and metrics.
func (c *Client) Model() string { return c.model }
