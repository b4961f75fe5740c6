package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yungbote/neurobridge-chat/internal/platform/llm"
	"github.com/yungbote/neurobridge-chat/internal/platform/tokens"
)

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model        string         `json:"model"`
	Instructions string         `json:"instructions,omitempty"`
	Input        []inputMessage `json:"input"`
	Stream       bool           `json:"stream,omitempty"`
}

type usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u usage) counts() (int, int) {
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return u.PromptTokens, u.CompletionTokens
	}
	return u.InputTokens, u.OutputTokens
}

// streamEvent is the subset of Responses stream events the generator reads.
type streamEvent struct {
	Type     string          `json:"type"`
	Delta    string          `json:"delta"`
	Refusal  string          `json:"refusal"`
	Error    json.RawMessage `json:"error"`
	Response *struct {
		Usage usage `json:"usage"`
	} `json:"response"`
}

const (
	responsesPath = "/v1/responses"
	doneSentinel  = "[DONE]"

	evOutputDelta = "response.output_text.delta"
	evCompleted   = "response.completed"
	evIncomplete  = "response.incomplete"
	evFailed      = "response.failed"
)

// Stream sends the instruction and history to the Responses API and relays
// output text deltas in order. On a mid-stream failure the text received so
// far is returned with the error.
func (c *Client) Stream(ctx context.Context, req llm.Request, onDelta func(delta string)) (llm.Result, error) {
	body := responsesRequest{
		Model:        llm.PickModel(req, c.model, c.reasoningModel),
		Instructions: strings.TrimSpace(req.Instruction),
		Input:        make([]inputMessage, 0, len(req.History)),
		Stream:       true,
	}
	for _, m := range req.History {
		if strings.TrimSpace(m.Text) != "" {
			body.Input = append(body.Input, inputMessage{Role: m.Role, Content: m.Text})
		}
	}

	resp, err := c.openStream(ctx, responsesPath, body)
	if err != nil {
		return llm.Result{}, err
	}
	defer resp.Body.Close()

	var (
		text          strings.Builder
		inTok, outTok int
	)
	frames := newSSEReader(resp.Body)
	for {
		f, err := frames.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return llm.Result{Text: text.String()}, fmt.Errorf("openai: read stream: %w", err)
		}
		data := strings.TrimSpace(f.Data)
		if data == "" || data == doneSentinel {
			continue
		}
		var ev streamEvent
		if json.Unmarshal([]byte(data), &ev) != nil {
			continue
		}
		if ev.Type == "" {
			ev.Type = f.Event
		}
		if err := ev.failure(); err != nil {
			return llm.Result{Text: text.String()}, err
		}
		switch ev.Type {
		case evOutputDelta:
			if d := strings.TrimRight(ev.Delta, "\x00"); d != "" {
				text.WriteString(d)
				if onDelta != nil {
					onDelta(d)
				}
			}
		case evCompleted, evIncomplete:
			if ev.Response != nil {
				inTok, outTok = ev.Response.Usage.counts()
			}
		case evFailed:
			return llm.Result{Text: text.String()}, fmt.Errorf("openai: response failed: %s", data)
		}
	}

	out := llm.Result{Text: text.String(), PromptTokens: inTok, CompletionTokens: outTok}
	if out.PromptTokens == 0 {
		out.PromptTokens = tokens.Count(body.Model, llm.PromptText(req))
	}
	if out.CompletionTokens == 0 {
		out.CompletionTokens = tokens.Count(body.Model, out.Text)
	}
	return out, nil
}

func (ev streamEvent) failure() error {
	if r := strings.TrimSpace(ev.Refusal); r != "" {
		return fmt.Errorf("openai: model refused: %s", r)
	}
	if len(ev.Error) > 0 && string(ev.Error) != "null" {
		return fmt.Errorf("openai: stream error: %s", ev.Error)
	}
	return nil
}
