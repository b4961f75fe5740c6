// Package langchain serves generation and embeddings from any
// OpenAI-compatible endpoint (Ollama, vLLM, LM Studio) through langchaingo.
package langchain

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/yungbote/neurobridge-chat/internal/platform/llm"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/platform/tokens"
)

type Client struct {
	log            *logger.Logger
	llm            *openai.LLM
	model          string
	reasoningModel string
}

var (
	_ llm.Generator = (*Client)(nil)
	_ llm.Embedder  = (*Client)(nil)
)

func NewClient(log *logger.Logger) (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("LANGCHAIN_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1/"
	}
	token := strings.TrimSpace(os.Getenv("LANGCHAIN_TOKEN"))
	if token == "" {
		// Local OpenAI-compatible servers accept any token.
		token = "local"
	}
	model := strings.TrimSpace(os.Getenv("LANGCHAIN_MODEL"))
	if model == "" {
		model = "llama3.1:8b"
	}
	embedModel := strings.TrimSpace(os.Getenv("LANGCHAIN_EMBED_MODEL"))
	if embedModel == "" {
		// 768 dimensions; startup swaps in the hash embedder unless
		// LANGCHAIN_EMBED_MODEL names a 1536-dim model.
		embedModel = "nomic-embed-text"
	}
	client, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
		openai.WithEmbeddingModel(embedModel),
	)
	if err != nil {
		return nil, fmt.Errorf("init langchain llm: %w", err)
	}
	log.Info("langchain client ready", "base_url", baseURL, "model", model)
	return &Client{
		log:            log.With("client", "LangChain"),
		llm:            client,
		model:          model,
		reasoningModel: strings.TrimSpace(os.Getenv("LANGCHAIN_REASONING_MODEL")),
	}, nil
}

func (c *Client) Stream(ctx context.Context, req llm.Request, onDelta func(delta string)) (llm.Result, error) {
	model := llm.PickModel(req, c.model, c.reasoningModel)
	msgs := make([]llms.MessageContent, 0, len(req.History)+1)
	if sys := strings.TrimSpace(req.Instruction); sys != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, sys))
	}
	for _, m := range req.History {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		role := llms.ChatMessageTypeHuman
		if m.Role == llm.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, m.Text))
	}

	var full strings.Builder
	resp, err := c.llm.GenerateContent(ctx, msgs,
		llms.WithModel(model),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			full.Write(chunk)
			if onDelta != nil {
				onDelta(string(chunk))
			}
			return nil
		}),
	)
	if err != nil {
		return llm.Result{Text: full.String()}, fmt.Errorf("langchain generate: %w", err)
	}

	res := llm.Result{Text: full.String()}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if res.Text == "" {
			res.Text = choice.Content
		}
		res.PromptTokens = intInfo(choice.GenerationInfo, "PromptTokens")
		res.CompletionTokens = intInfo(choice.GenerationInfo, "CompletionTokens")
	}
	if res.PromptTokens == 0 {
		res.PromptTokens = tokens.Count(model, llm.PromptText(req))
	}
	if res.CompletionTokens == 0 {
		res.CompletionTokens = tokens.Count(model, res.Text)
	}
	return res, nil
}

func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := c.llm.CreateEmbedding(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("langchain embed: %w", err)
	}
	if len(vecs) != len(inputs) {
		return nil, fmt.Errorf("langchain embed: requested=%d returned=%d", len(inputs), len(vecs))
	}
	return vecs, nil
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Model is the default model name, used to label usage and metrics.
func (c *Client) Model() string { return c.model }
