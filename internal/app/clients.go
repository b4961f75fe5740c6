package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/domain/memory"
	"github.com/yungbote/neurobridge-chat/internal/platform/anthropic"
	"github.com/yungbote/neurobridge-chat/internal/platform/embedding"
	"github.com/yungbote/neurobridge-chat/internal/platform/langchain"
	"github.com/yungbote/neurobridge-chat/internal/platform/llm"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/platform/openai"
	"github.com/yungbote/neurobridge-chat/internal/realtime/stream"
)

// ModelClient is a generator that names its default model.
type ModelClient interface {
	llm.Generator
	Model() string
}

var (
	newOpenAIClient    = func(log *logger.Logger) (ModelClient, error) { return openai.NewClient(log) }
	newAnthropicClient = func(log *logger.Logger) (ModelClient, error) { return anthropic.NewClient(log) }
	newLangChainClient = func(log *logger.Logger) (ModelClient, error) { return langchain.NewClient(log) }
	newRedisBroker     = func(log *logger.Logger, cfg stream.RedisConfig) (*stream.RedisBroker, error) {
		return stream.NewRedisBroker(log, cfg)
	}
	embedCheckTimeout = 10 * time.Second
)

type ProviderBootstrapErrorCode string

const (
	ProviderBootstrapErrorInvalidProvider ProviderBootstrapErrorCode = "invalid_provider"
	ProviderBootstrapErrorMissingAPIKey   ProviderBootstrapErrorCode = "missing_api_key"
	ProviderBootstrapErrorNoEmbeddings    ProviderBootstrapErrorCode = "no_embeddings"
	ProviderBootstrapErrorInitFailed      ProviderBootstrapErrorCode = "provider_init_failed"
)

type ProviderBootstrapError struct {
	Code     ProviderBootstrapErrorCode
	Role     string
	Provider string
	Cause    error
}

func (e *ProviderBootstrapError) Error() string {
	if e == nil {
		return "provider bootstrap failed"
	}
	return fmt.Sprintf("%s provider bootstrap failed (code=%s provider=%q): %v", e.Role, e.Code, e.Provider, e.Cause)
}

func (e *ProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func classifyProviderBootstrapError(role, provider string, err error) error {
	code := ProviderBootstrapErrorInitFailed
	if strings.Contains(strings.ToLower(err.Error()), "api_key") {
		code = ProviderBootstrapErrorMissingAPIKey
	}
	return &ProviderBootstrapError{Code: code, Role: role, Provider: provider, Cause: err}
}

func providerBootstrapErrorCode(err error) ProviderBootstrapErrorCode {
	var bootstrapErr *ProviderBootstrapError
	if errors.As(err, &bootstrapErr) && bootstrapErr.Code != "" {
		return bootstrapErr.Code
	}
	return ProviderBootstrapErrorInitFailed
}

type Clients struct {
	Generator ModelClient
	Embedder  llm.Embedder
	// Broker is the Redis broker when REDIS_ADDR is set, the in-process
	// broker when it is not, and nil when Redis is configured but
	// unreachable; streams then run in degraded mode without resume.
	Broker stream.Broker
	// Redis is set only when Broker is backed by Redis.
	Redis *stream.RedisBroker
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	gen, err := resolveGenerator(log, cfg.ModelProvider)
	if err != nil {
		log.Error("Model provider selection failed", "provider", cfg.ModelProvider, "error_code", providerBootstrapErrorCode(err), "error", err)
		return Clients{}, err
	}
	emb, err := resolveEmbedder(log, cfg.EmbedProvider, cfg.ModelProvider, gen)
	if err != nil {
		log.Error("Embed provider selection failed", "provider", cfg.EmbedProvider, "error_code", providerBootstrapErrorCode(err), "error", err)
		return Clients{}, err
	}
	emb = checkEmbeddingDim(log, cfg.EmbedProvider, emb)

	out := Clients{Generator: gen, Embedder: emb}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		log.Info("REDIS_ADDR not set; using in-process stream broker")
		out.Broker = stream.NewMemoryBroker(cfg.StreamReplayTTL)
		return out, nil
	}
	b, err := newRedisBroker(log, stream.RedisConfig{
		Addr:      cfg.RedisAddr,
		Prefix:    cfg.RedisStreamPrefix,
		ReplayTTL: cfg.StreamReplayTTL,
		OpenTTL:   cfg.StreamOpenTTL,
	})
	if err != nil {
		log.Warn("Redis unavailable; streams will not be resumable", "addr", cfg.RedisAddr, "error", err)
		return out, nil
	}
	out.Broker, out.Redis = b, b
	return out, nil
}

func resolveGenerator(log *logger.Logger, provider string) (ModelClient, error) {
	var (
		c   ModelClient
		err error
	)
	switch provider {
	case ProviderOpenAI:
		c, err = newOpenAIClient(log)
	case ProviderAnthropic:
		c, err = newAnthropicClient(log)
	case ProviderLangChain:
		c, err = newLangChainClient(log)
	default:
		return nil, &ProviderBootstrapError{
			Code:     ProviderBootstrapErrorInvalidProvider,
			Role:     "model",
			Provider: provider,
			Cause:    fmt.Errorf("unsupported model provider"),
		}
	}
	if err != nil {
		return nil, classifyProviderBootstrapError("model", provider, err)
	}
	log.Info("Model provider selected", "provider", provider, "model", c.Model())
	return c, nil
}

// resolveEmbedder reuses the generator client when both roles name the
// same provider.
func resolveEmbedder(log *logger.Logger, provider, modelProvider string, gen ModelClient) (llm.Embedder, error) {
	if provider == ProviderHash {
		log.Info("Embed provider selected", "provider", provider)
		return embedding.NewHashEmbedder(0), nil
	}
	if provider == modelProvider {
		if e, ok := gen.(llm.Embedder); ok {
			log.Info("Embed provider selected", "provider", provider, "shared", true)
			return e, nil
		}
	}
	var (
		c   ModelClient
		err error
	)
	switch provider {
	case ProviderOpenAI:
		c, err = newOpenAIClient(log)
	case ProviderLangChain:
		c, err = newLangChainClient(log)
	default:
		return nil, &ProviderBootstrapError{
			Code:     ProviderBootstrapErrorInvalidProvider,
			Role:     "embed",
			Provider: provider,
			Cause:    fmt.Errorf("unsupported embed provider"),
		}
	}
	if err != nil {
		return nil, classifyProviderBootstrapError("embed", provider, err)
	}
	e, ok := c.(llm.Embedder)
	if !ok {
		return nil, &ProviderBootstrapError{
			Code:     ProviderBootstrapErrorNoEmbeddings,
			Role:     "embed",
			Provider: provider,
			Cause:    fmt.Errorf("client does not produce embeddings"),
		}
	}
	log.Info("Embed provider selected", "provider", provider)
	return e, nil
}

// checkEmbeddingDim embeds one sample input and swaps in the hash embedder
// when the vectors cannot be stored in the memory index. An unreachable
// provider keeps the configured embedder; memory writes fail soft per turn.
func checkEmbeddingDim(log *logger.Logger, provider string, emb llm.Embedder) llm.Embedder {
	if sized, ok := emb.(interface{ Dimensions() int }); ok {
		if sized.Dimensions() == memory.EmbeddingDim {
			return emb
		}
		return fallbackEmbedder(log, provider, sized.Dimensions())
	}
	ctx, cancel := context.WithTimeout(context.Background(), embedCheckTimeout)
	defer cancel()
	vecs, err := emb.Embed(ctx, []string{"embedding dimension check"})
	if err != nil {
		log.Warn("Embedding dimension check skipped", "provider", provider, "error", err)
		return emb
	}
	got := 0
	if len(vecs) > 0 {
		got = len(vecs[0])
	}
	if got == memory.EmbeddingDim {
		return emb
	}
	return fallbackEmbedder(log, provider, got)
}

func fallbackEmbedder(log *logger.Logger, provider string, got int) llm.Embedder {
	log.Warn("Embedding dimension mismatch; falling back to hash embedder",
		"provider", provider,
		"dimensions", got,
		"want", memory.EmbeddingDim,
	)
	return embedding.NewHashEmbedder(memory.EmbeddingDim)
}
