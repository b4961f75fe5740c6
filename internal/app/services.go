package app

import (
	"fmt"

	"github.com/yungbote/neurobridge-chat/internal/data/repos"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/realtime/stream"
	"github.com/yungbote/neurobridge-chat/internal/services"
)

type Services struct {
	Auth          services.AuthService
	Admission     services.AdmissionService
	PromptCache   services.ActivePromptCache
	Prompts       services.PromptService
	Memory        services.MemoryService
	Assembler     services.PromptAssembler
	Finalizer     services.CompletionFinalizer
	Chat          services.ChatService
	Conversations services.ConversationService

	// Background tracks fire-and-forget writes; Mux tracks detached
	// producers. Both are drained on shutdown.
	Background *services.Background
	Mux        *stream.Multiplexer
}

func wireServices(log *logger.Logger, cfg Config, set repos.Set, clients Clients, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	cache, err := services.NewActivePromptCache(log, set.Prompts, cfg.PromptCacheTTL)
	if err != nil {
		return Services{}, fmt.Errorf("init prompt cache: %w", err)
	}

	mux := stream.NewMultiplexer(log, clients.Broker, cfg.GenerationTimeout)

	bg := services.NewBackground(log)
	memory := services.NewMemoryService(log, set.Memory, clients.Embedder, bg)
	assembler := services.NewPromptAssembler(log, cache, memory)
	admission := services.NewAdmissionService(log, set.Usage, cfg.Quotas, cfg.AdmissionFailClosed)
	finalizer := services.NewCompletionFinalizer(log, set.Messages, set.Usage)

	chatSvc := services.NewChatService(log, services.ChatDeps{
		Repos:     set,
		Admission: admission,
		Assembler: assembler,
		Memory:    memory,
		Finalizer: finalizer,
		Generator: clients.Generator,
		Mux:       mux,
		Model:     clients.Generator.Model(),
		Freshness: cfg.ReconnectFreshness,
		Metrics:   metrics,
	})

	return Services{
		Auth:          services.NewAuthService(log, cfg.JWTSecretKey),
		Admission:     admission,
		PromptCache:   cache,
		Prompts:       services.NewPromptService(log, set.Prompts, cache),
		Memory:        memory,
		Assembler:     assembler,
		Finalizer:     finalizer,
		Chat:          chatSvc,
		Conversations: services.NewConversationService(log, set),
		Background:    bg,
		Mux:           mux,
	}, nil
}
