package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-chat/internal/data/repos"
	"github.com/yungbote/neurobridge-chat/internal/domain/memory"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/llm"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

const memoryWriteTimeout = 30 * time.Second

// MemoryService embeds user turns for later retrieval. Both directions are
// best-effort.
type MemoryService interface {
	Record(dbc dbctx.Context, userID uuid.UUID, text string) Outcome
	// RecordAsync runs Record on a detached context tracked by Background.
	RecordAsync(ctx context.Context, userID uuid.UUID, text string)
	Retrieve(dbc dbctx.Context, userID uuid.UUID, query string, k int) ([]*memory.Fragment, error)
}

type memoryService struct {
	log      *logger.Logger
	repo     repos.MemoryRepo
	embedder llm.Embedder
	bg       *Background
}

func NewMemoryService(log *logger.Logger, repo repos.MemoryRepo, embedder llm.Embedder, bg *Background) MemoryService {
	return &memoryService{
		log:      log.With("service", "MemoryService"),
		repo:     repo,
		embedder: embedder,
		bg:       bg,
	}
}

func (s *memoryService) embedOne(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedder returned %d vectors", len(vecs))
	}
	return vecs[0], nil
}

func (s *memoryService) Record(dbc dbctx.Context, userID uuid.UUID, text string) Outcome {
	text = strings.TrimSpace(text)
	if userID == uuid.Nil || text == "" {
		return Succeeded()
	}
	vec, err := s.embedOne(dbc.Ctx, text)
	if err != nil {
		return Ignored(fmt.Errorf("embed: %w", err))
	}
	if _, err := s.repo.Create(dbc, userID, text, vec); err != nil {
		return Ignored(fmt.Errorf("store fragment: %w", err))
	}
	return Succeeded()
}

func (s *memoryService) RecordAsync(ctx context.Context, userID uuid.UUID, text string) {
	run := func() error {
		c, cancel := context.WithTimeout(context.WithoutCancel(ctx), memoryWriteTimeout)
		defer cancel()
		if out := s.Record(dbctx.Context{Ctx: c}, userID, text); !out.OK() {
			s.log.Warn("memory write skipped", "user_id", userID, "error", out.Err)
		}
		return nil
	}
	if s.bg == nil {
		go func() { _ = run() }()
		return
	}
	s.bg.Go("memory.record", run)
}

func (s *memoryService) Retrieve(dbc dbctx.Context, userID uuid.UUID, query string, k int) ([]*memory.Fragment, error) {
	query = strings.TrimSpace(query)
	if userID == uuid.Nil || query == "" || k <= 0 {
		return nil, nil
	}
	vec, err := s.embedOne(dbc.Ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.repo.Nearest(dbc, userID, vec, k)
}
