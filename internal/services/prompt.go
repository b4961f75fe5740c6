package services

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-chat/internal/data/repos"
	"github.com/yungbote/neurobridge-chat/internal/domain/prompt"
	"github.com/yungbote/neurobridge-chat/internal/platform/apierr"
	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

const MaxPromptTextRunes = 32_000

// ActivePromptCache is the read path the assembler uses. A nil result with a
// nil error means no prompt is active.
type ActivePromptCache interface {
	Get(dbc dbctx.Context) (*prompt.Version, error)
	Invalidate()
	Close()
}

const activePromptKey = "prompt:active"

type cachedPrompt struct {
	gen uint64
	row *prompt.Version
}

type activePromptCache struct {
	log   *logger.Logger
	repo  repos.PromptRepo
	cache *ristretto.Cache
	ttl   time.Duration
	gen   atomic.Uint64
}

// NewActivePromptCache holds the active prompt for ttl. Every Invalidate
// bumps a generation so reads that started before it never repopulate the
// slot with what they loaded.
func NewActivePromptCache(log *logger.Logger, repo repos.PromptRepo, ttl time.Duration) (ActivePromptCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        100,
		MaxCost:            1 << 10,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init prompt cache: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &activePromptCache{
		log:   log.With("component", "ActivePromptCache"),
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}, nil
}

func (c *activePromptCache) Get(dbc dbctx.Context) (*prompt.Version, error) {
	gen := c.gen.Load()
	if v, ok := c.cache.Get(activePromptKey); ok {
		if cp, ok := v.(cachedPrompt); ok && cp.gen == gen {
			return cp.row, nil
		}
	}
	row, err := c.repo.GetActive(dbc)
	if err != nil {
		return nil, err
	}
	if c.gen.Load() == gen {
		c.cache.SetWithTTL(activePromptKey, cachedPrompt{gen: gen, row: row}, 1, c.ttl)
		c.cache.Wait()
	}
	return row, nil
}

func (c *activePromptCache) Invalidate() {
	c.gen.Add(1)
	c.cache.Del(activePromptKey)
}

// Close stops the cache's background goroutines.
func (c *activePromptCache) Close() {
	c.cache.Close()
}

type PromptService interface {
	Create(dbc dbctx.Context, text string, makeActive bool) (*prompt.Version, error)
	Update(dbc dbctx.Context, id uuid.UUID, text *string, active *bool) (*prompt.Version, error)
	Delete(dbc dbctx.Context, id uuid.UUID) (*prompt.Version, error)
	Get(dbc dbctx.Context, id uuid.UUID) (*prompt.Version, error)
	GetActive(dbc dbctx.Context) (*prompt.Version, error)
	List(dbc dbctx.Context) ([]*prompt.Version, error)
}

type promptService struct {
	log   *logger.Logger
	repo  repos.PromptRepo
	cache ActivePromptCache
}

func NewPromptService(log *logger.Logger, repo repos.PromptRepo, cache ActivePromptCache) PromptService {
	return &promptService{
		log:   log.With("service", "PromptService"),
		repo:  repo,
		cache: cache,
	}
}

func validatePromptText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apierr.Validation("prompt text must not be empty")
	}
	if utf8.RuneCountInString(text) > MaxPromptTextRunes {
		return "", apierr.Validation("prompt text exceeds %d characters", MaxPromptTextRunes)
	}
	return text, nil
}

func requireAdmin(dbc dbctx.Context) (*ctxutil.RequestData, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthorized("not authenticated")
	}
	if !rd.IsAdmin {
		return nil, apierr.Forbidden("admin only")
	}
	return rd, nil
}

func (s *promptService) Create(dbc dbctx.Context, text string, makeActive bool) (*prompt.Version, error) {
	rd, err := requireAdmin(dbc)
	if err != nil {
		return nil, err
	}
	text, err = validatePromptText(text)
	if err != nil {
		return nil, err
	}
	defer s.cache.Invalidate()

	creator := rd.UserID
	row, err := s.repo.Create(dbc, text, &creator, makeActive)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("create prompt: %w", err))
	}
	s.log.Info("prompt version created", "prompt_id", row.ID, "active", row.IsActive, "created_by", creator)
	return row, nil
}

func (s *promptService) Update(dbc dbctx.Context, id uuid.UUID, text *string, active *bool) (*prompt.Version, error) {
	if _, err := requireAdmin(dbc); err != nil {
		return nil, err
	}
	if text == nil && active == nil {
		return nil, apierr.Validation("nothing to update")
	}
	patch := repos.PromptPatch{IsActive: active}
	if text != nil {
		clean, err := validatePromptText(*text)
		if err != nil {
			return nil, err
		}
		patch.Text = &clean
	}
	defer s.cache.Invalidate()

	row, err := s.repo.Update(dbc, id, patch)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("prompt")
	}
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("update prompt: %w", err))
	}
	s.log.Info("prompt version updated", "prompt_id", row.ID, "version", row.Version, "active", row.IsActive)
	return row, nil
}

func (s *promptService) Delete(dbc dbctx.Context, id uuid.UUID) (*prompt.Version, error) {
	if _, err := requireAdmin(dbc); err != nil {
		return nil, err
	}
	defer s.cache.Invalidate()

	row, err := s.repo.Delete(dbc, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("prompt")
	}
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("delete prompt: %w", err))
	}
	if row.IsActive {
		s.log.Warn("active prompt deleted; fallback instruction applies until another is activated", "prompt_id", row.ID)
	}
	return row, nil
}

func (s *promptService) Get(dbc dbctx.Context, id uuid.UUID) (*prompt.Version, error) {
	if _, err := requireAdmin(dbc); err != nil {
		return nil, err
	}
	row, err := s.repo.GetByID(dbc, id)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("get prompt: %w", err))
	}
	if row == nil {
		return nil, apierr.NotFound("prompt")
	}
	return row, nil
}

func (s *promptService) GetActive(dbc dbctx.Context) (*prompt.Version, error) {
	if _, err := requireAdmin(dbc); err != nil {
		return nil, err
	}
	row, err := s.cache.Get(dbc)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if row == nil {
		return nil, apierr.NotFound("active prompt")
	}
	return row, nil
}

func (s *promptService) List(dbc dbctx.Context) ([]*prompt.Version, error) {
	if _, err := requireAdmin(dbc); err != nil {
		return nil, err
	}
	rows, err := s.repo.List(dbc)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return rows, nil
}
