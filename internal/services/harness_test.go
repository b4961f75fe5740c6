package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-chat/internal/data/repos"
	"github.com/yungbote/neurobridge-chat/internal/data/repos/testutil"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/apierr"
	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/embedding"
	"github.com/yungbote/neurobridge-chat/internal/platform/llm"
	"github.com/yungbote/neurobridge-chat/internal/realtime/stream"
)

type scriptedGenerator struct {
	deltas []string
	result llm.Result
	err    error
	// gate, when set, holds the stream open after the deltas.
	gate chan struct{}

	mu   sync.Mutex
	reqs []llm.Request
}

func (g *scriptedGenerator) Stream(ctx context.Context, req llm.Request, onDelta func(string)) (llm.Result, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()

	for _, d := range g.deltas {
		onDelta(d)
	}
	res := g.result
	if res.Text == "" {
		res.Text = strings.Join(g.deltas, "")
	}
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
	return res, g.err
}

func (g *scriptedGenerator) lastRequest(t *testing.T) llm.Request {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.reqs) == 0 {
		t.Fatalf("generator was never called")
	}
	return g.reqs[len(g.reqs)-1]
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

type harness struct {
	db        *gorm.DB
	repos     repos.Set
	bg        *Background
	mux       *stream.Multiplexer
	cache     ActivePromptCache
	prompts   PromptService
	memory    MemoryService
	assembler PromptAssembler
	admission AdmissionService
	chat      ChatService
	convs     ConversationService
	metrics   *observability.Metrics
}

type harnessOpts struct {
	gen      llm.Generator
	embedder llm.Embedder
	broker   stream.Broker
	noBroker bool
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	log := testutil.Logger(t)
	db := testutil.DB(t)
	set := repos.NewSet(db, log)

	if opts.embedder == nil {
		opts.embedder = embedding.NewHashEmbedder(0)
	}
	if opts.gen == nil {
		opts.gen = &scriptedGenerator{deltas: []string{"ok"}}
	}
	broker := opts.broker
	if broker == nil && !opts.noBroker {
		broker = stream.NewMemoryBroker(time.Minute)
	}

	h := &harness{db: db, repos: set, bg: NewBackground(log), metrics: observability.NewMetrics()}
	if broker != nil {
		h.mux = stream.NewMultiplexer(log, broker, time.Minute)
		t.Cleanup(func() { _ = broker.Close() })
	} else {
		h.mux = stream.NewMultiplexer(log, nil, time.Minute)
	}

	cache, err := NewActivePromptCache(log, set.Prompts, time.Minute)
	if err != nil {
		t.Fatalf("NewActivePromptCache: %v", err)
	}
	t.Cleanup(cache.Close)
	h.cache = cache
	h.prompts = NewPromptService(log, set.Prompts, cache)
	h.memory = NewMemoryService(log, set.Memory, opts.embedder, h.bg)
	h.assembler = NewPromptAssembler(log, cache, h.memory)
	h.admission = NewAdmissionService(log, set.Usage, DefaultQuotas(), false)
	h.chat = NewChatService(log, ChatDeps{
		Repos:     set,
		Admission: h.admission,
		Assembler: h.assembler,
		Memory:    h.memory,
		Finalizer: NewCompletionFinalizer(log, set.Messages, set.Usage),
		Generator: opts.gen,
		Mux:       h.mux,
		Model:     "gpt-4.1-mini",
		Metrics:   h.metrics,
	})
	h.convs = NewConversationService(log, set)
	t.Cleanup(func() { h.drain(t) })
	return h
}

// drain waits for producers and background writes.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.mux.Wait(ctx); err != nil {
		t.Fatalf("multiplexer wait: %v", err)
	}
	if err := h.bg.Wait(ctx); err != nil {
		t.Fatalf("background wait: %v", err)
	}
}

func userCtx(userID uuid.UUID, class ctxutil.UserClass) dbctx.Context {
	return dbctx.Context{Ctx: ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{
		UserID:    userID,
		UserClass: class,
	})}
}

func adminCtx(userID uuid.UUID) dbctx.Context {
	return dbctx.Context{Ctx: ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{
		UserID:    userID,
		UserClass: ctxutil.UserClassRegular,
		IsAdmin:   true,
	})}
}

func collect(t *testing.T, sub *stream.Subscription) []stream.Event {
	t.Helper()
	defer sub.Close()
	var out []stream.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out collecting events (%d so far)", len(out))
		}
	}
}

func wantStatus(t *testing.T, err error, status int) {
	t.Helper()
	if err == nil {
		t.Fatalf("want status %d, got nil error", status)
	}
	if got := apierr.As(err).Status; got != status {
		t.Fatalf("status: want=%d got=%d (%v)", status, got, err)
	}
}

func (h *harness) wantMetric(t *testing.T, line string) {
	t.Helper()
	var b strings.Builder
	if err := h.metrics.WritePrometheus(&b); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	if !strings.Contains(b.String(), line) {
		t.Fatalf("metric %q missing from:\n%s", line, b.String())
	}
}
