package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-chat/internal/data/repos/testutil"
	"github.com/yungbote/neurobridge-chat/internal/domain/memory"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/embedding"
)

func embedOne(t *testing.T, e *embedding.HashEmbedder, text string) []float32 {
	t.Helper()
	out, err := e.Embed(context.Background(), []string{text})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	return out[0]
}

func TestMemoryRepoNearestScopedAndOrdered(t *testing.T) {
	for _, backend := range testutil.Backends() {
		backend := backend
		t.Run(backend.Name, func(t *testing.T) {
			testNearestScopedAndOrdered(t, NewMemoryRepo(backend.Open(t), testutil.Logger(t)))
		})
	}
}

func testNearestScopedAndOrdered(t *testing.T, repo MemoryRepo) {
	dbc := dbctx.Context{Ctx: context.Background()}
	emb := embedding.NewHashEmbedder(memory.EmbeddingDim)

	user, other := uuid.New(), uuid.New()
	texts := []string{
		"my cat is called Miso and loves tuna",
		"I am planning a trip to Lisbon in May",
		"quarterly revenue numbers for the board",
	}
	for _, txt := range texts {
		if _, err := repo.Create(dbc, user, txt, embedOne(t, emb, txt)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := repo.Create(dbc, other, "Lisbon trip Lisbon trip", embedOne(t, emb, "Lisbon trip Lisbon trip")); err != nil {
		t.Fatalf("Create other: %v", err)
	}

	got, err := repo.Nearest(dbc, user, embedOne(t, emb, "what should I pack for my Lisbon trip"), 5)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len: want=3 got=%d", len(got))
	}
	if got[0].Content != texts[1] {
		t.Fatalf("nearest: want=%q got=%q", texts[1], got[0].Content)
	}
	for _, f := range got {
		if f.UserID != user {
			t.Fatalf("fragment leaked from another user: %s", f.UserID)
		}
	}

	// Inserts after hydration are visible.
	late := "Lisbon pastel de nata recommendations"
	if _, err := repo.Create(dbc, user, late, embedOne(t, emb, late)); err != nil {
		t.Fatalf("Create late: %v", err)
	}
	got, err = repo.Nearest(dbc, user, embedOne(t, emb, "Lisbon pastel de nata"), 1)
	if err != nil || len(got) != 1 || got[0].Content != late {
		t.Fatalf("Nearest after insert: err=%v got=%v", err, got)
	}
}

func TestMemoryRepoEmptyAndDimensionChecks(t *testing.T) {
	db := testutil.DB(t)
	repo := NewMemoryRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	emb := embedding.NewHashEmbedder(memory.EmbeddingDim)

	got, err := repo.Nearest(dbc, uuid.New(), embedOne(t, emb, "anything"), 5)
	if err != nil || len(got) != 0 {
		t.Fatalf("Nearest empty: err=%v len=%d", err, len(got))
	}
	if _, err := repo.Create(dbc, uuid.New(), "short", []float32{1, 2, 3}); err == nil {
		t.Fatalf("Create wrong dim: want error got nil")
	}
	if _, err := repo.Nearest(dbc, uuid.New(), []float32{1}, 5); err == nil {
		t.Fatalf("Nearest wrong dim: want error got nil")
	}
}
