package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/yungbote/neurobridge-chat/internal/domain/memory"
	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
)

const metaCreatedAt = "created_at"

// vectorIndex keeps one chromem collection per user, hydrated from the
// database on first query. Later inserts are added incrementally.
type vectorIndex struct {
	mu       sync.Mutex
	db       *chromem.DB
	hydrated map[uuid.UUID]*chromem.Collection
	load     func(dbc dbctx.Context, userID uuid.UUID) ([]*memory.Fragment, error)
}

func newVectorIndex(load func(dbc dbctx.Context, userID uuid.UUID) ([]*memory.Fragment, error)) *vectorIndex {
	return &vectorIndex{
		db:       chromem.NewDB(),
		hydrated: map[uuid.UUID]*chromem.Collection{},
		load:     load,
	}
}

func toDocument(f *memory.Fragment) chromem.Document {
	return chromem.Document{
		ID:        f.ID.String(),
		Content:   f.Content,
		Embedding: f.Embedding.Slice(),
		Metadata:  map[string]string{metaCreatedAt: f.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func (ix *vectorIndex) collection(ctx context.Context, userID uuid.UUID) (*chromem.Collection, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if col, ok := ix.hydrated[userID]; ok {
		return col, nil
	}
	rows, err := ix.load(dbctx.Context{Ctx: ctx}, userID)
	if err != nil {
		return nil, fmt.Errorf("hydrate memory index: %w", err)
	}
	col, err := ix.db.GetOrCreateCollection("user-"+userID.String(), nil, nil)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := col.AddDocument(ctx, toDocument(row)); err != nil {
			return nil, fmt.Errorf("hydrate memory index: %w", err)
		}
	}
	ix.hydrated[userID] = col
	return col, nil
}

// add is a no-op for users whose collection is not hydrated yet; the next
// query loads the row from the database.
func (ix *vectorIndex) add(ctx context.Context, f *memory.Fragment) error {
	ix.mu.Lock()
	col, ok := ix.hydrated[f.UserID]
	ix.mu.Unlock()
	if !ok {
		return nil
	}
	return col.AddDocument(ctxutil.Default(ctx), toDocument(f))
}

func (ix *vectorIndex) query(ctx context.Context, userID uuid.UUID, q []float32, k int) ([]*memory.Fragment, error) {
	ctx = ctxutil.Default(ctx)
	col, err := ix.collection(ctx, userID)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return []*memory.Fragment{}, nil
	}
	if k > n {
		k = n
	}
	res, err := col.QueryEmbedding(ctx, q, k, nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*memory.Fragment, 0, len(res))
	for _, r := range res {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			continue
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, r.Metadata[metaCreatedAt])
		out = append(out, &memory.Fragment{ID: id, UserID: userID, Content: r.Content, CreatedAt: createdAt})
	}
	return out, nil
}
