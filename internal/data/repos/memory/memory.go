package memory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/neurobridge-chat/internal/data/db"
	"github.com/yungbote/neurobridge-chat/internal/domain/memory"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// MemoryRepo stores embedded fragments and answers per-user nearest-neighbour
// queries. Postgres uses pgvector; other dialects use an in-process index.
type MemoryRepo interface {
	Create(dbc dbctx.Context, userID uuid.UUID, content string, embedding []float32) (*memory.Fragment, error)
	Nearest(dbc dbctx.Context, userID uuid.UUID, query []float32, k int) ([]*memory.Fragment, error)
	CountByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error)
}

type memoryRepo struct {
	db    *gorm.DB
	log   *logger.Logger
	index *vectorIndex
}

func NewMemoryRepo(gdb *gorm.DB, log *logger.Logger) MemoryRepo {
	r := &memoryRepo{db: gdb, log: log.With("repo", "MemoryRepo")}
	if !db.IsPostgres(gdb) {
		r.index = newVectorIndex(r.loadUser)
	}
	return r
}

func (r *memoryRepo) Create(dbc dbctx.Context, userID uuid.UUID, content string, embedding []float32) (*memory.Fragment, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if len(embedding) != memory.EmbeddingDim {
		return nil, fmt.Errorf("embedding dimension mismatch: want=%d got=%d", memory.EmbeddingDim, len(embedding))
	}
	row := &memory.Fragment{
		ID:        uuid.New(),
		UserID:    userID,
		Content:   content,
		Embedding: pgvector.NewVector(embedding),
		CreatedAt: time.Now().UTC(),
	}
	if err := dbc.DB(r.db).Create(row).Error; err != nil {
		return nil, err
	}
	if r.index != nil {
		if err := r.index.add(dbc.Ctx, row); err != nil {
			r.log.Warn("memory index add failed", "fragment_id", row.ID, "error", err)
		}
	}
	return row, nil
}

// Nearest returns up to k fragments for userID ordered by cosine distance
// ascending.
func (r *memoryRepo) Nearest(dbc dbctx.Context, userID uuid.UUID, query []float32, k int) ([]*memory.Fragment, error) {
	if k <= 0 {
		return []*memory.Fragment{}, nil
	}
	if len(query) != memory.EmbeddingDim {
		return nil, fmt.Errorf("query dimension mismatch: want=%d got=%d", memory.EmbeddingDim, len(query))
	}
	if r.index != nil {
		return r.index.query(dbc.Ctx, userID, query, k)
	}
	var out []*memory.Fragment
	err := dbc.DB(r.db).
		Where("user_id = ?", userID).
		Clauses(clause.OrderBy{
			Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{pgvector.NewVector(query)}},
		}).
		Limit(k).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *memoryRepo) CountByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error) {
	var n int64
	if err := dbc.DB(r.db).Model(&memory.Fragment{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *memoryRepo) loadUser(dbc dbctx.Context, userID uuid.UUID) ([]*memory.Fragment, error) {
	var out []*memory.Fragment
	if err := dbc.DB(r.db).Where("user_id = ?", userID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
