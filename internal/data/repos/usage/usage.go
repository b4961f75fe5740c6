package usage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-chat/internal/domain/usage"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// UsageRepo is the append-only usage ledger.
type UsageRepo interface {
	Create(dbc dbctx.Context, rec *usage.Record) error
	SumSince(dbc dbctx.Context, userID uuid.UUID, since time.Time) (int64, error)
}

type usageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUsageRepo(db *gorm.DB, log *logger.Logger) UsageRepo {
	return &usageRepo{db: db, log: log.With("repo", "UsageRepo")}
}

func (r *usageRepo) Create(dbc dbctx.Context, rec *usage.Record) error {
	if rec == nil || rec.UserID == uuid.Nil {
		return fmt.Errorf("missing user_id")
	}
	if rec.PromptTokens < 0 || rec.CompletionTokens < 0 {
		return fmt.Errorf("negative token counts: prompt=%d completion=%d", rec.PromptTokens, rec.CompletionTokens)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return dbc.DB(r.db).Create(rec).Error
}

// SumSince totals prompt+completion tokens for rows created at or after since.
func (r *usageRepo) SumSince(dbc dbctx.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var total int64
	err := dbc.DB(r.db).
		Model(&usage.Record{}).
		Select("CAST(COALESCE(SUM(prompt_tokens + completion_tokens), 0) AS BIGINT)").
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
