package prompt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/neurobridge-chat/internal/data/db"
	"github.com/yungbote/neurobridge-chat/internal/domain/prompt"
	"github.com/yungbote/neurobridge-chat/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// activationLockKey serializes every transaction that may set is_active.
const activationLockKey = 7_401_355_020

type Patch struct {
	Text     *string
	IsActive *bool
}

type PromptRepo interface {
	Create(dbc dbctx.Context, text string, createdBy *uuid.UUID, makeActive bool) (*prompt.Version, error)
	Update(dbc dbctx.Context, id uuid.UUID, patch Patch) (*prompt.Version, error)
	Delete(dbc dbctx.Context, id uuid.UUID) (*prompt.Version, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*prompt.Version, error)
	GetActive(dbc dbctx.Context) (*prompt.Version, error)
	List(dbc dbctx.Context) ([]*prompt.Version, error)
}

type promptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPromptRepo(db *gorm.DB, log *logger.Logger) PromptRepo {
	return &promptRepo{db: db, log: log.With("repo", "PromptRepo")}
}

func (r *promptRepo) lockActivation(tx *gorm.DB) error {
	if !db.IsPostgres(tx) {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", activationLockKey).Error
}

func deactivateAll(tx *gorm.DB, except uuid.UUID, now time.Time) error {
	q := tx.Model(&prompt.Version{}).Where("is_active = ?", true)
	if except != uuid.Nil {
		q = q.Where("id <> ?", except)
	}
	return q.Updates(map[string]interface{}{"is_active": false, "updated_at": now}).Error
}

func (r *promptRepo) Create(dbc dbctx.Context, text string, createdBy *uuid.UUID, makeActive bool) (*prompt.Version, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty prompt text")
	}
	now := time.Now().UTC()
	row := &prompt.Version{
		ID:        uuid.New(),
		Text:      text,
		IsActive:  makeActive,
		Version:   1,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		if makeActive {
			if err := r.lockActivation(tx); err != nil {
				return err
			}
			if err := deactivateAll(tx, uuid.Nil, now); err != nil {
				return fmt.Errorf("deactivate prompts: %w", err)
			}
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Update applies patch in one transaction. Activation clears every other
// active row first; supplying text bumps the version. Returns
// gorm.ErrRecordNotFound for unknown ids.
func (r *promptRepo) Update(dbc dbctx.Context, id uuid.UUID, patch Patch) (*prompt.Version, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	var out prompt.Version
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		activating := patch.IsActive != nil && *patch.IsActive
		if activating {
			if err := r.lockActivation(tx); err != nil {
				return err
			}
		}
		q := tx
		if db.IsPostgres(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.Where("id = ?", id).Take(&out).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		if activating {
			if err := deactivateAll(tx, id, now); err != nil {
				return fmt.Errorf("deactivate prompts: %w", err)
			}
		}
		updates := map[string]interface{}{"updated_at": now}
		if patch.IsActive != nil {
			updates["is_active"] = *patch.IsActive
			out.IsActive = *patch.IsActive
		}
		if patch.Text != nil {
			updates["text"] = *patch.Text
			updates["version"] = out.Version + 1
			out.Text = *patch.Text
			out.Version++
		}
		out.UpdatedAt = now
		return tx.Model(&prompt.Version{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the row, active or not, and returns it.
func (r *promptRepo) Delete(dbc dbctx.Context, id uuid.UUID) (*prompt.Version, error) {
	var out prompt.Version
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Take(&out).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&prompt.Version{}).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *promptRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*prompt.Version, error) {
	var out prompt.Version
	err := dbc.DB(r.db).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetActive returns the newest active row, or nil when none is active.
// It tolerates more than one active row.
func (r *promptRepo) GetActive(dbc dbctx.Context) (*prompt.Version, error) {
	var out []*prompt.Version
	if err := dbc.DB(r.db).
		Where("is_active = ?", true).
		Order("created_at DESC").
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *promptRepo) List(dbc dbctx.Context) ([]*prompt.Version, error) {
	var out []*prompt.Version
	if err := dbc.DB(r.db).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
