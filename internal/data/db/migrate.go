package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-chat/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return EnsureIndexes(db)
}

// EnsureIndexes backs the single-active-prompt rule with a partial
// unique index. Both dialects accept the same statement.
func EnsureIndexes(db *gorm.DB) error {
	stmt := `CREATE UNIQUE INDEX IF NOT EXISTS idx_prompt_version_single_active ON prompt_version (is_active) WHERE is_active = true`
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("ensure prompt indexes: %w", err)
	}
	if IsPostgres(db) {
		if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_memory_fragment_embedding ON memory_fragment USING hnsw (embedding vector_cosine_ops)`).Error; err != nil {
			return fmt.Errorf("ensure memory indexes: %w", err)
		}
	}
	return nil
}
