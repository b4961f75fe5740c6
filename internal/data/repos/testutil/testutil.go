// Package testutil opens databases and seeds rows for repository and
// service tests.
package testutil

import (
	"os"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/neurobridge-chat/internal/data/db"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// PostgresDSNEnv names the database used by the postgres-backed variants.
// Those variants are skipped when it is unset.
const PostgresDSNEnv = "TEST_POSTGRES_DSN"

// Logger returns the warn-level logger shared by the test binary. It is
// process wide because producers and background jobs may log after the
// test that started them has returned.
func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	l, err := sharedLogger()
	if err != nil {
		tb.Fatalf("test logger: %v", err)
	}
	return l
}

var sharedLogger = sync.OnceValues(func() (*logger.Logger, error) {
	return logger.New("test")
})

// DB returns a fresh, migrated in-memory SQLite database closed when tb ends.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	gdb, err := db.OpenSQLiteMemory()
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrateAll(gdb); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

var sharedPostgres = sync.OnceValues(func() (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(os.Getenv(PostgresDSNEnv)), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		return nil, err
	}
	return gdb, db.AutoMigrateAll(gdb)
})

// PostgresTx returns a transaction on the shared postgres database that is
// rolled back when tb ends, so tests never see each other's rows.
func PostgresTx(tb testing.TB) *gorm.DB {
	tb.Helper()
	if os.Getenv(PostgresDSNEnv) == "" {
		tb.Skipf("set %s to run postgres tests", PostgresDSNEnv)
	}
	gdb, err := sharedPostgres()
	if err != nil {
		tb.Fatalf("postgres test db: %v", err)
	}
	tx := gdb.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() { _ = tx.Rollback().Error })
	return tx
}

// Backend is a named database opener for tests that run on every dialect.
type Backend struct {
	Name string
	Open func(tb testing.TB) *gorm.DB
}

// Backends lists SQLite first, then Postgres, which skips without a DSN.
func Backends() []Backend {
	return []Backend{
		{Name: "sqlite", Open: DB},
		{Name: "postgres", Open: PostgresTx},
	}
}
