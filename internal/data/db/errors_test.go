package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type uniqueRow struct {
	ID   int    `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
}

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(nil) {
		t.Fatalf("nil is not a violation")
	}
	if !IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatalf("wrapped pg 23505 should match")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation should not match")
	}
	if IsUniqueViolation(errors.New("connection reset")) {
		t.Fatalf("unrelated error should not match")
	}

	gdb, err := OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&uniqueRow{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := gdb.Create(&uniqueRow{ID: 1, Name: "a"}).Error; err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err = gdb.Create(&uniqueRow{ID: 1, Name: "b"}).Error
	if !IsUniqueViolation(err) {
		t.Fatalf("duplicate primary key should match, got=%v", err)
	}
}
