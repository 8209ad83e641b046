// Package postlog implements the persistent archive of everything the
// account has published, backed by GORM over SQLite (pure Go driver).
//
// Unlike the queue and ledger documents, which are working state, the post
// log is an append-only history: rows are inserted when a publish succeeds
// and are never updated or deleted. It feeds the stats command and the ops
// status endpoint.
//
// All functions are context-aware and accept a *gorm.DB handle. They follow
// the thin-repository approach: no business logic, only inserts and query
// composition.
package postlog

import (
	"context"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"chirpd/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience.
var ErrNotFound = gorm.ErrRecordNotFound

// OpenSQLite opens (or creates) the post-log database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool: the daemon is a single writer, keep it small.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate applies the post-log schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.PostRecord{})
}

// Append inserts a post record. The record ID is a randomly generated UUID
// and PostedAt defaults to now (UTC) when unset.
func Append(ctx context.Context, db *gorm.DB, rec *domain.PostRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.PostedAt.IsZero() {
		rec.PostedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(rec).Error
}

// CountToday returns the number of posts published since local midnight in
// loc, evaluated at now.
func CountToday(ctx context.Context, db *gorm.DB, loc *time.Location, now time.Time) (int64, error) {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var total int64
	err := db.WithContext(ctx).
		Model(&domain.PostRecord{}).
		Where("posted_at >= ?", midnight.UTC()).
		Count(&total).Error
	return total, err
}

// Recent returns up to limit post records, most recent first. It returns an
// empty slice when the log is empty.
func Recent(ctx context.Context, db *gorm.DB, limit int) ([]domain.PostRecord, error) {
	var out []domain.PostRecord
	err := db.WithContext(ctx).
		Order("posted_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Last returns the most recent post record, or ErrNotFound when the log is
// empty.
func Last(ctx context.Context, db *gorm.DB) (*domain.PostRecord, error) {
	var rec domain.PostRecord
	err := db.WithContext(ctx).
		Order("posted_at desc").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountByCategory returns per-category post totals for the stats command.
func CountByCategory(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	type row struct {
		Category string
		Total    int64
	}
	var rows []row
	err := db.WithContext(ctx).
		Model(&domain.PostRecord{}).
		Select("category, count(*) as total").
		Group("category").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Category] = r.Total
	}
	return out, nil
}
