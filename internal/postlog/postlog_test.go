package postlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"chirpd/internal/domain"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "postlog.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "does-not-exist", "postlog.db")
	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}
}

func TestAppendAndLast(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rec := &domain.PostRecord{
		TweetID:  "1001",
		Text:     "first post",
		Category: "hot_take",
		Kind:     string(domain.KindSingle),
		PostedAt: time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC),
	}
	if err := Append(ctx, db, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Append did not assign an ID")
	}

	later := &domain.PostRecord{
		TweetID:  "1002",
		Text:     "second post",
		Category: "news",
		Kind:     string(domain.KindNewsShare),
		PostedAt: time.Date(2026, 8, 27, 11, 0, 0, 0, time.UTC),
	}
	if err := Append(ctx, db, later); err != nil {
		t.Fatalf("Append: %v", err)
	}

	last, err := Last(ctx, db)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if last.TweetID != "1002" {
		t.Fatalf("Last.TweetID = %s, want 1002", last.TweetID)
	}
}

func TestLast_EmptyLog(t *testing.T) {
	db := openTestDB(t)
	_, err := Last(context.Background(), db)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Last on empty log = %v, want ErrNotFound", err)
	}
}

func TestCountToday_LocalMidnightBoundary(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	for _, rec := range []*domain.PostRecord{
		{TweetID: "1", Text: "today", Category: "news", PostedAt: now.Add(-2 * time.Hour)},
		{TweetID: "2", Text: "also today", Category: "news", PostedAt: now.Add(-11 * time.Hour)},
		{TweetID: "3", Text: "yesterday", Category: "news", PostedAt: now.Add(-13 * time.Hour)},
	} {
		if err := Append(ctx, db, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	total, err := CountToday(ctx, db, time.UTC, now)
	if err != nil {
		t.Fatalf("CountToday: %v", err)
	}
	if total != 2 {
		t.Fatalf("CountToday = %d, want 2", total)
	}
}

func TestRecentAndCountByCategory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 27, 8, 0, 0, 0, time.UTC)

	cats := []string{"news", "hot_take", "news"}
	for i, cat := range cats {
		rec := &domain.PostRecord{
			TweetID:  "10" + cat,
			Text:     "post",
			Category: cat,
			PostedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := Append(ctx, db, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := Recent(ctx, db, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(Recent) = %d, want 2", len(recent))
	}
	if !recent[0].PostedAt.After(recent[1].PostedAt) {
		t.Fatal("Recent not ordered most recent first")
	}

	counts, err := CountByCategory(ctx, db)
	if err != nil {
		t.Fatalf("CountByCategory: %v", err)
	}
	if counts["news"] != 2 || counts["hot_take"] != 1 {
		t.Fatalf("CountByCategory = %v, want news=2 hot_take=1", counts)
	}
}
