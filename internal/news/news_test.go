package news

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const feedTemplate = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>%s</title>
%s
</channel></rss>`

func feedBody(title string, items int) string {
	var entries string
	for i := 0; i < items; i++ {
		entries += fmt.Sprintf(
			"<item><title>%s story %d</title><description>summary %d</description><link>https://example.com/%d</link></item>",
			title, i, i, i)
	}
	return fmt.Sprintf(feedTemplate, title, entries)
}

func TestHeadlines_PerFeedLimitAndSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedBody("TechFeed", 5)))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher([]string{srv.URL}, time.Hour, zerolog.Nop())
	got := f.Headlines(context.Background())
	if len(got) != perFeedLimit {
		t.Fatalf("len(headlines) = %d, want %d", len(got), perFeedLimit)
	}
	if got[0].Source != "TechFeed" || got[0].Link == "" {
		t.Fatalf("headline = %+v", got[0])
	}
}

func TestHeadlines_PublishedIsRFC3339(t *testing.T) {
	body := fmt.Sprintf(feedTemplate, "Feed",
		"<item><title>dated</title><link>https://example.com/1</link>"+
			"<pubDate>Wed, 26 Aug 2026 09:30:00 +0200</pubDate></item>"+
			"<item><title>undated</title><link>https://example.com/2</link></item>")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher([]string{srv.URL}, time.Hour, zerolog.Nop())
	got := f.Headlines(context.Background())
	if len(got) != 2 {
		t.Fatalf("len(headlines) = %d, want 2", len(got))
	}
	if got[0].Published != "2026-08-26T07:30:00Z" {
		t.Fatalf("Published = %q, want UTC RFC3339", got[0].Published)
	}
	if got[1].Published != "" {
		t.Fatalf("Published = %q for item without pubDate, want empty", got[1].Published)
	}
}

func TestHeadlines_DeadFeedSkipped(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedBody("GoodFeed", 2)))
	}))
	t.Cleanup(good.Close)
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(dead.Close)

	f := NewFetcher([]string{dead.URL, good.URL}, time.Hour, zerolog.Nop())
	got := f.Headlines(context.Background())
	if len(got) != 2 {
		t.Fatalf("len(headlines) = %d, want 2 from the healthy feed", len(got))
	}
}

func TestHeadlines_CacheTTL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(feedBody("Feed", 1)))
	}))
	t.Cleanup(srv.Close)

	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	f := NewFetcher([]string{srv.URL}, 30*time.Minute, zerolog.Nop())
	f.nowFn = func() time.Time { return now }

	f.Headlines(context.Background())
	f.Headlines(context.Background())
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1 (cache inside TTL)", hits.Load())
	}

	now = now.Add(31 * time.Minute)
	f.Headlines(context.Background())
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want 2 (cache expired)", hits.Load())
	}
}

func TestHeadlines_KeepsStaleCacheWhenRefreshFails(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(feedBody("Feed", 1)))
	}))
	t.Cleanup(srv.Close)

	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	f := NewFetcher([]string{srv.URL}, 30*time.Minute, zerolog.Nop())
	f.nowFn = func() time.Time { return now }

	first := f.Headlines(context.Background())
	if len(first) != 1 {
		t.Fatalf("first fetch = %d headlines, want 1", len(first))
	}

	healthy = false
	now = now.Add(time.Hour)
	second := f.Headlines(context.Background())
	if len(second) != 1 {
		t.Fatalf("stale cache lost: %d headlines, want 1", len(second))
	}
}
