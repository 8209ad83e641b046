package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"chirpd/internal/config"
	"chirpd/internal/content"
	"chirpd/internal/domain"
	"chirpd/internal/postlog"
	"chirpd/internal/scheduler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeOps struct {
	mu             sync.Mutex
	postCategories []string
	postErr        error
	engaged        chan struct{}
}

func (f *fakeOps) Snapshot() scheduler.Status {
	return scheduler.Status{
		QueueTotal:      5,
		QueueUnposted:   3,
		LedgerReplies:   7,
		BudgetUsed:      10,
		BudgetRemaining: 35,
	}
}

func (f *fakeOps) RunPostingCycle(_ context.Context, category string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.postCategories = append(f.postCategories, category)
	return nil
}

func (f *fakeOps) RunEngagementCycle(context.Context) {
	if f.engaged != nil {
		f.engaged <- struct{}{}
	}
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := postlog.OpenSQLite(filepath.Join(t.TempDir(), "posts.db"))
	if err != nil {
		t.Fatalf("open post log: %v", err)
	}
	if err := postlog.AutoMigrate(db); err != nil {
		t.Fatalf("migrate post log: %v", err)
	}
	return db
}

func newTestServer(t *testing.T, ops *fakeOps) (*Server, *gorm.DB) {
	t.Helper()
	db := testDB(t)
	cfg := config.OpsConfig{
		Addr:      "127.0.0.1:0",
		RateRPS:   100,
		RateBurst: 100,
	}
	s := New(cfg, "chirpd-test", ops, db, time.UTC, zerolog.Nop())
	s.nowFn = func() time.Time { return time.Date(2026, 8, 27, 18, 0, 0, 0, time.UTC) }
	return s, db
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, &fakeOps{})
	w := doRequest(s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestStatusCombinesSnapshotAndPostLog(t *testing.T) {
	s, db := newTestServer(t, &fakeOps{})

	for _, cat := range []string{"hot_take", "hot_take", "philosophical"} {
		err := postlog.Append(context.Background(), db, &domain.PostRecord{
			TweetID:  "t-" + cat,
			Text:     "x",
			Category: cat,
			Kind:     "single",
			PostedAt: time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("seed post log: %v", err)
		}
	}

	w := doRequest(s, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		QueueTotal      int              `json:"queue_total"`
		PostsToday      int64            `json:"posts_today"`
		PostsByCategory map[string]int64 `json:"posts_by_category"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.QueueTotal != 5 {
		t.Fatalf("queue_total = %d, want the snapshot value", resp.QueueTotal)
	}
	if resp.PostsToday != 3 {
		t.Fatalf("posts_today = %d, want 3", resp.PostsToday)
	}
	if resp.PostsByCategory["hot_take"] != 2 {
		t.Fatalf("posts_by_category = %v", resp.PostsByCategory)
	}
}

func TestRecentPostsLimitValidation(t *testing.T) {
	s, _ := newTestServer(t, &fakeOps{})

	for _, bad := range []string{"abc", "0", "-3", "1000"} {
		w := doRequest(s, http.MethodGet, "/posts/recent?limit="+bad, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s status = %d, want 400", bad, w.Code)
		}
		var resp errorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Code != codeBadRequest {
			t.Fatalf("code = %q", resp.Code)
		}
	}
}

func TestPostCyclePassesCategory(t *testing.T) {
	ops := &fakeOps{}
	s, _ := newTestServer(t, ops)

	w := doRequest(s, http.MethodPost, "/cycles/post", `{"category":"hot_take"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(ops.postCategories) != 1 || ops.postCategories[0] != "hot_take" {
		t.Fatalf("categories = %v", ops.postCategories)
	}
}

func TestPostCycleQuotaMapsTo503(t *testing.T) {
	ops := &fakeOps{postErr: content.ErrDailyQuota}
	s, _ := newTestServer(t, ops)

	w := doRequest(s, http.MethodPost, "/cycles/post", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != codeUnavailable {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestPostCycleRejectsMalformedBody(t *testing.T) {
	s, _ := newTestServer(t, &fakeOps{})
	w := doRequest(s, http.MethodPost, "/cycles/post", `{"category":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestEngageCycleDetaches(t *testing.T) {
	ops := &fakeOps{engaged: make(chan struct{}, 1)}
	s, _ := newTestServer(t, ops)

	w := doRequest(s, http.MethodPost, "/cycles/engage", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	select {
	case <-ops.engaged:
	case <-time.After(2 * time.Second):
		t.Fatal("engagement cycle never started")
	}
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	s, _ := newTestServer(t, &fakeOps{})
	w := doRequest(s, http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != codeNotFound {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestRateLimiterAnswers429(t *testing.T) {
	ops := &fakeOps{}
	db := testDB(t)
	cfg := config.OpsConfig{Addr: "127.0.0.1:0", RateRPS: 0.0001, RateBurst: 1}
	s := New(cfg, "chirpd-test", ops, db, time.UTC, zerolog.Nop())

	if w := doRequest(s, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	w := doRequest(s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}
