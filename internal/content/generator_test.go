package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chirpd/internal/domain"
)

// fakeLLM scripts chat-completions responses in order. Each step is either
// a content string or an HTTP status with a body.
type step struct {
	status int
	body   string
	text   string
}

func newFakeLLM(t *testing.T, steps []step) (*httptest.Server, *[]chatRequest) {
	t.Helper()
	var requests []chatRequest
	i := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		requests = append(requests, req)

		if i >= len(steps) {
			t.Errorf("unexpected request %d", i+1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s := steps[i]
		i++
		if s.status != 0 {
			w.WriteHeader(s.status)
			_, _ = w.Write([]byte(s.body))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": s.text}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func testGenerator(t *testing.T, steps []step) (*Generator, *[]chatRequest, *[]time.Duration) {
	t.Helper()
	srv, requests := newFakeLLM(t, steps)
	var waits []time.Duration
	g := New("key", "primary-model", "cheap-model", zerolog.Nop(),
		WithBaseURL(srv.URL),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}),
	)
	return g, requests, &waits
}

func TestGenerate_OpinionPassesWithoutModelFactCheck(t *testing.T) {
	g, requests, _ := testGenerator(t, []step{
		{text: "most meetings could be an email"},
	})

	item, err := g.Generate(context.Background(), "hot_take", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if item.Kind != domain.KindSingle || item.Text != "most meetings could be an email" {
		t.Fatalf("item = %+v", item)
	}
	if len(*requests) != 1 {
		t.Fatalf("requests = %d, want 1 (no verification call for plain opinions)", len(*requests))
	}
}

func TestGenerate_CompanyMixupRegeneratesWithCorrection(t *testing.T) {
	g, requests, _ := testGenerator(t, []step{
		{text: "claude by openai is getting scary good"},
		{text: "anthropic shipping while everyone else tweets"},
	})

	item, err := g.Generate(context.Background(), "hot_take", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if item.Text != "anthropic shipping while everyone else tweets" {
		t.Fatalf("item.Text = %q, want the regenerated draft", item.Text)
	}

	second := (*requests)[1].Messages[1].Content
	if !strings.Contains(second, "FAILED FACT-CHECK") || !strings.Contains(second, "Anthropic, not OpenAI") {
		t.Fatalf("regeneration prompt missing corrective instruction: %s", second)
	}
}

func TestGenerate_FabricationWithoutHeadlinesUsesLastDraftAfterRetries(t *testing.T) {
	g, requests, _ := testGenerator(t, []step{
		{text: "openai just announced agi"},
		{text: "google just revealed quantum supremacy again"},
		{text: "tesla just confirmed the robotaxi date"},
	})

	item, err := g.Generate(context.Background(), "news_commentary", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// All three drafts failed the gate; the last one is used anyway.
	if item.Text != "tesla just confirmed the robotaxi date" {
		t.Fatalf("item.Text = %q, want last draft", item.Text)
	}
	if len(*requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(*requests))
	}
}

func TestGenerate_FabricationVerifiedAgainstHeadlines(t *testing.T) {
	g, requests, _ := testGenerator(t, []step{
		{text: "spacex just announced starship flight 12"},
		{text: "PASS\nmatches the starship headline"},
	})

	news := []domain.Headline{{Title: "SpaceX announces Starship flight 12", Source: "sfn"}}
	item, err := g.Generate(context.Background(), "news_commentary", news)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if item.Text != "spacex just announced starship flight 12" {
		t.Fatalf("item.Text = %q", item.Text)
	}

	// Verification goes to the cheap model.
	verify := (*requests)[1]
	if verify.Model != "cheap-model" {
		t.Errorf("verification model = %s, want cheap-model", verify.Model)
	}
	if !strings.Contains(verify.Messages[0].Content, "Starship flight 12") {
		t.Errorf("verification prompt missing headline: %s", verify.Messages[0].Content)
	}
}

func TestGenerate_ThreadParsesJSONArray(t *testing.T) {
	g, _, _ := testGenerator(t, []step{
		{text: `["first tweet", "second tweet", "third tweet"]`},
	})

	item, err := g.Generate(context.Background(), "thread", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if item.Kind != domain.KindThread || len(item.Tweets) != 3 {
		t.Fatalf("item = %+v, want 3-tweet thread", item)
	}
}

func TestGenerate_ThreadFallsBackToSingle(t *testing.T) {
	g, _, _ := testGenerator(t, []step{
		{text: "the model ignored the json instruction"},
	})

	item, err := g.Generate(context.Background(), "thread", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if item.Kind != domain.KindSingle {
		t.Fatalf("Kind = %s, want single fallback", item.Kind)
	}
}

func TestComplete_ShortTermLimitBacksOffThenFallsBack(t *testing.T) {
	limited := step{status: http.StatusTooManyRequests, body: `{"error": {"message": "rate_limit_exceeded"}}`}
	g, requests, waits := testGenerator(t, []step{
		limited, limited, // primary: attempt, backoff, attempt
		{text: "from the fallback"},
	})

	text, err := g.complete(context.Background(), []chatMessage{{Role: "user", Content: "hi"}}, 256, 0.9)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "from the fallback" {
		t.Fatalf("text = %q", text)
	}
	if len(*waits) != 1 || (*waits)[0] != 15*time.Second {
		t.Fatalf("waits = %v, want one 15s backoff", *waits)
	}
	if (*requests)[2].Model != "cheap-model" {
		t.Fatalf("third request model = %s, want cheap-model", (*requests)[2].Model)
	}
}

func TestComplete_DailyQuotaFailsFast(t *testing.T) {
	daily := step{status: http.StatusTooManyRequests, body: `{"error": {"message": "Rate limit reached: tokens per day (TPD)"}}`}
	g, _, waits := testGenerator(t, []step{daily, daily})

	_, err := g.complete(context.Background(), []chatMessage{{Role: "user", Content: "hi"}}, 256, 0.9)
	if !errors.Is(err, ErrDailyQuota) {
		t.Fatalf("err = %v, want ErrDailyQuota", err)
	}
	// Daily quotas are never waited out.
	if len(*waits) != 0 {
		t.Fatalf("waits = %v, want none", *waits)
	}
}

func TestGenerateReply_DeclinesOnNonQuotaFailure(t *testing.T) {
	g, _, _ := testGenerator(t, []step{
		{status: http.StatusBadRequest, body: `{"error": {"message": "bad request"}}`},
	})

	text, err := g.GenerateReply(context.Background(), "some tweet", "alice", "mention")
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if text != "" {
		t.Fatalf("text = %q, want empty decline", text)
	}
}

func TestGenerateReply_PropagatesDailyQuota(t *testing.T) {
	daily := step{status: http.StatusTooManyRequests, body: `{"error": {"message": "tokens per day exceeded"}}`}
	g, _, _ := testGenerator(t, []step{daily, daily})

	_, err := g.GenerateReply(context.Background(), "some tweet", "alice", "mention")
	if !errors.Is(err, ErrDailyQuota) {
		t.Fatalf("err = %v, want ErrDailyQuota", err)
	}
}

func TestNewsTake_CarriesSourceLink(t *testing.T) {
	g, _, _ := testGenerator(t, []step{
		{text: `"robotaxis before FSD is solved is a choice"`},
	})

	h := domain.Headline{Title: "Tesla robotaxi event", Link: "https://example.com/rt", Source: "electrek"}
	item, err := g.NewsTake(context.Background(), h)
	if err != nil {
		t.Fatalf("NewsTake: %v", err)
	}
	if item.Kind != domain.KindNewsShare || item.SourceLink != h.Link || item.SourceTitle != h.Title {
		t.Fatalf("item = %+v", item)
	}
	if strings.HasPrefix(item.Text, `"`) {
		t.Fatalf("wrapping quotes not stripped: %q", item.Text)
	}
}

func TestRuleCheck(t *testing.T) {
	cases := []struct {
		text       string
		wantOK     bool
		wantSignal string
	}{
		{"claude from openai is wild", false, ""},
		{"claude by anthropic vs openai, the real race", true, ""},
		{"grok and google in the same sentence, courtesy of xai haters", true, ""},
		{"gemini is openai's biggest problem", false, ""},
		{"openai just announced something", true, "just announced"},
		{"plain opinion about nothing", true, ""},
	}
	for _, tc := range cases {
		ok, signal, _ := ruleCheck(tc.text)
		if ok != tc.wantOK || signal != tc.wantSignal {
			t.Errorf("ruleCheck(%q) = (%v, %q), want (%v, %q)", tc.text, ok, signal, tc.wantOK, tc.wantSignal)
		}
	}
}
