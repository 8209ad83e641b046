package engage

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chirpd/internal/config"
	"chirpd/internal/domain"
	"chirpd/internal/eligibility"
	"chirpd/internal/ledger"
	"chirpd/internal/social"
)

var t0 = time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

// fakeAPI scripts the social client surface.
type fakeAPI struct {
	me        domain.User
	mentions  []domain.Candidate
	users     map[string]domain.User
	timelines map[string][]domain.Tweet
	search    []domain.Candidate
	followers []domain.User
	following []domain.User

	postErr  error
	posts    []string // reply-to IDs in order
	followed []string
	nextPost int
}

func (f *fakeAPI) Me(ctx context.Context) (domain.User, error) { return f.me, nil }

func (f *fakeAPI) Mentions(ctx context.Context, userID, sinceID string) ([]domain.Candidate, error) {
	return f.mentions, nil
}

func (f *fakeAPI) UserByHandle(ctx context.Context, handle string) (domain.User, error) {
	u, ok := f.users[handle]
	if !ok {
		return domain.User{}, errors.New("no such user")
	}
	return u, nil
}

func (f *fakeAPI) UserTweets(ctx context.Context, userID string, max int) ([]domain.Tweet, error) {
	return f.timelines[userID], nil
}

func (f *fakeAPI) SearchRecent(ctx context.Context, query string, max int) ([]domain.Candidate, error) {
	return f.search, nil
}

func (f *fakeAPI) Followers(ctx context.Context, userID string) ([]domain.User, error) {
	return f.followers, nil
}

func (f *fakeAPI) Following(ctx context.Context, userID string) ([]domain.User, error) {
	return f.following, nil
}

func (f *fakeAPI) Follow(ctx context.Context, selfID, targetID string) error {
	f.followed = append(f.followed, targetID)
	return nil
}

func (f *fakeAPI) Post(ctx context.Context, text, replyToID string) (string, error) {
	if f.postErr != nil {
		return "", f.postErr
	}
	f.posts = append(f.posts, replyToID)
	f.nextPost++
	return "post-" + strconv.Itoa(f.nextPost), nil
}

// fakeGen returns a fixed reply.
type fakeGen struct {
	reply string
	err   error
	calls int
}

func (f *fakeGen) GenerateReply(ctx context.Context, tweetText, author, surface string) (string, error) {
	f.calls++
	return f.reply, f.err
}

// fakeBudget allows or denies uniformly and counts charges.
type fakeBudget struct {
	deny    bool
	records int
}

func (f *fakeBudget) Allow() bool { return !f.deny }
func (f *fakeBudget) Record()     { f.records++ }

func cfg() config.EngageConfig {
	return config.EngageConfig{
		MaxRepliesPerHour:   12,
		MaxProactivePerHour: 6,
		AuthorCooldown:      6 * time.Hour,
		Retention:           7 * 24 * time.Hour,
		Accounts:            []string{"lexfridman"},
		Topics:              []string{"large language model"},
		Searches:            []string{"AI safety"},
	}
}

func newEngine(t *testing.T, api *fakeAPI, gen *fakeGen, budget *fakeBudget) (*Engine, *ledger.Store) {
	t.Helper()
	store := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.json"), zerolog.Nop())
	e := New(api, gen, budget, store, cfg(), zerolog.Nop())
	e.nowFn = func() time.Time { return t0 }
	e.rng = rand.New(rand.NewSource(1))
	return e, store
}

func mention(id, handle, text string) domain.Candidate {
	return domain.Candidate{
		Tweet: domain.Tweet{
			ID:        id,
			AuthorID:  "author-" + id,
			Text:      text,
			CreatedAt: t0.Add(-time.Hour),
			Likes:     3,
		},
		Author: domain.User{ID: "author-" + id, Handle: handle, Followers: 500},
	}
}

func TestMentions_RepliesAndAdvancesCursor(t *testing.T) {
	api := &fakeAPI{
		me: domain.User{ID: "999", Handle: "chirpd_ai"},
		mentions: []domain.Candidate{
			mention("30", "alice", "@chirpd_ai thoughts on the new llm benchmarks?"),
			mention("20", "bob", "@chirpd_ai is agi closer than openai admits?"),
		},
	}
	gen := &fakeGen{reply: "benchmarks are the new astrology"}
	e, store := newEngine(t, api, gen, &fakeBudget{})

	out, err := e.Mentions(context.Background())
	if err != nil {
		t.Fatalf("Mentions: %v", err)
	}
	if out.Performed != 2 {
		t.Fatalf("Performed = %d (skipped %v), want 2", out.Performed, out.Skipped)
	}

	l := store.Load()
	if !l.HasReplied("30") || !l.HasReplied("20") {
		t.Error("ledger missing reply entries")
	}
	if l.LastMentionID() != "30" {
		t.Errorf("LastMentionID = %q, want newest seen (30)", l.LastMentionID())
	}
}

func TestMentions_DedupAcrossRuns(t *testing.T) {
	api := &fakeAPI{
		me:       domain.User{ID: "999", Handle: "chirpd_ai"},
		mentions: []domain.Candidate{mention("30", "alice", "@chirpd_ai thoughts on the new llm benchmarks?")},
	}
	gen := &fakeGen{reply: "benchmarks are the new astrology"}
	e, _ := newEngine(t, api, gen, &fakeBudget{})

	if out, _ := e.Mentions(context.Background()); out.Performed != 1 {
		t.Fatalf("first run Performed = %d, want 1", out.Performed)
	}
	out, _ := e.Mentions(context.Background())
	if out.Performed != 0 {
		t.Fatalf("second run Performed = %d, want 0 (dedup)", out.Performed)
	}
	if out.Skipped[eligibility.ReasonAlreadyReplied] != 1 {
		t.Fatalf("skipped = %v, want one already_replied", out.Skipped)
	}
	if len(api.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(api.posts))
	}
}

func TestMentions_BudgetDenyMakesNoCalls(t *testing.T) {
	api := &fakeAPI{me: domain.User{ID: "999", Handle: "chirpd_ai"}}
	budget := &fakeBudget{deny: true}
	e, _ := newEngine(t, api, &fakeGen{reply: "hi"}, budget)

	out, err := e.Mentions(context.Background())
	if err != nil {
		t.Fatalf("Mentions: %v", err)
	}
	if out.Skipped[SkipBudgetLow] == 0 {
		t.Fatalf("skipped = %v, want budget_low", out.Skipped)
	}
	if budget.records != 0 || len(api.posts) != 0 {
		t.Fatal("denied budget still made calls")
	}
}

func TestMentions_RateLimitedPostStopsSurface(t *testing.T) {
	api := &fakeAPI{
		me: domain.User{ID: "999", Handle: "chirpd_ai"},
		mentions: []domain.Candidate{
			mention("30", "alice", "@chirpd_ai thoughts on the new llm benchmarks?"),
			mention("20", "bob", "@chirpd_ai is agi closer than openai admits?"),
		},
		postErr: social.ErrRateLimited,
	}
	gen := &fakeGen{reply: "benchmarks are the new astrology"}
	e, store := newEngine(t, api, gen, &fakeBudget{})

	out, err := e.Mentions(context.Background())
	if err != nil {
		t.Fatalf("rate-limited post should be a skip, got error %v", err)
	}
	if out.Performed != 0 || out.Skipped[SkipRateLimited] != 1 {
		t.Fatalf("outcome = %+v, want one rate_limited skip and stop", out)
	}
	// No effect, no ledger reply entries; cursor still advanced so the
	// same mentions are not refetched forever.
	l := store.Load()
	if l.HasReplied("30") {
		t.Error("ledger recorded a reply that was never posted")
	}
	if l.LastMentionID() != "30" {
		t.Errorf("LastMentionID = %q, want 30", l.LastMentionID())
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1 (stopped after rate limit)", gen.calls)
	}
}

func TestProactive_OneReplyPerAccountAndCooldown(t *testing.T) {
	lex := domain.User{ID: "7", Handle: "lexfridman", Followers: 3_000_000}
	api := &fakeAPI{
		me:    domain.User{ID: "999", Handle: "chirpd_ai"},
		users: map[string]domain.User{"lexfridman": lex},
		timelines: map[string][]domain.Tweet{
			"7": {
				{ID: "t1", AuthorID: "7", Text: "new podcast episode on ai", CreatedAt: t0.Add(-time.Hour), Likes: 100},
				{ID: "t2", AuthorID: "7", Text: "another fresh ai tweet", CreatedAt: t0.Add(-time.Hour), Likes: 100},
			},
		},
	}
	gen := &fakeGen{reply: "this is the crossover episode we needed"}
	e, store := newEngine(t, api, gen, &fakeBudget{})

	out, err := e.Proactive(context.Background())
	if err != nil {
		t.Fatalf("Proactive: %v", err)
	}
	if out.Performed != 1 {
		t.Fatalf("Performed = %d (skipped %v), want 1 (one reply per account)", out.Performed, out.Skipped)
	}

	// A second run inside the cooldown window skips the same author.
	out2, err := e.Proactive(context.Background())
	if err != nil {
		t.Fatalf("Proactive: %v", err)
	}
	if out2.Performed != 0 {
		t.Fatalf("second run Performed = %d, want 0 (author cooldown)", out2.Performed)
	}
	if out2.Skipped[eligibility.ReasonAuthorCooldown] == 0 && out2.Skipped[eligibility.ReasonAlreadyReplied] == 0 {
		t.Fatalf("skipped = %v, want cooldown or dedup rejections", out2.Skipped)
	}

	replies, proactive, _ := store.Load().Sizes()
	if replies != 0 || proactive != 1 {
		t.Fatalf("ledger sizes = %d/%d, want 0 replies, 1 proactive", replies, proactive)
	}
}

func TestTopic_CooldownSharedWithMentionSurface(t *testing.T) {
	// Alice got a mention reply moments ago; the topic surface must not
	// contact her again inside the cooldown.
	api := &fakeAPI{
		me: domain.User{ID: "999", Handle: "chirpd_ai"},
		search: []domain.Candidate{
			{
				Tweet:  domain.Tweet{ID: "s1", AuthorID: "a1", Text: "llm scaling is hitting a wall", CreatedAt: t0.Add(-time.Hour), Likes: 80},
				Author: domain.User{ID: "a1", Handle: "alice", Followers: 50_000},
			},
		},
	}
	gen := &fakeGen{reply: "walls are just doors that need more compute honestly"}
	e, store := newEngine(t, api, gen, &fakeBudget{})

	l := store.Load()
	l.AppendReply(domain.ReplyEntry{TweetID: "m1", Author: "alice", Reply: "hey", Timestamp: t0.Add(-time.Hour)})
	if err := store.Save(l); err != nil {
		t.Fatal(err)
	}

	out, err := e.Topic(context.Background())
	if err != nil {
		t.Fatalf("Topic: %v", err)
	}
	if out.Performed != 0 || out.Skipped[eligibility.ReasonAuthorCooldown] != 1 {
		t.Fatalf("outcome = %+v, want one author_cooldown skip", out)
	}
}

func TestTopicAndViral_EmptyQueryPoolsAreSkips(t *testing.T) {
	api := &fakeAPI{me: domain.User{ID: "999", Handle: "chirpd_ai"}}
	budget := &fakeBudget{}
	e, _ := newEngine(t, api, &fakeGen{}, budget)
	e.cfg.Topics = nil
	e.cfg.Searches = nil

	out, err := e.Topic(context.Background())
	if err != nil {
		t.Fatalf("Topic: %v", err)
	}
	if out.Performed != 0 || out.Skipped[SkipNoQueries] != 1 {
		t.Fatalf("Topic outcome = %+v, want one no_queries skip", out)
	}

	out, err = e.Viral(context.Background())
	if err != nil {
		t.Fatalf("Viral: %v", err)
	}
	if out.Performed != 0 || out.Skipped[SkipNoQueries] != 1 {
		t.Fatalf("Viral outcome = %+v, want one no_queries skip", out)
	}
	if budget.records != 0 {
		t.Fatalf("budget.records = %d, want 0 (no search calls made)", budget.records)
	}
}

func TestViral_QuotaExhaustionIsAnError(t *testing.T) {
	api := &fakeAPI{
		me: domain.User{ID: "999", Handle: "chirpd_ai"},
		search: []domain.Candidate{
			{
				Tweet:  domain.Tweet{ID: "v1", AuthorID: "b1", Text: "AGI by friday", CreatedAt: t0.Add(-time.Hour), Likes: 900},
				Author: domain.User{ID: "b1", Handle: "bigaccount", Followers: 200_000},
			},
		},
		postErr: social.ErrQuotaExhausted,
	}
	gen := &fakeGen{reply: "friday of which year though"}
	e, _ := newEngine(t, api, gen, &fakeBudget{})

	_, err := e.Viral(context.Background())
	if !errors.Is(err, social.ErrQuotaExhausted) {
		t.Fatalf("err = %v, want ErrQuotaExhausted", err)
	}
}

func TestFollowBack_ScreensBotsAndCapsFollows(t *testing.T) {
	var followers []domain.User
	followers = append(followers, domain.User{ID: "bot1", Handle: "crypto_signal_pro"})
	for i := 0; i < 20; i++ {
		followers = append(followers, domain.User{ID: "u" + strconv.Itoa(i), Handle: "person" + strconv.Itoa(i)})
	}
	api := &fakeAPI{
		me:        domain.User{ID: "999", Handle: "chirpd_ai"},
		followers: followers,
		following: []domain.User{{ID: "u0"}},
	}
	e, store := newEngine(t, api, &fakeGen{}, &fakeBudget{})

	out, err := e.FollowBack(context.Background())
	if err != nil {
		t.Fatalf("FollowBack: %v", err)
	}
	if out.Performed != followsPerCycle {
		t.Fatalf("Performed = %d, want cap %d", out.Performed, followsPerCycle)
	}
	if out.Skipped[eligibility.ReasonSpamOrBot] != 1 {
		t.Fatalf("skipped = %v, want one spam_or_bot", out.Skipped)
	}
	for _, id := range api.followed {
		if id == "u0" {
			t.Error("followed an account we already follow")
		}
		if id == "bot1" {
			t.Error("followed a bot")
		}
	}

	// The bot is marked processed so it is never reconsidered.
	l := store.Load()
	if !l.HasFollowed("bot1") {
		t.Error("bot not marked processed")
	}

	// Second run: everyone processed or already followed, nothing to do.
	out2, err := e.FollowBack(context.Background())
	if err != nil {
		t.Fatalf("FollowBack: %v", err)
	}
	if out2.Performed != 4 {
		t.Fatalf("second run Performed = %d, want the 4 remaining", out2.Performed)
	}
}

func TestHourlyCapSharedAcrossSurfaces(t *testing.T) {
	api := &fakeAPI{
		me:       domain.User{ID: "999", Handle: "chirpd_ai"},
		mentions: []domain.Candidate{mention("30", "alice", "@chirpd_ai thoughts on the new llm benchmarks?")},
	}
	e, store := newEngine(t, api, &fakeGen{reply: "capped"}, &fakeBudget{})

	l := store.Load()
	for i := 0; i < cfg().MaxRepliesPerHour; i++ {
		l.AppendProactive(domain.ProactiveEntry{
			TweetID:   "p" + strconv.Itoa(i),
			Target:    "t" + strconv.Itoa(i),
			Timestamp: t0.Add(-30 * time.Minute),
		})
	}
	if err := store.Save(l); err != nil {
		t.Fatal(err)
	}

	out, err := e.Mentions(context.Background())
	if err != nil {
		t.Fatalf("Mentions: %v", err)
	}
	if out.Performed != 0 || out.Skipped[SkipHourlyCap] != 1 {
		t.Fatalf("outcome = %+v, want hourly_cap skip before any fetch", out)
	}
}

func TestPruneLedger(t *testing.T) {
	api := &fakeAPI{me: domain.User{ID: "999", Handle: "chirpd_ai"}}
	e, store := newEngine(t, api, &fakeGen{}, &fakeBudget{})

	l := store.Load()
	l.AppendReply(domain.ReplyEntry{TweetID: "old", Author: "a", Timestamp: t0.Add(-8 * 24 * time.Hour)})
	l.AppendReply(domain.ReplyEntry{TweetID: "new", Author: "b", Timestamp: t0.Add(-time.Hour)})
	if err := store.Save(l); err != nil {
		t.Fatal(err)
	}

	e.PruneLedger()

	l2 := store.Load()
	if l2.HasReplied("old") {
		t.Error("prune kept an entry past retention")
	}
	if !l2.HasReplied("new") {
		t.Error("prune dropped a live entry")
	}
}
