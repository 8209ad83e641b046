// Package engage implements the five engagement surfaces: replying to
// mentions, following back new followers, proactive replies to watched
// accounts, topic-search replies, and viral-search replies.
//
// Every surface follows the same shape: check the call budget, load the
// ledger, walk candidates through the eligibility filter, generate and post
// replies, append ledger entries, and persist the ledger before returning.
// Expected skips (filter rejections, declined generations, short-term rate
// limits) are counted in the Outcome; only unexpected failures and quota
// exhaustion surface as errors.
package engage

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"chirpd/internal/config"
	"chirpd/internal/domain"
	"chirpd/internal/eligibility"
	"chirpd/internal/ledger"
	"chirpd/internal/social"
)

// Per-cycle caps. Hourly caps live in the ledger queries; these bound how
// much one surface run can do regardless of the hour's remaining headroom.
const (
	proactiveTargetsPerCycle = 3
	topicRepliesPerCycle     = 6
	viralRepliesPerCycle     = 4
	followsPerCycle          = 15
)

// SocialAPI is the slice of the social client the engine consumes.
type SocialAPI interface {
	Me(ctx context.Context) (domain.User, error)
	Mentions(ctx context.Context, userID, sinceID string) ([]domain.Candidate, error)
	UserByHandle(ctx context.Context, handle string) (domain.User, error)
	UserTweets(ctx context.Context, userID string, max int) ([]domain.Tweet, error)
	SearchRecent(ctx context.Context, query string, max int) ([]domain.Candidate, error)
	Followers(ctx context.Context, userID string) ([]domain.User, error)
	Following(ctx context.Context, userID string) ([]domain.User, error)
	Follow(ctx context.Context, selfID, targetID string) error
	Post(ctx context.Context, text, replyToID string) (string, error)
}

// ReplyGenerator produces reply text. An empty reply with a nil error means
// the generator declined and the candidate is skipped.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, tweetText, author, surface string) (string, error)
}

// Budget gates outbound API calls. Allow checks, Record charges.
type Budget interface {
	Allow() bool
	Record()
}

// Engine runs the engagement surfaces.
type Engine struct {
	api    SocialAPI
	gen    ReplyGenerator
	budget Budget
	store  *ledger.Store
	cfg    config.EngageConfig
	log    zerolog.Logger

	self   domain.User
	filter *eligibility.Filter

	// nowFn and rng are test seams.
	nowFn func() time.Time
	rng   *rand.Rand
}

// New returns an engine over the given collaborators.
func New(api SocialAPI, gen ReplyGenerator, budget Budget, store *ledger.Store, cfg config.EngageConfig, log zerolog.Logger) *Engine {
	return &Engine{
		api:    api,
		gen:    gen,
		budget: budget,
		store:  store,
		cfg:    cfg,
		log:    log.With().Str("component", "engage").Logger(),
		nowFn:  time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ensureSelf resolves and caches the authenticated account, building the
// eligibility filter on first use.
func (e *Engine) ensureSelf(ctx context.Context) error {
	if e.self.ID != "" {
		return nil
	}
	if !e.budget.Allow() {
		return errBudgetLow
	}
	me, err := e.api.Me(ctx)
	e.budget.Record()
	if err != nil {
		return err
	}
	e.self = me
	e.filter = eligibility.New(me.ID, me.Handle, e.cfg.AuthorCooldown, e.cfg.MaxRepliesPerHour)
	return nil
}

// errBudgetLow is internal: surfaces convert it to a counted skip.
var errBudgetLow = errors.New("engage: api budget low")

// Outcome reports what one surface run did. Performed counts effects
// (replies or follows); Skipped counts candidates dropped, keyed by reason.
type Outcome struct {
	Surface   eligibility.Surface
	Performed int
	Skipped   map[string]int
}

func newOutcome(surface eligibility.Surface) Outcome {
	return Outcome{Surface: surface, Skipped: make(map[string]int)}
}

// skip counts one skipped candidate.
func (o *Outcome) skip(reason string) { o.Skipped[reason]++ }

// Skip reasons beyond the eligibility filter's.
const (
	SkipBudgetLow     = "budget_low"
	SkipRateLimited   = "rate_limited"
	SkipDeclined      = "generator_declined"
	SkipReplyTooShort = "reply_too_short"
	SkipHourlyCap     = "hourly_cap"
	SkipProactiveCap  = "proactive_hourly_cap"
	SkipNoQueries     = "no_queries"
)

// saveLedger persists the ledger, logging rather than failing the surface:
// the replies already went out, so losing the run is worse than retrying a
// save next cycle.
func (e *Engine) saveLedger(l *ledger.Ledger) {
	if err := e.store.Save(l); err != nil {
		e.log.Error().Err(err).Msg("ledger save failed")
	}
}

// Mentions replies to unanswered mentions newer than the stored high-water
// mark.
func (e *Engine) Mentions(ctx context.Context) (Outcome, error) {
	out := newOutcome(eligibility.SurfaceMention)
	now := e.nowFn()

	if err := e.ensureSelf(ctx); err != nil {
		return e.surfaceErr(out, err)
	}
	l := e.store.Load()
	if l.RepliesInLast(time.Hour, now) >= e.cfg.MaxRepliesPerHour {
		out.skip(SkipHourlyCap)
		return out, nil
	}
	if !e.budget.Allow() {
		out.skip(SkipBudgetLow)
		return out, nil
	}

	cands, err := e.api.Mentions(ctx, e.self.ID, l.LastMentionID())
	e.budget.Record()
	if err != nil {
		return e.surfaceErr(out, err)
	}
	if len(cands) == 0 {
		return out, nil
	}

	// The API returns newest first; advance the cursor to the newest seen
	// whether or not we reply, so spam is never re-fetched.
	l.SetLastMentionID(cands[0].Tweet.ID)
	defer e.saveLedger(l)

	for _, cand := range cands {
		if d := e.filter.Check(eligibility.SurfaceMention, cand, l, now); !d.OK {
			out.skip(d.Reason)
			if d.Reason == eligibility.ReasonHourlyCap {
				break
			}
			continue
		}
		posted, reason, err := e.reply(ctx, l, cand, eligibility.SurfaceMention, "")
		if err != nil {
			return e.surfaceErr(out, err)
		}
		if !posted {
			out.skip(reason)
			if reason == SkipRateLimited {
				break
			}
			continue
		}
		out.Performed++
	}
	return out, nil
}

// FollowBack follows accounts that follow us and are not yet followed,
// screening out bots. Rejected bots are marked processed so they are never
// reconsidered.
func (e *Engine) FollowBack(ctx context.Context) (Outcome, error) {
	out := newOutcome(eligibility.SurfaceFollowBack)

	if err := e.ensureSelf(ctx); err != nil {
		return e.surfaceErr(out, err)
	}
	if !e.budget.Allow() {
		out.skip(SkipBudgetLow)
		return out, nil
	}
	followers, err := e.api.Followers(ctx, e.self.ID)
	e.budget.Record()
	if err != nil {
		return e.surfaceErr(out, err)
	}
	if len(followers) == 0 {
		return out, nil
	}
	if !e.budget.Allow() {
		out.skip(SkipBudgetLow)
		return out, nil
	}
	following, err := e.api.Following(ctx, e.self.ID)
	e.budget.Record()
	if err != nil {
		return e.surfaceErr(out, err)
	}
	followingIDs := make(map[string]struct{}, len(following))
	for _, u := range following {
		followingIDs[u.ID] = struct{}{}
	}

	l := e.store.Load()
	defer e.saveLedger(l)

	for _, follower := range followers {
		if _, ok := followingIDs[follower.ID]; ok {
			continue
		}
		if l.HasFollowed(follower.ID) {
			continue
		}
		if eligibility.IsSpamOrBot(follower.Handle, "") {
			// Mark processed so the account is skipped forever.
			l.MarkFollowed(follower.ID)
			out.skip(eligibility.ReasonSpamOrBot)
			e.log.Info().Str("handle", follower.Handle).Msg("skipping bot follow-back")
			continue
		}
		if !e.budget.Allow() {
			out.skip(SkipBudgetLow)
			break
		}
		err := e.api.Follow(ctx, e.self.ID, follower.ID)
		e.budget.Record()
		if err != nil {
			if errors.Is(err, social.ErrRateLimited) {
				out.skip(SkipRateLimited)
				break
			}
			return e.surfaceErr(out, err)
		}
		l.MarkFollowed(follower.ID)
		out.Performed++
		e.log.Info().Str("handle", follower.Handle).Msg("followed back")
		if out.Performed >= followsPerCycle {
			break
		}
	}
	return out, nil
}

// Proactive replies to fresh tweets from a random sample of the watched
// accounts, at most one reply per account per cycle.
func (e *Engine) Proactive(ctx context.Context) (Outcome, error) {
	out := newOutcome(eligibility.SurfaceProactive)
	now := e.nowFn()

	if err := e.ensureSelf(ctx); err != nil {
		return e.surfaceErr(out, err)
	}
	l := e.store.Load()
	if l.RepliesInLast(time.Hour, now) >= e.cfg.MaxRepliesPerHour {
		out.skip(SkipHourlyCap)
		return out, nil
	}
	if l.ProactiveInLast(time.Hour, now) >= e.cfg.MaxProactivePerHour {
		out.skip(SkipProactiveCap)
		return out, nil
	}
	defer e.saveLedger(l)

	for _, handle := range e.sampleAccounts() {
		if l.RepliesInLast(time.Hour, now) >= e.cfg.MaxRepliesPerHour {
			out.skip(SkipHourlyCap)
			break
		}
		if !e.budget.Allow() {
			out.skip(SkipBudgetLow)
			break
		}
		user, err := e.api.UserByHandle(ctx, handle)
		e.budget.Record()
		if err != nil {
			if errors.Is(err, social.ErrRateLimited) {
				out.skip(SkipRateLimited)
				break
			}
			if errors.Is(err, social.ErrQuotaExhausted) {
				return e.surfaceErr(out, err)
			}
			e.log.Warn().Err(err).Str("handle", handle).Msg("target lookup failed, skipping")
			continue
		}
		if !e.budget.Allow() {
			out.skip(SkipBudgetLow)
			break
		}
		tweets, err := e.api.UserTweets(ctx, user.ID, 10)
		e.budget.Record()
		if err != nil {
			if errors.Is(err, social.ErrRateLimited) {
				out.skip(SkipRateLimited)
				break
			}
			if errors.Is(err, social.ErrQuotaExhausted) {
				return e.surfaceErr(out, err)
			}
			e.log.Warn().Err(err).Str("handle", handle).Msg("timeline fetch failed, skipping")
			continue
		}

		for _, t := range tweets {
			cand := domain.Candidate{Tweet: t, Author: user}
			if d := e.filter.Check(eligibility.SurfaceProactive, cand, l, now); !d.OK {
				out.skip(d.Reason)
				continue
			}
			posted, reason, err := e.reply(ctx, l, cand, eligibility.SurfaceProactive, "")
			if err != nil {
				return e.surfaceErr(out, err)
			}
			if !posted {
				out.skip(reason)
				continue
			}
			out.Performed++
			break // one reply per account, then the next target
		}
	}
	return out, nil
}

// Topic searches a random engagement topic and replies to high-visibility
// tweets about it.
func (e *Engine) Topic(ctx context.Context) (Outcome, error) {
	if len(e.cfg.Topics) == 0 {
		out := newOutcome(eligibility.SurfaceTopic)
		out.skip(SkipNoQueries)
		return out, nil
	}
	topic := e.cfg.Topics[e.rng.Intn(len(e.cfg.Topics))]
	return e.searchSurface(ctx, eligibility.SurfaceTopic, topic, topic, topicRepliesPerCycle)
}

// Viral searches a random viral query and replies to tweets from accounts
// with real audiences.
func (e *Engine) Viral(ctx context.Context) (Outcome, error) {
	if len(e.cfg.Searches) == 0 {
		out := newOutcome(eligibility.SurfaceViral)
		out.skip(SkipNoQueries)
		return out, nil
	}
	query := e.cfg.Searches[e.rng.Intn(len(e.cfg.Searches))]
	return e.searchSurface(ctx, eligibility.SurfaceViral, query, "viral:"+query, viralRepliesPerCycle)
}

// searchSurface is the shared topic/viral implementation: one search call,
// then filtered replies up to the per-cycle cap.
func (e *Engine) searchSurface(ctx context.Context, surface eligibility.Surface, query, topicLabel string, maxReplies int) (Outcome, error) {
	out := newOutcome(surface)
	now := e.nowFn()

	if err := e.ensureSelf(ctx); err != nil {
		return e.surfaceErr(out, err)
	}
	l := e.store.Load()
	if l.RepliesInLast(time.Hour, now) >= e.cfg.MaxRepliesPerHour {
		out.skip(SkipHourlyCap)
		return out, nil
	}
	if !e.budget.Allow() {
		out.skip(SkipBudgetLow)
		return out, nil
	}

	cands, err := e.api.SearchRecent(ctx, query+" -is:retweet -is:reply lang:en", 20)
	e.budget.Record()
	if err != nil {
		return e.surfaceErr(out, err)
	}
	defer e.saveLedger(l)

	for _, cand := range cands {
		if d := e.filter.Check(surface, cand, l, now); !d.OK {
			out.skip(d.Reason)
			if d.Reason == eligibility.ReasonHourlyCap {
				break
			}
			continue
		}
		posted, reason, err := e.reply(ctx, l, cand, surface, topicLabel)
		if err != nil {
			return e.surfaceErr(out, err)
		}
		if !posted {
			out.skip(reason)
			if reason == SkipRateLimited {
				break
			}
			continue
		}
		out.Performed++
		if out.Performed >= maxReplies {
			break
		}
	}
	return out, nil
}

// reply generates and posts one reply, appending the matching ledger entry.
// Returns posted=false with a skip reason for expected non-effects; err is
// reserved for quota exhaustion and unexpected failures.
func (e *Engine) reply(ctx context.Context, l *ledger.Ledger, cand domain.Candidate, surface eligibility.Surface, topicLabel string) (bool, string, error) {
	if !e.budget.Allow() {
		return false, SkipBudgetLow, nil
	}

	genSurface := "proactive"
	if surface == eligibility.SurfaceMention {
		genSurface = "mention"
	}
	text, err := e.gen.GenerateReply(ctx, cand.Tweet.Text, cand.Author.Handle, genSurface)
	if err != nil {
		return false, "", err
	}
	if text == "" {
		return false, SkipDeclined, nil
	}
	if len(text) < eligibility.MinReplyLength(surface) {
		return false, SkipReplyTooShort, nil
	}

	id, err := e.api.Post(ctx, text, cand.Tweet.ID)
	e.budget.Record()
	if err != nil {
		if errors.Is(err, social.ErrRateLimited) {
			return false, SkipRateLimited, nil
		}
		return false, "", err
	}

	now := e.nowFn()
	if surface == eligibility.SurfaceMention {
		l.AppendReply(domain.ReplyEntry{
			TweetID:   cand.Tweet.ID,
			Author:    cand.Author.Handle,
			Reply:     text,
			Timestamp: now,
		})
	} else {
		l.AppendProactive(domain.ProactiveEntry{
			TweetID:   cand.Tweet.ID,
			Target:    cand.Author.Handle,
			Topic:     topicLabel,
			TweetText: clampRunes(cand.Tweet.Text, 100),
			Reply:     text,
			Followers: cand.Author.Followers,
			Timestamp: now,
		})
	}
	e.log.Info().
		Str("surface", string(surface)).
		Str("author", cand.Author.Handle).
		Str("tweet_id", cand.Tweet.ID).
		Str("reply_id", id).
		Msg("replied")
	return true, "", nil
}

// surfaceErr translates expected stop conditions into counted skips and
// passes real failures through.
func (e *Engine) surfaceErr(out Outcome, err error) (Outcome, error) {
	switch {
	case errors.Is(err, errBudgetLow):
		out.skip(SkipBudgetLow)
		return out, nil
	case errors.Is(err, social.ErrRateLimited):
		out.skip(SkipRateLimited)
		return out, nil
	default:
		return out, err
	}
}

// sampleAccounts returns up to proactiveTargetsPerCycle watched accounts in
// random order.
func (e *Engine) sampleAccounts() []string {
	n := proactiveTargetsPerCycle
	if len(e.cfg.Accounts) < n {
		n = len(e.cfg.Accounts)
	}
	idx := e.rng.Perm(len(e.cfg.Accounts))[:n]
	out := make([]string, 0, n)
	for _, i := range idx {
		out = append(out, e.cfg.Accounts[i])
	}
	return out
}

// PruneLedger drops ledger entries past retention and caps the followed
// list, persisting the result. Called occasionally by the scheduler.
func (e *Engine) PruneLedger() {
	l := e.store.Load()
	before, beforeP, _ := l.Sizes()
	l.Prune(e.cfg.Retention, e.nowFn())
	after, afterP, _ := l.Sizes()
	e.saveLedger(l)
	e.log.Debug().
		Int("replies_dropped", before-after).
		Int("proactive_dropped", beforeP-afterP).
		Msg("ledger pruned")
}

// LedgerSizes reports list lengths for the ops status snapshot.
func (e *Engine) LedgerSizes() (replies, proactive, followed int) {
	return e.store.Load().Sizes()
}

func clampRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
