// Package scheduler implements the daemon's control loop: a single
// cooperative tick that checks the posting schedule, runs due engagement
// surfaces, and maintains the content queue.
//
// The loop is non-preemptive. One tick runs slot-check, then at most two
// engagement surfaces, then queue maintenance, sequentially; blocking calls
// stall the whole tick. That is acceptable because the tick interval is far
// coarser than the slot tolerance and the surface cooldowns.
//
// Slot semantics are the load-bearing part:
//
//   - a slot fires when 0 <= now - slot <= tolerance, never before the
//     slot instant, and never after the catch-up window
//   - each (date, time, category) key fires at most once per day; the key
//     is recorded on attempt, so a failed post is not retried that day
//   - the handled-slots set lives in memory only and resets when the
//     calendar date changes
package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chirpd/internal/config"
	"chirpd/internal/content"
	"chirpd/internal/domain"
	"chirpd/internal/engage"
	"chirpd/internal/queue"
)

// pruneProbability is the per-tick chance of running retention pruning on
// the ledger and queue. Pruning is cheap but pointless every 15 seconds.
const pruneProbability = 0.05

// perCategoryTarget is how many unposted items the refill keeps per
// schedule category.
const perCategoryTarget = 2

// newsCategory items are sometimes generated as news shares (a take with
// the source link posted as a reply) instead of plain commentary.
const (
	newsCategory         = "news_commentary"
	newsShareProbability = 0.4
)

// ContentSource generates queue items.
type ContentSource interface {
	Generate(ctx context.Context, category string, news []domain.Headline) (domain.ContentItem, error)
}

// NewsSource supplies headline context for generation.
type NewsSource interface {
	Headlines(ctx context.Context) []domain.Headline
}

// NewsTaker is implemented by content sources that can turn one headline
// into a news-share item.
type NewsTaker interface {
	NewsTake(ctx context.Context, h domain.Headline) (domain.ContentItem, error)
}

// ItemPublisher posts one content item and returns the lead tweet ID.
type ItemPublisher interface {
	Publish(ctx context.Context, item domain.ContentItem) (string, error)
}

// Engagement is the slice of the engagement engine the loop consumes.
type Engagement interface {
	Mentions(ctx context.Context) (engage.Outcome, error)
	FollowBack(ctx context.Context) (engage.Outcome, error)
	Proactive(ctx context.Context) (engage.Outcome, error)
	Topic(ctx context.Context) (engage.Outcome, error)
	Viral(ctx context.Context) (engage.Outcome, error)
	PruneLedger()
	LedgerSizes() (replies, proactive, followed int)
}

// BudgetView reports budget state for the status snapshot.
type BudgetView interface {
	Used() int
	Remaining() int
}

// surface pairs an engagement action with its pacing state.
type surface struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (engage.Outcome, error)
	lastRun  time.Time
}

// Scheduler owns the control loop state.
type Scheduler struct {
	cfg        config.Config
	queueStore *queue.Store
	gen        ContentSource
	news       NewsSource
	pub        ItemPublisher
	engine     Engagement
	budget     BudgetView
	log        zerolog.Logger

	// handled holds this day's fired slot keys. Memory-only: after a
	// restart, slots inside the tolerance window may fire again, and the
	// queue's posted flags prevent duplicate content.
	handled  map[string]struct{}
	surfaces []*surface

	mu sync.Mutex

	// nowFn and rng are test seams.
	nowFn func() time.Time
	rng   *rand.Rand
}

// New assembles a scheduler from its collaborators. The engagement
// rotation includes only the surfaces enabled in cfg.
func New(cfg config.Config, qs *queue.Store, gen ContentSource, news NewsSource, pub ItemPublisher, engine Engagement, budget BudgetView, log zerolog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:        cfg,
		queueStore: qs,
		gen:        gen,
		news:       news,
		pub:        pub,
		engine:     engine,
		budget:     budget,
		log:        log.With().Str("component", "scheduler").Logger(),
		handled:    make(map[string]struct{}),
		nowFn:      time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	eng := cfg.Engage
	if eng.AutoReplyMentions {
		s.surfaces = append(s.surfaces, &surface{name: "mention", interval: eng.MentionInterval, run: engine.Mentions})
	}
	if eng.AutoFollowBack {
		s.surfaces = append(s.surfaces, &surface{name: "follow_back", interval: eng.FollowInterval, run: engine.FollowBack})
	}
	if eng.Proactive {
		s.surfaces = append(s.surfaces,
			&surface{name: "proactive", interval: eng.ProactiveInterval, run: engine.Proactive},
			&surface{name: "topic", interval: eng.TopicInterval, run: engine.Topic},
			&surface{name: "viral", interval: eng.ViralInterval, run: engine.Viral},
		)
	}
	return s
}

// Run drives the tick loop until ctx is cancelled. All mutable state is
// persisted as it changes, so cancellation needs no extra flush.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().
		Int("slots", len(s.cfg.Schedule)).
		Int("surfaces", len(s.surfaces)).
		Str("timezone", s.cfg.Timezone).
		Dur("tick", s.cfg.TickInterval).
		Msg("scheduler running")

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one loop iteration: slot check, engagement round, queue
// maintenance, occasional pruning.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticks.Inc()
	now := s.nowFn().In(s.cfg.Location)

	s.resetHandledOnDateChange(now)
	s.checkSlots(ctx, now)
	s.engagementRound(ctx, now)
	s.maintainQueue(ctx)

	if s.rng.Float64() < pruneProbability {
		s.engine.PruneLedger()
		q := s.queueStore.Load()
		if dropped := q.PrunePosted(now, s.cfg.Location); dropped > 0 {
			s.saveQueue(q)
		}
	}

	budgetRemaining.Set(float64(s.budget.Remaining()))
}

// resetHandledOnDateChange clears the handled-slots set when no entry
// belongs to today, which happens exactly once after each midnight.
func (s *Scheduler) resetHandledOnDateChange(now time.Time) {
	dateKey := now.Format("2006-01-02")
	for key := range s.handled {
		if strings.HasPrefix(key, dateKey) {
			return
		}
	}
	if len(s.handled) > 0 {
		s.log.Info().Str("date", dateKey).Msg("new day, clearing handled slots")
	}
	s.handled = make(map[string]struct{})
}

// slotDue reports whether the slot is inside its firing window: at or
// after the slot instant, within the tolerance. Slots missed by more than
// the tolerance stay missed.
func (s *Scheduler) slotDue(slot domain.ScheduleSlot, now time.Time) bool {
	diff := now.Hour()*60 + now.Minute() - slot.Minutes()
	return diff >= 0 && diff <= int(s.cfg.SlotTolerance/time.Minute)
}

// checkSlots fires at most the due slots not yet handled today. The key is
// marked handled before the posting attempt; a failed attempt is logged
// and skipped, never retried the same day, because blind retry risks
// double-posting after partial failures.
func (s *Scheduler) checkSlots(ctx context.Context, now time.Time) {
	dateKey := now.Format("2006-01-02")
	for _, slot := range s.cfg.Schedule {
		key := slot.Key(dateKey)
		if _, done := s.handled[key]; done {
			continue
		}
		if !s.slotDue(slot, now) {
			continue
		}

		s.handled[key] = struct{}{}
		slotsFired.WithLabelValues(slot.Category).Inc()
		s.log.Info().Str("slot", key).Msg("slot due, posting")

		if err := s.postSlot(ctx, slot.Category); err != nil {
			postFailures.WithLabelValues(failureStage(err)).Inc()
			s.log.Error().Err(err).Str("slot", key).Msg("slot post failed, not retrying today")
		}
	}
}

// postSlot publishes the next queued item for the category, generating one
// on the fly when the queue has nothing for it.
func (s *Scheduler) postSlot(ctx context.Context, category string) error {
	q := s.queueStore.Load()

	item, ok := q.Take(category)
	if !ok {
		s.log.Info().Str("category", category).Msg("queue empty for category, generating on the fly")
		fresh, err := s.generateFor(ctx, category, s.news.Headlines(ctx))
		if err != nil {
			return &stageError{stage: "generate", err: err}
		}
		fresh.ID = uuid.NewString()
		q.Append(fresh)
		s.saveQueue(q)
		item = fresh
	}

	if _, err := s.pub.Publish(ctx, item); err != nil {
		return &stageError{stage: "publish", err: err}
	}

	q.MarkPosted(item.ID, s.nowFn())
	s.saveQueue(q)
	postsPublished.WithLabelValues(string(item.Kind)).Inc()
	return nil
}

// engagementRound runs at most two due surfaces this tick. Each surface's
// last-run timestamp advances when it runs, whether or not it produced any
// effect, so a fruitless run still waits out its full interval.
func (s *Scheduler) engagementRound(ctx context.Context, now time.Time) {
	ran := 0
	for _, sf := range s.surfaces {
		if ran >= 2 {
			break
		}
		if now.Sub(sf.lastRun) < sf.interval {
			continue
		}
		sf.lastRun = now
		ran++

		out, err := sf.run(ctx)
		for reason, n := range out.Skipped {
			engagementSkips.WithLabelValues(sf.name, reason).Add(float64(n))
		}
		if out.Performed > 0 {
			engagementReplies.WithLabelValues(sf.name).Add(float64(out.Performed))
		}
		if err != nil {
			// Quota exhaustion and transport failures end the surface run,
			// not the daemon; the surface retries after its interval.
			s.log.Error().Err(err).Str("surface", sf.name).Msg("engagement surface failed")
			continue
		}
		s.log.Info().
			Str("surface", sf.name).
			Int("performed", out.Performed).
			Interface("skipped", out.Skipped).
			Msg("engagement surface ran")
	}
}

// maintainQueue refills the queue when unposted items drop below the
// low-water mark, bounded per cycle by the refill ceiling.
func (s *Scheduler) maintainQueue(ctx context.Context) {
	q := s.queueStore.Load()
	defer queueUnposted.Set(float64(q.Unposted()))

	if q.Unposted() >= s.cfg.QueueLowWater {
		return
	}
	needed := q.NeedsRefill(domain.Categories(s.cfg.Schedule), perCategoryTarget, s.cfg.RefillCeiling)
	if len(needed) == 0 {
		return
	}

	s.log.Info().Int("items", len(needed)).Msg("refilling content queue")
	news := s.news.Headlines(ctx)
	generated := 0
	for _, category := range needed {
		if q.Len() >= s.cfg.QueueSize {
			break
		}
		item, err := s.generateFor(ctx, category, news)
		if err != nil {
			if errors.Is(err, content.ErrDailyQuota) {
				s.log.Warn().Msg("generation quota exhausted, stopping refill")
				break
			}
			s.log.Error().Err(err).Str("category", category).Msg("refill generation failed")
			continue
		}
		item.ID = uuid.NewString()
		q.Append(item)
		generated++
	}
	if generated > 0 {
		s.saveQueue(q)
	}
}

// generateFor produces one item for the category. News-commentary slots
// sometimes share a headline directly instead of free commentary, when the
// source can do it and headlines are available.
func (s *Scheduler) generateFor(ctx context.Context, category string, headlines []domain.Headline) (domain.ContentItem, error) {
	if category == newsCategory && len(headlines) > 0 {
		if nt, ok := s.gen.(NewsTaker); ok && s.rng.Float64() < newsShareProbability {
			return nt.NewsTake(ctx, headlines[s.rng.Intn(len(headlines))])
		}
	}
	return s.gen.Generate(ctx, category, headlines)
}

func (s *Scheduler) saveQueue(q *queue.Queue) {
	if err := s.queueStore.Save(q); err != nil {
		s.log.Error().Err(err).Msg("queue save failed")
	}
}

// RunPostingCycle posts one item for the category immediately, outside the
// schedule. Exposed for the ops server and the CLI post command.
func (s *Scheduler) RunPostingCycle(ctx context.Context, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if category == "" {
		cats := domain.Categories(s.cfg.Schedule)
		category = cats[s.rng.Intn(len(cats))]
	}
	return s.postSlot(ctx, category)
}

// RunEngagementCycle runs every enabled surface once, ignoring intervals.
// Exposed for the ops server and the CLI engage command.
func (s *Scheduler) RunEngagementCycle(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sf := range s.surfaces {
		sf.lastRun = s.nowFn()
		out, err := sf.run(ctx)
		if err != nil {
			s.log.Error().Err(err).Str("surface", sf.name).Msg("engagement surface failed")
			continue
		}
		s.log.Info().
			Str("surface", sf.name).
			Int("performed", out.Performed).
			Interface("skipped", out.Skipped).
			Msg("engagement surface ran")
	}
}

// Status is the ops snapshot of loop state.
type Status struct {
	QueueTotal      int                  `json:"queue_total"`
	QueueUnposted   int                  `json:"queue_unposted"`
	LedgerReplies   int                  `json:"ledger_replies"`
	LedgerProactive int                  `json:"ledger_proactive"`
	LedgerFollowed  int                  `json:"ledger_followed"`
	BudgetUsed      int                  `json:"budget_used"`
	BudgetRemaining int                  `json:"budget_remaining"`
	HandledSlots    int                  `json:"handled_slots_today"`
	SurfaceLastRun  map[string]time.Time `json:"surface_last_run"`
}

// Snapshot reports current sizes and timestamps for the ops surface.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueStore.Load()
	replies, proactive, followed := s.engine.LedgerSizes()

	last := make(map[string]time.Time, len(s.surfaces))
	for _, sf := range s.surfaces {
		last[sf.name] = sf.lastRun
	}
	return Status{
		QueueTotal:      q.Len(),
		QueueUnposted:   q.Unposted(),
		LedgerReplies:   replies,
		LedgerProactive: proactive,
		LedgerFollowed:  followed,
		BudgetUsed:      s.budget.Used(),
		BudgetRemaining: s.budget.Remaining(),
		HandledSlots:    len(s.handled),
		SurfaceLastRun:  last,
	}
}

// stageError tags a posting failure with the stage it failed in, for the
// failure metric.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failureStage(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return "unknown"
}
