package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ticks counts loop iterations; its rate is the daemon's heartbeat.
	ticks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Total number of scheduler loop ticks.",
		},
	)

	// slotsFired counts schedule slots that reached the posting attempt,
	// whether or not the post succeeded.
	slotsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_slots_fired_total",
			Help: "Total schedule slots fired, by content category.",
		},
		[]string{"category"},
	)

	// postsPublished counts successful publishes by content kind.
	postsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_posts_published_total",
			Help: "Total content items published, by kind.",
		},
		[]string{"kind"},
	)

	// postFailures counts failed posting attempts by stage (generate,
	// publish).
	postFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_post_failures_total",
			Help: "Total failed posting attempts, by stage.",
		},
		[]string{"stage"},
	)

	// engagementReplies counts engagement effects by surface.
	engagementReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_engagement_actions_total",
			Help: "Total engagement actions performed, by surface.",
		},
		[]string{"surface"},
	)

	// engagementSkips counts skipped engagement candidates. The reason
	// label is bounded by the filter's fixed reason set.
	engagementSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_engagement_skips_total",
			Help: "Total engagement candidates skipped, by surface and reason.",
		},
		[]string{"surface", "reason"},
	)

	// queueUnposted gauges unposted items awaiting a slot.
	queueUnposted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_queue_unposted",
			Help: "Unposted content items currently in the queue.",
		},
	)

	// budgetRemaining gauges the remaining outbound API call budget in
	// the current sliding window.
	budgetRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_api_budget_remaining",
			Help: "Remaining outbound API calls in the current budget window.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ticks, slotsFired, postsPublished, postFailures,
		engagementReplies, engagementSkips, queueUnposted, budgetRemaining,
	)
}
