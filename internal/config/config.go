// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes credentials, the
// daily posting schedule, engagement pacing and caps, the API call budget,
// state file locations, logging, and the ops-server settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"chirpd/internal/domain"
)

// XConfig holds the social-network API credentials and endpoint.
type XConfig struct {
	APIKey            string // X_API_KEY
	APISecret         string // X_API_SECRET
	AccessToken       string // X_ACCESS_TOKEN
	AccessTokenSecret string // X_ACCESS_TOKEN_SECRET
	BearerToken       string // X_BEARER_TOKEN
	BaseURL           string // X_BASE_URL (override for tests)
}

// Configured reports whether enough credentials are present to talk to the
// API at all. The daemon refuses to start without them; one-off read
// commands (preview, stats) do not need them.
func (x XConfig) Configured() bool {
	return x.BearerToken != "" || (x.APIKey != "" && x.AccessToken != "")
}

// LLMConfig holds the content-generation provider settings. The provider
// speaks the OpenAI-compatible chat completions protocol.
type LLMConfig struct {
	APIKey        string // LLM_API_KEY
	BaseURL       string // LLM_BASE_URL
	Model         string // LLM_MODEL
	FallbackModel string // LLM_FALLBACK_MODEL (smaller, used for fact-checks and on quota pressure)
}

// EngageConfig holds the engagement-engine switches, pacing, and caps.
type EngageConfig struct {
	AutoFollowBack    bool // ENGAGE_FOLLOW_BACK
	AutoReplyMentions bool // ENGAGE_REPLY_MENTIONS
	Proactive         bool // ENGAGE_PROACTIVE (also gates topic and viral)

	MentionInterval   time.Duration // ENGAGE_MENTION_INTERVAL
	FollowInterval    time.Duration // ENGAGE_FOLLOW_INTERVAL
	ProactiveInterval time.Duration // ENGAGE_PROACTIVE_INTERVAL
	TopicInterval     time.Duration // ENGAGE_TOPIC_INTERVAL
	ViralInterval     time.Duration // ENGAGE_VIRAL_INTERVAL

	MaxRepliesPerHour   int           // ENGAGE_MAX_REPLIES_PER_HOUR (shared across all reply surfaces)
	MaxProactivePerHour int           // ENGAGE_MAX_PROACTIVE_PER_HOUR
	AuthorCooldown      time.Duration // ENGAGE_AUTHOR_COOLDOWN
	Retention           time.Duration // ENGAGE_LOG_RETENTION

	Accounts []string // ENGAGE_ACCOUNTS (handles to reply to proactively)
	Topics   []string // ENGAGE_TOPICS (search queries for topic engagement)
	Searches []string // ENGAGE_SEARCHES (search queries for viral engagement)
}

// OpsConfig holds the internal HTTP ops-server settings.
type OpsConfig struct {
	Enabled   bool     // OPS_ENABLED
	Addr      string   // OPS_ADDR
	GinMode   string   // GIN_MODE debug|release|test
	RateRPS   float64  // OPS_RATE_RPS
	RateBurst int      // OPS_RATE_BURST
	CORS      []string // OPS_CORS_ORIGINS
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the daemon.
type Config struct {
	// Logging
	LogLevel  string // LOG_LEVEL debug|info|warn|error
	LogPretty bool   // LOG_PRETTY pretty console logs in dev

	// Schedule
	Timezone string // TIMEZONE (IANA name)
	Location *time.Location
	Schedule []domain.ScheduleSlot // SCHEDULE ("HH:MM=category,..."), defaults below

	// Loop pacing
	TickInterval  time.Duration // TICK_INTERVAL
	SlotTolerance time.Duration // SLOT_TOLERANCE (fire window after the slot instant)

	// Queue
	QueuePath     string // QUEUE_PATH
	QueueSize     int    // QUEUE_SIZE
	QueueLowWater int    // QUEUE_LOW_WATER (unposted items below this trigger a refill)
	RefillCeiling int    // QUEUE_REFILL_CEILING (max generations per refill call)

	// State
	LedgerPath string // LEDGER_PATH
	PostLogDB  string // POST_LOG_DB (SQLite path)

	// API budget
	BudgetCapacity int           // BUDGET_CAPACITY
	BudgetWindow   time.Duration // BUDGET_WINDOW

	// News
	NewsFeeds    []string      // NEWS_FEEDS (comma-separated URLs)
	NewsCacheTTL time.Duration // NEWS_CACHE_TTL

	X      XConfig
	LLM    LLMConfig
	Engage EngageConfig
	Ops    OpsConfig
	OTEL   OTELConfig
}

// DefaultSchedule is the original ten-slot posting table: a morning
// reaction, two late-morning peak posts, a spaced afternoon, the evening
// engagement window, and two late-night slots.
var DefaultSchedule = []domain.ScheduleSlot{
	{Hour: 8, Minute: 15, Category: "hot_take"},
	{Hour: 10, Minute: 0, Category: "news_commentary"},
	{Hour: 11, Minute: 30, Category: "engagement_post"},
	{Hour: 13, Minute: 30, Category: "hot_take"},
	{Hour: 15, Minute: 45, Category: "thought_question"},
	{Hour: 18, Minute: 0, Category: "news_commentary"},
	{Hour: 19, Minute: 30, Category: "hot_take"},
	{Hour: 21, Minute: 0, Category: "engagement_post"},
	{Hour: 22, Minute: 30, Category: "philosophical"},
	{Hour: 23, Minute: 45, Category: "thought_question"},
}

// defaultAccounts are the handles the proactive surface watches.
var defaultAccounts = []string{
	"SamAltman", "ylecun", "AndrewYNg", "DemisHassabis",
	"lexfridman", "naval", "pmarca", "balajis",
	"TechCrunch", "TheVerge", "MKBHD",
	"NASAWebb", "NASA", "elonmusk", "SpaceX",
	"VitalikButerin", "waitbutwhy",
}

// defaultTopics are the search queries the topic surface rotates through.
var defaultTopics = []string{
	"artificial intelligence breakthrough",
	"large language model",
	"AI safety alignment",
	"machine learning research",
	"AI agents autonomous",
	"SpaceX Starship launch",
	"quantum computing breakthrough",
	"NVIDIA GPU AI",
	"startup funding AI",
	"open source AI model",
	"semiconductor chips",
}

// defaultSearches are the viral-surface queries, tuned to attract a tech
// and science audience rather than engagement-bait spam.
var defaultSearches = []string{
	"AI is going to", "unpopular opinion AI",
	"the future of AI", "AGI timeline",
	"AI will replace", "machine learning hot take",
	"open source AI", "AI safety",
	"tech bubble", "startup founders",
	"science just discovered", "quantum breakthrough",
	"Silicon Valley", "tech CEO",
	"simulation theory", "decentralized future",
}

// defaultFeeds are the RSS sources for headline context.
var defaultFeeds = []string{
	"https://techcrunch.com/feed/",
	"https://feeds.arstechnica.com/arstechnica/technology-lab",
	"https://www.theverge.com/rss/index.xml",
	"https://www.nature.com/nature.rss",
	"https://feeds.bbci.co.uk/news/world/rss.xml",
	"https://spaceflightnow.com/feed/",
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		Timezone: getenv("TIMEZONE", "America/New_York"),

		TickInterval:  getdur("TICK_INTERVAL", 15*time.Second),
		SlotTolerance: getdur("SLOT_TOLERANCE", 7*time.Minute),

		QueuePath:     getenv("QUEUE_PATH", "content_queue.json"),
		QueueSize:     getint("QUEUE_SIZE", 20),
		QueueLowWater: getint("QUEUE_LOW_WATER", 8),
		RefillCeiling: getint("QUEUE_REFILL_CEILING", 5),

		LedgerPath: getenv("LEDGER_PATH", "engagement_log.json"),
		PostLogDB:  getenv("POST_LOG_DB", "post_log.db"),

		BudgetCapacity: getint("BUDGET_CAPACITY", 45),
		BudgetWindow:   getdur("BUDGET_WINDOW", 15*time.Minute),

		NewsFeeds:    splitCSV(getenv("NEWS_FEEDS", strings.Join(defaultFeeds, ","))),
		NewsCacheTTL: getdur("NEWS_CACHE_TTL", 30*time.Minute),

		X: XConfig{
			APIKey:            getenv("X_API_KEY", ""),
			APISecret:         getenv("X_API_SECRET", ""),
			AccessToken:       getenv("X_ACCESS_TOKEN", ""),
			AccessTokenSecret: getenv("X_ACCESS_TOKEN_SECRET", ""),
			BearerToken:       getenv("X_BEARER_TOKEN", ""),
			BaseURL:           getenv("X_BASE_URL", "https://api.x.com"),
		},
		LLM: LLMConfig{
			APIKey:        getenv("LLM_API_KEY", ""),
			BaseURL:       getenv("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
			Model:         getenv("LLM_MODEL", "llama-3.3-70b-versatile"),
			FallbackModel: getenv("LLM_FALLBACK_MODEL", "llama-3.1-8b-instant"),
		},
		Engage: EngageConfig{
			AutoFollowBack:    getbool("ENGAGE_FOLLOW_BACK", true),
			AutoReplyMentions: getbool("ENGAGE_REPLY_MENTIONS", true),
			Proactive:         getbool("ENGAGE_PROACTIVE", true),

			MentionInterval:   getdur("ENGAGE_MENTION_INTERVAL", 15*time.Minute),
			FollowInterval:    getdur("ENGAGE_FOLLOW_INTERVAL", time.Hour),
			ProactiveInterval: getdur("ENGAGE_PROACTIVE_INTERVAL", 30*time.Minute),
			TopicInterval:     getdur("ENGAGE_TOPIC_INTERVAL", 45*time.Minute),
			ViralInterval:     getdur("ENGAGE_VIRAL_INTERVAL", 5*time.Minute),

			MaxRepliesPerHour:   getint("ENGAGE_MAX_REPLIES_PER_HOUR", 12),
			MaxProactivePerHour: getint("ENGAGE_MAX_PROACTIVE_PER_HOUR", 6),
			AuthorCooldown:      getdur("ENGAGE_AUTHOR_COOLDOWN", 6*time.Hour),
			Retention:           getdur("ENGAGE_LOG_RETENTION", 7*24*time.Hour),

			Accounts: splitCSV(getenv("ENGAGE_ACCOUNTS", strings.Join(defaultAccounts, ","))),
			Topics:   splitCSV(getenv("ENGAGE_TOPICS", strings.Join(defaultTopics, ","))),
			Searches: splitCSV(getenv("ENGAGE_SEARCHES", strings.Join(defaultSearches, ","))),
		},
		Ops: OpsConfig{
			Enabled:   getbool("OPS_ENABLED", true),
			Addr:      getenv("OPS_ADDR", "127.0.0.1:8080"),
			GinMode:   strings.ToLower(getenv("GIN_MODE", "release")),
			RateRPS:   getfloat("OPS_RATE_RPS", 5.0),
			RateBurst: getint("OPS_RATE_BURST", 10),
			CORS:      splitCSV(getenv("OPS_CORS_ORIGINS", "")),
		},
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "chirpd"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.Ops.GinMode {
	case "debug", "release", "test":
	default:
		cfg.Ops.GinMode = "release"
	}

	schedule, err := ParseSchedule(getenv("SCHEDULE", ""))
	if err != nil {
		return cfg, err
	}
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	cfg.Schedule = schedule

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return cfg, fmt.Errorf("TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	if cfg.TickInterval <= 0 || cfg.SlotTolerance <= 0 {
		return cfg, errors.New("TICK_INTERVAL and SLOT_TOLERANCE must be positive durations")
	}
	if cfg.TickInterval >= cfg.SlotTolerance {
		return cfg, errors.New("TICK_INTERVAL must be shorter than SLOT_TOLERANCE or slots can be missed")
	}
	if strings.TrimSpace(cfg.QueuePath) == "" || strings.TrimSpace(cfg.LedgerPath) == "" {
		return cfg, errors.New("QUEUE_PATH and LEDGER_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.PostLogDB) == "" {
		return cfg, errors.New("POST_LOG_DB must not be empty")
	}
	if cfg.QueueSize < 1 || cfg.QueueLowWater < 0 || cfg.RefillCeiling < 1 {
		return cfg, errors.New("queue sizes must be positive")
	}
	if cfg.BudgetCapacity < 1 || cfg.BudgetWindow <= 0 {
		return cfg, errors.New("BUDGET_CAPACITY must be >= 1 and BUDGET_WINDOW > 0")
	}
	if cfg.Engage.MaxRepliesPerHour < 0 || cfg.Engage.MaxProactivePerHour < 0 {
		return cfg, errors.New("hourly reply caps must be >= 0")
	}
	if cfg.Engage.AuthorCooldown <= 0 || cfg.Engage.Retention <= 0 {
		return cfg, errors.New("ENGAGE_AUTHOR_COOLDOWN and ENGAGE_LOG_RETENTION must be positive")
	}
	if cfg.Engage.Retention < cfg.Engage.AuthorCooldown {
		// Pruning must never drop entries still needed for cooldown checks.
		return cfg, errors.New("ENGAGE_LOG_RETENTION must not be shorter than ENGAGE_AUTHOR_COOLDOWN")
	}
	if cfg.Engage.Proactive && (len(cfg.Engage.Topics) == 0 || len(cfg.Engage.Searches) == 0) {
		return cfg, errors.New("ENGAGE_PROACTIVE requires non-empty ENGAGE_TOPICS and ENGAGE_SEARCHES")
	}
	if cfg.Ops.RateRPS < 0 {
		return cfg, errors.New("OPS_RATE_RPS must be >= 0")
	}
	if cfg.Ops.RateBurst < 1 {
		return cfg, errors.New("OPS_RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ParseSchedule parses a comma-separated slot list of the form
// "HH:MM=category,HH:MM=category". An empty string yields an empty table
// (the caller substitutes the default).
func ParseSchedule(s string) ([]domain.ScheduleSlot, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []domain.ScheduleSlot
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		timePart, category, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(category) == "" {
			return nil, fmt.Errorf("SCHEDULE entry %q: want HH:MM=category", part)
		}
		hh, mm, ok := strings.Cut(strings.TrimSpace(timePart), ":")
		if !ok {
			return nil, fmt.Errorf("SCHEDULE entry %q: want HH:MM=category", part)
		}
		hour, err := strconv.Atoi(hh)
		if err != nil || hour < 0 || hour > 23 {
			return nil, fmt.Errorf("SCHEDULE entry %q: hour out of range", part)
		}
		minute, err := strconv.Atoi(mm)
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("SCHEDULE entry %q: minute out of range", part)
		}
		out = append(out, domain.ScheduleSlot{Hour: hour, Minute: minute, Category: strings.TrimSpace(category)})
	}
	return out, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
