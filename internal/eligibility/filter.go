// Package eligibility implements the pure decision function that guards
// every engagement action: given a candidate tweet, its author, and a view
// of the action ledger, decide whether replying (or following) is allowed.
//
// The filter never performs I/O and never mutates the ledger. It is a chain
// of cheap rejections ordered roughly by cost: dedup and cap lookups first,
// then per-surface freshness and engagement thresholds, then the string
// heuristics. The first failing rule wins and its reason is returned so the
// caller can log and count skips by cause.
package eligibility

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"chirpd/internal/domain"
)

// Surface identifies which engagement path is asking. Thresholds differ per
// surface because the candidate pools differ: proactive targets are
// hand-picked accounts, topic and viral candidates come from public search.
type Surface string

const (
	SurfaceMention    Surface = "mention"
	SurfaceFollowBack Surface = "follow_back"
	SurfaceProactive  Surface = "proactive"
	SurfaceTopic      Surface = "topic"
	SurfaceViral      Surface = "viral"
)

// Rejection reasons, used as log fields and metric labels.
const (
	ReasonAlreadyReplied = "already_replied"
	ReasonSelf           = "self"
	ReasonHourlyCap      = "hourly_cap"
	ReasonStale          = "stale"
	ReasonLowEngagement  = "low_engagement"
	ReasonSmallAudience  = "small_audience"
	ReasonSpamOrBot      = "spam_or_bot"
	ReasonAuthorCooldown = "author_cooldown"
	ReasonTooShort       = "too_short"
	ReasonOffTopic       = "off_topic"
)

// Per-surface thresholds. Search surfaces demand fresher, more engaged
// candidates than the hand-picked proactive targets because replies under
// high-visibility tweets are only worth making early.
const (
	maxAgeProactive = 12 * time.Hour
	maxAgeSearch    = 6 * time.Hour

	minLikesProactive = 2
	minLikesSearch    = 5

	// Topic search skips small accounts unless the tweet itself went viral.
	minFollowersTopic  = 1000
	topicLikesOverride = 50

	// Viral search has a hard audience floor; the whole point of the
	// surface is borrowing someone else's reach.
	minFollowersViral = 1000

	// A mention must carry this many characters beyond the tag itself to
	// be worth a reply.
	minMentionSubstance = 15
)

// Decision is the filter verdict. Reason is empty when OK.
type Decision struct {
	OK     bool
	Reason string
}

func allow() Decision          { return Decision{OK: true} }
func reject(r string) Decision { return Decision{Reason: r} }

// LedgerView is the read-only slice of the action ledger the filter needs.
type LedgerView interface {
	HasReplied(tweetID string) bool
	RepliedToAuthorRecently(author string, within time.Duration, now time.Time) bool
	RepliesInLast(window time.Duration, now time.Time) int
}

// Filter evaluates engagement candidates against the dedup, cap, freshness,
// and anti-spam rules.
type Filter struct {
	selfID         string
	selfHandle     string
	authorCooldown time.Duration
	hourlyCap      int
}

// New returns a filter for the authenticated account identified by selfID
// and selfHandle. authorCooldown is the minimum gap between replies to the
// same author across all surfaces; hourlyCap bounds replies of every kind
// in any trailing hour.
func New(selfID, selfHandle string, authorCooldown time.Duration, hourlyCap int) *Filter {
	return &Filter{
		selfID:         selfID,
		selfHandle:     selfHandle,
		authorCooldown: authorCooldown,
		hourlyCap:      hourlyCap,
	}
}

// Check decides whether the candidate may be engaged on the given surface
// at time now. The first failing rule determines the reason.
func (f *Filter) Check(surface Surface, cand domain.Candidate, led LedgerView, now time.Time) Decision {
	if led.HasReplied(cand.Tweet.ID) {
		return reject(ReasonAlreadyReplied)
	}
	if cand.Tweet.AuthorID != "" && cand.Tweet.AuthorID == f.selfID {
		return reject(ReasonSelf)
	}
	if led.RepliesInLast(time.Hour, now) >= f.hourlyCap {
		return reject(ReasonHourlyCap)
	}

	if surface == SurfaceMention {
		return f.checkMention(cand)
	}

	if maxAge := freshnessWindow(surface); maxAge > 0 && cand.Age(now) > maxAge {
		return reject(ReasonStale)
	}
	if cand.Tweet.Likes < minLikes(surface) {
		return reject(ReasonLowEngagement)
	}
	switch surface {
	case SurfaceTopic:
		// Small accounts are only worth it when the tweet itself blew up.
		if cand.Author.Followers < minFollowersTopic && cand.Tweet.Likes < topicLikesOverride {
			return reject(ReasonSmallAudience)
		}
	case SurfaceViral:
		if cand.Author.Followers < minFollowersViral {
			return reject(ReasonSmallAudience)
		}
	}
	if IsSpamOrBot(cand.Author.Handle, cand.Tweet.Text) {
		return reject(ReasonSpamOrBot)
	}
	if led.RepliedToAuthorRecently(cand.Author.Handle, f.authorCooldown, now) {
		return reject(ReasonAuthorCooldown)
	}
	return allow()
}

// checkMention applies the rules specific to incoming mentions. Mentions
// have no freshness or engagement thresholds; the since-ID cursor already
// bounds how old they can be, and someone tagging us is engagement enough.
func (f *Filter) checkMention(cand domain.Candidate) Decision {
	cleaned := strings.TrimSpace(strings.ReplaceAll(cand.Tweet.Text, "@"+f.selfHandle, ""))
	if len(cleaned) < minMentionSubstance {
		return reject(ReasonTooShort)
	}
	if IsSpamOrBot(cand.Author.Handle, cleaned) {
		return reject(ReasonSpamOrBot)
	}
	if !OnTopic(cleaned) {
		return reject(ReasonOffTopic)
	}
	return allow()
}

// MinReplyLength returns the quality floor for a generated reply on the
// given surface. Shorter output reads as generic filler and is discarded by
// the caller before posting.
func MinReplyLength(surface Surface) int {
	switch surface {
	case SurfaceTopic:
		return 30
	case SurfaceViral:
		return 20
	default:
		return 15
	}
}

func freshnessWindow(surface Surface) time.Duration {
	switch surface {
	case SurfaceProactive:
		return maxAgeProactive
	case SurfaceTopic, SurfaceViral:
		return maxAgeSearch
	default:
		return 0
	}
}

func minLikes(surface Surface) int {
	switch surface {
	case SurfaceProactive:
		return minLikesProactive
	case SurfaceTopic, SurfaceViral:
		return minLikesSearch
	default:
		return 0
	}
}

// fold performs Unicode case folding for handle and text comparisons, so
// lookalike handles with non-ASCII capitals still match the heuristics.
var fold = cases.Fold()

// Known bot handles, matched exactly after folding.
var botNames = map[string]struct{}{
	"grok": {}, "xbot": {}, "autobot": {}, "tweetbot": {}, "chatgpt": {},
	"eliza_bot": {}, "botly": {}, "autopilot": {},
}

// Handle substrings that mark automated or scam accounts.
var botPatterns = []string{"_bot", "bot_", "airdrop", "nft_", "_nft", "crypto_signal"}

// Handle substrings that impersonation scams build on. A handle matching
// one of these is rejected unless it is on the verified-real allow-list.
var impersonationPatterns = []string{
	"musk", "elon", "tesla_ceo", "spacex_ceo",
	"doge_", "_doge", "dogefather",
}

// The real accounts that legitimately carry an impersonation pattern.
var realAccounts = map[string]struct{}{
	"elonmusk": {}, "cb_doge": {}, "dogedesigner": {},
}

var (
	// Five or more trailing digits, the classic throwaway-account suffix.
	trailingDigitsRe = regexp.MustCompile(`\d{5,}$`)
	// Caps run followed by a digit run, e.g. "Musktechdi10938"'s "DI10938"
	// shape. Matched against the unfolded handle since the casing is the
	// signal.
	capsDigitsRe = regexp.MustCompile(`[A-Z]{2,}\d{3,}`)
)

// Message-body phrases that mark scam or engagement-bait content.
var spamSignals = []string{
	"free", "airdrop", "claim", "giveaway", "dm me", "send",
	"won", "winner", "congratulations", "click here", "earn",
	"money", "profit", "investment", "guaranteed", "100x",
	"join now", "limited time", "act fast", "crypto signal",
	"whitelist", "presale", "nft drop", "check dm",
	"follow me", "follow back", "f4f", "promo",
	"telegram", "whatsapp", "discord link",
	"elon is giving", "musk is sending", "free tesla",
	"elon endorsed", "musk foundation",
}

// Effusive-praise openers used by scam accounts to bait a reply.
var flatterySignals = []string{
	"you are amazing", "love your content", "great work sir",
	"my friend i will", "nice to meet you", "hello friend",
	"bless you", "god bless",
}

// IsSpamOrBot reports whether the handle or message body trips any of the
// bot, impersonation, or scam heuristics. Used by every engagement surface,
// including follow-back screening where there is no tweet text.
func IsSpamOrBot(handle, text string) bool {
	h := fold.String(handle)

	if _, ok := botNames[h]; ok {
		return true
	}
	for _, p := range botPatterns {
		if strings.Contains(h, p) {
			return true
		}
	}
	for _, p := range impersonationPatterns {
		if strings.Contains(h, p) {
			if _, real := realAccounts[h]; !real {
				return true
			}
			break
		}
	}
	if trailingDigitsRe.MatchString(h) {
		return true
	}
	if capsDigitsRe.MatchString(handle) {
		return true
	}

	body := fold.String(text)
	for _, s := range spamSignals {
		if strings.Contains(body, s) {
			return true
		}
	}
	for _, s := range flatterySignals {
		if strings.Contains(body, s) {
			return true
		}
	}
	return false
}

// onTopicSignals are the subject areas the account talks about. A mention
// touching none of them is skipped rather than answered off-brand.
var onTopicSignals = []string{
	"elon", "tesla", "spacex", "starship", "fsd", "cybertruck", "optimus",
	"xai", "grok", "neuralink", "boring company", "doge",
	"bittensor", "tao", "subnet", "decentralized ai", "deai", "miner",
	"ai", "artificial intelligence", "machine learning", "llm", "chatgpt",
	"openai", "claude", "anthropic", "google", "gemini",
	"tech", "startup", "silicon valley", "nvidia", "gpu",
	"space", "mars", "rocket", "orbit", "nasa",
	"crypto", "bitcoin", "blockchain", "web3",
	"science", "physics", "quantum", "consciousness",
	"philosophy", "meditation", "spirituality", "simulation",
	"politics", "geopolitics",
}

// OnTopic reports whether the text touches any subject the account covers.
func OnTopic(text string) bool {
	body := fold.String(text)
	for _, sig := range onTopicSignals {
		if strings.Contains(body, sig) {
			return true
		}
	}
	return false
}
