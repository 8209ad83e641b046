// Package content generates tweets, threads, news takes, and replies
// through an OpenAI-compatible chat-completions API (Groq), with model
// fallback, rate-limit aware retries, and a fact-check gate before any
// generated claim is accepted.
//
// Failure semantics follow two tracks:
//
//   - short-term rate limit: wait briefly with escalating backoff, then
//     fall back to the cheaper model
//   - daily token quota: never wait it out; fail fast with ErrDailyQuota
//     so the caller skips generation until the quota resets
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"chirpd/internal/domain"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"

	maxTweetLen    = 280
	maxNewsTakeLen = 250

	// factCheckAttempts bounds regeneration when a draft fails the gate.
	// After the last attempt the draft is used anyway; availability beats
	// perfection for a posting bot, and the failure is logged.
	factCheckAttempts = 3

	// rateLimitRetries is the per-model attempt count on short-term 429s.
	rateLimitRetries = 2
)

// ErrDailyQuota marks a daily token-quota 429. Waiting would stall the loop
// for hours, so callers abort the generation instead.
var ErrDailyQuota = errors.New("content: daily token quota exhausted")

// errAllModels is returned when the primary and fallback models are both
// rate limited past their retry budgets.
var errAllModels = errors.New("content: all models rate limited")

// Generator produces content through the chat-completions API.
type Generator struct {
	http          *http.Client
	baseURL       string
	apiKey        string
	model         string
	fallbackModel string
	log           zerolog.Logger

	// sleep and rng are test seams.
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand
}

// Option customizes a Generator.
type Option func(*Generator)

// WithBaseURL overrides the API host, for tests.
func WithBaseURL(u string) Option {
	return func(g *Generator) { g.baseURL = u }
}

// WithSleep replaces the backoff sleeper, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Generator) { g.sleep = fn }
}

// New returns a generator using model first and fallbackModel when the
// primary is rate limited.
func New(apiKey, model, fallbackModel string, log zerolog.Logger, opts ...Option) *Generator {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		// 429 handling is application logic, not transport retry.
		if err == nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	rc.Logger = nil

	std := rc.StandardClient()
	std.Timeout = 60 * time.Second

	g := &Generator{
		http:          std,
		baseURL:       defaultBaseURL,
		apiKey:        apiKey,
		model:         model,
		fallbackModel: fallbackModel,
		log:           log.With().Str("component", "content").Logger(),
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// rateLimitKind classifies a 429 body: daily quotas mention the per-day
// token allowance, short-term windows do not.
func rateLimitKind(body string) error {
	lower := strings.ToLower(body)
	if strings.Contains(lower, "tokens per day") || strings.Contains(body, "TPD") {
		return ErrDailyQuota
	}
	return nil
}

// chatOnce performs a single completion call against one model.
func (g *Generator) chatOnce(ctx context.Context, model string, msgs []chatMessage, maxTokens int, temperature float64) (string, error) {
	raw, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("content: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("content: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("content: completion: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("content: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if quota := rateLimitKind(string(body)); quota != nil {
			return "", quota
		}
		return "", errShortTermLimit
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ce chatError
		_ = json.Unmarshal(body, &ce)
		if ce.Error.Message != "" {
			return "", fmt.Errorf("content: completion: %d %s", resp.StatusCode, ce.Error.Message)
		}
		return "", fmt.Errorf("content: completion: unexpected status %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("content: decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("content: completion returned no choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// errShortTermLimit is internal: chatOnce reports it, complete translates
// it into waits and model fallback.
var errShortTermLimit = errors.New("content: short-term rate limit")

// complete runs a completion with the retry ladder: per model, up to
// rateLimitRetries attempts with escalating waits on short-term limits;
// on a daily quota, jump straight to the fallback model; when every model
// is exhausted, return errAllModels (or ErrDailyQuota if that was the
// last failure, so callers can abort the whole cycle).
func (g *Generator) complete(ctx context.Context, msgs []chatMessage, maxTokens int, temperature float64) (string, error) {
	models := []string{g.model}
	if g.fallbackModel != "" && g.fallbackModel != g.model {
		models = append(models, g.fallbackModel)
	}

	sawDailyQuota := false
	for _, model := range models {
		for attempt := 0; attempt < rateLimitRetries; attempt++ {
			text, err := g.chatOnce(ctx, model, msgs, maxTokens, temperature)
			if err == nil {
				return text, nil
			}
			if errors.Is(err, ErrDailyQuota) {
				sawDailyQuota = true
				g.log.Warn().Str("model", model).Msg("daily token quota hit, trying next model")
				break
			}
			if !errors.Is(err, errShortTermLimit) {
				return "", err
			}
			if attempt < rateLimitRetries-1 {
				wait := time.Duration(15*(attempt+1)) * time.Second
				if wait > time.Minute {
					wait = time.Minute
				}
				g.log.Warn().Str("model", model).Dur("wait", wait).Msg("rate limited, backing off")
				if err := g.sleep(ctx, wait); err != nil {
					return "", err
				}
			} else {
				g.log.Warn().Str("model", model).Msg("rate limited, trying fallback model")
			}
		}
	}
	if sawDailyQuota {
		return "", ErrDailyQuota
	}
	return "", errAllModels
}

// trimQuotes removes a single pair of wrapping double quotes the model
// sometimes adds despite instructions.
func trimQuotes(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// clamp truncates to n runes.
func clamp(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Generate produces one content item for the category, fact-checking the
// draft and regenerating with a corrective instruction on failure. After
// factCheckAttempts the last draft is used anyway.
func (g *Generator) Generate(ctx context.Context, category string, news []domain.Headline) (domain.ContentItem, error) {
	system := systemPrompt()
	user := categoryPrompt(category)

	if len(news) > 0 {
		user += "\n\nRECENT NEWS FOR INSPIRATION (react to a real headline if relevant, otherwise write an opinion/observation):\n" + headlineLines(g.sample(news, 10))
	}
	user += "\n\nCurrent date/time: " + time.Now().UTC().Format("2006-01-02 15:04 UTC")
	user += "\n\nRespond with ONLY the tweet text. No quotes, no explanation, no meta-commentary."
	if category == "thread" {
		user += "\nReturn ONLY a JSON array of tweet strings."
	}

	var draft string
	for attempt := 0; attempt < factCheckAttempts; attempt++ {
		text, err := g.complete(ctx, []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		}, 1024, 0.9)
		if err != nil {
			return domain.ContentItem{}, err
		}
		draft = trimQuotes(text)

		if category == "thread" {
			return g.threadItem(category, draft), nil
		}
		if skipFactCheck(category) {
			break
		}

		ok, reason := g.factCheck(ctx, draft, news)
		if ok {
			g.log.Debug().Str("category", category).Str("reason", reason).Msg("fact check passed")
			break
		}
		g.log.Warn().
			Str("category", category).
			Int("attempt", attempt+1).
			Str("reason", reason).
			Str("rejected", clamp(draft, 80)).
			Msg("fact check failed, regenerating")
		user += "\n\nYOUR PREVIOUS TWEET FAILED FACT-CHECK: " + reason + "\nWrite a different tweet. Use OPINIONS and OBSERVATIONS, not fabricated claims."

		if attempt == factCheckAttempts-1 {
			g.log.Warn().Str("category", category).Msg("all fact-check attempts failed, using last draft")
		}
	}

	return domain.ContentItem{
		Kind:        domain.KindSingle,
		Category:    category,
		Text:        clamp(draft, maxTweetLen),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// threadItem parses a JSON array of tweets; when the model ignored the
// format, the draft is posted as a single tweet instead.
func (g *Generator) threadItem(category, draft string) domain.ContentItem {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(draft), "```json"), "```"))
	var tweets []string
	if err := json.Unmarshal([]byte(trimmed), &tweets); err == nil && len(tweets) > 0 {
		for i := range tweets {
			tweets[i] = clamp(tweets[i], maxTweetLen)
		}
		return domain.ContentItem{
			Kind:        domain.KindThread,
			Category:    category,
			Tweets:      tweets,
			GeneratedAt: time.Now().UTC(),
		}
	}
	return domain.ContentItem{
		Kind:        domain.KindSingle,
		Category:    category,
		Text:        clamp(draft, maxTweetLen),
		GeneratedAt: time.Now().UTC(),
	}
}

// GenerateReply produces a short reply to the tweet. An empty return with a
// nil error means the generator declined; callers skip without error.
func (g *Generator) GenerateReply(ctx context.Context, tweetText, author, surface string) (string, error) {
	text, err := g.complete(ctx, []chatMessage{
		{Role: "system", Content: replySystemPrompt()},
		{Role: "user", Content: replyPrompt(tweetText, author, surface)},
	}, 256, 0.85)
	if err != nil {
		if errors.Is(err, ErrDailyQuota) {
			return "", err
		}
		g.log.Warn().Err(err).Str("author", author).Msg("reply generation failed, declining")
		return "", nil
	}
	return clamp(trimQuotes(text), maxTweetLen), nil
}

// NewsTake produces a quote-style take on one headline, leaving room for
// the source link posted as a follow-up reply.
func (g *Generator) NewsTake(ctx context.Context, h domain.Headline) (domain.ContentItem, error) {
	text, err := g.complete(ctx, []chatMessage{
		{Role: "system", Content: systemPrompt()},
		{Role: "user", Content: newsTakePrompt(h)},
	}, 256, 0.9)
	if err != nil {
		return domain.ContentItem{}, err
	}
	return domain.ContentItem{
		Kind:        domain.KindNewsShare,
		Category:    "news_share",
		Text:        clamp(trimQuotes(text), maxNewsTakeLen),
		SourceLink:  h.Link,
		SourceTitle: h.Title,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// sample returns up to n headlines in random order.
func (g *Generator) sample(news []domain.Headline, n int) []domain.Headline {
	if len(news) <= n {
		return news
	}
	idx := g.rng.Perm(len(news))[:n]
	out := make([]domain.Headline, 0, n)
	for _, i := range idx {
		out = append(out, news[i])
	}
	return out
}

// skipFactCheck reports whether the category is opinion-only and needs no
// verification.
func skipFactCheck(category string) bool {
	switch category {
	case "thought_question", "philosophical", "spirituality", "engagement_post":
		return true
	}
	return false
}

func headlineLines(news []domain.Headline) string {
	var b strings.Builder
	for _, h := range news {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", h.Source, h.Title, h.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}
