// Package social wraps the X API v2 surface the daemon uses: publishing
// tweets, threads and quote tweets, and reading mentions, timelines, search
// results and follower lists.
//
// Transport policy: the client retries connection errors and 5xx responses
// with backoff via hashicorp/go-retryablehttp, but never retries 429. Rate
// limiting is an application decision, so 429-class responses surface as
// typed errors the caller can branch on:
//
//   - ErrRateLimited: short-term window exhausted, retry at next cycle
//   - ErrQuotaExhausted: daily/monthly cap hit, abort the whole surface
//
// Callers must use errors.Is rather than matching message text.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"chirpd/internal/domain"
)

const defaultBaseURL = "https://api.x.com"

// ErrRateLimited marks a short-term 429: the window resets within minutes,
// so the caller should skip and retry on the next natural trigger.
var ErrRateLimited = errors.New("social: rate limited")

// ErrQuotaExhausted marks a usage-cap 429: the daily or monthly allowance
// is gone and retrying before the cap resets is pointless.
var ErrQuotaExhausted = errors.New("social: usage cap exhausted")

// leveledZerolog adapts zerolog to retryablehttp's leveled logger. Client
// errors are logged at warn because the retry loop handles them.
type leveledZerolog struct {
	inner zerolog.Logger
}

func (l leveledZerolog) Error(msg string, kv ...any) { l.inner.Warn().Fields(kv).Msg(msg) }
func (l leveledZerolog) Warn(msg string, kv ...any)  { l.inner.Warn().Fields(kv).Msg(msg) }
func (l leveledZerolog) Info(msg string, kv ...any)  { l.inner.Info().Fields(kv).Msg(msg) }
func (l leveledZerolog) Debug(msg string, kv ...any) { l.inner.Debug().Fields(kv).Msg(msg) }

// retryPolicy wraps retryablehttp.DefaultRetryPolicy and treats 429 as
// non-retryable so it reaches the error mapping instead of stalling the
// loop in transport-level waits.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Client is the X API v2 client. Construct with New.
type Client struct {
	http    *http.Client
	baseURL string
	bearer  string
	log     zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API host, for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the retrying HTTP client entirely.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetryWait tightens the retry backoff bounds, for tests.
func WithRetryWait(min, max time.Duration) Option {
	return func(c *Client) {
		if rt, ok := c.http.Transport.(*retryablehttp.RoundTripper); ok {
			rt.Client.RetryWaitMin = min
			rt.Client.RetryWaitMax = max
		}
	}
}

// New returns a client authenticating every request with the bearer token.
func New(bearer string, log zerolog.Logger, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.CheckRetry = retryPolicy
	rc.Logger = retryablehttp.LeveledLogger(leveledZerolog{inner: log.With().Str("component", "social").Logger()})

	std := rc.StandardClient()
	std.Timeout = 30 * time.Second

	c := &Client{
		http:    std,
		baseURL: defaultBaseURL,
		bearer:  bearer,
		log:     log.With().Str("component", "social").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError is the X API error envelope; Title carries the machine-readable
// failure class.
type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// do issues a request and maps non-2xx responses to errors. The out
// parameter, when non-nil, receives the decoded response body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("social: encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("social: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("social: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("social: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		var e apiError
		_ = json.Unmarshal(raw, &e)
		if e.Title == "UsageCapExceeded" {
			return fmt.Errorf("%w: %s", ErrQuotaExhausted, e.Detail)
		}
		return fmt.Errorf("%w: reset in %s", ErrRateLimited, rateResetHint(resp.Header))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e apiError
		_ = json.Unmarshal(raw, &e)
		if e.Title != "" {
			return fmt.Errorf("social: %s %s: %d %s: %s", method, path, resp.StatusCode, e.Title, e.Detail)
		}
		return fmt.Errorf("social: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("social: decode response: %w", err)
		}
	}
	return nil
}

// rateResetHint renders the x-rate-limit-reset header as a duration for log
// readability; falls back to "unknown".
func rateResetHint(h http.Header) string {
	epoch, err := strconv.ParseInt(h.Get("x-rate-limit-reset"), 10, 64)
	if err != nil {
		return "unknown"
	}
	d := time.Until(time.Unix(epoch, 0))
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}

// Post publishes a tweet, optionally as a reply, and returns the new tweet
// ID.
func (c *Client) Post(ctx context.Context, text, replyToID string) (string, error) {
	req := createTweetRequest{Text: text}
	if replyToID != "" {
		req.Reply = &replyRef{InReplyToTweetID: replyToID}
	}
	var resp createTweetResponse
	if err := c.do(ctx, http.MethodPost, "/2/tweets", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.Data.ID, nil
}

// QuoteTweet publishes a quote of quoteID with the given commentary text.
func (c *Client) QuoteTweet(ctx context.Context, text, quoteID string) (string, error) {
	req := createTweetRequest{Text: text, QuoteTweetID: quoteID}
	var resp createTweetResponse
	if err := c.do(ctx, http.MethodPost, "/2/tweets", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.Data.ID, nil
}

// PostThread publishes the texts as a reply chain and returns the tweet IDs
// in order. A failure mid-thread returns the IDs already published along
// with the error, so the caller can record the partial thread.
func (c *Client) PostThread(ctx context.Context, texts []string) ([]string, error) {
	var ids []string
	prev := ""
	for i, text := range texts {
		id, err := c.Post(ctx, text, prev)
		if err != nil {
			return ids, fmt.Errorf("thread tweet %d/%d: %w", i+1, len(texts), err)
		}
		ids = append(ids, id)
		prev = id
	}
	return ids, nil
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (domain.User, error) {
	q := url.Values{"user.fields": {"public_metrics,verified"}}
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "/2/users/me", q, nil, &resp); err != nil {
		return domain.User{}, err
	}
	return resp.Data.toDomain(), nil
}

// UserByHandle resolves a handle to a user.
func (c *Client) UserByHandle(ctx context.Context, handle string) (domain.User, error) {
	q := url.Values{"user.fields": {"public_metrics,verified"}}
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "/2/users/by/username/"+url.PathEscape(handle), q, nil, &resp); err != nil {
		return domain.User{}, err
	}
	return resp.Data.toDomain(), nil
}

// Mentions returns tweets mentioning userID, newest first, optionally only
// those after sinceID.
func (c *Client) Mentions(ctx context.Context, userID, sinceID string) ([]domain.Candidate, error) {
	q := url.Values{
		"max_results":  {"50"},
		"tweet.fields": {"author_id,created_at,public_metrics,text"},
		"expansions":   {"author_id"},
		"user.fields":  {"username,verified,public_metrics"},
	}
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	var resp tweetListResponse
	if err := c.do(ctx, http.MethodGet, "/2/users/"+url.PathEscape(userID)+"/mentions", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.candidates(), nil
}

// UserTweets returns a user's recent original tweets, excluding retweets
// and replies.
func (c *Client) UserTweets(ctx context.Context, userID string, max int) ([]domain.Tweet, error) {
	q := url.Values{
		"max_results":  {strconv.Itoa(max)},
		"tweet.fields": {"author_id,created_at,public_metrics,text"},
		"exclude":      {"retweets,replies"},
	}
	var resp tweetListResponse
	if err := c.do(ctx, http.MethodGet, "/2/users/"+url.PathEscape(userID)+"/tweets", q, nil, &resp); err != nil {
		return nil, err
	}
	tweets := make([]domain.Tweet, 0, len(resp.Data))
	for _, t := range resp.Data {
		tweets = append(tweets, t.toDomain())
	}
	return tweets, nil
}

// SearchRecent runs a recent-search query and returns candidates with
// author metadata attached.
func (c *Client) SearchRecent(ctx context.Context, query string, max int) ([]domain.Candidate, error) {
	q := url.Values{
		"query":        {query},
		"max_results":  {strconv.Itoa(max)},
		"tweet.fields": {"author_id,created_at,public_metrics,text"},
		"expansions":   {"author_id"},
		"user.fields":  {"username,verified,public_metrics"},
	}
	var resp tweetListResponse
	if err := c.do(ctx, http.MethodGet, "/2/tweets/search/recent", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.candidates(), nil
}

// Followers returns accounts following userID.
func (c *Client) Followers(ctx context.Context, userID string) ([]domain.User, error) {
	return c.userList(ctx, "/2/users/"+url.PathEscape(userID)+"/followers", "100")
}

// Following returns accounts userID follows.
func (c *Client) Following(ctx context.Context, userID string) ([]domain.User, error) {
	return c.userList(ctx, "/2/users/"+url.PathEscape(userID)+"/following", "1000")
}

func (c *Client) userList(ctx context.Context, path, max string) ([]domain.User, error) {
	q := url.Values{
		"max_results": {max},
		"user.fields": {"username,verified,public_metrics"},
	}
	var resp userListResponse
	if err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(resp.Data))
	for _, u := range resp.Data {
		users = append(users, u.toDomain())
	}
	return users, nil
}

// Follow makes selfID follow targetID.
func (c *Client) Follow(ctx context.Context, selfID, targetID string) error {
	req := map[string]string{"target_user_id": targetID}
	return c.do(ctx, http.MethodPost, "/2/users/"+url.PathEscape(selfID)+"/following", nil, req, nil)
}
