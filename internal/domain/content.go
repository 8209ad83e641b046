// Package domain defines the core data model shared by the scheduler, the
// content queue, the engagement engine, and the persistence layers: content
// items waiting to be published, the daily posting schedule, ledger entries
// recording past actions, and the candidate/author shapes returned by the
// social API.
package domain

import "time"

// ContentKind tags the shape of a content item's payload. Dispatch on the
// kind happens in exactly one place (the publisher); everywhere else items
// are opaque.
type ContentKind string

const (
	// KindSingle is a plain standalone post.
	KindSingle ContentKind = "single"
	// KindThread is an ordered chain of posts, each replying to the previous.
	KindThread ContentKind = "thread"
	// KindQuote quotes another post with commentary.
	KindQuote ContentKind = "quote_tweet"
	// KindNewsShare is a take on a headline; the source link is posted as a
	// reply to avoid the reach penalty on links in the main post.
	KindNewsShare ContentKind = "news_share"
)

// ContentItem is one pre-generated piece of content in the queue. Items are
// created by the generator, consumed exactly once by the publisher (Posted
// flips false→true exactly once), kept for the rest of the day for audit,
// then pruned.
type ContentItem struct {
	ID          string      `json:"id"`
	Kind        ContentKind `json:"type"`
	Category    string      `json:"category"`
	Text        string      `json:"text,omitempty"`
	Tweets      []string    `json:"tweets,omitempty"`
	QuoteID     string      `json:"quote_tweet_id,omitempty"`
	SourceLink  string      `json:"source_link,omitempty"`
	SourceTitle string      `json:"source_title,omitempty"`
	GeneratedAt time.Time   `json:"generated_at"`
	Posted      bool        `json:"posted"`
	PostedAt    *time.Time  `json:"posted_at,omitempty"`
}

// Preview returns a short human-readable excerpt for logs and the queue
// preview command.
func (c ContentItem) Preview(n int) string {
	text := c.Text
	if c.Kind == KindThread && len(c.Tweets) > 0 {
		text = c.Tweets[0]
	}
	if len(text) > n {
		return text[:n]
	}
	return text
}

// Headline is one entry from a news feed, used as generation context and as
// the source for news-share items.
type Headline struct {
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Link      string `json:"link"`
	Source    string `json:"source"`
	Published string `json:"published"`
}
