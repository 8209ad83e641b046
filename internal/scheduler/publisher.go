package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"chirpd/internal/domain"
	"chirpd/internal/postlog"
)

// Poster is the slice of the social client the publisher consumes.
type Poster interface {
	Post(ctx context.Context, text, replyToID string) (string, error)
	PostThread(ctx context.Context, texts []string) ([]string, error)
	QuoteTweet(ctx context.Context, text, quoteID string) (string, error)
}

// Budget gates outbound API calls.
type Budget interface {
	Allow() bool
	Record()
}

// errPublishBudget is returned when the call budget cannot cover a publish.
// The slot is skipped; publishing catches up at the next slot.
var errPublishBudget = errors.New("scheduler: api budget too low to publish")

// Publisher dispatches a content item to the right posting shape and
// archives the result in the post log.
type Publisher struct {
	poster Poster
	budget Budget
	db     *gorm.DB
	log    zerolog.Logger

	nowFn func() time.Time
}

// NewPublisher returns a publisher over the poster and post-log handle.
func NewPublisher(poster Poster, budget Budget, db *gorm.DB, log zerolog.Logger) *Publisher {
	return &Publisher{
		poster: poster,
		budget: budget,
		db:     db,
		log:    log.With().Str("component", "publisher").Logger(),
		nowFn:  time.Now,
	}
}

// Publish posts the item and returns the lead tweet ID. Threads return
// their first tweet; news shares and quotes post their source link as a
// follow-up reply to dodge the link reach penalty. Every row that reaches
// the platform is archived in the post log, reply chains included.
func (p *Publisher) Publish(ctx context.Context, item domain.ContentItem) (string, error) {
	if !p.budget.Allow() {
		return "", errPublishBudget
	}

	if item.Kind == domain.KindThread {
		return p.publishThread(ctx, item)
	}

	var (
		id  string
		err error
	)
	if item.Kind == domain.KindQuote {
		id, err = p.poster.QuoteTweet(ctx, item.Text, item.QuoteID)
	} else {
		id, err = p.poster.Post(ctx, item.Text, "")
	}
	// The provider counts the call against the window even when it fails.
	p.budget.Record()
	if err != nil {
		return id, err
	}

	p.archive(ctx, &domain.PostRecord{
		TweetID:  id,
		Text:     item.Text,
		Category: item.Category,
		Kind:     string(item.Kind),
	})

	switch item.Kind {
	case domain.KindQuote:
		p.linkReply(ctx, item, id, "Source: "+item.SourceLink)
	case domain.KindNewsShare:
		p.linkReply(ctx, item, id, item.SourceLink)
	}

	p.log.Info().
		Str("tweet_id", id).
		Str("kind", string(item.Kind)).
		Str("category", item.Category).
		Msg("published")
	return id, nil
}

// publishThread posts the chain and charges the budget once per tweet that
// went out. On a mid-thread failure the call that failed is charged too, and
// the links already posted are archived: they are live whether or not the
// tail made it.
func (p *Publisher) publishThread(ctx context.Context, item domain.ContentItem) (string, error) {
	ids, err := p.poster.PostThread(ctx, item.Tweets)
	for range ids {
		p.budget.Record()
	}
	if err != nil {
		p.budget.Record()
	}

	prev := ""
	for i, id := range ids {
		p.archive(ctx, &domain.PostRecord{
			TweetID:   id,
			Text:      item.Tweets[i],
			ReplyToID: prev,
			Category:  item.Category,
			Kind:      string(item.Kind),
		})
		prev = id
	}

	if len(ids) == 0 {
		return "", err
	}
	if err != nil {
		return ids[0], err
	}

	p.log.Info().
		Str("tweet_id", ids[0]).
		Int("length", len(ids)).
		Str("kind", string(item.Kind)).
		Str("category", item.Category).
		Msg("published")
	return ids[0], nil
}

// linkReply posts the source link as a reply under the lead tweet. A
// failure here is logged and swallowed; the main post already succeeded.
func (p *Publisher) linkReply(ctx context.Context, item domain.ContentItem, leadID, text string) {
	if item.SourceLink == "" {
		return
	}
	if !p.budget.Allow() {
		p.log.Warn().Str("tweet_id", leadID).Msg("skipping link reply, budget low")
		return
	}
	id, err := p.poster.Post(ctx, text, leadID)
	p.budget.Record()
	if err != nil {
		p.log.Warn().Err(err).Str("tweet_id", leadID).Msg("link reply failed")
		return
	}
	p.archive(ctx, &domain.PostRecord{
		TweetID:   id,
		Text:      text,
		ReplyToID: leadID,
		Category:  item.Category,
		Kind:      string(item.Kind),
	})
}

// archive inserts one post-log row. The tweet is already out, so a failed
// write must not fail the slot; it is logged and dropped.
func (p *Publisher) archive(ctx context.Context, rec *domain.PostRecord) {
	rec.PostedAt = p.nowFn().UTC()
	if err := postlog.Append(ctx, p.db, rec); err != nil {
		p.log.Error().Err(err).Str("tweet_id", rec.TweetID).Msg("post log append failed")
	}
}
