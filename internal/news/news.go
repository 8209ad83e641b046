// Package news fetches RSS headlines used as generation context. Feeds are
// polled at most once per cache TTL; individual feed failures are logged
// and skipped so one dead feed never empties the headline pool.
package news

import (
	"context"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"chirpd/internal/domain"
)

// perFeedLimit caps how many items one feed contributes, so a chatty feed
// does not crowd out the others.
const perFeedLimit = 3

// Fetcher pulls headlines from a fixed feed list with a TTL cache.
type Fetcher struct {
	feeds  []string
	ttl    time.Duration
	parser *gofeed.Parser
	log    zerolog.Logger

	mu        sync.Mutex
	cached    []domain.Headline
	fetchedAt time.Time

	// nowFn is a test seam; defaults to time.Now.
	nowFn func() time.Time
}

// NewFetcher returns a fetcher over the given feed URLs caching results
// for ttl.
func NewFetcher(feeds []string, ttl time.Duration, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		feeds:  feeds,
		ttl:    ttl,
		parser: gofeed.NewParser(),
		log:    log.With().Str("component", "news").Logger(),
		nowFn:  time.Now,
	}
}

// Headlines returns the current headline pool, refreshing expired caches.
// A refresh that yields nothing keeps the stale cache; generation context
// degrades gracefully rather than disappearing.
func (f *Fetcher) Headlines(ctx context.Context) []domain.Headline {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.nowFn()
	if len(f.cached) > 0 && now.Sub(f.fetchedAt) < f.ttl {
		return f.cached
	}

	fresh := f.fetchAll(ctx)
	if len(fresh) > 0 {
		f.cached = fresh
		f.fetchedAt = now
	}
	return f.cached
}

func (f *Fetcher) fetchAll(ctx context.Context) []domain.Headline {
	var out []domain.Headline
	for _, url := range f.feeds {
		feed, err := f.parser.ParseURLWithContext(url, ctx)
		if err != nil {
			f.log.Warn().Err(err).Str("feed", url).Msg("feed fetch failed, skipping")
			continue
		}
		source := feed.Title
		if source == "" {
			source = url
		}
		for i, item := range feed.Items {
			if i == perFeedLimit {
				break
			}
			h := domain.Headline{
				Title:   item.Title,
				Summary: item.Description,
				Link:    item.Link,
				Source:  source,
			}
			if item.PublishedParsed != nil {
				h.Published = item.PublishedParsed.UTC().Format(time.RFC3339)
			}
			out = append(out, h)
		}
	}
	return out
}
