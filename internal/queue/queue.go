// Package queue implements the bounded buffer of pre-generated content
// items awaiting posting. Items enter when the generator refills the queue,
// flip posted exactly once when the scheduler publishes them, and leave only
// by pruning after they have been posted.
package queue

import (
	"time"

	"chirpd/internal/domain"
)

// Queue is the in-memory working copy of the queue document. Like the
// ledger, it is single-writer: load, mutate, save within one tick.
type Queue struct {
	items []domain.ContentItem
}

// New returns an empty queue.
func New() *Queue { return &Queue{} }

// fromItems wraps a loaded document.
func fromItems(items []domain.ContentItem) *Queue { return &Queue{items: items} }

// Items returns a copy of the queue contents, newest last. Used by the
// preview command and the ops status snapshot.
func (q *Queue) Items() []domain.ContentItem {
	out := make([]domain.ContentItem, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the total number of items, posted included.
func (q *Queue) Len() int { return len(q.items) }

// Unposted returns the number of items still awaiting posting.
func (q *Queue) Unposted() int {
	n := 0
	for _, it := range q.items {
		if !it.Posted {
			n++
		}
	}
	return n
}

// unpostedIn counts unposted items of one category.
func (q *Queue) unpostedIn(category string) int {
	n := 0
	for _, it := range q.items {
		if !it.Posted && it.Category == category {
			n++
		}
	}
	return n
}

// Append adds a freshly generated item to the queue.
func (q *Queue) Append(item domain.ContentItem) {
	q.items = append(q.items, item)
}

// NeedsRefill returns the ordered list of categories to generate for,
// one entry per missing item. Every category in the schedule is kept at
// perCategory unposted items; the combined request is clipped to ceiling
// so a single refill call cannot block the loop on a long generation run.
func (q *Queue) NeedsRefill(categories []string, perCategory, ceiling int) []string {
	var needed []string
	for _, cat := range categories {
		for n := q.unpostedIn(cat); n < perCategory; n++ {
			needed = append(needed, cat)
		}
	}
	if len(needed) > ceiling {
		needed = needed[:ceiling]
	}
	return needed
}

// Take returns the first unposted item matching category. There is no
// substitution across categories: posting off-category content is worse
// than skipping the slot, so a miss reports ok=false and the caller
// generates on the fly instead.
func (q *Queue) Take(category string) (domain.ContentItem, bool) {
	for _, it := range q.items {
		if !it.Posted && it.Category == category {
			return it, true
		}
	}
	return domain.ContentItem{}, false
}

// MarkPosted flips the item's posted flag. Idempotent: marking an already
// posted item again leaves its original posted_at untouched. Returns false
// when the ID is not in the queue (an on-the-fly item the caller never
// appended).
func (q *Queue) MarkPosted(id string, now time.Time) bool {
	for i := range q.items {
		if q.items[i].ID != id {
			continue
		}
		if !q.items[i].Posted {
			q.items[i].Posted = true
			at := now
			q.items[i].PostedAt = &at
		}
		return true
	}
	return false
}

// PrunePosted drops posted items from days before today in loc. Unposted
// items are never dropped, whatever their age; posted items from earlier
// today are kept so the preview command can show what already went out.
func (q *Queue) PrunePosted(now time.Time, loc *time.Location) int {
	today := now.In(loc).Format("2006-01-02")
	kept := q.items[:0]
	dropped := 0
	for _, it := range q.items {
		if it.Posted && it.PostedAt != nil && it.PostedAt.In(loc).Format("2006-01-02") < today {
			dropped++
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	return dropped
}
