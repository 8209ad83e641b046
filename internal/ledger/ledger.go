// Package ledger implements the append-only action ledger: the single
// source of truth for "have we already done X". It backs every dedup,
// cooldown, and hourly-cap decision made by the engagement engine.
//
// The ledger is one JSON document with four keyed lists (last seen mention
// ID, followed-back user IDs, replies sent, proactive replies). Missing
// keys default to empty, so older documents load cleanly. The in-memory
// Ledger is the unit of transactional consistency: load once per decision
// cycle, mutate, write back as one atomic document replace.
package ledger

import (
	"strings"
	"time"

	"chirpd/internal/domain"
)

// Document is the on-disk shape of the ledger.
type Document struct {
	LastMentionID string                  `json:"last_mention_id,omitempty"`
	FollowedBack  []string                `json:"followed_back"`
	RepliesSent   []domain.ReplyEntry     `json:"replies_sent"`
	Proactive     []domain.ProactiveEntry `json:"proactive_replies"`
}

// maxFollowedBack caps the followed-back list; it only needs to cover the
// follower pages the API returns, not all history.
const maxFollowedBack = 1000

// Ledger is the in-memory working copy of the document.
type Ledger struct {
	doc Document
}

// New returns an empty ledger.
func New() *Ledger { return &Ledger{} }

// fromDocument wraps a loaded document.
func fromDocument(doc Document) *Ledger { return &Ledger{doc: doc} }

// AllRepliedIDs returns every tweet ID ever replied to, across all reply
// surfaces. This union is the dedup invariant: a tweet ID in this set is
// never replied to again.
func (l *Ledger) AllRepliedIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(l.doc.RepliesSent)+len(l.doc.Proactive))
	for _, r := range l.doc.RepliesSent {
		if r.TweetID != "" {
			ids[r.TweetID] = struct{}{}
		}
	}
	for _, r := range l.doc.Proactive {
		if r.TweetID != "" {
			ids[r.TweetID] = struct{}{}
		}
	}
	return ids
}

// HasReplied reports whether the given tweet ID appears in any reply list.
func (l *Ledger) HasReplied(tweetID string) bool {
	if tweetID == "" {
		return false
	}
	for _, r := range l.doc.RepliesSent {
		if r.TweetID == tweetID {
			return true
		}
	}
	for _, r := range l.doc.Proactive {
		if r.TweetID == tweetID {
			return true
		}
	}
	return false
}

// RepliedToAuthorRecently reports whether any reply (either sub-kind)
// targeted the author within the window ending at now. Handles compare
// case-insensitively.
func (l *Ledger) RepliedToAuthorRecently(author string, within time.Duration, now time.Time) bool {
	cutoff := now.Add(-within)
	for _, r := range l.doc.RepliesSent {
		if strings.EqualFold(r.Author, author) && r.Timestamp.After(cutoff) {
			return true
		}
	}
	for _, r := range l.doc.Proactive {
		if strings.EqualFold(r.Target, author) && r.Timestamp.After(cutoff) {
			return true
		}
	}
	return false
}

// RepliesInLast counts reply-kind entries (both sub-kinds) with a timestamp
// inside the trailing window. This is the shared hourly-cap counter for all
// engagement surfaces.
func (l *Ledger) RepliesInLast(window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	n := 0
	for _, r := range l.doc.RepliesSent {
		if r.Timestamp.After(cutoff) {
			n++
		}
	}
	for _, r := range l.doc.Proactive {
		if r.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

// ProactiveInLast counts only proactive-kind entries in the trailing
// window, for the separate proactive hourly cap.
func (l *Ledger) ProactiveInLast(window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	n := 0
	for _, r := range l.doc.Proactive {
		if r.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

// AppendReply records a mention reply.
func (l *Ledger) AppendReply(e domain.ReplyEntry) {
	l.doc.RepliesSent = append(l.doc.RepliesSent, e)
}

// AppendProactive records a proactive, topic, or viral reply.
func (l *Ledger) AppendProactive(e domain.ProactiveEntry) {
	l.doc.Proactive = append(l.doc.Proactive, e)
}

// MarkFollowed records a user ID as handled by the follow-back surface.
// Rejected bot accounts are marked too: the entry means "processed, skip
// forever", not necessarily "followed".
func (l *Ledger) MarkFollowed(userID string) {
	if userID == "" || l.HasFollowed(userID) {
		return
	}
	l.doc.FollowedBack = append(l.doc.FollowedBack, userID)
}

// HasFollowed reports whether the user ID was already processed.
func (l *Ledger) HasFollowed(userID string) bool {
	for _, id := range l.doc.FollowedBack {
		if id == userID {
			return true
		}
	}
	return false
}

// LastMentionID returns the high-water mention ID for incremental polls.
func (l *Ledger) LastMentionID() string { return l.doc.LastMentionID }

// SetLastMentionID advances the high-water mention ID.
func (l *Ledger) SetLastMentionID(id string) {
	if id != "" {
		l.doc.LastMentionID = id
	}
}

// Prune drops reply entries older than the retention window, independently
// per list, and caps the followed-back list at its newest entries. The
// retention window is validated to be at least as long as every cooldown
// window, so pruning never breaks a cooldown or cap query.
func (l *Ledger) Prune(retention time.Duration, now time.Time) {
	cutoff := now.Add(-retention)

	kept := l.doc.RepliesSent[:0]
	for _, r := range l.doc.RepliesSent {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	l.doc.RepliesSent = kept

	keptP := l.doc.Proactive[:0]
	for _, r := range l.doc.Proactive {
		if r.Timestamp.After(cutoff) {
			keptP = append(keptP, r)
		}
	}
	l.doc.Proactive = keptP

	if n := len(l.doc.FollowedBack); n > maxFollowedBack {
		l.doc.FollowedBack = append([]string(nil), l.doc.FollowedBack[n-maxFollowedBack:]...)
	}
}

// Sizes returns the list lengths for the ops status snapshot.
func (l *Ledger) Sizes() (replies, proactive, followed int) {
	return len(l.doc.RepliesSent), len(l.doc.Proactive), len(l.doc.FollowedBack)
}
