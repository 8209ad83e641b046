package domain

import "time"

// User is the author metadata the engagement engine needs: identity plus
// the follower count used by the per-surface audience floors.
type User struct {
	ID        string
	Handle    string
	Followers int
	Verified  bool
}

// Tweet is a candidate post returned by the social API (a mention, a tweet
// from a watched account, or a search hit).
type Tweet struct {
	ID        string
	AuthorID  string
	Text      string
	CreatedAt time.Time
	Likes     int
}

// Candidate pairs a tweet with its resolved author for eligibility checks.
type Candidate struct {
	Tweet  Tweet
	Author User
}

// Age returns how old the candidate tweet is at the given instant. A zero
// CreatedAt reports zero age: tweets without a timestamp are treated as
// fresh rather than silently discarded.
func (c Candidate) Age(now time.Time) time.Duration {
	if c.Tweet.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(c.Tweet.CreatedAt)
}
