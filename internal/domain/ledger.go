package domain

import "time"

// ReplyEntry records one reply sent from the mentions surface. The target
// tweet ID is the dedup key: across ReplyEntry and ProactiveEntry lists a
// tweet ID appears at most once.
type ReplyEntry struct {
	TweetID   string    `json:"tweet_id"`
	Author    string    `json:"author"`
	Reply     string    `json:"our_reply"`
	Timestamp time.Time `json:"timestamp"`
}

// ProactiveEntry records one reply sent from the proactive, topic, or viral
// surfaces. Topic carries the search that surfaced the tweet ("" for plain
// proactive, "viral:<query>" for viral finds).
type ProactiveEntry struct {
	TweetID   string    `json:"tweet_id"`
	Target    string    `json:"target"`
	Topic     string    `json:"topic,omitempty"`
	TweetText string    `json:"tweet_text,omitempty"`
	Reply     string    `json:"our_reply"`
	Followers int       `json:"followers,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
