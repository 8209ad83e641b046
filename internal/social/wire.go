package social

import (
	"time"

	"chirpd/internal/domain"
)

// Wire shapes for the X API v2 envelopes the client consumes.

type createTweetRequest struct {
	Text         string    `json:"text"`
	Reply        *replyRef `json:"reply,omitempty"`
	QuoteTweetID string    `json:"quote_tweet_id,omitempty"`
}

type replyRef struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type wireTweet struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"author_id"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
	PublicMetrics struct {
		LikeCount int `json:"like_count"`
	} `json:"public_metrics"`
}

func (t wireTweet) toDomain() domain.Tweet {
	return domain.Tweet{
		ID:        t.ID,
		AuthorID:  t.AuthorID,
		Text:      t.Text,
		CreatedAt: t.CreatedAt,
		Likes:     t.PublicMetrics.LikeCount,
	}
}

type wireUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Verified      bool   `json:"verified"`
	PublicMetrics struct {
		FollowersCount int `json:"followers_count"`
	} `json:"public_metrics"`
}

func (u wireUser) toDomain() domain.User {
	return domain.User{
		ID:        u.ID,
		Handle:    u.Username,
		Verified:  u.Verified,
		Followers: u.PublicMetrics.FollowersCount,
	}
}

type userResponse struct {
	Data wireUser `json:"data"`
}

type userListResponse struct {
	Data []wireUser `json:"data"`
}

type tweetListResponse struct {
	Data     []wireTweet `json:"data"`
	Includes struct {
		Users []wireUser `json:"users"`
	} `json:"includes"`
}

// candidates joins tweets with their expanded authors. A tweet whose author
// is missing from the includes block still yields a candidate with an empty
// author; the eligibility filter rejects it downstream.
func (r tweetListResponse) candidates() []domain.Candidate {
	authors := make(map[string]domain.User, len(r.Includes.Users))
	for _, u := range r.Includes.Users {
		authors[u.ID] = u.toDomain()
	}
	out := make([]domain.Candidate, 0, len(r.Data))
	for _, t := range r.Data {
		out = append(out, domain.Candidate{
			Tweet:  t.toDomain(),
			Author: authors[t.AuthorID],
		})
	}
	return out
}
