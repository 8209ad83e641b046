package domain

import "time"

// PostRecord is the durable archive row for every published post. Unlike
// the queue and ledger documents (whole-document JSON replace), the archive
// is queried — posts-today for stats, recent posts for the ops surface — so
// it lives in SQLite and is mapped with GORM.
//
// A thread produces one row per chain link and a source-link reply gets its
// own row; ReplyToID points at the parent tweet, empty for lead posts.
type PostRecord struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	TweetID   string    `json:"tweet_id"   gorm:"type:varchar(32);not null;index"`
	Text      string    `json:"text"       gorm:"type:text;not null"`
	ReplyToID string    `json:"reply_to,omitempty" gorm:"type:varchar(32)"`
	Category  string    `json:"category"   gorm:"type:varchar(64);index"`
	Kind      string    `json:"kind"       gorm:"type:varchar(16)"`
	PostedAt  time.Time `json:"posted_at"  gorm:"index"`
}

// TableName returns the database table name for PostRecord.
func (PostRecord) TableName() string { return "post_log" }
