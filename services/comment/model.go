package comment

import "time"

// Comment is one message on a live challenge's room feed.
type Comment struct {
	ID          string `gorm:"column:id;primaryKey"`
	ChallengeID string `gorm:"column:challenge_id;index;not null"`
	AuthorID    string `gorm:"column:author_id;not null"`
	Body        string `gorm:"column:body;type:varchar(500);not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
