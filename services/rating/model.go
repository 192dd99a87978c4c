package rating

import "time"

// Rating is one rater's live score for one participant of a challenge. At
// most one row exists per (challenge, rater, participant); resubmission
// overwrites in place.
type Rating struct {
	ID            string `gorm:"column:id;primaryKey"`
	ChallengeID   string `gorm:"column:challenge_id;uniqueIndex:idx_rating_identity;not null"`
	RaterID       string `gorm:"column:rater_id;uniqueIndex:idx_rating_identity;not null"`
	ParticipantID string `gorm:"column:participant_id;uniqueIndex:idx_rating_identity;not null"`
	Score         int64  `gorm:"column:score;not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
