package revenue

import "time"

// Transaction is one participant's payout record for a completed challenge.
// Rows are written once by the distributor and never updated.
type Transaction struct {
	ID          string `gorm:"column:id;primaryKey"`
	Code        string `gorm:"column:code;uniqueIndex"`
	ChallengeID string `gorm:"column:challenge_id;index;not null"`

	ParticipantID string  `gorm:"column:participant_id;not null"`
	Role          string  `gorm:"column:role;type:varchar(20);not null"`
	Amount        float64 `gorm:"column:amount;not null"`

	RatingPercentage      float64 `gorm:"column:rating_percentage;not null"`
	TotalChallengeRevenue float64 `gorm:"column:total_challenge_revenue;not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
