package challenge

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Role string

const (
	RoleCreator  Role = "creator"
	RoleOpponent Role = "opponent"
)

// Challenge is one competitive session between two participants. The row also
// carries the per-participant rating accumulators and, once completed, the
// revenue split; both are owned by the state machine and only ever mutated
// through its transitions (accumulators via atomic deltas from the rating
// service).
type Challenge struct {
	ID    string `gorm:"column:id;primaryKey"`
	Code  string `gorm:"column:code;uniqueIndex"`
	Title string `gorm:"column:title;type:varchar(255);not null"`
	Slug  string `gorm:"column:slug;index"`

	CreatorID  string `gorm:"column:creator_id;index;not null"`
	OpponentID string `gorm:"column:opponent_id;index"`

	Status Status `gorm:"column:status;type:varchar(20);not null;default:'pending'"`

	ScheduledTime *time.Time `gorm:"column:scheduled_time"`
	StartedAt     *time.Time `gorm:"column:started_at"`
	EndedAt       *time.Time `gorm:"column:ended_at"`

	CreatorEmbedURL   string `gorm:"column:creator_embed_url"`
	CreatorStreamKey  string `gorm:"column:creator_stream_key"`
	OpponentEmbedURL  string `gorm:"column:opponent_embed_url"`
	OpponentStreamKey string `gorm:"column:opponent_stream_key"`

	CreatorRatingSum    int64 `gorm:"column:creator_rating_sum;not null;default:0"`
	CreatorRatingCount  int64 `gorm:"column:creator_rating_count;not null;default:0"`
	OpponentRatingSum   int64 `gorm:"column:opponent_rating_sum;not null;default:0"`
	OpponentRatingCount int64 `gorm:"column:opponent_rating_count;not null;default:0"`

	// Revenue split, written exactly once at the live->completed
	// transition. DistributedAt nil means no distribution exists yet.
	PlatformRevenue float64    `gorm:"column:platform_revenue;not null;default:0"`
	CreatorRevenue  float64    `gorm:"column:creator_revenue;not null;default:0"`
	OpponentRevenue float64    `gorm:"column:opponent_revenue;not null;default:0"`
	DistributedAt   *time.Time `gorm:"column:distributed_at"`

	Metadata datatypes.JSON `gorm:"column:metadata"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Challenge) IsParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return userID == c.CreatorID || (c.OpponentID != "" && userID == c.OpponentID)
}

// RoleOf returns the participant role for userID, or "" when userID is not a
// participant.
func (c *Challenge) RoleOf(userID string) Role {
	switch {
	case userID == c.CreatorID:
		return RoleCreator
	case c.OpponentID != "" && userID == c.OpponentID:
		return RoleOpponent
	default:
		return ""
	}
}

// TotalScore is the combined rating sum across both participants.
func (c *Challenge) TotalScore() int64 {
	return c.CreatorRatingSum + c.OpponentRatingSum
}
