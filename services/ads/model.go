package ads

import "time"

type BindingStatus string

const (
	StatusPending   BindingStatus = "pending"
	StatusAssigned  BindingStatus = "assigned"
	StatusDisplayed BindingStatus = "displayed"
	StatusRejected  BindingStatus = "rejected"
	StatusExpired   BindingStatus = "expired"
)

// Binding ties one advertisement to one challenge. Only bindings that reach
// displayed contribute to the challenge's revenue.
type Binding struct {
	ID          string `gorm:"column:id;primaryKey"`
	AdID        string `gorm:"column:ad_id;uniqueIndex:idx_binding_identity;not null"`
	ChallengeID string `gorm:"column:challenge_id;uniqueIndex:idx_binding_identity;index;not null"`

	DisplayTime *time.Time    `gorm:"column:display_time"`
	PaidAmount  float64       `gorm:"column:paid_amount;not null;default:0"`
	Status      BindingStatus `gorm:"column:status;type:varchar(20);not null;default:'pending'"`

	RejectedBy      string `gorm:"column:rejected_by"`
	RejectionReason string `gorm:"column:rejection_reason"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
