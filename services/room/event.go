package room

import "time"

// Event is a payload fanned out to every subscriber of a room. The concrete
// type names the wire event; payload shapes mirror what the realtime layer
// forwards to clients verbatim.
type Event interface {
	EventType() string
}

type ViewerJoinedEvent struct {
	ViewerCount int `json:"viewerCount"`
}

func (ViewerJoinedEvent) EventType() string { return "viewer_joined" }

type ViewerLeftEvent struct {
	ViewerCount int `json:"viewerCount"`
}

func (ViewerLeftEvent) EventType() string { return "viewer_left" }

type ViewerCountUpdateEvent struct {
	ViewerCount int `json:"viewerCount"`
	PeakViewers int `json:"peakViewers"`
}

func (ViewerCountUpdateEvent) EventType() string { return "viewer_count_update" }

type RatingsUpdateEvent struct {
	ChallengeID       string  `json:"challengeId"`
	Participant       string  `json:"participant"`
	Sum               int64   `json:"sum"`
	Count             int64   `json:"count"`
	Average           float64 `json:"average"`
	PercentageOfTotal float64 `json:"percentageOfTotal"`
}

func (RatingsUpdateEvent) EventType() string { return "ratings_update" }

type CommentAddedEvent struct {
	ChallengeID string    `json:"challengeId"`
	CommentID   string    `json:"commentId"`
	AuthorID    string    `json:"authorId"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (CommentAddedEvent) EventType() string { return "comment_added" }

type AdDisplayEvent struct {
	AdID string `json:"adId"`
}

func (AdDisplayEvent) EventType() string { return "ad_display" }

type AdRejectedEvent struct {
	AdID       string `json:"adId"`
	RejectedBy string `json:"rejectedBy"`
	Reason     string `json:"reason"`
}

func (AdRejectedEvent) EventType() string { return "ad_rejected" }

type ChallengeStatusChangedEvent struct {
	ChallengeID string `json:"challengeId"`
	Status      string `json:"status"`
}

func (ChallengeStatusChangedEvent) EventType() string { return "challenge_status_changed" }

// Envelope is the serialized form delivered over the realtime transport.
type Envelope struct {
	Type    string `json:"type"`
	Payload Event  `json:"payload"`
}

// Wrap tags an event with its wire type.
func Wrap(ev Event) Envelope {
	return Envelope{Type: ev.EventType(), Payload: ev}
}
