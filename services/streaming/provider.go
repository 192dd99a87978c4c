package streaming

import "context"

// Session is the live-video session handed back by the streaming vendor for
// one participant.
type Session struct {
	EmbedURL  string `json:"embed_url"`
	StreamKey string `json:"stream_key"`
}

// Provider bootstraps vendor-side streaming sessions. Implementations own
// their timeout and retry policy; callers treat any returned error as a hard
// failure.
type Provider interface {
	CreateSession(ctx context.Context, participantID string) (*Session, error)
}
