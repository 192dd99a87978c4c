package streaming

import (
	"context"
	"fmt"
)

// StubProvider mints deterministic sessions without calling a vendor. Used in
// local development and tests.
type StubProvider struct {
	// Err, when set, is returned from every call.
	Err error
}

func (s *StubProvider) CreateSession(_ context.Context, participantID string) (*Session, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return &Session{
		EmbedURL:  fmt.Sprintf("https://stream.local/embed/%s", participantID),
		StreamKey: fmt.Sprintf("key-%s", participantID),
	}, nil
}
