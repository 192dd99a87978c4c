package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Maelsh/dueli/pkg/errutil"
)

// Client talks to the streaming vendor's HTTP API. Transient failures are
// retried with a short backoff; the attempt budget is bounded so a dead
// vendor fails fast instead of hanging a challenge start.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

type ClientConfig struct {
	Addr       string
	Timeout    time.Duration
	MaxRetries int
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    cfg.Addr,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
	}
}

type createSessionRequest struct {
	ParticipantID string `json:"participant_id"`
}

func (c *Client) CreateSession(ctx context.Context, participantID string) (*Session, error) {
	body, err := json.Marshal(createSessionRequest{ParticipantID: participantID})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 200 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, errutil.Timeout("streaming session request cancelled", ctx.Err())
			}
		}

		session, retryable, err := c.createOnce(ctx, body)
		if err == nil {
			return session, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		zap.L().Warn("streaming session attempt failed",
			zap.String("participant_id", participantID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return nil, errutil.BadGateway("streaming provider unavailable", lastErr)
}

func (c *Client) createOnce(ctx context.Context, body []byte) (*Session, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var session Session
		if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
			return nil, false, err
		}
		if session.EmbedURL == "" || session.StreamKey == "" {
			return nil, false, fmt.Errorf("incomplete session payload")
		}
		return &session, false, nil
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("provider returned %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("provider returned %d", resp.StatusCode)
	}
}
