package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Maelsh/dueli/pkg/errutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestCreateSessionRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/sessions", r.URL.Path)

		var req createSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "creator-1", req.ParticipantID)

		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(Session{
			EmbedURL:  "https://vendor/embed/creator-1",
			StreamKey: "key-creator-1",
		})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{Addr: srv.URL, Timeout: time.Second, MaxRetries: 3})

	session, err := client.CreateSession(context.Background(), "creator-1")
	require.NoError(t, err)
	require.Equal(t, "https://vendor/embed/creator-1", session.EmbedURL)
	require.Equal(t, "key-creator-1", session.StreamKey)
	require.EqualValues(t, 3, calls.Load())
}

func TestCreateSessionExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{Addr: srv.URL, Timeout: time.Second, MaxRetries: 1})

	_, err := client.CreateSession(context.Background(), "creator-1")
	require.Error(t, err)
	require.Equal(t, errutil.StatusBadGateway, errutil.StatusOf(err))
}

func TestCreateSessionDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{Addr: srv.URL, Timeout: time.Second, MaxRetries: 5})

	_, err := client.CreateSession(context.Background(), "creator-1")
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestStubProvider(t *testing.T) {
	stub := &StubProvider{}

	session, err := stub.CreateSession(context.Background(), "opponent-1")
	require.NoError(t, err)
	require.Contains(t, session.EmbedURL, "opponent-1")
	require.NotEmpty(t, session.StreamKey)
}
