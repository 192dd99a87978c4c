package ads

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Maelsh/dueli/pkg/errutil"
	"github.com/Maelsh/dueli/pkg/taskname"
	"github.com/Maelsh/dueli/services/challenge"
	"github.com/Maelsh/dueli/services/room"
	"github.com/Maelsh/dueli/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []room.Event
}

func (b *recordingBroadcaster) Publish(_ string, ev room.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBroadcaster) last() room.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil
	}
	return b.events[len(b.events)-1]
}

type fixture struct {
	db          *gorm.DB
	svc         *Service
	broadcaster *recordingBroadcaster
	challenge   *challenge.Challenge
}

func newFixture(t *testing.T, status challenge.Status) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &challenge.Challenge{}, &Binding{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ch := &challenge.Challenge{
		ID:         node.Generate().String(),
		Code:       "CHL-250901-001AA",
		Title:      "Guitar Duel",
		CreatorID:  "creator-1",
		OpponentID: "opponent-1",
		Status:     status,
	}
	require.NoError(t, db.Create(ch).Error)

	f := &fixture{
		db:          db,
		broadcaster: &recordingBroadcaster{},
		challenge:   ch,
	}
	f.svc = NewService(ServiceParams{
		DB:          db,
		Node:        node,
		Broadcaster: f.broadcaster,
	})
	return f
}

func (f *fixture) mustAssign(t *testing.T, adID string, paid float64) *Binding {
	t.Helper()

	b, err := f.svc.Assign(context.Background(), AssignRequest{
		AdID:        adID,
		ChallengeID: f.challenge.ID,
		PaidAmount:  paid,
	})
	require.NoError(t, err)
	return b
}

func TestAssign(t *testing.T) {
	ctx := context.Background()

	t.Run("scheduled challenge accepts ads", func(t *testing.T) {
		f := newFixture(t, challenge.StatusScheduled)
		b := f.mustAssign(t, "ad-1", 40)
		require.Equal(t, StatusAssigned, b.Status)
		require.Equal(t, 40.0, b.PaidAmount)
	})

	t.Run("live challenge accepts ads", func(t *testing.T) {
		f := newFixture(t, challenge.StatusLive)
		b := f.mustAssign(t, "ad-1", 25)
		require.Equal(t, StatusAssigned, b.Status)
	})

	t.Run("pending challenge rejects ads", func(t *testing.T) {
		f := newFixture(t, challenge.StatusPending)
		_, err := f.svc.Assign(ctx, AssignRequest{AdID: "ad-1", ChallengeID: f.challenge.ID})
		require.ErrorIs(t, err, ErrNotAssignable)
	})

	t.Run("completed challenge rejects ads", func(t *testing.T) {
		f := newFixture(t, challenge.StatusCompleted)
		_, err := f.svc.Assign(ctx, AssignRequest{AdID: "ad-1", ChallengeID: f.challenge.ID})
		require.ErrorIs(t, err, ErrNotAssignable)
	})

	t.Run("duplicate assignment conflicts", func(t *testing.T) {
		f := newFixture(t, challenge.StatusLive)
		f.mustAssign(t, "ad-1", 40)
		_, err := f.svc.Assign(ctx, AssignRequest{AdID: "ad-1", ChallengeID: f.challenge.ID})
		require.ErrorIs(t, err, ErrAlreadyBound)
	})

	t.Run("unknown challenge", func(t *testing.T) {
		f := newFixture(t, challenge.StatusLive)
		_, err := f.svc.Assign(ctx, AssignRequest{AdID: "ad-1", ChallengeID: "missing"})
		require.ErrorIs(t, err, challenge.ErrNotFound)
	})

	// an empty ID would otherwise match an arbitrary challenge row
	t.Run("empty challenge id", func(t *testing.T) {
		f := newFixture(t, challenge.StatusLive)
		_, err := f.svc.Assign(ctx, AssignRequest{AdID: "ad-1", ChallengeID: ""})
		require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
	})
}

func TestMarkDisplayed(t *testing.T) {
	ctx := context.Background()

	t.Run("assigned becomes displayed", func(t *testing.T) {
		f := newFixture(t, challenge.StatusLive)
		b := f.mustAssign(t, "ad-1", 40)

		got, err := f.svc.MarkDisplayed(ctx, b.ID)
		require.NoError(t, err)
		require.Equal(t, StatusDisplayed, got.Status)
		require.NotNil(t, got.DisplayTime)

		ev, ok := f.broadcaster.last().(room.AdDisplayEvent)
		require.True(t, ok)
		require.Equal(t, "ad-1", ev.AdID)
	})

	t.Run("display twice conflicts", func(t *testing.T) {
		f := newFixture(t, challenge.StatusLive)
		b := f.mustAssign(t, "ad-1", 40)
		_, err := f.svc.MarkDisplayed(ctx, b.ID)
		require.NoError(t, err)
		_, err = f.svc.MarkDisplayed(ctx, b.ID)
		require.ErrorIs(t, err, ErrNotDisplayable)
	})

	t.Run("requires live challenge", func(t *testing.T) {
		f := newFixture(t, challenge.StatusScheduled)
		b := f.mustAssign(t, "ad-1", 40)
		_, err := f.svc.MarkDisplayed(ctx, b.ID)
		require.ErrorIs(t, err, challenge.ErrNotLive)
	})

	t.Run("unknown binding", func(t *testing.T) {
		f := newFixture(t, challenge.StatusLive)
		_, err := f.svc.MarkDisplayed(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty binding id", func(t *testing.T) {
		f := newFixture(t, challenge.StatusLive)
		b := f.mustAssign(t, "ad-1", 40)

		_, err := f.svc.MarkDisplayed(ctx, "")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = f.svc.Reject(ctx, "", "creator-1", "blank id")
		require.ErrorIs(t, err, ErrNotFound)

		got, err := f.svc.bindings.FindOne(ctx, &Binding{ID: b.ID})
		require.NoError(t, err)
		require.Equal(t, StatusAssigned, got.Status)
	})
}

func TestReject(t *testing.T) {
	ctx := context.Background()

	t.Run("participant rejects assigned ad", func(t *testing.T) {
		f := newFixture(t, challenge.StatusLive)
		b := f.mustAssign(t, "ad-1", 40)

		got, err := f.svc.Reject(ctx, b.ID, "creator-1", "offensive content")
		require.NoError(t, err)
		require.Equal(t, StatusRejected, got.Status)
		require.Equal(t, "creator-1", got.RejectedBy)
		require.Equal(t, "offensive content", got.RejectionReason)

		ev, ok := f.broadcaster.last().(room.AdRejectedEvent)
		require.True(t, ok)
		require.Equal(t, "ad-1", ev.AdID)
		require.Equal(t, "creator-1", ev.RejectedBy)
	})

	t.Run("displayed ad can still be rejected", func(t *testing.T) {
		f := newFixture(t, challenge.StatusLive)
		b := f.mustAssign(t, "ad-1", 40)
		_, err := f.svc.MarkDisplayed(ctx, b.ID)
		require.NoError(t, err)

		got, err := f.svc.Reject(ctx, b.ID, "opponent-1", "not appropriate")
		require.NoError(t, err)
		require.Equal(t, StatusRejected, got.Status)
	})

	t.Run("non participant cannot reject", func(t *testing.T) {
		f := newFixture(t, challenge.StatusLive)
		b := f.mustAssign(t, "ad-1", 40)
		_, err := f.svc.Reject(ctx, b.ID, "viewer-9", "nope")
		require.ErrorIs(t, err, challenge.ErrNotParticipant)
	})

	t.Run("rejected ad stays rejected", func(t *testing.T) {
		f := newFixture(t, challenge.StatusLive)
		b := f.mustAssign(t, "ad-1", 40)
		_, err := f.svc.Reject(ctx, b.ID, "creator-1", "first")
		require.NoError(t, err)
		_, err = f.svc.Reject(ctx, b.ID, "opponent-1", "second")
		require.ErrorIs(t, err, ErrNotRejectable)

		_, err = f.svc.MarkDisplayed(ctx, b.ID)
		require.ErrorIs(t, err, ErrNotDisplayable)
	})
}

func TestHandleExpireLeftover(t *testing.T) {
	f := newFixture(t, challenge.StatusLive)
	ctx := context.Background()

	f.mustAssign(t, "ad-1", 40)
	displayed := f.mustAssign(t, "ad-2", 35)
	_, err := f.svc.MarkDisplayed(ctx, displayed.ID)
	require.NoError(t, err)
	rejected := f.mustAssign(t, "ad-3", 25)
	_, err = f.svc.Reject(ctx, rejected.ID, "creator-1", "nope")
	require.NoError(t, err)

	task := NewTask(TaskParams{DB: f.db})
	payload, err := json.Marshal(ExpireLeftoverPayload{ChallengeID: f.challenge.ID})
	require.NoError(t, err)
	require.NoError(t, task.HandleExpireLeftover(ctx, asynq.NewTask(taskname.AdsExpireLeftover, payload)))

	list, err := f.svc.List(ctx, f.challenge.ID)
	require.NoError(t, err)
	byAd := map[string]BindingStatus{}
	for _, b := range list {
		byAd[b.AdID] = b.Status
	}
	require.Equal(t, StatusExpired, byAd["ad-1"])
	require.Equal(t, StatusDisplayed, byAd["ad-2"])
	require.Equal(t, StatusRejected, byAd["ad-3"])
}
