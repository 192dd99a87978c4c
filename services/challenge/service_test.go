package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Maelsh/dueli/pkg/config"
	"github.com/Maelsh/dueli/pkg/db/pagination"
	"github.com/Maelsh/dueli/pkg/errutil"
	"github.com/Maelsh/dueli/services/room"
	"github.com/Maelsh/dueli/services/streaming"
	"github.com/Maelsh/dueli/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeSequence struct {
	mu sync.Mutex
	n  int
}

func (s *fakeSequence) NextChallengeCode(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("CHL-250901-%03dAA", s.n), nil
}

func (s *fakeSequence) NextTransactionCode(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("TXN-250901-%03dAA", s.n), nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []room.Event
}

func (b *fakeBroadcaster) Publish(_ string, ev room.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *fakeBroadcaster) published() []room.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]room.Event(nil), b.events...)
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []string
}

func (e *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task.Type())
	return &asynq.TaskInfo{}, nil
}

type fakeDistributor struct {
	calls int
	err   error
	dist  Distribution
}

func (d *fakeDistributor) Distribute(_ context.Context, _ *gorm.DB, _ *Challenge) (*Distribution, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return &d.dist, nil
}

type serviceFixture struct {
	db          *gorm.DB
	svc         *Service
	broadcaster *fakeBroadcaster
	enqueuer    *fakeEnqueuer
	distributor *fakeDistributor
	provider    *streaming.StubProvider
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db := testutil.NewTestDB(t, &Challenge{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &serviceFixture{
		db:          db,
		broadcaster: &fakeBroadcaster{},
		enqueuer:    &fakeEnqueuer{},
		distributor: &fakeDistributor{dist: Distribution{TotalRevenue: 100, Platform: 20, Creator: 60, Opponent: 20}},
		provider:    &streaming.StubProvider{},
	}
	f.svc = NewService(ServiceParams{
		DB:          db,
		Node:        node,
		Config:      &config.Config{},
		Sequence:    &fakeSequence{},
		Provider:    f.provider,
		Broadcaster: f.broadcaster,
		Distributor: f.distributor,
		Asynq:       f.enqueuer,
	})
	return f
}

func (f *serviceFixture) mustCreate(t *testing.T, scheduled bool) *Challenge {
	t.Helper()

	req := CreateRequest{CreatorID: "creator-1", Title: "Guitar Duel"}
	if scheduled {
		at := time.Now().UTC().Add(time.Hour)
		req.ScheduledTime = &at
	}
	ch, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	return ch
}

func (f *serviceFixture) mustGoLive(t *testing.T) *Challenge {
	t.Helper()

	ch := f.mustCreate(t, false)
	_, err := f.svc.AcceptOpponent(context.Background(), ch.ID, "opponent-1")
	require.NoError(t, err)
	live, err := f.svc.Start(context.Background(), ch.ID, "creator-1")
	require.NoError(t, err)
	return live
}

func TestCreate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	ch := f.mustCreate(t, false)
	require.Equal(t, StatusPending, ch.Status)
	require.Equal(t, "CHL-250901-001AA", ch.Code)
	require.Equal(t, "guitar-duel", ch.Slug)
	require.Nil(t, ch.DistributedAt)

	scheduled := f.mustCreate(t, true)
	require.Equal(t, StatusScheduled, scheduled.Status)
	require.NotNil(t, scheduled.ScheduledTime)

	_, err := f.svc.Create(ctx, CreateRequest{Title: "no creator"})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = f.svc.Create(ctx, CreateRequest{CreatorID: "creator-1"})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
}

func TestAcceptOpponent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	ch := f.mustCreate(t, false)

	got, err := f.svc.AcceptOpponent(ctx, ch.ID, "opponent-1")
	require.NoError(t, err)
	require.Equal(t, "opponent-1", got.OpponentID)

	_, err = f.svc.AcceptOpponent(ctx, ch.ID, "opponent-2")
	require.ErrorIs(t, err, ErrOpponentTaken)

	_, err = f.svc.AcceptOpponent(ctx, "missing", "opponent-1")
	require.ErrorIs(t, err, ErrNotFound)

	fresh := f.mustCreate(t, false)
	_, err = f.svc.AcceptOpponent(ctx, fresh.ID, "creator-1")
	require.ErrorIs(t, err, ErrSelfOpponent)
}

func TestStart(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	ch := f.mustCreate(t, false)

	_, err := f.svc.Start(ctx, ch.ID, "creator-1")
	require.ErrorIs(t, err, ErrNoOpponent)

	_, err = f.svc.AcceptOpponent(ctx, ch.ID, "opponent-1")
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, ch.ID, "viewer-9")
	require.ErrorIs(t, err, ErrNotParticipant)

	live, err := f.svc.Start(ctx, ch.ID, "opponent-1")
	require.NoError(t, err)
	require.Equal(t, StatusLive, live.Status)
	require.NotNil(t, live.StartedAt)
	require.NotEmpty(t, live.CreatorEmbedURL)
	require.NotEmpty(t, live.OpponentStreamKey)

	_, err = f.svc.Start(ctx, ch.ID, "creator-1")
	require.ErrorIs(t, err, ErrAlreadyLive)

	events := f.broadcaster.published()
	require.NotEmpty(t, events)
	status, ok := events[len(events)-1].(room.ChallengeStatusChangedEvent)
	require.True(t, ok)
	require.Equal(t, string(StatusLive), status.Status)
}

func TestStartProviderFailureKeepsPriorStatus(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	ch := f.mustCreate(t, false)
	_, err := f.svc.AcceptOpponent(ctx, ch.ID, "opponent-1")
	require.NoError(t, err)

	f.provider.Err = errors.New("vendor down")

	_, err = f.svc.Start(ctx, ch.ID, "creator-1")
	require.Error(t, err)

	got, err := f.svc.Get(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Empty(t, got.CreatorEmbedURL)
}

func TestEnd(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	live := f.mustGoLive(t)

	_, err := f.svc.End(ctx, live.ID, "viewer-9")
	require.ErrorIs(t, err, ErrNotParticipant)

	done, err := f.svc.End(ctx, live.ID, "creator-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.EndedAt)
	require.NotNil(t, done.DistributedAt)
	require.Equal(t, 20.0, done.PlatformRevenue)
	require.Equal(t, 60.0, done.CreatorRevenue)
	require.Equal(t, 20.0, done.OpponentRevenue)
	require.Equal(t, 1, f.distributor.calls)

	_, err = f.svc.End(ctx, live.ID, "creator-1")
	require.ErrorIs(t, err, ErrNotLive)
	require.Equal(t, 1, f.distributor.calls)

	require.Contains(t, f.enqueuer.tasks, "ads:expire:leftover")
}

func TestEndDistributorFailureStaysLive(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	live := f.mustGoLive(t)
	f.distributor.err = errors.New("payout store down")

	_, err := f.svc.End(ctx, live.ID, "creator-1")
	require.Error(t, err)

	got, err := f.svc.Get(ctx, live.ID)
	require.NoError(t, err)
	require.Equal(t, StatusLive, got.Status)
	require.Nil(t, got.DistributedAt)
	require.Empty(t, f.enqueuer.tasks)

	// safe to retry once the dependency recovers
	f.distributor.err = nil
	done, err := f.svc.End(ctx, live.ID, "creator-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
}

func TestCancel(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	ch := f.mustCreate(t, true)

	_, err := f.svc.Cancel(ctx, ch.ID, "stranger", false)
	require.ErrorIs(t, err, ErrNotAuthorized)

	cancelled, err := f.svc.Cancel(ctx, ch.ID, "creator-1", false)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	live := f.mustGoLive(t)
	_, err = f.svc.Cancel(ctx, live.ID, "creator-1", false)
	require.ErrorIs(t, err, ErrCannotCancel)

	other := f.mustCreate(t, false)
	modCancelled, err := f.svc.Cancel(ctx, other.ID, "moderator-1", true)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, modCancelled.Status)
}

func TestConcurrentStartSingleWinner(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	ch := f.mustCreate(t, false)
	_, err := f.svc.AcceptOpponent(ctx, ch.ID, "opponent-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Start(ctx, ch.ID, "creator-1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, conflict int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyLive):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, conflict)
}

func TestEmptyChallengeIDRejected(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// gorm ignores blank struct fields when matching, so an empty ID must
	// never fall through to the lookup and select this row
	f.mustCreate(t, false)

	_, err := f.svc.Get(ctx, "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.AcceptOpponent(ctx, "", "opponent-1")
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = f.svc.Start(ctx, "", "creator-1")
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = f.svc.End(ctx, "", "creator-1")
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = f.svc.Cancel(ctx, "", "creator-1", false)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
}

func TestListCursorPagination(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		ch := f.mustCreate(t, false)
		err := f.db.Model(&Challenge{}).Where("id = ?", ch.ID).
			Update("created_at", base.Add(time.Duration(i)*time.Minute)).Error
		require.NoError(t, err)
	}

	first, info, err := f.svc.List(ctx, ListRequest{Pagination: pagination.Pagination{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.True(t, info.HasMore)
	require.NotEmpty(t, info.NextCursor)
	require.True(t, first[0].CreatedAt.After(first[1].CreatedAt))

	second, info, err := f.svc.List(ctx, ListRequest{Pagination: pagination.Pagination{Cursor: info.NextCursor, Limit: 2}})
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.True(t, info.HasMore)
	require.True(t, first[1].CreatedAt.After(second[0].CreatedAt))

	last, info, err := f.svc.List(ctx, ListRequest{Pagination: pagination.Pagination{Cursor: info.NextCursor, Limit: 2}})
	require.NoError(t, err)
	require.Len(t, last, 1)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
}

func TestListFiltersByStatus(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.mustCreate(t, false)
	f.mustGoLive(t)

	live, info, err := f.svc.List(ctx, ListRequest{Status: StatusLive})
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, StatusLive, live[0].Status)
	require.False(t, info.HasMore)
}
