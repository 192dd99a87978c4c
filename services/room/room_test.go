package room

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Maelsh/dueli/pkg/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestRegistry(t *testing.T, tick time.Duration) *Registry {
	t.Helper()

	cfg := &config.Config{}
	cfg.Room.TickInterval = tick
	return NewRegistry(RegistryParams{Config: cfg})
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()

	select {
	case ev, ok := <-events:
		require.True(t, ok, "subscription closed while waiting for event")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func waitEventOfType(t *testing.T, events <-chan Event, eventType string) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "subscription closed while waiting for %s", eventType)
			if ev.EventType() == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
			return nil
		}
	}
}

func waitRoomGone(t *testing.T, reg *Registry, challengeID string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		reg.mu.Lock()
		_, ok := reg.rooms[challengeID]
		reg.mu.Unlock()
		if !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("room was not torn down")
}

func TestJoinAndLeaveCounts(t *testing.T) {
	reg := newTestRegistry(t, time.Minute)

	first := reg.Join("ch-1", "viewer-1")
	ev := waitEvent(t, first.Events).(ViewerJoinedEvent)
	require.Equal(t, 1, ev.ViewerCount)

	second := reg.Join("ch-1", "viewer-2")
	// both members see the second join
	require.Equal(t, 2, waitEvent(t, first.Events).(ViewerJoinedEvent).ViewerCount)
	require.Equal(t, 2, waitEvent(t, second.Events).(ViewerJoinedEvent).ViewerCount)

	current, peak := reg.Viewers("ch-1")
	require.Equal(t, 2, current)
	require.Equal(t, 2, peak)

	second.Close()
	left := waitEvent(t, first.Events).(ViewerLeftEvent)
	require.Equal(t, 1, left.ViewerCount)

	current, peak = reg.Viewers("ch-1")
	require.Equal(t, 1, current)
	require.Equal(t, 2, peak, "peak never decreases")

	first.Close()
}

func TestPublishPreservesOrder(t *testing.T) {
	reg := newTestRegistry(t, time.Minute)

	sub := reg.Join("ch-1", "viewer-1")
	waitEvent(t, sub.Events) // own join

	for i := 0; i < 10; i++ {
		reg.Publish("ch-1", CommentAddedEvent{CommentID: fmt.Sprintf("c-%d", i)})
	}

	for i := 0; i < 10; i++ {
		ev := waitEventOfType(t, sub.Events, "comment_added").(CommentAddedEvent)
		require.Equal(t, fmt.Sprintf("c-%d", i), ev.CommentID)
	}

	sub.Close()
}

func TestPublishWithoutRoomIsNoop(t *testing.T) {
	reg := newTestRegistry(t, time.Minute)

	reg.Publish("ch-none", AdDisplayEvent{AdID: "ad-1"})
	reg.Leave("ch-none", "viewer-1")

	current, peak := reg.Viewers("ch-none")
	require.Zero(t, current)
	require.Zero(t, peak)
}

func TestPeriodicTick(t *testing.T) {
	reg := newTestRegistry(t, 20*time.Millisecond)

	sub := reg.Join("ch-1", "viewer-1")

	ev := waitEventOfType(t, sub.Events, "viewer_count_update").(ViewerCountUpdateEvent)
	require.Equal(t, 1, ev.ViewerCount)
	require.Equal(t, 1, ev.PeakViewers)

	sub.Close()
}

func TestEmptyRoomTearsDownAndRejoinStartsFresh(t *testing.T) {
	reg := newTestRegistry(t, time.Minute)

	sub := reg.Join("ch-1", "viewer-1")
	another := reg.Join("ch-1", "viewer-2")
	sub.Close()
	another.Close()

	waitRoomGone(t, reg, "ch-1")

	// a new join builds a fresh room with a reset peak
	again := reg.Join("ch-1", "viewer-3")
	require.Equal(t, 1, waitEvent(t, again.Events).(ViewerJoinedEvent).ViewerCount)

	current, peak := reg.Viewers("ch-1")
	require.Equal(t, 1, current)
	require.Equal(t, 1, peak)

	again.Close()
}

func TestReconnectReplacesSubscription(t *testing.T) {
	reg := newTestRegistry(t, time.Minute)

	first := reg.Join("ch-1", "viewer-1")
	waitEvent(t, first.Events)

	second := reg.Join("ch-1", "viewer-1")

	// the replaced channel closes
	deadline := time.After(2 * time.Second)
	for {
		var closed bool
		select {
		case _, ok := <-first.Events:
			closed = !ok
		case <-deadline:
			t.Fatal("replaced subscription never closed")
		}
		if closed {
			break
		}
	}

	current, peak := reg.Viewers("ch-1")
	require.Equal(t, 1, current)
	require.Equal(t, 1, peak)

	second.Close()
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t, time.Minute)

	sub := reg.Join("ch-1", "viewer-1")
	sub.Close()
	sub.Close()

	waitRoomGone(t, reg, "ch-1")
}

func TestManyViewersPeak(t *testing.T) {
	reg := newTestRegistry(t, time.Minute)

	subs := make([]*Subscription, 0, 20)
	for i := 0; i < 20; i++ {
		subs = append(subs, reg.Join("ch-1", fmt.Sprintf("viewer-%d", i)))
	}

	current, peak := reg.Viewers("ch-1")
	require.Equal(t, 20, current)
	require.Equal(t, 20, peak)

	for _, s := range subs[:15] {
		s.Close()
	}

	// the actor drains leaves asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		current, peak = reg.Viewers("ch-1")
		if current == 5 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 5, current)
	require.Equal(t, 20, peak)

	for _, s := range subs[15:] {
		s.Close()
	}
}

func TestJoinOnRetiredRoomNeverHangs(t *testing.T) {
	reg := newTestRegistry(t, time.Hour)

	sub := reg.Join("ch-1", "viewer-a")
	stale := reg.get("ch-1")
	require.NotNil(t, stale)
	sub.Close()
	waitRoomGone(t, reg, "ch-1")

	// the buffered inbox still accepts sends after teardown, so the send
	// races the closed done channel; every attempt must come back rejected
	for i := 0; i < 100; i++ {
		res := make(chan joinResult, 1)
		go func() { res <- stale.join("viewer-b") }()
		select {
		case got := <-res:
			require.False(t, got.ok)
		case <-time.After(2 * time.Second):
			t.Fatal("join on a retired room hung")
		}
	}

	snaps := make(chan snapshot, 1)
	go func() { snaps <- stale.snapshot() }()
	select {
	case snap := <-snaps:
		require.Equal(t, snapshot{}, snap)
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot on a retired room hung")
	}
}

func TestJoinRacingTeardownRetries(t *testing.T) {
	reg := newTestRegistry(t, time.Hour)

	for i := 0; i < 200; i++ {
		first := reg.Join("ch-1", "viewer-a")
		go first.Close()

		// registry retries internally when the room retires mid-join
		second := reg.Join("ch-1", "viewer-b")
		second.Close()
		waitRoomGone(t, reg, "ch-1")
	}
}
