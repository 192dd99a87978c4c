package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Maelsh/dueli/pkg/rediskey"
)

// subscriberBuffer bounds how far a slow consumer may lag before events are
// dropped for that consumer. Dropping keeps one stalled connection from
// blocking the room's ordering for everyone else.
const subscriberBuffer = 32

type commandKind int

const (
	cmdJoin commandKind = iota
	cmdLeave
	cmdPublish
	cmdSnapshot
)

type joinResult struct {
	events <-chan Event
	ok     bool
}

type snapshot struct {
	Viewers int
	Peak    int
}

type command struct {
	kind     commandKind
	viewerID string
	event    Event
	join     chan joinResult
	snap     chan snapshot
}

// Room is the per-challenge fan-out actor. A single goroutine drains the
// inbox, which is what guarantees in-room event ordering without locks.
type Room struct {
	challengeID string
	tick        time.Duration
	registry    *Registry

	inbox chan command
	done  chan struct{}

	// owned by the run goroutine
	viewers map[string]chan Event
	peak    int
}

func newRoom(registry *Registry, challengeID string) *Room {
	r := &Room{
		challengeID: challengeID,
		tick:        registry.tick,
		registry:    registry,
		inbox:       make(chan command, 256),
		done:        make(chan struct{}),
		viewers:     make(map[string]chan Event),
	}
	go r.run()
	return r
}

func (r *Room) run() {
	var ticker *time.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		var tickC <-chan time.Time
		if ticker != nil {
			tickC = ticker.C
		}

		select {
		case cmd := <-r.inbox:
			switch cmd.kind {
			case cmdJoin:
				if old, ok := r.viewers[cmd.viewerID]; ok {
					// reconnect replaces the previous subscription
					close(old)
				}
				events := make(chan Event, subscriberBuffer)
				r.viewers[cmd.viewerID] = events
				if len(r.viewers) > r.peak {
					r.peak = len(r.viewers)
				}
				if ticker == nil {
					ticker = time.NewTicker(r.tick)
				}
				cmd.join <- joinResult{events: events, ok: true}
				r.fanout(ViewerJoinedEvent{ViewerCount: len(r.viewers)})
				r.mirrorViewerCount()

			case cmdLeave:
				events, ok := r.viewers[cmd.viewerID]
				if !ok {
					continue
				}
				delete(r.viewers, cmd.viewerID)
				close(events)
				r.fanout(ViewerLeftEvent{ViewerCount: len(r.viewers)})
				r.mirrorViewerCount()
				if len(r.viewers) == 0 {
					if ticker != nil {
						ticker.Stop()
						ticker = nil
					}
					if r.retire() {
						return
					}
				}

			case cmdPublish:
				r.fanout(cmd.event)

			case cmdSnapshot:
				cmd.snap <- snapshot{Viewers: len(r.viewers), Peak: r.peak}
			}

		case <-tickC:
			r.fanout(ViewerCountUpdateEvent{
				ViewerCount: len(r.viewers),
				PeakViewers: r.peak,
			})
			r.mirrorViewerCount()
		}
	}
}

func (r *Room) fanout(ev Event) {
	for viewerID, events := range r.viewers {
		select {
		case events <- ev:
		default:
			zap.L().Warn("dropping event for slow room subscriber",
				zap.String("challenge_id", r.challengeID),
				zap.String("viewer_id", viewerID),
				zap.String("event_type", ev.EventType()),
			)
		}
	}
}

// retire tears the room down once it is empty. It reports false when
// commands raced into the inbox, in which case the room keeps running.
// Queued joins that land between the emptiness check and the done close are
// rejected during the drain; their callers retry against a fresh room.
func (r *Room) retire() bool {
	r.registry.mu.Lock()
	if len(r.inbox) > 0 {
		r.registry.mu.Unlock()
		return false
	}
	delete(r.registry.rooms, r.challengeID)
	close(r.done)
	r.registry.mu.Unlock()

	for {
		select {
		case cmd := <-r.inbox:
			if cmd.kind == cmdJoin {
				cmd.join <- joinResult{ok: false}
			}
			if cmd.kind == cmdSnapshot {
				cmd.snap <- snapshot{}
			}
		default:
			return true
		}
	}
}

func (r *Room) join(viewerID string) joinResult {
	cmd := command{kind: cmdJoin, viewerID: viewerID, join: make(chan joinResult, 1)}
	select {
	case r.inbox <- cmd:
	case <-r.done:
		return joinResult{ok: false}
	}

	// The buffered send can win against a retirement that already passed its
	// inbox check, leaving the command in a dead room's inbox with nobody to
	// answer it. Waiting on done as well keeps the caller from hanging; the
	// final non-blocking read catches a reply delivered just before teardown.
	select {
	case res := <-cmd.join:
		return res
	case <-r.done:
		select {
		case res := <-cmd.join:
			return res
		default:
			return joinResult{ok: false}
		}
	}
}

func (r *Room) leave(viewerID string) {
	select {
	case r.inbox <- command{kind: cmdLeave, viewerID: viewerID}:
	case <-r.done:
	}
}

func (r *Room) publish(ev Event) {
	select {
	case r.inbox <- command{kind: cmdPublish, event: ev}:
	case <-r.done:
	}
}

func (r *Room) snapshot() snapshot {
	cmd := command{kind: cmdSnapshot, snap: make(chan snapshot, 1)}
	select {
	case r.inbox <- cmd:
	case <-r.done:
		return snapshot{}
	}

	select {
	case snap := <-cmd.snap:
		return snap
	case <-r.done:
		select {
		case snap := <-cmd.snap:
			return snap
		default:
			return snapshot{}
		}
	}
}

// mirrorViewerCount publishes the live viewer count to redis, best effort,
// off the actor goroutine so a slow redis never stalls the room.
func (r *Room) mirrorViewerCount() {
	if r.registry.rdb == nil {
		return
	}
	count := len(r.viewers)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		key := rediskey.BuildRoomViewersKey(r.challengeID)
		if err := r.registry.rdb.Set(ctx, key, count, time.Minute).Err(); err != nil {
			zap.L().Warn("failed to mirror viewer count", zap.String("challenge_id", r.challengeID), zap.Error(err))
		}
	}()
}
