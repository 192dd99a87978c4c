package room

import (
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/Maelsh/dueli/pkg/config"
)

// Broadcaster is the event fan-out surface the other services publish
// through. Publishing to a challenge with no open room is a no-op.
type Broadcaster interface {
	Publish(challengeID string, ev Event)
}

// Registry owns every live room, keyed by challenge ID. Rooms are created on
// first join and tear themselves down when they empty. The registry is an
// injected dependency; there is no process-global socket map.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	tick  time.Duration
	rdb   *redis.Client
}

type RegistryParams struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func NewRegistry(p RegistryParams) *Registry {
	tick := p.Config.Room.TickInterval
	if tick <= 0 {
		tick = 5 * time.Second
	}
	return &Registry{
		rooms: make(map[string]*Room),
		tick:  tick,
		rdb:   p.Redis,
	}
}

// Subscription is one viewer's membership in a room. Events is closed when
// the viewer leaves or is replaced by a reconnect.
type Subscription struct {
	ChallengeID string
	ViewerID    string
	Events      <-chan Event

	registry *Registry
	once     sync.Once
}

// Close leaves the room. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.registry.Leave(s.ChallengeID, s.ViewerID)
	})
}

// Join subscribes a viewer to the challenge's room, creating the room when it
// is the first member.
func (reg *Registry) Join(challengeID, viewerID string) *Subscription {
	for {
		r := reg.getOrCreate(challengeID)
		res := r.join(viewerID)
		if res.ok {
			return &Subscription{
				ChallengeID: challengeID,
				ViewerID:    viewerID,
				Events:      res.events,
				registry:    reg,
			}
		}
		// the room shut down between lookup and join; retry with a fresh one
	}
}

// Leave removes a viewer. Unknown viewers and unknown rooms are ignored.
func (reg *Registry) Leave(challengeID, viewerID string) {
	if r := reg.get(challengeID); r != nil {
		r.leave(viewerID)
	}
}

// Publish fans an event out to the challenge's room, if one is open.
func (reg *Registry) Publish(challengeID string, ev Event) {
	if r := reg.get(challengeID); r != nil {
		r.publish(ev)
	}
}

// Viewers reports the current and peak viewer counts for a room. Both are
// zero when no room is open.
func (reg *Registry) Viewers(challengeID string) (current, peak int) {
	r := reg.get(challengeID)
	if r == nil {
		return 0, 0
	}
	snap := r.snapshot()
	return snap.Viewers, snap.Peak
}

func (reg *Registry) get(challengeID string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.rooms[challengeID]
}

func (reg *Registry) getOrCreate(challengeID string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[challengeID]; ok {
		return r
	}
	r := newRoom(reg, challengeID)
	reg.rooms[challengeID] = r
	return r
}
