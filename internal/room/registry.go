package room

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/medloop/telecall/internal/appointment"
)

type EventType string

const (
	EventPeerReady EventType = "peer-ready"
	EventSignal    EventType = "signal"
	EventCallEnded EventType = "call-ended"
	EventReplaced  EventType = "replaced"
)

type Event struct {
	Type    EventType
	Payload json.RawMessage
}

// Member is the outbound side of a connected participant. Notify must never
// block; implementations enqueue onto a bounded per-connection buffer and
// drop the connection on overflow.
type Member interface {
	ID() string
	Notify(ev Event)
}

// Registry owns every live room in this process. It is a disposable cache of
// who is currently connected; the appointment row stays the source of truth
// for whether a call is legal. Lock order is registry before room.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	byMember map[string]*Room
}

type Room struct {
	id      string
	mu      sync.Mutex
	members map[appointment.Role]Member
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		byMember: make(map[string]*Room),
	}
}

func (r *Registry) createOrGet(roomID string) *Room {
	if room, ok := r.rooms[roomID]; ok {
		return room
	}
	room := &Room{
		id:      roomID,
		members: make(map[appointment.Role]Member),
	}
	r.rooms[roomID] = room
	return room
}

// Join admits m into the room for its role, creating the room on first join.
// A member already holding that role is evicted and told it was replaced,
// which is how a refreshed tab takes over a stale connection. When the join
// brings both roles together, the earlier member gets peer-ready strictly
// before any signal the newcomer can send through Relay.
func (r *Registry) Join(roomID string, m Member, role appointment.Role) (evicted Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.createOrGet(roomID)

	room.mu.Lock()
	defer room.mu.Unlock()

	if prior, ok := room.members[role]; ok && prior.ID() != m.ID() {
		delete(r.byMember, prior.ID())
		prior.Notify(Event{Type: EventReplaced})
		evicted = prior
	}

	room.members[role] = m
	r.byMember[m.ID()] = room

	if len(room.members) == 2 {
		for otherRole, other := range room.members {
			if otherRole != role {
				other.Notify(Event{Type: EventPeerReady})
			}
		}
	}

	return evicted
}

// Relay forwards payload verbatim to the other member of the sender's room.
// A sender that is not in a room, or is alone in it, gets a silent no-op.
func (r *Registry) Relay(fromID string, payload json.RawMessage) bool {
	r.mu.Lock()
	room, ok := r.byMember[fromID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	delivered := false
	for _, m := range room.members {
		if m.ID() == fromID {
			continue
		}
		m.Notify(Event{Type: EventSignal, Payload: payload})
		delivered = true
	}
	return delivered
}

// Leave removes the member from whatever room it is in. No-op for unknown
// members. The room itself is dropped once its last member is gone; a
// still-started appointment readmits through Join, so nothing durable is
// lost. This eager teardown is also why no idle-room timer exists here.
func (r *Registry) Leave(memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.byMember[memberID]
	if !ok {
		return
	}
	delete(r.byMember, memberID)

	room.mu.Lock()
	for role, m := range room.members {
		if m.ID() == memberID {
			delete(room.members, role)
		}
	}
	empty := len(room.members) == 0
	room.mu.Unlock()

	if empty {
		delete(r.rooms, room.id)
	}
}

// Destroy evicts every member with a call-ended notification and removes the
// room. Idempotent, and safe when nobody is connected.
func (r *Registry) Destroy(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.destroyLocked(roomID)
}

func (r *Registry) destroyLocked(roomID string) {
	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(r.rooms, roomID)

	room.mu.Lock()
	defer room.mu.Unlock()

	for role, m := range room.members {
		delete(r.byMember, m.ID())
		delete(room.members, role)
		m.Notify(Event{Type: EventCallEnded})
	}
}

// DestroyAll drains the registry on shutdown, notifying every live member.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	for _, id := range ids {
		r.destroyLocked(id)
	}

	if n := len(r.byMember); n != 0 {
		log.Printf("registry drained with %d dangling member index entries", n)
	}
}

// MemberCount reports current occupancy; zero for unknown rooms.
func (r *Registry) MemberCount(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return 0
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	return len(room.members)
}

// Exists reports whether the room currently lives in memory.
func (r *Registry) Exists(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}
