package registry

import (
	"time"

	"room-chat/internal/models"
)

// Session is a live connection handle that can receive frames.
type Session interface {
	ID() string
	UserID() int64
	// Send enqueues a frame without blocking. It returns false when the
	// session's outbound queue is full or closed.
	Send(frame models.ServerFrame) bool
	Close()
}

type roomState struct {
	subs   map[Session]struct{}
	recent *ring
	lastAt time.Time
}

// Registry maps rooms to their live subscribers and keeps a bounded buffer
// of recently accepted envelopes per room. Operations never fail; unknown
// rooms are created on first use.
//
// A Registry is not safe for concurrent use. The gateway event loop is its
// only owner.
type Registry struct {
	rooms    map[int64]*roomState
	sessions map[Session]map[int64]struct{}
	capacity int
}

// New creates a registry whose per-room recent buffer holds capacity envelopes.
func New(capacity int) *Registry {
	return &Registry{
		rooms:    make(map[int64]*roomState),
		sessions: make(map[Session]map[int64]struct{}),
		capacity: capacity,
	}
}

func (r *Registry) room(roomID int64) *roomState {
	st, ok := r.rooms[roomID]
	if !ok {
		st = &roomState{subs: make(map[Session]struct{}), recent: newRing(r.capacity)}
		r.rooms[roomID] = st
	}
	return st
}

// Join subscribes s to roomID. It reports whether s was newly added.
func (r *Registry) Join(s Session, roomID int64) bool {
	st := r.room(roomID)
	if _, ok := st.subs[s]; ok {
		return false
	}
	st.subs[s] = struct{}{}

	joined, ok := r.sessions[s]
	if !ok {
		joined = make(map[int64]struct{})
		r.sessions[s] = joined
	}
	joined[roomID] = struct{}{}
	return true
}

// Leave unsubscribes s from roomID. It reports whether s was subscribed.
func (r *Registry) Leave(s Session, roomID int64) bool {
	st, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := st.subs[s]; !ok {
		return false
	}
	delete(st.subs, s)

	if joined, ok := r.sessions[s]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.sessions, s)
		}
	}
	return true
}

// Subscribers returns a snapshot of the room's fan-out targets.
func (r *Registry) Subscribers(roomID int64) []Session {
	st, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Session, 0, len(st.subs))
	for s := range st.subs {
		out = append(out, s)
	}
	return out
}

// OnDisconnect removes s from every room and returns the rooms it left.
func (r *Registry) OnDisconnect(s Session) []int64 {
	joined := r.sessions[s]
	left := make([]int64, 0, len(joined))
	for roomID := range joined {
		if st, ok := r.rooms[roomID]; ok {
			delete(st.subs, s)
		}
		left = append(left, roomID)
	}
	delete(r.sessions, s)
	return left
}

// RemoveUser unsubscribes every session of userID from roomID.
func (r *Registry) RemoveUser(roomID, userID int64) []Session {
	st, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	var removed []Session
	for s := range st.subs {
		if s.UserID() == userID {
			removed = append(removed, s)
		}
	}
	for _, s := range removed {
		r.Leave(s, roomID)
	}
	return removed
}

// DropRoom forgets the room entirely and returns its former subscribers.
func (r *Registry) DropRoom(roomID int64) []Session {
	st, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	subs := make([]Session, 0, len(st.subs))
	for s := range st.subs {
		subs = append(subs, s)
	}
	for _, s := range subs {
		r.Leave(s, roomID)
	}
	delete(r.rooms, roomID)
	return subs
}

// Rooms returns the rooms s is joined to.
func (r *Registry) Rooms(s Session) []int64 {
	joined := r.sessions[s]
	out := make([]int64, 0, len(joined))
	for roomID := range joined {
		out = append(out, roomID)
	}
	return out
}

// IsJoined reports whether s is subscribed to roomID.
func (r *Registry) IsJoined(s Session, roomID int64) bool {
	_, ok := r.sessions[s][roomID]
	return ok
}

// Stamp returns a creation time for the room's next envelope that is
// strictly after the previous one, truncated to the store's microsecond
// precision.
func (r *Registry) Stamp(roomID int64, now time.Time) time.Time {
	st := r.room(roomID)
	at := now.UTC().Truncate(time.Microsecond)
	if !at.After(st.lastAt) {
		at = st.lastAt.Add(time.Microsecond)
	}
	st.lastAt = at
	return at
}

// Append records an accepted envelope in the room's recent buffer.
func (r *Registry) Append(env models.Envelope) {
	r.room(env.RoomID).recent.push(env)
}

// Recent returns the room's buffered envelopes, oldest first.
func (r *Registry) Recent(roomID int64) []models.Envelope {
	st, ok := r.rooms[roomID]
	if !ok {
		return []models.Envelope{}
	}
	return st.recent.snapshot()
}

// Stats reports the number of tracked rooms and connected sessions.
func (r *Registry) Stats() (rooms, sessions int) {
	return len(r.rooms), len(r.sessions)
}
