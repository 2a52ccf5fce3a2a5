package gateway

import (
	"sync/atomic"

	"room-chat/internal/apperr"
)

type memberKey struct {
	roomID int64
	userID int64
}

// revocations lets the loop reject a join or send whose admission check ran
// before a membership removal or room deletion that the loop has since
// applied. Callers take a ticket before admitting; the loop records the
// sequence of every revocation while any ticket is outstanding.
//
// The maps are touched by the loop only. seq is written by the loop only.
type revocations struct {
	seq     atomic.Uint64
	pending atomic.Int64

	rooms   map[int64]uint64
	members map[memberKey]uint64
}

func newRevocations() *revocations {
	return &revocations{
		rooms:   make(map[int64]uint64),
		members: make(map[memberKey]uint64),
	}
}

// begin is called before the admission check. The ticket must be handed to
// settle on the loop, or returned through abandon.
func (r *revocations) begin() uint64 {
	r.pending.Add(1)
	return r.seq.Load()
}

// abandon releases a ticket whose event never reached the loop.
func (r *revocations) abandon() {
	r.pending.Add(-1)
}

func (r *revocations) revokeRoom(roomID int64) {
	next := r.seq.Add(1)
	// with no ticket outstanding every later admission observes the change
	if r.pending.Load() > 0 {
		r.rooms[roomID] = next
	}
}

func (r *revocations) revokeMember(roomID, userID int64) {
	next := r.seq.Add(1)
	if r.pending.Load() > 0 {
		r.members[memberKey{roomID: roomID, userID: userID}] = next
	}
}

// settle consumes ticket and returns the error that invalidates the
// admission, or nil.
func (r *revocations) settle(ticket uint64, roomID, userID int64) error {
	var err error
	switch {
	case r.rooms[roomID] > ticket:
		err = apperr.NotFound("room not found")
	case r.members[memberKey{roomID: roomID, userID: userID}] > ticket:
		err = apperr.Forbidden("membership was revoked")
	}
	if r.pending.Add(-1) == 0 {
		clear(r.rooms)
		clear(r.members)
	}
	return err
}

// tracked reports how many revocations are remembered.
func (r *revocations) tracked() int {
	return len(r.rooms) + len(r.members)
}
