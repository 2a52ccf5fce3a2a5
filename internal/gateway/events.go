package gateway

import (
	"room-chat/internal/auth"
	"room-chat/internal/models"
	"room-chat/internal/observability"
	"room-chat/internal/registry"
)

// event is one unit of work for the loop. apply runs on the loop goroutine
// only and must not block on I/O.
type event interface {
	apply(g *Gateway)
}

type joinEvent struct {
	session   registry.Session
	roomID    int64
	ticket    uint64
	persisted []models.Envelope
	reply     chan<- error
}

func (e joinEvent) apply(g *Gateway) {
	if err := g.revoked.settle(e.ticket, e.roomID, e.session.UserID()); err != nil {
		e.reply <- err
		return
	}
	g.registry.Join(e.session, e.roomID)

	limit := g.cfg.HistoryLimit
	if limit <= 0 {
		limit = len(e.persisted) + len(g.registry.Recent(e.roomID))
	}
	msgs := mergeHistory(e.persisted, g.registry.Recent(e.roomID), limit)
	g.deliver(e.session, models.ServerFrame{Type: models.EventRoomHistory, RoomID: e.roomID, Messages: msgs})
	observability.IncWSEvent(models.EventJoinRoom)
	e.reply <- nil
}

type sendEvent struct {
	sender  auth.Identity
	roomID  int64
	content string
	ticket  uint64
	reply   chan<- sendResult
}

type sendResult struct {
	env models.Envelope
	err error
}

func (e sendEvent) apply(g *Gateway) {
	if err := g.revoked.settle(e.ticket, e.roomID, e.sender.UserID); err != nil {
		e.reply <- sendResult{err: err}
		return
	}
	e.reply <- sendResult{env: g.accept(e.sender, e.roomID, e.content)}
}

type leaveEvent struct {
	session registry.Session
	roomID  int64
}

func (e leaveEvent) apply(g *Gateway) {
	g.registry.Leave(e.session, e.roomID)
	g.deliver(e.session, models.ServerFrame{Type: models.EventLeftRoom, RoomID: e.roomID})
	observability.IncWSEvent(models.EventLeaveRoom)
}

type disconnectEvent struct {
	session registry.Session
}

func (e disconnectEvent) apply(g *Gateway) {
	rooms := g.registry.OnDisconnect(e.session)
	g.log.Debug().Str("session_id", e.session.ID()).Int("rooms", len(rooms)).Msg("session disconnected")
}

type roomDeletedEvent struct {
	roomID int64
}

func (e roomDeletedEvent) apply(g *Gateway) {
	g.revoked.revokeRoom(e.roomID)
	frame := models.ServerFrame{Type: models.EventLeftRoom, RoomID: e.roomID, Error: "room deleted"}
	for _, s := range g.registry.DropRoom(e.roomID) {
		g.deliver(s, frame)
	}
}

type memberLeftEvent struct {
	roomID int64
	userID int64
}

func (e memberLeftEvent) apply(g *Gateway) {
	g.revoked.revokeMember(e.roomID, e.userID)
	frame := models.ServerFrame{Type: models.EventLeftRoom, RoomID: e.roomID}
	for _, s := range g.registry.RemoveUser(e.roomID, e.userID) {
		g.deliver(s, frame)
	}
}
