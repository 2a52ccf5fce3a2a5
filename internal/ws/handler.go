package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"room-chat/internal/apperr"
	"room-chat/internal/auth"
	"room-chat/internal/logging"
	"room-chat/internal/models"
	"room-chat/internal/observability"
	"room-chat/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendQueueSize  = 64

	routingKey = "ws_events.rooms"
)

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Gateway is the realtime event surface the transport dispatches into.
type Gateway interface {
	Join(ctx context.Context, s registry.Session, roomID int64) error
	Send(ctx context.Context, sender auth.Identity, roomID int64, content string) (models.Envelope, error)
	Leave(ctx context.Context, s registry.Session, roomID int64) error
	Disconnect(s registry.Session)
}

// Handler upgrades authenticated requests to websocket sessions.
type Handler struct {
	gateway  Gateway
	verifier TokenVerifier
	log      zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(gateway Gateway, verifier TokenVerifier) *Handler {
	return &Handler{
		gateway:  gateway,
		verifier: verifier,
		log:      logging.For("ws"),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the caller, upgrades the connection and serves it
// until the client goes away.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("room-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	identity, err := h.verifier.Verify(tokenFromRequest(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade")
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      identity.UserID,
		Username:    identity.Username,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	s := newSession(conn, identity, info, sendQueueSize)

	// the session outlives the upgrade request
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	observability.IncWSActive()
	h.publish(ctx, info, "ws_connect", "")
	h.log.Info().Str("conn_id", info.ConnID).Int64("user_id", info.UserID).Msg("websocket connected")

	go h.writePump(s)
	reason := h.readPump(ctx, s)

	h.gateway.Disconnect(s)
	s.Close()
	observability.DecWSActive()
	h.publish(ctx, info, "ws_disconnect", reason)
	h.log.Info().Str("conn_id", info.ConnID).Str("reason", reason).Msg("websocket disconnected")
}

func (h *Handler) readPump(ctx context.Context, s *Session) string {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.publish(ctx, s.info, "ws_error", err.Error())
			}
			return err.Error()
		}
		h.dispatch(ctx, s, data)
	}
}

func (h *Handler) writePump(s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(frame); err != nil {
				h.log.Error().Err(err).Str("conn_id", s.ID()).Msg("ws write")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound frame. Failures are reported to the client
// as error frames and never end the session.
func (h *Handler) dispatch(ctx context.Context, s *Session, data []byte) {
	var frame models.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.Send(errorFrame(0, "malformed frame"))
		return
	}
	observability.IncWSEvent(frame.Type)

	var err error
	switch frame.Type {
	case models.EventJoinRoom:
		if frame.RoomID <= 0 {
			err = apperr.Validation("room_id required")
			break
		}
		err = h.gateway.Join(ctx, s, frame.RoomID)
	case models.EventSendMessage:
		if frame.RoomID <= 0 {
			err = apperr.Validation("room_id required")
			break
		}
		_, err = h.gateway.Send(ctx, s.identity, frame.RoomID, frame.Content)
	case models.EventLeaveRoom:
		err = h.gateway.Leave(ctx, s, frame.RoomID)
	default:
		err = apperr.Validation("unknown event type")
	}

	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			h.log.Error().Err(err).Str("conn_id", s.ID()).Str("type", frame.Type).Msg("ws event failed")
		}
		s.Send(errorFrame(frame.RoomID, apperr.Message(err)))
	}
}

func (h *Handler) publish(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	_ = observability.PublishEvent(ctx, routingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   info.payload(event, reason),
	})
}

func errorFrame(roomID int64, msg string) models.ServerFrame {
	return models.ServerFrame{Type: models.EventError, RoomID: roomID, Error: msg}
}

func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}
