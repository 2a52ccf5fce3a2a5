package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Room lifecycle audit events.
const (
	EventRoomCreated = "room_created"
	EventRoomDeleted = "room_deleted"
	EventRoomJoined  = "room_joined"
	EventRoomLeft    = "room_left"
)

// Publisher delivers an audit envelope under a routing key.
type Publisher interface {
	PublishEvent(ctx context.Context, routingKey string, event any) error
}

type AuditEmitter struct {
	publisher   Publisher
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id,omitempty"`
	UserID        int64        `json:"user_id"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	RoomID   int64  `json:"room_id"`
	RoomName string `json:"room_name,omitempty"`
}

func NewAuditEmitter(publisher Publisher, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
	}
}

// Emit publishes a room lifecycle event under "audit.<event>". Failures are
// logged and never returned.
func (e *AuditEmitter) Emit(ctx context.Context, event string, userID int64, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     event,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     RequestIDFromContext(ctx),
		UserID:        userID,
		Payload:       payload,
	}

	if err := e.publisher.PublishEvent(ctx, "audit."+event, envelope); err != nil {
		log.Warn().Err(err).Str("module", "audit").Str("event", event).Int64("room_id", payload.RoomID).Msg("audit publish failed")
		return
	}
	log.Debug().Str("module", "audit").Str("event", event).Int64("room_id", payload.RoomID).Msg("audit emitted")
}

type requestIDKey struct{}

// WithRequestID stores the request id for downstream audit envelopes.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
