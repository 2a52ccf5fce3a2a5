package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"room-chat/internal/apperr"
	"room-chat/internal/auth"
	"room-chat/internal/logging"
	"room-chat/internal/models"
	"room-chat/internal/observability"
	"room-chat/internal/ratelimit"
	"room-chat/internal/registry"
)

// ErrStopped is returned once the event loop has exited.
var ErrStopped = errors.New("gateway stopped")

const defaultPublishTimeout = 3 * time.Second

// Admitter performs the admission check for a room.
type Admitter interface {
	Admit(ctx context.Context, userID, roomID int64) (models.Room, error)
}

// HistorySource supplies the latest persisted envelopes of a room, oldest first.
type HistorySource interface {
	Recent(ctx context.Context, roomID int64, limit int) ([]models.Envelope, error)
}

// Publisher hands accepted envelopes to the broker.
type Publisher interface {
	Publish(ctx context.Context, env models.Envelope) error
}

// Config tunes the gateway.
type Config struct {
	HistoryLimit   int
	OutboxSize     int
	PublishTimeout time.Duration
}

// Gateway serializes every join, send and leave through one event loop, so
// per-room accept order is the fan-out order and the join history payload
// is always enqueued before the first push the new subscriber sees.
type Gateway struct {
	registry  *registry.Registry
	admitter  Admitter
	history   HistorySource
	publisher Publisher
	limiter   ratelimit.Limiter
	cfg       Config

	events  chan event
	revoked *revocations
	outbox  chan models.Envelope
	stopped chan struct{}
	once    sync.Once

	entropy io.Reader
	now     func() time.Time
	log     zerolog.Logger
}

// New builds a Gateway. limiter may be nil for no rate limiting.
func New(reg *registry.Registry, admitter Admitter, history HistorySource, publisher Publisher, limiter ratelimit.Limiter, cfg Config) *Gateway {
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 1024
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &Gateway{
		registry:  reg,
		admitter:  admitter,
		history:   history,
		publisher: publisher,
		limiter:   limiter,
		cfg:       cfg,
		events:    make(chan event),
		revoked:   newRevocations(),
		outbox:    make(chan models.Envelope, cfg.OutboxSize),
		stopped:   make(chan struct{}),
		entropy:   ulid.Monotonic(rand.Reader, 0),
		now:       time.Now,
		log:       logging.For("gateway"),
	}
}

// Run processes events until ctx is cancelled, then flushes the outbox to
// the broker and returns.
func (g *Gateway) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.drainOutbox()
	}()

	defer func() {
		g.once.Do(func() { close(g.stopped) })
		close(g.outbox)
		wg.Wait()
		g.log.Info().Msg("gateway stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-g.events:
			ev.apply(g)
		}
	}
}

// Join admits s to roomID, subscribes it and enqueues the room_history frame.
func (g *Gateway) Join(ctx context.Context, s registry.Session, roomID int64) error {
	ctx, span := otel.Tracer("room-chat/gateway").Start(ctx, "gateway.join")
	defer span.End()
	span.SetAttributes(attribute.Int64("room.id", roomID))

	ticket := g.revoked.begin()
	if _, err := g.admitter.Admit(ctx, s.UserID(), roomID); err != nil {
		g.revoked.abandon()
		return err
	}

	var persisted []models.Envelope
	if g.history != nil && g.cfg.HistoryLimit > 0 {
		rows, err := g.history.Recent(ctx, roomID, g.cfg.HistoryLimit)
		if err != nil {
			// the recent ring still backfills what this process accepted
			g.log.Error().Err(err).Int64("room_id", roomID).Msg("load join history")
		}
		persisted = rows
	}

	reply := make(chan error, 1)
	if err := g.submit(ctx, joinEvent{session: s, roomID: roomID, ticket: ticket, persisted: persisted, reply: reply}); err != nil {
		g.revoked.abandon()
		return err
	}
	return <-reply
}

// Send validates and accepts a message, fans it out and queues it for
// persistence. The returned envelope is what every subscriber received.
func (g *Gateway) Send(ctx context.Context, sender auth.Identity, roomID int64, content string) (models.Envelope, error) {
	ctx, span := otel.Tracer("room-chat/gateway").Start(ctx, "gateway.send")
	defer span.End()
	span.SetAttributes(attribute.Int64("room.id", roomID))

	if strings.TrimSpace(content) == "" {
		return models.Envelope{}, apperr.Validation("message content cannot be empty")
	}
	ticket := g.revoked.begin()
	if _, err := g.admitter.Admit(ctx, sender.UserID, roomID); err != nil {
		g.revoked.abandon()
		return models.Envelope{}, err
	}
	if g.limiter != nil {
		ok, err := g.limiter.Allow(ctx, sender.UserID)
		if err != nil {
			g.log.Warn().Err(err).Int64("user_id", sender.UserID).Msg("rate limiter unavailable, allowing send")
		} else if !ok {
			g.revoked.abandon()
			return models.Envelope{}, apperr.RateLimited("too many messages, slow down")
		}
	}

	reply := make(chan sendResult, 1)
	ev := sendEvent{sender: sender, roomID: roomID, content: content, ticket: ticket, reply: reply}
	if err := g.submit(ctx, ev); err != nil {
		g.revoked.abandon()
		return models.Envelope{}, err
	}
	res := <-reply
	if res.err != nil {
		return models.Envelope{}, res.err
	}
	span.SetAttributes(attribute.String("message.id", res.env.ID))
	return res.env, nil
}

// Leave unsubscribes s from roomID and confirms with a left_room frame.
func (g *Gateway) Leave(ctx context.Context, s registry.Session, roomID int64) error {
	return g.submit(ctx, leaveEvent{session: s, roomID: roomID})
}

// Disconnect removes s from every room.
func (g *Gateway) Disconnect(s registry.Session) {
	_ = g.submit(context.Background(), disconnectEvent{session: s})
}

// RoomDeleted drops every live subscription of a deleted room.
func (g *Gateway) RoomDeleted(roomID int64) {
	_ = g.submit(context.Background(), roomDeletedEvent{roomID: roomID})
}

// MemberLeft unsubscribes every session of userID from roomID after the
// membership was removed.
func (g *Gateway) MemberLeft(roomID, userID int64) {
	_ = g.submit(context.Background(), memberLeftEvent{roomID: roomID, userID: userID})
}

func (g *Gateway) submit(ctx context.Context, ev event) error {
	select {
	case g.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.stopped:
		return ErrStopped
	}
}

// deliver enqueues frame on s. A session that cannot keep up is closed and
// forgotten; its client reconciles through history after reconnecting.
func (g *Gateway) deliver(s registry.Session, frame models.ServerFrame) {
	if s.Send(frame) {
		return
	}
	observability.IncFanoutDropped()
	g.log.Warn().Str("session_id", s.ID()).Int64("user_id", s.UserID()).Msg("outbound queue full, dropping session")
	g.registry.OnDisconnect(s)
	s.Close()
}

func (g *Gateway) accept(sender auth.Identity, roomID int64, content string) models.Envelope {
	at := g.registry.Stamp(roomID, g.now())
	env := models.Envelope{
		ID:        ulid.MustNew(ulid.Timestamp(at), g.entropy).String(),
		RoomID:    roomID,
		UserID:    sender.UserID,
		Username:  sender.Username,
		Content:   content,
		CreatedAt: at,
	}
	g.registry.Append(env)
	observability.IncMessageAccepted()

	frame := models.ServerFrame{Type: models.EventNewMessage, RoomID: roomID, Message: &env}
	for _, s := range g.registry.Subscribers(roomID) {
		g.deliver(s, frame)
	}

	select {
	case g.outbox <- env:
	default:
		observability.IncOutboxDropped()
		g.log.Error().Str("message_id", env.ID).Int64("room_id", roomID).Msg("outbox full, message not persisted")
	}
	return env
}

func (g *Gateway) drainOutbox() {
	for env := range g.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.PublishTimeout)
		err := g.publisher.Publish(ctx, env)
		cancel()
		if err != nil {
			g.log.Warn().Err(err).Str("message_id", env.ID).Int64("room_id", env.RoomID).Msg("publish to broker failed")
		}
	}
}

// mergeHistory combines persisted rows with the recent ring, dropping
// duplicate ids, ordered by (created_at, id) and trimmed to the newest limit.
func mergeHistory(persisted, recent []models.Envelope, limit int) []models.Envelope {
	seen := make(map[string]struct{}, len(persisted)+len(recent))
	out := make([]models.Envelope, 0, len(persisted)+len(recent))
	for _, src := range [][]models.Envelope{persisted, recent} {
		for _, env := range src {
			if _, ok := seen[env.ID]; ok {
				continue
			}
			seen[env.ID] = struct{}{}
			out = append(out, env)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
