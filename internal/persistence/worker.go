package persistence

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"room-chat/internal/logging"
	"room-chat/internal/models"
	"room-chat/internal/observability"
	"room-chat/internal/repositories"
)

// Outcome is what the worker did with one delivery.
type Outcome string

const (
	OutcomeStored    Outcome = "stored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDropped   Outcome = "dropped"
	OutcomeRequeued  Outcome = "requeued"
)

// MessageStore is the durable sink for envelopes.
type MessageStore interface {
	InsertMessage(ctx context.Context, env models.Envelope) (bool, error)
}

// Worker turns queued envelopes into durable rows. Inserts are idempotent
// on envelope id, so redelivery after a lost ack never duplicates history.
type Worker struct {
	store MessageStore
	log   zerolog.Logger
}

func NewWorker(store MessageStore) *Worker {
	return &Worker{
		store: store,
		log:   logging.For("worker"),
	}
}

// Deliver adapts the worker to rabbitmq.Handler.
func (w *Worker) Deliver(ctx context.Context, d amqp.Delivery) {
	w.Handle(ctx, d)
}

// Handle stores one delivery and settles it with the broker.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) Outcome {
	ctx, span := otel.Tracer("room-chat/persistence").Start(ctx, "persist_message", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var env models.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		w.log.Error().Err(err).Str("body", truncate(d.Body)).Msg("drop undecodable envelope")
		span.SetStatus(codes.Error, "decode")
		return w.reject(d, "decode")
	}
	span.SetAttributes(attribute.String("message.id", env.ID), attribute.Int64("room.id", env.RoomID))

	if missing := env.Validate(); missing != "" {
		w.log.Error().Str("message_id", env.ID).Str("missing", missing).Msg("drop incomplete envelope")
		span.SetStatus(codes.Error, "invalid")
		return w.reject(d, "invalid")
	}

	inserted, err := w.store.InsertMessage(ctx, env)
	if err != nil {
		span.RecordError(err)
		if repositories.IsForeignKeyViolation(err) {
			w.log.Warn().Str("message_id", env.ID).Int64("room_id", env.RoomID).Msg("drop envelope for deleted room")
			return w.reject(d, "room_deleted")
		}
		w.log.Error().Err(err).Str("message_id", env.ID).Msg("store failed, requeue")
		observability.IncWorkerFailure("store")
		if nackErr := d.Nack(false, true); nackErr != nil {
			w.log.Error().Err(nackErr).Msg("nack failed")
		}
		span.SetStatus(codes.Error, "store")
		return OutcomeRequeued
	}

	if ackErr := d.Ack(false); ackErr != nil {
		w.log.Error().Err(ackErr).Str("message_id", env.ID).Msg("ack failed")
	}
	if !inserted {
		w.log.Debug().Str("message_id", env.ID).Msg("duplicate envelope acked")
		return OutcomeDuplicate
	}
	observability.IncMessagePersisted()
	return OutcomeStored
}

func (w *Worker) reject(d amqp.Delivery, reason string) Outcome {
	observability.IncWorkerFailure(reason)
	if err := d.Reject(false); err != nil {
		w.log.Error().Err(err).Msg("reject failed")
	}
	return OutcomeDropped
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
