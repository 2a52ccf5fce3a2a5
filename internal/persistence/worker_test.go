package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"room-chat/internal/models"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) InsertMessage(ctx context.Context, env models.Envelope) (bool, error) {
	args := m.Called(ctx, env)
	return args.Bool(0), args.Error(1)
}

type ackRecorder struct {
	acks, nacks, rejects int
	requeue              bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acks++; return nil }

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	a.rejects++
	a.requeue = requeue
	return nil
}

func envelope() models.Envelope {
	return models.Envelope{
		ID:        "01HZX3Q7W8RZ5N3V9J6F2K4M8A",
		RoomID:    7,
		UserID:    3,
		Username:  "alice",
		Content:   "hello",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func delivery(t *testing.T, acker *ackRecorder, v any) amqp.Delivery {
	t.Helper()
	body, ok := v.([]byte)
	if !ok {
		var err error
		body, err = json.Marshal(v)
		require.NoError(t, err)
	}
	return amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: body}
}

func TestWorker_StoresAndAcks(t *testing.T) {
	store := new(mockStore)
	env := envelope()
	store.On("InsertMessage", mock.Anything, env).Return(true, nil).Once()
	acker := &ackRecorder{}

	out := NewWorker(store).Handle(context.Background(), delivery(t, acker, env))

	assert.Equal(t, OutcomeStored, out)
	assert.Equal(t, 1, acker.acks)
	assert.Zero(t, acker.nacks+acker.rejects)
	store.AssertExpectations(t)
}

func TestWorker_DuplicateIsAcked(t *testing.T) {
	store := new(mockStore)
	env := envelope()
	store.On("InsertMessage", mock.Anything, env).Return(false, nil).Once()
	acker := &ackRecorder{}

	out := NewWorker(store).Handle(context.Background(), delivery(t, acker, env))

	assert.Equal(t, OutcomeDuplicate, out)
	assert.Equal(t, 1, acker.acks)
}

func TestWorker_UndecodableIsRejected(t *testing.T) {
	store := new(mockStore)
	acker := &ackRecorder{}

	out := NewWorker(store).Handle(context.Background(), delivery(t, acker, []byte("{not json")))

	assert.Equal(t, OutcomeDropped, out)
	assert.Equal(t, 1, acker.rejects)
	assert.False(t, acker.requeue)
	store.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
}

func TestWorker_MissingFieldsAreRejected(t *testing.T) {
	store := new(mockStore)
	env := envelope()
	env.ID = ""
	acker := &ackRecorder{}

	out := NewWorker(store).Handle(context.Background(), delivery(t, acker, env))

	assert.Equal(t, OutcomeDropped, out)
	assert.Equal(t, 1, acker.rejects)
	store.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
}

func TestWorker_StoreFailureRequeues(t *testing.T) {
	store := new(mockStore)
	env := envelope()
	store.On("InsertMessage", mock.Anything, env).Return(false, errors.New("connection reset")).Once()
	acker := &ackRecorder{}

	out := NewWorker(store).Handle(context.Background(), delivery(t, acker, env))

	assert.Equal(t, OutcomeRequeued, out)
	assert.Equal(t, 1, acker.nacks)
	assert.True(t, acker.requeue)
	assert.Zero(t, acker.acks)
}

func TestWorker_DeletedRoomIsDropped(t *testing.T) {
	store := new(mockStore)
	env := envelope()
	store.On("InsertMessage", mock.Anything, env).Return(false, &pq.Error{Code: "23503"}).Once()
	acker := &ackRecorder{}

	out := NewWorker(store).Handle(context.Background(), delivery(t, acker, env))

	assert.Equal(t, OutcomeDropped, out)
	assert.Equal(t, 1, acker.rejects)
	assert.False(t, acker.requeue)
}
