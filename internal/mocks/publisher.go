package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"room-chat/internal/auth"
	"room-chat/internal/models"
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) PublishEvent(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

// SenderMock stands in for the realtime gateway's send path.
type SenderMock struct {
	mock.Mock
}

func (m *SenderMock) Send(ctx context.Context, sender auth.Identity, roomID int64, content string) (models.Envelope, error) {
	args := m.Called(ctx, sender, roomID, content)
	var env models.Envelope
	if val := args.Get(0); val != nil {
		env = val.(models.Envelope)
	}
	return env, args.Error(1)
}

type RealtimeNotifierMock struct {
	mock.Mock
}

func (m *RealtimeNotifierMock) RoomDeleted(roomID int64) {
	m.Called(roomID)
}

func (m *RealtimeNotifierMock) MemberLeft(roomID, userID int64) {
	m.Called(roomID, userID)
}
