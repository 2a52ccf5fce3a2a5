package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"room-chat/internal/models"
)

func TestInsertMessageIgnoresRedelivery(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	env := models.Envelope{
		ID:        "01HZX3Q6Y7D8E9F0G1H2J3K4M5",
		RoomID:    5,
		UserID:    2,
		Content:   "hello",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	insert := sqlText(`INSERT INTO messages (id, room_id, user_id, content, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`)

	mock.ExpectExec(insert).
		WithArgs(env.ID, env.RoomID, env.UserID, env.Content, env.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).
		WithArgs(env.ID, env.RoomID, env.UserID, env.Content, env.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.InsertMessage(context.Background(), env)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertMessage(context.Background(), env)
	require.NoError(t, err)
	assert.False(t, inserted, "redelivered envelope must not write a second row")
}

func TestInsertMessagePropagatesStoreErrors(t *testing.T) {
	db, mock := newMockDB(t)
	boom := errors.New("connection refused")

	mock.ExpectExec(sqlText(`INSERT INTO messages`)).WillReturnError(boom)

	inserted, err := NewMessageRepo(db).InsertMessage(context.Background(), models.Envelope{ID: "x", RoomID: 1, UserID: 1, Content: "c", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, boom)
	assert.False(t, inserted)
}

func TestGetMessagesPagesNewestFirst(t *testing.T) {
	db, mock := newMockDB(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	userID := int64(2)
	name := "bob"

	mock.ExpectQuery(sqlText(`ORDER BY m.created_at DESC, m.id DESC LIMIT $2 OFFSET $3`)).
		WithArgs(int64(5), 20, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "room_id", "user_id", "username", "content", "created_at"}).
			AddRow("b", int64(5), userID, name, "second", at.Add(time.Second)).
			AddRow("a", int64(5), nil, nil, "first", at))
	mock.ExpectQuery(sqlText(`SELECT COUNT(*) FROM messages WHERE room_id=$1`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(22))

	msgs, total, err := NewMessageRepo(db).GetMessages(context.Background(), 5, 2, 20)
	require.NoError(t, err)
	assert.Equal(t, 22, total)
	require.Len(t, msgs, 2)
	assert.Equal(t, "bob", *msgs[0].Username)
	assert.Nil(t, msgs[1].UserID)
	assert.Equal(t, "unknown", msgs[1].DisplayName())
}

func TestClearMessagesReportsDeletedCount(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(sqlText(`DELETE FROM messages`)).WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := NewMessageRepo(db).ClearMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
}
