package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"room-chat/internal/models"
)

// MessageRepository defines interactions for room messages.
type MessageRepository interface {
	InsertMessage(ctx context.Context, env models.Envelope) (bool, error)
	GetMessages(ctx context.Context, roomID int64, page, pageSize int) ([]models.Message, int, error)
	RecentMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error)
	ClearMessages(ctx context.Context) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// InsertMessage stores an envelope under its server-assigned id. A second
// insert of the same id is ignored; the bool reports whether a row was written.
func (r *MessageRepo) InsertMessage(ctx context.Context, env models.Envelope) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO messages (id, room_id, user_id, content, created_at) VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO NOTHING`, env.ID, env.RoomID, env.UserID, env.Content, env.CreatedAt)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

// GetMessages returns one page of a room's messages, newest first, plus the
// room's full message count.
func (r *MessageRepo) GetMessages(ctx context.Context, roomID int64, page, pageSize int) ([]models.Message, int, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT m.id, m.room_id, m.user_id, u.username, m.content, m.created_at
        FROM messages m
        LEFT JOIN users u ON u.id = m.user_id
        WHERE m.room_id=$1
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT $2 OFFSET $3`, roomID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages WHERE room_id=$1`, roomID); err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// RecentMessages returns the latest limit messages in ascending order.
func (r *MessageRepo) RecentMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT * FROM (
            SELECT m.id, m.room_id, m.user_id, u.username, m.content, m.created_at
            FROM messages m
            LEFT JOIN users u ON u.id = m.user_id
            WHERE m.room_id=$1
            ORDER BY m.created_at DESC, m.id DESC
            LIMIT $2
        ) recent ORDER BY created_at ASC, id ASC`, roomID, limit)
	return msgs, err
}

// ClearMessages deletes every stored message.
func (r *MessageRepo) ClearMessages(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
