package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"room-chat/internal/models"
)

// RoomRepository abstracts room and membership persistence.
type RoomRepository interface {
	CreateRoom(ctx context.Context, name string, isPrivate bool, passwordHash sql.NullString, createdBy int64) (models.Room, error)
	GetRoom(ctx context.Context, roomID int64) (models.Room, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	DeleteRoom(ctx context.Context, roomID int64) error
	IsMember(ctx context.Context, roomID int64, userID int64) (bool, error)
	AddMember(ctx context.Context, roomID int64, userID int64) (bool, error)
	RemoveMember(ctx context.Context, roomID int64, userID int64) (bool, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// CreateRoom inserts the room and the creator's membership atomically.
func (r *RoomRepo) CreateRoom(ctx context.Context, name string, isPrivate bool, passwordHash sql.NullString, createdBy int64) (models.Room, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var room models.Room
	err = tx.QueryRowxContext(ctx, `INSERT INTO rooms (name, is_private, password, created_by) VALUES ($1, $2, $3, $4)
        RETURNING id, name, is_private, password, created_by, created_at`, name, isPrivate, passwordHash, createdBy).
		StructScan(&room)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Room{}, ErrDuplicateRoomName
		}
		return models.Room{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT (room_id, user_id) DO NOTHING`, room.ID, createdBy); err != nil {
		return models.Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// GetRoom fetches a single room including its password hash.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, name, is_private, password, created_by, created_at FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// ListRooms returns every room without password hashes.
func (r *RoomRepo) ListRooms(ctx context.Context) ([]models.Room, error) {
	rooms := []models.Room{}
	err := r.db.SelectContext(ctx, &rooms, `SELECT id, name, is_private, created_by, created_at FROM rooms ORDER BY created_at DESC, id DESC`)
	return rooms, err
}

// DeleteRoom removes the room with its messages and memberships.
func (r *RoomRepo) DeleteRoom(ctx context.Context, roomID int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id=$1`, roomID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id=$1`, roomID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id=$1`, roomID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		err = ErrRoomNotFound
		return err
	}
	return tx.Commit()
}

// IsMember checks membership.
func (r *RoomRepo) IsMember(ctx context.Context, roomID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}

// AddMember inserts a membership, ignoring an existing one. It reports
// whether a row was created.
func (r *RoomRepo) AddMember(ctx context.Context, roomID int64, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return false, ErrRoomNotFound
		}
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

// RemoveMember deletes a membership and reports whether one existed.
func (r *RoomRepo) RemoveMember(ctx context.Context, roomID int64, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM room_members WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}
