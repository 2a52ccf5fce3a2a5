package models

import (
	"database/sql"
	"time"
)

// Room is a chat room. PasswordHash is set iff IsPrivate.
type Room struct {
	ID           int64          `db:"id" json:"id"`
	Name         string         `db:"name" json:"name"`
	IsPrivate    bool           `db:"is_private" json:"is_private"`
	PasswordHash sql.NullString `db:"password" json:"-"`
	CreatedBy    int64          `db:"created_by" json:"created_by"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// Membership links a user to a room.
type Membership struct {
	RoomID   int64     `db:"room_id" json:"room_id"`
	UserID   int64     `db:"user_id" json:"user_id"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}
