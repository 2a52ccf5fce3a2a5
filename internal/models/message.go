package models

import (
	"strconv"
	"strings"
	"time"
)

// Envelope is the canonical message record built by the gateway before
// fan-out and persistence. ID and CreatedAt are always server-assigned.
type Envelope struct {
	ID        string    `json:"id"`
	RoomID    int64     `json:"room_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate reports which required field is missing, or "" when complete.
func (e Envelope) Validate() string {
	switch {
	case e.ID == "":
		return "id"
	case e.RoomID == 0:
		return "room_id"
	case e.UserID == 0:
		return "user_id"
	case strings.TrimSpace(e.Content) == "":
		return "content"
	case e.CreatedAt.IsZero():
		return "created_at"
	}
	return ""
}

// Message is a persisted row joined with the sender's username. UserID and
// Username are nil when the sender account no longer exists.
type Message struct {
	ID        string    `db:"id" json:"id"`
	RoomID    int64     `db:"room_id" json:"room_id"`
	UserID    *int64    `db:"user_id" json:"user_id"`
	Username  *string   `db:"username" json:"username"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DisplayName falls back to the raw user id, then "unknown".
func (m Message) DisplayName() string {
	if m.Username != nil && *m.Username != "" {
		return *m.Username
	}
	if m.UserID != nil {
		return strconv.FormatInt(*m.UserID, 10)
	}
	return "unknown"
}

// ToEnvelope converts a stored row back into the realtime shape.
func (m Message) ToEnvelope() Envelope {
	env := Envelope{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Username:  m.DisplayName(),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	if m.UserID != nil {
		env.UserID = *m.UserID
	}
	return env
}

// HistoryPage is one page of durable history, newest first.
type HistoryPage struct {
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Total    int       `json:"total"`
	Messages []Message `json:"messages"`
}
