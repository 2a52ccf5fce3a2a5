package models

import "encoding/json"

// Realtime frame types.
const (
	EventJoinRoom    = "join_room"
	EventSendMessage = "send_message"
	EventLeaveRoom   = "leave_room"

	EventRoomHistory = "room_history"
	EventNewMessage  = "new_message"
	EventLeftRoom    = "left_room"
	EventError       = "error"
)

// ClientFrame is an inbound websocket frame.
type ClientFrame struct {
	Type    string `json:"type"`
	RoomID  int64  `json:"room_id"`
	Content string `json:"content,omitempty"`
}

// ServerFrame is an outbound websocket frame.
type ServerFrame struct {
	Type     string     `json:"type"`
	RoomID   int64      `json:"room_id,omitempty"`
	Message  *Envelope  `json:"message,omitempty"`
	Messages []Envelope `json:"messages,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// MarshalJSON keeps messages present (possibly empty) on history frames.
func (f ServerFrame) MarshalJSON() ([]byte, error) {
	type alias ServerFrame
	if f.Type == EventRoomHistory {
		msgs := f.Messages
		if msgs == nil {
			msgs = []Envelope{}
		}
		return json.Marshal(struct {
			alias
			Messages []Envelope `json:"messages"`
		}{alias: alias(f), Messages: msgs})
	}
	return json.Marshal(alias(f))
}
