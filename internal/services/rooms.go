package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode/utf8"

	"room-chat/internal/apperr"
	"room-chat/internal/models"
	"room-chat/internal/repositories"
	"room-chat/internal/telemetry"
)

const minRoomNameLen = 3

// RealtimeNotifier is told about membership changes that must drop live
// subscriptions.
type RealtimeNotifier interface {
	RoomDeleted(roomID int64)
	MemberLeft(roomID, userID int64)
}

// RoomService owns room lifecycle, membership and the admission check.
type RoomService struct {
	rooms    repositories.RoomRepository
	hasher   PasswordHasher
	audit    *telemetry.AuditEmitter
	realtime RealtimeNotifier
}

// NewRoomService constructs a RoomService. audit may be nil.
func NewRoomService(rooms repositories.RoomRepository, hasher PasswordHasher, audit *telemetry.AuditEmitter) *RoomService {
	return &RoomService{rooms: rooms, hasher: hasher, audit: audit}
}

// SetRealtime attaches the realtime layer after construction; the gateway
// itself depends on this service for admission.
func (s *RoomService) SetRealtime(n RealtimeNotifier) {
	s.realtime = n
}

// CreateRoom validates and stores a room. The creator becomes a member.
func (s *RoomService) CreateRoom(ctx context.Context, userID int64, name string, isPrivate bool, password string) (models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Room{}, apperr.Validation("name required")
	}
	if utf8.RuneCountInString(name) < minRoomNameLen {
		return models.Room{}, apperr.Validation("name must be at least 3 characters long")
	}

	var hash sql.NullString
	if isPrivate {
		if utf8.RuneCountInString(password) < minPasswordLen {
			return models.Room{}, apperr.Validation("private rooms require a password of at least 4 characters")
		}
		h, err := s.hasher.Hash(password)
		if err != nil {
			return models.Room{}, apperr.Internal(err)
		}
		hash = sql.NullString{String: h, Valid: true}
	}

	room, err := s.rooms.CreateRoom(ctx, name, isPrivate, hash, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateRoomName) {
			return models.Room{}, apperr.Conflict("room name already exists")
		}
		return models.Room{}, apperr.Internal(err)
	}

	s.audit.Emit(ctx, telemetry.EventRoomCreated, userID, telemetry.AuditPayload{RoomID: room.ID, RoomName: room.Name})
	return room, nil
}

// JoinRoom records membership, checking the password of private rooms.
func (s *RoomService) JoinRoom(ctx context.Context, userID, roomID int64, password string) (models.Room, error) {
	room, err := s.getRoom(ctx, roomID)
	if err != nil {
		return models.Room{}, err
	}

	if room.IsPrivate {
		if password == "" {
			return models.Room{}, apperr.Auth("password required for private room")
		}
		if !room.PasswordHash.Valid || !s.hasher.Verify(password, room.PasswordHash.String) {
			return models.Room{}, apperr.Auth("invalid password")
		}
	}

	created, err := s.rooms.AddMember(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			return models.Room{}, apperr.NotFound("room not found")
		}
		return models.Room{}, apperr.Internal(err)
	}
	if !created {
		return models.Room{}, apperr.Conflict("already a member of this room")
	}

	s.audit.Emit(ctx, telemetry.EventRoomJoined, userID, telemetry.AuditPayload{RoomID: room.ID, RoomName: room.Name})
	return room, nil
}

// LeaveRoom removes the caller's membership and live subscriptions.
func (s *RoomService) LeaveRoom(ctx context.Context, userID, roomID int64) error {
	if _, err := s.getRoom(ctx, roomID); err != nil {
		return err
	}

	removed, err := s.rooms.RemoveMember(ctx, roomID, userID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !removed {
		return apperr.Validation("not a member of this room")
	}

	if s.realtime != nil {
		s.realtime.MemberLeft(roomID, userID)
	}
	s.audit.Emit(ctx, telemetry.EventRoomLeft, userID, telemetry.AuditPayload{RoomID: roomID})
	return nil
}

// DeleteRoom deletes a room; only its creator may do so.
func (s *RoomService) DeleteRoom(ctx context.Context, userID, roomID int64) error {
	room, err := s.getRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != userID {
		return apperr.Forbidden("only the room creator may delete it")
	}

	if err := s.rooms.DeleteRoom(ctx, roomID); err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			return apperr.NotFound("room not found")
		}
		return apperr.Internal(err)
	}

	if s.realtime != nil {
		s.realtime.RoomDeleted(roomID)
	}
	s.audit.Emit(ctx, telemetry.EventRoomDeleted, userID, telemetry.AuditPayload{RoomID: room.ID, RoomName: room.Name})
	return nil
}

// ListRooms returns all rooms.
func (s *RoomService) ListRooms(ctx context.Context) ([]models.Room, error) {
	rooms, err := s.rooms.ListRooms(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return rooms, nil
}

// IsMember reports whether the user holds a membership row for the room.
func (s *RoomService) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	member, err := s.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return false, apperr.Internal(err)
	}
	return member, nil
}

// Admit is the admission check for reading or posting: the room must exist
// and private rooms require membership.
func (s *RoomService) Admit(ctx context.Context, userID, roomID int64) (models.Room, error) {
	room, err := s.getRoom(ctx, roomID)
	if err != nil {
		return models.Room{}, err
	}
	if !room.IsPrivate {
		return room, nil
	}

	member, err := s.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return models.Room{}, apperr.Internal(err)
	}
	if !member {
		return models.Room{}, apperr.Forbidden("not a member of this private room")
	}
	return room, nil
}

func (s *RoomService) getRoom(ctx context.Context, roomID int64) (models.Room, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			return models.Room{}, apperr.NotFound("room not found")
		}
		return models.Room{}, apperr.Internal(err)
	}
	return room, nil
}
