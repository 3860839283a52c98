// Copyright (C) 2025 gathr.social <dev@gathr.social>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package chat holds the room directory and message ledger services.
// Storage does the transactional work; these services orchestrate it and
// push events to live connections only after the transaction returns.
package chat

import (
	"context"
	"log/slog"

	"github.com/gathrhq/chat/backend/fanout"
	"github.com/gathrhq/chat/backend/models"
	"github.com/gathrhq/chat/backend/storage"
)

type Service struct {
	store  storage.Store
	engine *fanout.Engine
	log    *slog.Logger
}

func NewService(store storage.Store, engine *fanout.Engine, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, engine: engine, log: log}
}

// FindOrCreatePersonal returns the one personal room between actor and
// peer, creating it on first contact. The bool reports creation.
func (s *Service) FindOrCreatePersonal(ctx context.Context, actorID, peerID string) (*models.Room, bool, error) {
	room, created, err := s.store.FindOrCreatePersonalRoom(ctx, actorID, peerID, actorID)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.pushRoom(ctx, room, models.EventRoomCreated)
	}
	return room, created, nil
}

func (s *Service) CreateGroup(ctx context.Context, actorID, name string, memberIDs []string) (*models.Room, bool, error) {
	members := append([]string{actorID}, memberIDs...)
	room, created, err := s.store.FindOrCreateGroupRoom(ctx, name, members, actorID)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.pushRoom(ctx, room, models.EventRoomCreated)
	}
	return room, created, nil
}

// CreateEventRoom is idempotent per event: the second caller gets the
// existing room back unchanged.
func (s *Service) CreateEventRoom(ctx context.Context, actorID, eventID string, memberIDs []string) (*models.Room, bool, error) {
	members := append([]string{actorID}, memberIDs...)
	room, created, err := s.store.FindOrCreateEventRoom(ctx, eventID, members, actorID)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.pushRoom(ctx, room, models.EventRoomCreated)
	}
	return room, created, nil
}

// CreateOrUpdateBroadcast keeps one broadcast room per owner; a repeat
// call replaces its name and member list.
func (s *Service) CreateOrUpdateBroadcast(ctx context.Context, ownerID, name string, memberIDs []string) (*models.Room, error) {
	room, err := s.store.UpsertBroadcastRoom(ctx, ownerID, name, memberIDs)
	if err != nil {
		return nil, err
	}
	s.pushRoom(ctx, room, models.EventRoomUpdated)
	return room, nil
}

// Join adds members on behalf of actorID. Broadcast member lists are
// owner-managed, so the store rejects non-owner actors there.
func (s *Service) Join(ctx context.Context, roomID, actorID string, memberIDs []string) (*models.Room, error) {
	room, err := s.store.AddRoomMembers(ctx, roomID, actorID, memberIDs)
	if err != nil {
		return nil, err
	}
	s.pushRoom(ctx, room, models.EventRoomUpdated)
	return room, nil
}

func (s *Service) Leave(ctx context.Context, roomID, userID string) error {
	if err := s.store.RemoveRoomMember(ctx, roomID, userID); err != nil {
		return err
	}
	// The leaver is in deleted_users now; include them so their other
	// devices learn about it too.
	view, err := s.roomView(ctx, roomID, "")
	if err == nil {
		s.engine.RoomEvent(ctx, roomID, models.EventRoomUpdated, view, true)
	}
	return nil
}

func (s *Service) ClearHistory(ctx context.Context, roomID, userID string) error {
	return s.store.ClearRoomHistory(ctx, roomID, userID)
}

func (s *Service) DeleteRoom(ctx context.Context, roomID, actorID string) error {
	// Audience has to be captured first: once the room is soft-deleted
	// it reads as not found and a membership re-read would come back
	// empty.
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteRoom(ctx, roomID, actorID); err != nil {
		return err
	}
	audience := append(append([]string{}, room.Members...), room.DeletedUsers...)
	s.engine.UserEvent(audience, models.EventRoomUpdated, map[string]any{
		"room_id":    roomID,
		"is_deleted": true,
	})
	return nil
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	return s.store.GetRoom(ctx, roomID)
}

// IsMember reports whether userID is an active member; the ws layer
// checks this before joining a connection to a room channel.
func (s *Service) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.HasMember(userID), nil
}

// UserRooms returns the user's rooms with unread counts and a
// last-message preview, newest activity first.
func (s *Service) UserRooms(ctx context.Context, userID string) ([]RoomView, error) {
	rooms, err := s.store.GetUserRooms(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]RoomView, 0, len(rooms))
	for i := range rooms {
		view, err := s.buildView(ctx, &rooms[i], userID)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

// Typing relays an ephemeral typing signal to whoever has the room
// channel open right now. Nothing is persisted.
func (s *Service) Typing(roomID, userID string, typing bool) {
	s.engine.ChannelEvent(roomID, models.EventTyping, map[string]any{
		"room_id": roomID,
		"user_id": userID,
		"typing":  typing,
	})
}

// pushRoom broadcasts the full room view to current members. Failures
// only cost the push, never the request.
func (s *Service) pushRoom(ctx context.Context, room *models.Room, event string) {
	view, err := s.buildView(ctx, room, "")
	if err != nil {
		s.log.Warn("room view build failed", "room", room.ID, "error", err)
		return
	}
	s.engine.RoomEvent(ctx, room.ID, event, view, false)
}
