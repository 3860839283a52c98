// Copyright (C) 2025 gathr.social <dev@gathr.social>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chat

import (
	"context"

	"github.com/gathrhq/chat/backend/models"
)

// RoomView is the room payload pushed on room events and returned by the
// room list: the room itself, every active member's unread count and the
// latest visible message as a preview.
type RoomView struct {
	Room        *models.Room    `json:"room"`
	Unread      map[string]int  `json:"unread"`
	LastMessage *models.Message `json:"last_message,omitempty"`
}

// buildView assembles a RoomView. viewerID scopes the preview to what
// that viewer may see; empty means a neutral preview (no per-viewer
// hidden rows apply).
func (s *Service) buildView(ctx context.Context, room *models.Room, viewerID string) (*RoomView, error) {
	unread, err := s.store.RoomUnreadCounts(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	last, err := s.store.LastVisibleMessage(ctx, room.ID, viewerID)
	if err != nil {
		return nil, err
	}
	return &RoomView{Room: room, Unread: unread, LastMessage: last}, nil
}

func (s *Service) roomView(ctx context.Context, roomID, viewerID string) (*RoomView, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return s.buildView(ctx, room, viewerID)
}
