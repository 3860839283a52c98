// Copyright (C) 2025 gathr.social <dev@gathr.social>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Outbound event names pushed to live connections.
const (
	EventRoomCreated        = "room:created"
	EventRoomUpdated        = "room:updated"
	EventMessageCreated     = "message:created"
	EventMessageUpdated     = "message:updated"
	EventMessageDeleted     = "message:deleted"
	EventMessageReaction    = "message:reaction"
	EventTyping             = "typing"
	EventFeedUpdated        = "feed:updated"
	EventFeedCommentUpdated = "feed:comment:updated"
)

// Inbound control event names a connection may send.
const (
	EventIdentify   = "identify"
	EventIdentified = "identified"
	EventJoin       = "join"
	EventLeave      = "leave"
	EventHeartbeat  = "heartbeat"
	EventError      = "error"
)

// Event is the wire envelope for everything crossing a websocket, in
// both directions.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Envelope marshals an outbound event with its payload.
func Envelope(eventType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Type: eventType, Data: data})
}

// NotificationJob is handed to the external notification dispatcher for
// members with no live connection. It is a hint, not a source of truth;
// the dispatcher re-fetches whatever it needs.
type NotificationJob struct {
	UserID    string    `json:"user_id"`
	RoomID    string    `json:"room_id"`
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Preview   string    `json:"preview,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
