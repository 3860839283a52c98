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

package models

import (
	"path"
	"strings"
	"time"
)

// MessageKind classifies what a message carries.
type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageImage MessageKind = "image"
	MessageVideo MessageKind = "video"
	MessageFile  MessageKind = "file"
	MessagePost  MessageKind = "post"
	MessageEvent MessageKind = "event"
)

// ReadReceipt records that a user has read a message. Receipts are
// append-only; at most one exists per user and the timestamp is never
// rewritten.
type ReadReceipt struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// Reaction is a user's reaction to a message. One per user,
// last-write-wins on update.
type Reaction struct {
	UserID   string `json:"user_id"`
	Reaction string `json:"reaction"`
}

// Message belongs to exactly one room. A message carries a body and/or a
// media reference and/or a shared object reference, never none of them.
type Message struct {
	ID        string        `json:"id"`
	RoomID    string        `json:"room_id"`
	SenderID  string        `json:"sender_id"`
	Body      *string       `json:"body,omitempty"`
	Kind      MessageKind   `json:"kind"`
	MediaRef  *string       `json:"media_ref,omitempty"`
	SharedRef *string       `json:"shared_ref,omitempty"`
	ReadBy    []ReadReceipt `json:"read_by,omitempty"`
	Reactions []Reaction    `json:"reactions,omitempty"`
	HiddenFor []string      `json:"-"`
	IsEdited  bool          `json:"is_edited"`
	IsDeleted bool          `json:"is_deleted"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// VisibleTo reports whether userID may see this message: not globally
// deleted and not hidden by that user's own clear-history action.
func (m *Message) VisibleTo(userID string) bool {
	if m.IsDeleted {
		return false
	}
	for _, h := range m.HiddenFor {
		if h == userID {
			return false
		}
	}
	return true
}

// IsReadBy reports whether userID has a read receipt on this message.
func (m *Message) IsReadBy(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".heic": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".webm": true, ".avi": true, ".mkv": true,
}

// ClassifyMedia maps a media reference to a message kind by extension.
// Anything unrecognised is a plain file attachment. Editing a message's
// media runs through here again, same as the initial post.
func ClassifyMedia(ref string) MessageKind {
	ext := strings.ToLower(path.Ext(ref))
	switch {
	case imageExts[ext]:
		return MessageImage
	case videoExts[ext]:
		return MessageVideo
	default:
		return MessageFile
	}
}
