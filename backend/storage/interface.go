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

package storage

import (
	"context"
	"time"

	"github.com/gathrhq/chat/backend/models"
)

// RoomStore owns room identity, membership and deduplication. Mutating
// methods run inside a single transaction and return the sentinel errors
// from the models package on rule violations.
type RoomStore interface {
	// FindOrCreatePersonalRoom returns the non-deleted personal room for
	// the unordered pair {userA, userB}, creating it if absent. The bool
	// reports whether a room was created.
	FindOrCreatePersonalRoom(ctx context.Context, userA, userB, createdBy string) (*models.Room, bool, error)

	// FindOrCreateGroupRoom dedupes by exact member-set equality and
	// equal name; same members under a different name is a distinct room.
	FindOrCreateGroupRoom(ctx context.Context, name string, memberIDs []string, createdBy string) (*models.Room, bool, error)

	// FindOrCreateEventRoom is idempotent by event id.
	FindOrCreateEventRoom(ctx context.Context, eventID string, memberIDs []string, createdBy string) (*models.Room, bool, error)

	// UpsertBroadcastRoom is idempotent by owner: a repeat call replaces
	// the name and membership of the owner's existing broadcast room.
	UpsertBroadcastRoom(ctx context.Context, ownerID, name string, memberIDs []string) (*models.Room, error)

	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	GetUserRooms(ctx context.Context, userID string) ([]models.Room, error)

	// AddRoomMembers adds new members and reactivates ones that had left,
	// then returns the reloaded room. Only the owner may change the
	// membership of a broadcast room; anyone else gets
	// models.ErrNotBroadcastOwner.
	AddRoomMembers(ctx context.Context, roomID, actorID string, userIDs []string) (*models.Room, error)

	// RemoveRoomMember soft-removes a member. Removing an already-removed
	// member returns models.ErrAlreadyInState.
	RemoveRoomMember(ctx context.Context, roomID, userID string) error

	// ClearRoomHistory hides every message currently in the room from
	// userID and flags the member as history-cleared. The wipe lasts
	// until the next message: new activity restores the full history.
	ClearRoomHistory(ctx context.Context, roomID, userID string) error

	SoftDeleteRoom(ctx context.Context, roomID, actorID string) error

	// RoomUnreadCounts returns the unread count per active member.
	RoomUnreadCounts(ctx context.Context, roomID string) (map[string]int, error)
}

// MessageStore owns the message ledger: creation, edit, soft delete,
// reactions and read receipts. Unread counts are derived from receipts,
// there is no stored counter.
type MessageStore interface {
	// SaveMessage validates membership (and broadcast ownership) inside
	// the same transaction as the insert, records the sender's implicit
	// read receipt, and undoes any personal history wipe in the room so
	// old messages are visible again.
	SaveMessage(ctx context.Context, msg *models.Message) error

	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	GetRoomMessages(ctx context.Context, roomID, viewerID string, limit, offset int) ([]models.Message, error)
	LastVisibleMessage(ctx context.Context, roomID, viewerID string) (*models.Message, error)

	// UpdateMessage applies a sender-only edit. A non-nil mediaRef is
	// re-classified the same way an initial post is.
	UpdateMessage(ctx context.Context, messageID, editorID string, body, mediaRef *string) (*models.Message, error)

	SoftDeleteMessage(ctx context.Context, messageID, actorID string) error

	// SetReaction upserts the user's reaction, replacing any earlier one.
	SetReaction(ctx context.Context, messageID, userID, reaction string) (*models.Message, error)

	// MarkRoomRead appends a receipt for every visible unread message in
	// the room. Idempotent; existing receipts are never rewritten. The
	// int is the number of messages newly marked.
	MarkRoomRead(ctx context.Context, roomID, userID string, at time.Time) (int, error)

	UnreadCount(ctx context.Context, roomID, userID string) (int, error)
	UnreadCountAll(ctx context.Context, userID string) (map[string]int, int, error)
}

// LikeStore reads the like rows owned by the feed service. The fan-out
// engine uses it for the one bulk lookup per audience batch.
type LikeStore interface {
	// LikedBy reports, for one object, which of the given users have
	// liked it. One query, not one per user.
	LikedBy(ctx context.Context, objectID string, userIDs []string) (map[string]bool, error)
}

type Store interface {
	RoomStore
	MessageStore
	LikeStore
}
