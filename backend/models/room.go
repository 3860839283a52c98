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
	"sort"
	"strings"
	"time"
)

// RoomKind distinguishes the three conversation types.
type RoomKind string

const (
	RoomPersonal  RoomKind = "personal"
	RoomGroup     RoomKind = "group"
	RoomBroadcast RoomKind = "broadcast"
)

// Room is a conversation between two or more users.
//
// Members who left are kept in DeletedUsers so the room survives and the
// member can rejoin; HistoryClearedBy tracks members who wiped their own
// view of the history without affecting anyone else.
type Room struct {
	ID               string    `json:"id"`
	Kind             RoomKind  `json:"kind"`
	Name             string    `json:"name,omitempty"`
	Image            string    `json:"image,omitempty"`
	EventID          *string   `json:"event_id,omitempty"`
	OwnerID          *string   `json:"owner_id,omitempty"`
	Members          []string  `json:"members"`
	DeletedUsers     []string  `json:"deleted_users,omitempty"`
	HistoryClearedBy []string  `json:"history_cleared_by,omitempty"`
	IsDeleted        bool      `json:"is_deleted"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasMember reports whether userID is an active member of the room.
func (r *Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// HasLeft reports whether userID previously left (or was removed from)
// the room.
func (r *Room) HasLeft(userID string) bool {
	for _, m := range r.DeletedUsers {
		if m == userID {
			return true
		}
	}
	return false
}

// IsBroadcastOwner reports whether userID owns this broadcast room.
func (r *Room) IsBroadcastOwner(userID string) bool {
	return r.Kind == RoomBroadcast && r.OwnerID != nil && *r.OwnerID == userID
}

// MemberKey builds the canonical, order-independent key for a member set.
// Duplicate ids are collapsed and the ids sorted before joining, so
// MemberKey(a, b) == MemberKey(b, a). Personal-room deduplication hangs a
// unique constraint off this key.
func MemberKey(ids []string) string {
	seen := make(map[string]bool, len(ids))
	uniq := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		uniq = append(uniq, id)
	}
	sort.Strings(uniq)
	return strings.Join(uniq, ":")
}
