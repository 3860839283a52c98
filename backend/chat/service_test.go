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

package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/gathrhq/chat/backend/fanout"
	"github.com/gathrhq/chat/backend/models"
	"github.com/gathrhq/chat/backend/presence"
	"github.com/gathrhq/chat/backend/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	reg := presence.NewRegistry()
	engine := fanout.NewEngine(store, reg, nil, nil)
	return NewService(store, engine, nil), store
}

// TestPersonalRoomDedup: one personal room per pair, regardless of who
// initiates or in which order the pair is given.
func TestPersonalRoomDedup(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.FindOrCreatePersonal(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !created {
		t.Fatalf("first call should create")
	}

	second, created, err := svc.FindOrCreatePersonal(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatalf("swapped pair must reuse the room")
	}
	if first.ID != second.ID {
		t.Fatalf("expected same room, got %s and %s", first.ID, second.ID)
	}
}

func TestPersonalRoomRejectsSelf(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.FindOrCreatePersonal(context.Background(), "alice", "alice")
	if !errors.Is(err, models.ErrPersonalRoomMembers) {
		t.Fatalf("expected ErrPersonalRoomMembers, got %v", err)
	}
}

// TestEventRoomIdempotent: the second caller for the same event gets the
// existing room back.
func TestEventRoomIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.CreateEventRoom(ctx, "alice", "event-9", []string{"bob"})
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	second, created, err := svc.CreateEventRoom(ctx, "carol", "event-9", []string{"dave"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("event room must be one per event")
	}
}

// TestBroadcastUpsertReplaces: a creator's second broadcast setup
// replaces the audience instead of spawning another room.
func TestBroadcastUpsertReplaces(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateOrUpdateBroadcast(ctx, "owner", "news", []string{"a", "b"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := svc.CreateOrUpdateBroadcast(ctx, "owner", "announcements", []string{"c"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected one broadcast room per owner")
	}
	if second.Name != "announcements" {
		t.Fatalf("name not replaced: %q", second.Name)
	}
	if second.HasMember("a") || !second.HasMember("c") || !second.HasMember("owner") {
		t.Fatalf("member list not replaced: %v", second.Members)
	}
}

// TestLeaveAndRejoin walks a member out of a group and back in.
func TestLeaveAndRejoin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	room, _, err := svc.CreateGroup(ctx, "alice", "hike", []string{"bob"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Leave(ctx, room.ID, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	got, _ := svc.GetRoom(ctx, room.ID)
	if got.HasMember("bob") || !got.HasLeft("bob") {
		t.Fatalf("bob should be in deleted_users: %+v", got)
	}

	if err := svc.Leave(ctx, room.ID, "bob"); !errors.Is(err, models.ErrAlreadyInState) {
		t.Fatalf("second leave should conflict, got %v", err)
	}

	if _, err := svc.Join(ctx, room.ID, "bob", []string{"bob"}); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	got, _ = svc.GetRoom(ctx, room.ID)
	if !got.HasMember("bob") || got.HasLeft("bob") {
		t.Fatalf("rejoin should restore membership: %+v", got)
	}
}

func TestJoinPersonalRoomRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	room, _, _ := svc.FindOrCreatePersonal(ctx, "alice", "bob")
	if _, err := svc.Join(ctx, room.ID, "alice", []string{"carol"}); !errors.Is(err, models.ErrPersonalRoomMembers) {
		t.Fatalf("personal rooms must not grow, got %v", err)
	}
}

// TestBroadcastJoinOwnerOnly: only the owner curates a broadcast
// member list, so a member add by anyone else is rejected outright.
func TestBroadcastJoinOwnerOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	room, err := svc.CreateOrUpdateBroadcast(ctx, "owner", "news", []string{"fan"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Join(ctx, room.ID, "mallory", []string{"mallory"}); !errors.Is(err, models.ErrNotBroadcastOwner) {
		t.Fatalf("non-owner join should be rejected, got %v", err)
	}
	got, _ := svc.GetRoom(ctx, room.ID)
	if got.HasMember("mallory") {
		t.Fatalf("membership changed by non-owner: %v", got.Members)
	}

	if _, err := svc.Join(ctx, room.ID, "owner", []string{"mallory"}); err != nil {
		t.Fatalf("owner add: %v", err)
	}
	got, _ = svc.GetRoom(ctx, room.ID)
	if !got.HasMember("mallory") {
		t.Fatalf("owner add should stick: %v", got.Members)
	}
}

// TestDeleteRoom soft-deletes and makes the room unfetchable.
func TestDeleteRoom(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	room, _, _ := svc.CreateGroup(ctx, "alice", "temp", []string{"bob"})
	if err := svc.DeleteRoom(ctx, room.ID, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetRoom(ctx, room.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("deleted room should read as not found, got %v", err)
	}
}

// TestUserRoomsViews checks the room list carries unread counts and the
// last-message preview.
func TestUserRoomsViews(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	room, _, _ := svc.CreateGroup(ctx, "alice", "g", []string{"bob"})
	body := "hello"
	if _, err := svc.Post(ctx, room.ID, "alice", PostInput{Body: &body}); err != nil {
		t.Fatalf("post: %v", err)
	}

	views, err := svc.UserRooms(ctx, "bob")
	if err != nil {
		t.Fatalf("user rooms: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 room, got %d", len(views))
	}
	v := views[0]
	if v.Unread["bob"] != 1 || v.Unread["alice"] != 0 {
		t.Fatalf("unread counts wrong: %v", v.Unread)
	}
	if v.LastMessage == nil || v.LastMessage.Body == nil || *v.LastMessage.Body != "hello" {
		t.Fatalf("last message preview missing")
	}
}
