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

package fanout

import (
	"context"
	"testing"

	"github.com/goccy/go-json"

	"github.com/gathrhq/chat/backend/models"
	"github.com/gathrhq/chat/backend/presence"
	"github.com/gathrhq/chat/backend/storage/memory"
)

type capture struct {
	got    [][]byte
	reject bool
}

func (c *capture) Send(data []byte) bool {
	if c.reject {
		return false
	}
	c.got = append(c.got, data)
	return true
}

func (c *capture) last(t *testing.T) models.Event {
	t.Helper()
	if len(c.got) == 0 {
		t.Fatalf("no events captured")
	}
	var ev models.Event
	if err := json.Unmarshal(c.got[len(c.got)-1], &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func newTestEngine(t *testing.T) (*Engine, *memory.Store, *presence.Registry) {
	t.Helper()
	store := memory.NewStore()
	reg := presence.NewRegistry()
	return NewEngine(store, reg, nil, nil), store, reg
}

// TestRoomEventAudience checks that room events reach every connected
// member and nobody else.
func TestRoomEventAudience(t *testing.T) {
	engine, store, reg := newTestEngine(t)
	ctx := context.Background()

	room, _, err := store.FindOrCreateGroupRoom(ctx, "trip", []string{"alice", "bob", "carol"}, "alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	alice := &capture{}
	bob := &capture{}
	stranger := &capture{}
	reg.Register("alice", alice)
	reg.Register("bob", bob)
	reg.Register("dave", stranger)

	engine.RoomEvent(ctx, room.ID, models.EventRoomUpdated, map[string]string{"x": "y"}, false)

	if len(alice.got) != 1 || len(bob.got) != 1 {
		t.Fatalf("members should each get one event: alice=%d bob=%d", len(alice.got), len(bob.got))
	}
	if len(stranger.got) != 0 {
		t.Fatalf("non-member must not receive room events")
	}
	if ev := alice.last(t); ev.Type != models.EventRoomUpdated {
		t.Fatalf("wrong event type %q", ev.Type)
	}
}

// TestRoomEventIncludesRemoved covers the removal announcement path
// where former members still need to hear about the change.
func TestRoomEventIncludesRemoved(t *testing.T) {
	engine, store, reg := newTestEngine(t)
	ctx := context.Background()

	room, _, _ := store.FindOrCreateGroupRoom(ctx, "club", []string{"alice", "bob"}, "alice")
	if err := store.RemoveRoomMember(ctx, room.ID, "bob"); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	bob := &capture{}
	reg.Register("bob", bob)

	engine.RoomEvent(ctx, room.ID, models.EventRoomUpdated, nil, false)
	if len(bob.got) != 0 {
		t.Fatalf("removed member excluded by default")
	}

	engine.RoomEvent(ctx, room.ID, models.EventRoomUpdated, nil, true)
	if len(bob.got) != 1 {
		t.Fatalf("includeRemoved should reach the removed member")
	}
}

// TestPersonalizedLikeIsolation is the core personalization contract: a
// recipient's payload carries their own like flag and never leaks
// another user's.
func TestPersonalizedLikeIsolation(t *testing.T) {
	engine, store, reg := newTestEngine(t)
	ctx := context.Background()

	store.AddLike("post-1", "alice")

	alice := &capture{}
	bob := &capture{}
	reg.Register("alice", alice)
	reg.Register("bob", bob)

	engine.Personalized(ctx, "post-1", models.EventFeedUpdated, []string{"alice", "bob", "offline"}, func(userID string, liked bool) any {
		return map[string]any{"user": userID, "is_like": liked}
	})

	var aliceView, bobView struct {
		User   string `json:"user"`
		IsLike bool   `json:"is_like"`
	}
	if err := json.Unmarshal(alice.last(t).Data, &aliceView); err != nil {
		t.Fatalf("alice payload: %v", err)
	}
	if err := json.Unmarshal(bob.last(t).Data, &bobView); err != nil {
		t.Fatalf("bob payload: %v", err)
	}

	if aliceView.User != "alice" || !aliceView.IsLike {
		t.Fatalf("alice should see her own like, got %+v", aliceView)
	}
	if bobView.User != "bob" || bobView.IsLike {
		t.Fatalf("bob must not inherit alice's like, got %+v", bobView)
	}
}

// TestPersonalizedBatching drives the audience through one-recipient
// batches and confirms everyone is still served exactly once.
func TestPersonalizedBatching(t *testing.T) {
	engine, store, reg := newTestEngine(t)
	engine.SetBatchSize(1)
	ctx := context.Background()

	store.AddLike("post-2", "bob")

	sessions := map[string]*capture{}
	for _, uid := range []string{"alice", "bob", "carol"} {
		s := &capture{}
		sessions[uid] = s
		reg.Register(uid, s)
	}

	// nil candidates means every connected user
	engine.Personalized(ctx, "post-2", models.EventFeedUpdated, nil, func(userID string, liked bool) any {
		return map[string]any{"is_like": liked}
	})

	for uid, s := range sessions {
		if len(s.got) != 1 {
			t.Fatalf("%s got %d events, want 1", uid, len(s.got))
		}
	}
	var bobView struct {
		IsLike bool `json:"is_like"`
	}
	json.Unmarshal(sessions["bob"].last(t).Data, &bobView)
	if !bobView.IsLike {
		t.Fatalf("bob's like lost across batches")
	}
}

// TestSendFailureIsolation: one device with a full buffer must not cost
// anyone else their delivery.
func TestSendFailureIsolation(t *testing.T) {
	engine, store, reg := newTestEngine(t)
	ctx := context.Background()

	room, _, _ := store.FindOrCreateGroupRoom(ctx, "g", []string{"alice", "bob"}, "alice")

	stuck := &capture{reject: true}
	phone := &capture{}
	bob := &capture{}
	reg.Register("alice", stuck)
	reg.Register("alice", phone)
	reg.Register("bob", bob)

	engine.RoomEvent(ctx, room.ID, models.EventMessageCreated, nil, false)

	if len(phone.got) != 1 {
		t.Fatalf("healthy session of same user should still receive")
	}
	if len(bob.got) != 1 {
		t.Fatalf("other members should still receive")
	}
}

type fakeNotifier struct {
	jobs []models.NotificationJob
}

func (f *fakeNotifier) Enqueue(ctx context.Context, job models.NotificationJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

// TestNotifyOfflineSkipsSenderAndConnected verifies the offline handoff
// targets exactly the members without a live session, minus the sender.
func TestNotifyOfflineSkipsSenderAndConnected(t *testing.T) {
	store := memory.NewStore()
	reg := presence.NewRegistry()
	notifier := &fakeNotifier{}
	engine := NewEngine(store, reg, notifier, nil)
	ctx := context.Background()

	room, _, _ := store.FindOrCreateGroupRoom(ctx, "g", []string{"alice", "bob", "carol"}, "alice")
	reg.Register("bob", &capture{})

	engine.NotifyOffline(ctx, room, models.NotificationJob{
		RoomID:   room.ID,
		SenderID: "alice",
		Preview:  "hi",
	})

	if len(notifier.jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(notifier.jobs))
	}
	if notifier.jobs[0].UserID != "carol" {
		t.Fatalf("job should target the offline member, got %q", notifier.jobs[0].UserID)
	}
}
