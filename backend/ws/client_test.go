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

package ws

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/goccy/go-json"

	"github.com/gathrhq/chat/backend/models"
	"github.com/gathrhq/chat/backend/presence"
)

type fakeControl struct {
	members map[string]bool
	typing  []string
}

func (f *fakeControl) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return f.members[roomID+"/"+userID], nil
}

func (f *fakeControl) Typing(roomID, userID string, typing bool) {
	f.typing = append(f.typing, roomID+"/"+userID)
}

func newTestClient(control *fakeControl) (*Client, *presence.Registry) {
	reg := presence.NewRegistry()
	c := &Client{
		reg: reg,
		verify: func(token string) (string, error) {
			users := map[string]string{"good": "alice", "good-bob": "bob"}
			if users[token] == "" {
				return "", fmt.Errorf("bad token")
			}
			return users[token], nil
		},
		chat: control,
		send: make(chan []byte, 16),
		log:  slog.Default(),
	}
	return c, reg
}

func event(t *testing.T, eventType string, payload any) []byte {
	t.Helper()
	data, err := models.Envelope(eventType, payload)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return data
}

func lastReply(t *testing.T, c *Client) models.Event {
	t.Helper()
	select {
	case data := <-c.send:
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal reply: %v", err)
		}
		return ev
	default:
		t.Fatalf("no reply queued")
		return models.Event{}
	}
}

// TestIdentifyRegistersSession: a valid token binds the connection to
// its user and acks with identified.
func TestIdentifyRegistersSession(t *testing.T) {
	c, reg := newTestClient(&fakeControl{})

	c.handleEvent(event(t, models.EventIdentify, map[string]string{"token": "good"}))

	if !reg.IsConnected("alice") {
		t.Fatalf("identify should register the session")
	}
	if ev := lastReply(t, c); ev.Type != models.EventIdentified {
		t.Fatalf("expected identified ack, got %q", ev.Type)
	}
}

func TestIdentifyRejectsBadToken(t *testing.T) {
	c, reg := newTestClient(&fakeControl{})

	c.handleEvent(event(t, models.EventIdentify, map[string]string{"token": "forged"}))

	if reg.NumSessions() != 0 {
		t.Fatalf("bad token must not register")
	}
	if ev := lastReply(t, c); ev.Type != models.EventError {
		t.Fatalf("expected error reply, got %q", ev.Type)
	}
}

// TestIdentifyIsFinal: a connection keeps its first identity. A later
// identify, even with a valid token for another user, is rejected so
// the registry binding and the acting user can never diverge.
func TestIdentifyIsFinal(t *testing.T) {
	c, reg := newTestClient(&fakeControl{})

	c.handleEvent(event(t, models.EventIdentify, map[string]string{"token": "good"}))
	lastReply(t, c) // drain the ack

	c.handleEvent(event(t, models.EventIdentify, map[string]string{"token": "good-bob"}))
	if ev := lastReply(t, c); ev.Type != models.EventError {
		t.Fatalf("re-identify should error, got %q", ev.Type)
	}
	if c.userID != "alice" {
		t.Fatalf("connection switched identity to %q", c.userID)
	}
	if !reg.IsConnected("alice") || reg.IsConnected("bob") {
		t.Fatalf("registry binding changed on re-identify")
	}
}

// TestJoinRequiresIdentityAndMembership covers the two join guards.
func TestJoinRequiresIdentityAndMembership(t *testing.T) {
	control := &fakeControl{members: map[string]bool{"room-1/alice": true}}
	c, reg := newTestClient(control)

	c.handleEvent(event(t, models.EventJoin, map[string]string{"room_id": "room-1"}))
	if ev := lastReply(t, c); ev.Type != models.EventError {
		t.Fatalf("unidentified join should error, got %q", ev.Type)
	}

	c.handleEvent(event(t, models.EventIdentify, map[string]string{"token": "good"}))
	lastReply(t, c) // drain the ack

	c.handleEvent(event(t, models.EventJoin, map[string]string{"room_id": "room-2"}))
	if ev := lastReply(t, c); ev.Type != models.EventError {
		t.Fatalf("non-member join should error, got %q", ev.Type)
	}
	if n := len(reg.SessionsInChannel("room-2")); n != 0 {
		t.Fatalf("rejected join must not land in the channel")
	}

	c.handleEvent(event(t, models.EventJoin, map[string]string{"room_id": "room-1"}))
	if n := len(reg.SessionsInChannel("room-1")); n != 1 {
		t.Fatalf("member join should land in the channel, got %d", n)
	}

	c.handleEvent(event(t, models.EventLeave, map[string]string{"room_id": "room-1"}))
	if n := len(reg.SessionsInChannel("room-1")); n != 0 {
		t.Fatalf("leave should empty the channel, got %d", n)
	}
}

// TestTypingRelaysOnlyWhenIdentified: typing passes through to the
// service and is silently dropped before identify.
func TestTypingRelaysOnlyWhenIdentified(t *testing.T) {
	control := &fakeControl{}
	c, _ := newTestClient(control)

	c.handleEvent(event(t, models.EventTyping, map[string]any{"room_id": "room-1", "typing": true}))
	if len(control.typing) != 0 {
		t.Fatalf("anonymous typing must be dropped")
	}

	c.handleEvent(event(t, models.EventIdentify, map[string]string{"token": "good"}))
	c.handleEvent(event(t, models.EventTyping, map[string]any{"room_id": "room-1", "typing": true}))
	if len(control.typing) != 1 || control.typing[0] != "room-1/alice" {
		t.Fatalf("typing not relayed: %v", control.typing)
	}
}

// TestSendDropsWhenFull: a saturated buffer reports failure instead of
// blocking the fan-out path.
func TestSendDropsWhenFull(t *testing.T) {
	c := &Client{send: make(chan []byte, 1)}

	if !c.Send([]byte("one")) {
		t.Fatalf("first send should fit")
	}
	if c.Send([]byte("two")) {
		t.Fatalf("full buffer should report failure")
	}
}

func TestMalformedEventGetsError(t *testing.T) {
	c, _ := newTestClient(&fakeControl{})

	c.handleEvent([]byte("{not json"))
	if ev := lastReply(t, c); ev.Type != models.EventError {
		t.Fatalf("expected error reply, got %q", ev.Type)
	}
}
