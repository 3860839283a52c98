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
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/gathrhq/chat/backend/metrics"
	"github.com/gathrhq/chat/backend/models"
	"github.com/gathrhq/chat/backend/presence"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed between reads; heartbeats and pongs extend it
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max inbound message size
	maxMessageSize = 64 * 1024
)

// TokenVerifier resolves an identify token to a user id.
type TokenVerifier func(token string) (string, error)

// ControlPlane is what a connection needs from the chat service:
// membership checks before channel joins, and the typing relay.
type ControlPlane interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	Typing(roomID, userID string, typing bool)
}

// Client is one websocket connection. It starts unidentified; the
// identify control event binds it to a user and registers it for
// fan-out.
type Client struct {
	reg    *presence.Registry
	verify TokenVerifier
	chat   ControlPlane
	conn   *websocket.Conn
	send   chan []byte
	log    *slog.Logger

	userID    string
	closeOnce sync.Once
}

// Send enqueues a payload without blocking. A full buffer reports false
// and the event is dropped; the client catches up on its next fetch.
func (c *Client) Send(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump owns the connection's inbound side. Its deferred teardown is
// the single cleanup path for every kind of disconnect: explicit close,
// network drop, or a missed liveness deadline all end up here, and the
// registry entry is gone before the goroutine exits.
func (c *Client) readPump() {
	defer func() {
		c.reg.Unregister(c)
		metrics.OpenConnections.Dec()
		metrics.ConnectedUsers.Set(float64(c.reg.NumUsers()))
		c.closeSend()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("unexpected close", "user", c.userID, "error", err)
			}
			return
		}
		c.handleEvent(message)
	}
}

// writePump owns the connection's outbound side and the protocol-level
// ping that backs liveness detection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleEvent(message []byte) {
	var ev models.Event
	if err := json.Unmarshal(message, &ev); err != nil {
		c.sendError("malformed event")
		return
	}

	switch ev.Type {
	case models.EventIdentify:
		// One identity per connection. Allowing a switch here would
		// leave the registry bound to the first user while everything
		// else acts as the second.
		if c.userID != "" {
			c.sendError("already identified")
			return
		}
		var p struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.Token == "" {
			c.sendError("identify requires a token")
			return
		}
		userID, err := c.verify(p.Token)
		if err != nil {
			c.log.Warn("identify rejected", "error", err)
			c.sendError("invalid token")
			return
		}
		c.userID = userID
		c.reg.Register(userID, c)
		metrics.ConnectedUsers.Set(float64(c.reg.NumUsers()))
		c.reply(models.EventIdentified, map[string]string{"user_id": userID})

	case models.EventJoin:
		roomID, ok := c.roomArg(ev.Data)
		if !ok {
			return
		}
		member, err := c.chat.IsMember(context.Background(), roomID, c.userID)
		if err != nil || !member {
			c.sendError("not a member of that room")
			return
		}
		c.reg.JoinChannel(c.userID, roomID)

	case models.EventLeave:
		roomID, ok := c.roomArg(ev.Data)
		if !ok {
			return
		}
		c.reg.LeaveChannel(c.userID, roomID)

	case models.EventTyping:
		var p struct {
			RoomID string `json:"room_id"`
			Typing bool   `json:"typing"`
		}
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.RoomID == "" || c.userID == "" {
			return
		}
		c.chat.Typing(p.RoomID, c.userID, p.Typing)

	case models.EventHeartbeat:
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.reply(models.EventHeartbeat, nil)

	default:
		c.log.Warn("unknown event type", "type", ev.Type, "user", c.userID)
	}
}

// roomArg extracts the room id shared by join/leave and enforces that
// the connection has identified first.
func (c *Client) roomArg(data json.RawMessage) (string, bool) {
	if c.userID == "" {
		c.sendError("identify first")
		return "", false
	}
	var p struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		c.sendError("room_id required")
		return "", false
	}
	return p.RoomID, true
}

func (c *Client) reply(event string, payload any) {
	data, err := models.Envelope(event, payload)
	if err != nil {
		return
	}
	c.Send(data)
}

func (c *Client) sendError(msg string) {
	c.reply(models.EventError, map[string]string{"message": msg})
}
