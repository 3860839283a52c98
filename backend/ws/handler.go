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

// Package ws is the websocket transport. It upgrades connections,
// registers identified sessions with the presence registry and feeds
// inbound control events to the chat service.
package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/gathrhq/chat/backend/metrics"
	"github.com/gathrhq/chat/backend/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin is handled at the API gateway; the app itself serves
	// native and web clients alike.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	reg    *presence.Registry
	verify TokenVerifier
	chat   ControlPlane
	log    *slog.Logger
}

func NewHandler(reg *presence.Registry, verify TokenVerifier, chat ControlPlane, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{reg: reg, verify: verify, chat: chat, log: log}
}

// ServeWS upgrades the request and hands the connection its two pumps.
// The connection is anonymous until it sends identify.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		reg:    h.reg,
		verify: h.verify,
		chat:   h.chat,
		conn:   conn,
		send:   make(chan []byte, 256),
		log:    h.log,
	}
	metrics.OpenConnections.Inc()

	go client.writePump()
	go client.readPump()
}
