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

package handlers

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/gathrhq/chat/backend/chat"
)

type RoomHandler struct {
	svc *chat.Service
}

func NewRoomHandler(svc *chat.Service) *RoomHandler {
	return &RoomHandler{svc: svc}
}

// CreateDM finds or creates the personal room with one peer. Repeat
// calls with the same peer return the same room.
func (h *RoomHandler) CreateDM(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)

	var req struct {
		PeerID string `json:"peer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PeerID == "" {
		http.Error(w, "peer_id required", http.StatusBadRequest)
		return
	}

	room, created, err := h.svc.FindOrCreatePersonal(r.Context(), userID, req.PeerID)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, room)
}

func (h *RoomHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)

	var req struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	room, created, err := h.svc.CreateGroup(r.Context(), userID, req.Name, req.Members)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, room)
}

func (h *RoomHandler) CreateEventRoom(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)

	var req struct {
		EventID string   `json:"event_id"`
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EventID == "" {
		http.Error(w, "event_id required", http.StatusBadRequest)
		return
	}

	room, created, err := h.svc.CreateEventRoom(r.Context(), userID, req.EventID, req.Members)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, room)
}

// CreateBroadcast creates or replaces the caller's broadcast room.
func (h *RoomHandler) CreateBroadcast(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)

	var req struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	room, err := h.svc.CreateOrUpdateBroadcast(r.Context(), userID, req.Name, req.Members)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// ListRooms returns the caller's rooms with unread counts and previews.
func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)

	views, err := h.svc.UserRooms(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": views})
}

func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)
	roomID := mux.Vars(r)["roomId"]

	room, err := h.svc.GetRoom(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !room.HasMember(userID) && !room.HasLeft(userID) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)
	roomID := mux.Vars(r)["roomId"]

	var req struct {
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Members) == 0 {
		http.Error(w, "members required", http.StatusBadRequest)
		return
	}

	room, err := h.svc.Join(r.Context(), roomID, userID, req.Members)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)
	roomID := mux.Vars(r)["roomId"]

	if err := h.svc.Leave(r.Context(), roomID, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// ClearHistory hides the room's current messages for the caller only.
func (h *RoomHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)
	roomID := mux.Vars(r)["roomId"]

	if err := h.svc.ClearHistory(r.Context(), roomID, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *RoomHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)
	roomID := mux.Vars(r)["roomId"]

	if err := h.svc.DeleteRoom(r.Context(), roomID, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
