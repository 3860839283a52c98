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
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/gathrhq/chat/backend/chat"
)

type MessageHandler struct {
	svc *chat.Service
}

func NewMessageHandler(svc *chat.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)
	roomID := mux.Vars(r)["roomId"]

	var req struct {
		Body       *string `json:"body"`
		MediaRef   *string `json:"media_ref"`
		SharedRef  *string `json:"shared_ref"`
		SharedKind string  `json:"shared_kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.svc.Post(r.Context(), roomID, userID, chat.PostInput{
		Body:       req.Body,
		MediaRef:   req.MediaRef,
		SharedRef:  req.SharedRef,
		SharedKind: req.SharedKind,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ListMessages pages newest-first. Messages the caller cleared or that
// were soft-deleted room-wide never appear.
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)
	roomID := mux.Vars(r)["roomId"]

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	member, err := h.svc.IsMember(r.Context(), roomID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !member {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	msgs, err := h.svc.Messages(r.Context(), roomID, userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)
	messageID := mux.Vars(r)["messageId"]

	var req struct {
		Body     *string `json:"body"`
		MediaRef *string `json:"media_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.svc.Edit(r.Context(), messageID, userID, req.Body, req.MediaRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)
	messageID := mux.Vars(r)["messageId"]

	if err := h.svc.Delete(r.Context(), messageID, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)
	messageID := mux.Vars(r)["messageId"]

	var req struct {
		Reaction string `json:"reaction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reaction == "" {
		http.Error(w, "reaction required", http.StatusBadRequest)
		return
	}

	msg, err := h.svc.React(r.Context(), messageID, userID, req.Reaction)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// MarkRead receipts everything visible and unread in the room for the
// caller and reports how many messages that covered.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)
	roomID := mux.Vars(r)["roomId"]

	marked, err := h.svc.MarkRead(r.Context(), roomID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

// UnreadCounts returns the caller's per-room unread counts plus the
// total, both derived from receipts at read time.
func (h *MessageHandler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)

	perRoom, total, err := h.svc.UnreadAll(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms": perRoom,
		"total": total,
	})
}
