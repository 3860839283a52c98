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

// Package handlers exposes the chat service over HTTP.
package handlers

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/gathrhq/chat/backend/models"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps the storage layer's sentinel errors onto HTTP
// statuses. Anything unrecognized is a 500 with a generic body so
// internals never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, models.ErrNotAMember), errors.Is(err, models.ErrNotBroadcastOwner):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, models.ErrPersonalRoomMembers), errors.Is(err, models.ErrAlreadyInState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrEmptyMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
