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

	"github.com/gathrhq/chat/backend/fanout"
	"github.com/gathrhq/chat/backend/models"
)

// FanoutHandler takes internal feed-change hooks from the rest of the
// platform and turns them into personalized pushes. These routes sit
// behind the service mesh, not the public gateway.
type FanoutHandler struct {
	engine *fanout.Engine
}

func NewFanoutHandler(engine *fanout.Engine) *FanoutHandler {
	return &FanoutHandler{engine: engine}
}

type feedHook struct {
	ObjectID string          `json:"object_id"`
	OwnerID  string          `json:"owner_id"`
	Public   bool            `json:"public"`
	Network  []string        `json:"network"`
	Payload  json.RawMessage `json:"payload"`
}

// audience returns the candidate recipients: nil for public objects,
// which the engine reads as every connected user.
func (h feedHook) audience() []string {
	if h.Public {
		return nil
	}
	return append(h.Network, h.OwnerID)
}

// FeedUpdated pushes a changed post to its audience, each recipient
// seeing their own like flag on it.
func (h *FanoutHandler) FeedUpdated(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, models.EventFeedUpdated)
}

// FeedCommentUpdated does the same for comment changes.
func (h *FanoutHandler) FeedCommentUpdated(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, models.EventFeedCommentUpdated)
}

func (h *FanoutHandler) dispatch(w http.ResponseWriter, r *http.Request, event string) {
	var hook feedHook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil || hook.ObjectID == "" {
		http.Error(w, "object_id required", http.StatusBadRequest)
		return
	}

	payload := hook.Payload
	h.engine.Personalized(r.Context(), hook.ObjectID, event, hook.audience(), func(userID string, liked bool) any {
		return map[string]any{
			"post":    payload,
			"is_like": liked,
		}
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "dispatched"})
}
