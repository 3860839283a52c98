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
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/gathrhq/chat/backend/chat"
	"github.com/gathrhq/chat/backend/fanout"
	"github.com/gathrhq/chat/backend/presence"
	"github.com/gathrhq/chat/backend/storage/memory"
)

// testAuth stands in for the JWT middleware: the user comes from a
// header instead of a token.
func testAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), "user_id", r.Header.Get("X-User"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	store := memory.NewStore()
	engine := fanout.NewEngine(store, presence.NewRegistry(), nil, nil)
	svc := chat.NewService(store, engine, nil)

	roomHandler := NewRoomHandler(svc)
	messageHandler := NewMessageHandler(svc)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/chat").Subrouter()
	api.Use(testAuth)
	api.HandleFunc("/dm", roomHandler.CreateDM).Methods("POST")
	api.HandleFunc("/group", roomHandler.CreateGroup).Methods("POST")
	api.HandleFunc("/rooms", roomHandler.ListRooms).Methods("GET")
	api.HandleFunc("/room/{roomId}/leave", roomHandler.LeaveRoom).Methods("POST")
	api.HandleFunc("/room/{roomId}/message", messageHandler.SendMessage).Methods("POST")
	api.HandleFunc("/room/{roomId}/messages", messageHandler.ListMessages).Methods("GET")
	api.HandleFunc("/room/{roomId}/read", messageHandler.MarkRead).Methods("POST")
	api.HandleFunc("/unread", messageHandler.UnreadCounts).Methods("GET")
	return r
}

func do(t *testing.T, router *mux.Router, method, url, user string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("X-User", user)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var out map[string]any
	json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

// TestCreateDMStatus: first contact creates (201), repeat finds (200).
func TestCreateDMStatus(t *testing.T) {
	router := newTestRouter(t)

	rec, first := do(t, router, "POST", "/api/chat/dm", "alice", map[string]string{"peer_id": "bob"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first contact should 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec, second := do(t, router, "POST", "/api/chat/dm", "bob", map[string]string{"peer_id": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat should 200, got %d", rec.Code)
	}
	if first["id"] != second["id"] {
		t.Fatalf("expected same room, got %v and %v", first["id"], second["id"])
	}
}

func TestCreateDMSelfConflict(t *testing.T) {
	router := newTestRouter(t)

	rec, _ := do(t, router, "POST", "/api/chat/dm", "alice", map[string]string{"peer_id": "alice"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("self DM should 409, got %d", rec.Code)
	}
}

// TestMessageFlow runs a group through post, list, read and unread over
// HTTP, including the error statuses on the way.
func TestMessageFlow(t *testing.T) {
	router := newTestRouter(t)

	rec, room := do(t, router, "POST", "/api/chat/group", "alice", map[string]any{
		"name":    "trip",
		"members": []string{"bob"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create group: %d", rec.Code)
	}
	roomID := room["id"].(string)

	rec, _ = do(t, router, "POST", "/api/chat/room/"+roomID+"/message", "alice", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty message should 400, got %d", rec.Code)
	}

	rec, _ = do(t, router, "POST", "/api/chat/room/"+roomID+"/message", "mallory", map[string]string{"body": "hi"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider post should 403, got %d", rec.Code)
	}

	rec, _ = do(t, router, "POST", "/api/chat/room/unknown/message", "alice", map[string]string{"body": "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown room should 404, got %d", rec.Code)
	}

	rec, _ = do(t, router, "POST", "/api/chat/room/"+roomID+"/message", "alice", map[string]string{"body": "hello"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("post should 201, got %d", rec.Code)
	}

	rec, out := do(t, router, "GET", "/api/chat/room/"+roomID+"/messages", "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	if msgs := out["messages"].([]any); len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	rec, _ = do(t, router, "GET", "/api/chat/room/"+roomID+"/messages", "mallory", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider list should 403, got %d", rec.Code)
	}

	rec, out = do(t, router, "GET", "/api/chat/unread", "bob", nil)
	if rec.Code != http.StatusOK || out["total"].(float64) != 1 {
		t.Fatalf("unread before read: %d %v", rec.Code, out)
	}

	rec, out = do(t, router, "POST", "/api/chat/room/"+roomID+"/read", "bob", nil)
	if rec.Code != http.StatusOK || out["marked"].(float64) != 1 {
		t.Fatalf("mark read: %d %v", rec.Code, out)
	}

	rec, out = do(t, router, "GET", "/api/chat/unread", "bob", nil)
	if out["total"].(float64) != 0 {
		t.Fatalf("unread after read: %v", out)
	}
}

// TestLeaveTwiceConflicts maps the repeated-leave edge onto 409.
func TestLeaveTwiceConflicts(t *testing.T) {
	router := newTestRouter(t)

	_, room := do(t, router, "POST", "/api/chat/group", "alice", map[string]any{
		"name":    "g",
		"members": []string{"bob"},
	})
	roomID := room["id"].(string)

	rec, _ := do(t, router, "POST", "/api/chat/room/"+roomID+"/leave", "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("leave: %d", rec.Code)
	}
	rec, _ = do(t, router, "POST", "/api/chat/room/"+roomID+"/leave", "bob", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second leave should 409, got %d", rec.Code)
	}
}
