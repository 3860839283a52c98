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

// Package presence tracks which users are connected right now and which
// logical channels each connection has joined. The registry is pure
// runtime state: nothing is persisted, and after a restart clients
// re-identify from scratch.
package presence

import "sync"

// Session is one live connection. Send must not block: implementations
// enqueue and report false when the connection cannot take the payload.
type Session interface {
	Send(payload []byte) bool
}

type sessionState struct {
	userID   string
	channels map[string]struct{}
}

// Registry maps users to their live sessions. A user connected from
// three devices has three sessions under one id; channel membership is
// per-user and applied to every session. All access goes through the
// one mutex - callers never touch the maps.
type Registry struct {
	mu       sync.RWMutex
	users    map[string]map[Session]struct{}
	channels map[string]map[Session]struct{}
	sessions map[Session]*sessionState
}

func NewRegistry() *Registry {
	return &Registry{
		users:    make(map[string]map[Session]struct{}),
		channels: make(map[string]map[Session]struct{}),
		sessions: make(map[Session]*sessionState),
	}
}

// Register binds a session to a user id. Registering the same session
// twice is a no-op.
func (r *Registry) Register(userID string, s Session) {
	if userID == "" || s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s]; ok {
		return
	}
	if r.users[userID] == nil {
		r.users[userID] = make(map[Session]struct{})
	}
	r.users[userID][s] = struct{}{}
	r.sessions[s] = &sessionState{userID: userID, channels: make(map[string]struct{})}
}

// Unregister removes a session from its user and from every channel it
// had joined, dropping the user entry once their last session is gone.
// Unknown sessions are a no-op: disconnect handlers may fire more than
// once and must stay harmless.
func (r *Registry) Unregister(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[s]
	if !ok {
		return
	}
	for ch := range st.channels {
		delete(r.channels[ch], s)
		if len(r.channels[ch]) == 0 {
			delete(r.channels, ch)
		}
	}
	delete(r.users[st.userID], s)
	if len(r.users[st.userID]) == 0 {
		delete(r.users, st.userID)
	}
	delete(r.sessions, s)
}

// JoinChannel joins all of the user's current sessions to a channel.
func (r *Registry) JoinChannel(userID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for s := range r.users[userID] {
		if r.channels[channelID] == nil {
			r.channels[channelID] = make(map[Session]struct{})
		}
		r.channels[channelID][s] = struct{}{}
		r.sessions[s].channels[channelID] = struct{}{}
	}
}

// LeaveChannel removes all of the user's sessions from a channel.
func (r *Registry) LeaveChannel(userID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for s := range r.users[userID] {
		delete(r.channels[channelID], s)
		delete(r.sessions[s].channels, channelID)
	}
	if len(r.channels[channelID]) == 0 {
		delete(r.channels, channelID)
	}
}

// ConnectedUserIDs returns the ids of every user with at least one live
// session.
func (r *Registry) ConnectedUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	return ids
}

// SessionsFor returns a snapshot of the user's live sessions.
func (r *Registry) SessionsFor(userID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.users[userID]))
	for s := range r.users[userID] {
		out = append(out, s)
	}
	return out
}

// SessionsInChannel returns a snapshot of every session joined to a
// channel, across all users.
func (r *Registry) SessionsInChannel(channelID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.channels[channelID]))
	for s := range r.channels[channelID] {
		out = append(out, s)
	}
	return out
}

// IsConnected reports whether the user has any live session.
func (r *Registry) IsConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// NumUsers returns the number of distinct connected users.
func (r *Registry) NumUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// NumSessions returns the number of live sessions across all users.
func (r *Registry) NumSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
