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

// Package memory implements storage.Store on in-process maps. It backs
// the service and fan-out tests and local development without Postgres;
// semantics match the postgres implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gathrhq/chat/backend/models"
)

type Store struct {
	mu       sync.Mutex
	rooms    map[string]*models.Room
	messages map[string]*models.Message
	roomMsgs map[string][]string // insertion-ordered message ids per room
	likes    map[string]map[string]bool
}

func NewStore() *Store {
	return &Store{
		rooms:    make(map[string]*models.Room),
		messages: make(map[string]*models.Message),
		roomMsgs: make(map[string][]string),
		likes:    make(map[string]map[string]bool),
	}
}

func (s *Store) FindOrCreatePersonalRoom(ctx context.Context, userA, userB, createdBy string) (*models.Room, bool, error) {
	if userA == userB || userA == "" || userB == "" {
		return nil, false, models.ErrPersonalRoomMembers
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.MemberKey([]string{userA, userB})
	for _, r := range s.rooms {
		if r.Kind == models.RoomPersonal && !r.IsDeleted &&
			models.MemberKey(append(append([]string{}, r.Members...), r.DeletedUsers...)) == key {
			return cloneRoom(r), false, nil
		}
	}
	now := time.Now()
	room := &models.Room{
		ID:        uuid.New().String(),
		Kind:      models.RoomPersonal,
		Members:   []string{userA, userB},
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.rooms[room.ID] = room
	return cloneRoom(room), true, nil
}

func (s *Store) FindOrCreateGroupRoom(ctx context.Context, name string, memberIDs []string, createdBy string) (*models.Room, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.MemberKey(memberIDs)
	for _, r := range s.rooms {
		if r.Kind == models.RoomGroup && r.EventID == nil && !r.IsDeleted &&
			r.Name == name && models.MemberKey(r.Members) == key {
			return cloneRoom(r), false, nil
		}
	}
	now := time.Now()
	room := &models.Room{
		ID:        uuid.New().String(),
		Kind:      models.RoomGroup,
		Name:      name,
		Members:   dedupe(memberIDs),
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.rooms[room.ID] = room
	return cloneRoom(room), true, nil
}

func (s *Store) FindOrCreateEventRoom(ctx context.Context, eventID string, memberIDs []string, createdBy string) (*models.Room, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rooms {
		if r.EventID != nil && *r.EventID == eventID && !r.IsDeleted {
			return cloneRoom(r), false, nil
		}
	}
	now := time.Now()
	eid := eventID
	room := &models.Room{
		ID:        uuid.New().String(),
		Kind:      models.RoomGroup,
		EventID:   &eid,
		Members:   dedupe(memberIDs),
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.rooms[room.ID] = room
	return cloneRoom(room), true, nil
}

func (s *Store) UpsertBroadcastRoom(ctx context.Context, ownerID, name string, memberIDs []string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := dedupe(append([]string{ownerID}, memberIDs...))
	for _, r := range s.rooms {
		if r.Kind == models.RoomBroadcast && !r.IsDeleted &&
			r.OwnerID != nil && *r.OwnerID == ownerID {
			r.Name = name
			r.Members = members
			r.DeletedUsers = nil
			r.HistoryClearedBy = nil
			r.UpdatedAt = time.Now()
			return cloneRoom(r), nil
		}
	}
	now := time.Now()
	oid := ownerID
	room := &models.Room{
		ID:        uuid.New().String(),
		Kind:      models.RoomBroadcast,
		Name:      name,
		OwnerID:   &oid,
		Members:   members,
		CreatedBy: ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.rooms[room.ID] = room
	return cloneRoom(room), nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := s.liveRoom(roomID)
	if err != nil {
		return nil, err
	}
	return cloneRoom(room), nil
}

func (s *Store) GetUserRooms(ctx context.Context, userID string) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.Room
	for _, r := range s.rooms {
		if !r.IsDeleted && r.HasMember(userID) {
			result = append(result, *cloneRoom(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (s *Store) AddRoomMembers(ctx context.Context, roomID, actorID string, userIDs []string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.liveRoom(roomID)
	if err != nil {
		return nil, err
	}
	if room.Kind == models.RoomBroadcast && !room.IsBroadcastOwner(actorID) {
		return nil, models.ErrNotBroadcastOwner
	}
	for _, uid := range userIDs {
		if room.Kind == models.RoomPersonal && !room.HasMember(uid) && !room.HasLeft(uid) {
			return nil, models.ErrPersonalRoomMembers
		}
	}
	for _, uid := range dedupe(userIDs) {
		if room.HasMember(uid) {
			continue
		}
		room.DeletedUsers = remove(room.DeletedUsers, uid)
		room.Members = append(room.Members, uid)
	}
	room.UpdatedAt = time.Now()
	return cloneRoom(room), nil
}

func (s *Store) RemoveRoomMember(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.liveRoom(roomID)
	if err != nil {
		return err
	}
	if !room.HasMember(userID) {
		if room.HasLeft(userID) {
			return models.ErrAlreadyInState
		}
		return models.ErrNotAMember
	}
	room.Members = remove(room.Members, userID)
	room.DeletedUsers = append(room.DeletedUsers, userID)
	room.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ClearRoomHistory(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.liveRoom(roomID)
	if err != nil {
		return err
	}
	if !room.HasMember(userID) {
		return models.ErrNotAMember
	}
	if !contains(room.HistoryClearedBy, userID) {
		room.HistoryClearedBy = append(room.HistoryClearedBy, userID)
	}
	for _, msgID := range s.roomMsgs[roomID] {
		msg := s.messages[msgID]
		if !contains(msg.HiddenFor, userID) {
			msg.HiddenFor = append(msg.HiddenFor, userID)
		}
	}
	return nil
}

func (s *Store) SoftDeleteRoom(ctx context.Context, roomID, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.liveRoom(roomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != actorID && !room.IsBroadcastOwner(actorID) {
		return models.ErrNotAMember
	}
	room.IsDeleted = true
	room.UpdatedAt = time.Now()
	return nil
}

func (s *Store) RoomUnreadCounts(ctx context.Context, roomID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.liveRoom(roomID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(room.Members))
	for _, uid := range room.Members {
		counts[uid] = s.unreadLocked(roomID, uid)
	}
	return counts, nil
}

func (s *Store) SaveMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.liveRoom(msg.RoomID)
	if err != nil {
		return err
	}
	if !room.HasMember(msg.SenderID) {
		return models.ErrNotAMember
	}
	if room.Kind == models.RoomBroadcast && !room.IsBroadcastOwner(msg.SenderID) {
		return models.ErrNotBroadcastOwner
	}

	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	msg.ReadBy = []models.ReadReceipt{{UserID: msg.SenderID, ReadAt: now}}

	stored := cloneMessage(msg)
	s.messages[msg.ID] = stored
	s.roomMsgs[msg.RoomID] = append(s.roomMsgs[msg.RoomID], msg.ID)

	// New activity undoes any personal wipe; the hidden history comes back.
	room.HistoryClearedBy = nil
	for _, id := range s.roomMsgs[msg.RoomID] {
		s.messages[id].HiddenFor = nil
	}
	room.UpdatedAt = now
	return nil
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.IsDeleted {
		return nil, models.ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (s *Store) GetRoomMessages(ctx context.Context, roomID, viewerID string, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.roomMsgs[roomID]
	var visible []models.Message
	for i := len(ids) - 1; i >= 0; i-- { // newest first
		msg := s.messages[ids[i]]
		if msg.VisibleTo(viewerID) {
			visible = append(visible, *cloneMessage(msg))
		}
	}
	if offset >= len(visible) {
		return nil, nil
	}
	visible = visible[offset:]
	if len(visible) > limit {
		visible = visible[:limit]
	}
	return visible, nil
}

func (s *Store) LastVisibleMessage(ctx context.Context, roomID, viewerID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.roomMsgs[roomID]
	for i := len(ids) - 1; i >= 0; i-- {
		msg := s.messages[ids[i]]
		if msg.VisibleTo(viewerID) {
			return cloneMessage(msg), nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateMessage(ctx context.Context, messageID, editorID string, body, mediaRef *string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok || msg.IsDeleted {
		return nil, models.ErrNotFound
	}
	if msg.SenderID != editorID {
		return nil, models.ErrNotAMember
	}
	next := cloneMessage(msg)
	if body != nil {
		next.Body = body
	}
	if mediaRef != nil {
		next.MediaRef = mediaRef
		next.Kind = models.ClassifyMedia(*mediaRef)
	}
	if (next.Body == nil || *next.Body == "") && next.MediaRef == nil && next.SharedRef == nil {
		return nil, models.ErrEmptyMessage
	}
	next.IsEdited = true
	next.UpdatedAt = time.Now()
	s.messages[messageID] = next
	return cloneMessage(next), nil
}

func (s *Store) SoftDeleteMessage(ctx context.Context, messageID, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok || msg.IsDeleted {
		return models.ErrNotFound
	}
	if msg.SenderID != actorID {
		return models.ErrNotAMember
	}
	msg.IsDeleted = true
	msg.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SetReaction(ctx context.Context, messageID, userID, reaction string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok || msg.IsDeleted {
		return nil, models.ErrNotFound
	}
	room, err := s.liveRoom(msg.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(userID) {
		return nil, models.ErrNotAMember
	}
	for i := range msg.Reactions {
		if msg.Reactions[i].UserID == userID {
			msg.Reactions[i].Reaction = reaction
			return cloneMessage(msg), nil
		}
	}
	msg.Reactions = append(msg.Reactions, models.Reaction{UserID: userID, Reaction: reaction})
	return cloneMessage(msg), nil
}

func (s *Store) MarkRoomRead(ctx context.Context, roomID, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.liveRoom(roomID)
	if err != nil {
		return 0, err
	}
	if !room.HasMember(userID) {
		return 0, models.ErrNotAMember
	}
	marked := 0
	for _, msgID := range s.roomMsgs[roomID] {
		msg := s.messages[msgID]
		if !msg.VisibleTo(userID) || msg.IsReadBy(userID) {
			continue
		}
		msg.ReadBy = append(msg.ReadBy, models.ReadReceipt{UserID: userID, ReadAt: at})
		marked++
	}
	return marked, nil
}

func (s *Store) UnreadCount(ctx context.Context, roomID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadLocked(roomID, userID), nil
}

func (s *Store) UnreadCountAll(ctx context.Context, userID string) (map[string]int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	perRoom := make(map[string]int)
	total := 0
	for id, r := range s.rooms {
		if r.IsDeleted || !r.HasMember(userID) {
			continue
		}
		if n := s.unreadLocked(id, userID); n > 0 {
			perRoom[id] = n
			total += n
		}
	}
	return perRoom, total, nil
}

func (s *Store) LikedBy(ctx context.Context, objectID string, userIDs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	liked := make(map[string]bool, len(userIDs))
	for _, uid := range userIDs {
		if s.likes[objectID][uid] {
			liked[uid] = true
		}
	}
	return liked, nil
}

// AddLike records a like row the way the feed service would. Test and
// local-dev helper, not part of storage.Store.
func (s *Store) AddLike(objectID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.likes[objectID] == nil {
		s.likes[objectID] = make(map[string]bool)
	}
	s.likes[objectID][userID] = true
}

func (s *Store) liveRoom(roomID string) (*models.Room, error) {
	room, ok := s.rooms[roomID]
	if !ok || room.IsDeleted {
		return nil, models.ErrNotFound
	}
	return room, nil
}

func (s *Store) unreadLocked(roomID, userID string) int {
	n := 0
	for _, msgID := range s.roomMsgs[roomID] {
		msg := s.messages[msgID]
		if msg.VisibleTo(userID) && !msg.IsReadBy(userID) {
			n++
		}
	}
	return n
}

func cloneRoom(r *models.Room) *models.Room {
	c := *r
	c.Members = append([]string(nil), r.Members...)
	c.DeletedUsers = append([]string(nil), r.DeletedUsers...)
	c.HistoryClearedBy = append([]string(nil), r.HistoryClearedBy...)
	return &c
}

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	c.ReadBy = append([]models.ReadReceipt(nil), m.ReadBy...)
	c.Reactions = append([]models.Reaction(nil), m.Reactions...)
	c.HiddenFor = append([]string(nil), m.HiddenFor...)
	return &c
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
