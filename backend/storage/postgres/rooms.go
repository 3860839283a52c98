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

package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/gathrhq/chat/backend/models"
)

func (s *Store) FindOrCreatePersonalRoom(ctx context.Context, userA, userB, createdBy string) (*models.Room, bool, error) {
	if userA == userB || userA == "" || userB == "" {
		return nil, false, models.ErrPersonalRoomMembers
	}
	key := models.MemberKey([]string{userA, userB})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	room, err := findRoomWhere(ctx, tx,
		`kind = 'personal' AND member_key = $1 AND is_deleted = FALSE`, key)
	if err == nil {
		return room, false, tx.Commit()
	}
	if err != models.ErrNotFound {
		return nil, false, err
	}

	now := time.Now()
	room = &models.Room{
		ID:        uuid.New().String(),
		Kind:      models.RoomPersonal,
		Members:   []string{userA, userB},
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := insertRoom(ctx, tx, room, key); err != nil {
		if isUniqueViolation(err) {
			// Lost the race to a concurrent creator; their room is the room.
			tx.Rollback()
			existing, ferr := findRoomWhere(ctx, s.db,
				`kind = 'personal' AND member_key = $1 AND is_deleted = FALSE`, key)
			return existing, false, ferr
		}
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return room, true, nil
}

func (s *Store) FindOrCreateGroupRoom(ctx context.Context, name string, memberIDs []string, createdBy string) (*models.Room, bool, error) {
	key := models.MemberKey(memberIDs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	room, err := findRoomWhere(ctx, tx,
		`kind = 'group' AND event_id IS NULL AND member_key = $1 AND name = $2 AND is_deleted = FALSE`,
		key, name)
	if err == nil {
		return room, false, tx.Commit()
	}
	if err != models.ErrNotFound {
		return nil, false, err
	}

	now := time.Now()
	room = &models.Room{
		ID:        uuid.New().String(),
		Kind:      models.RoomGroup,
		Name:      name,
		Members:   dedupe(memberIDs),
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := insertRoom(ctx, tx, room, key); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return room, true, nil
}

func (s *Store) FindOrCreateEventRoom(ctx context.Context, eventID string, memberIDs []string, createdBy string) (*models.Room, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	room, err := findRoomWhere(ctx, tx, `event_id = $1 AND is_deleted = FALSE`, eventID)
	if err == nil {
		return room, false, tx.Commit()
	}
	if err != models.ErrNotFound {
		return nil, false, err
	}

	now := time.Now()
	room = &models.Room{
		ID:        uuid.New().String(),
		Kind:      models.RoomGroup,
		EventID:   &eventID,
		Members:   dedupe(memberIDs),
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := insertRoom(ctx, tx, room, models.MemberKey(memberIDs)); err != nil {
		if isUniqueViolation(err) {
			tx.Rollback()
			existing, ferr := findRoomWhere(ctx, s.db, `event_id = $1 AND is_deleted = FALSE`, eventID)
			return existing, false, ferr
		}
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return room, true, nil
}

func (s *Store) UpsertBroadcastRoom(ctx context.Context, ownerID, name string, memberIDs []string) (*models.Room, error) {
	members := dedupe(append([]string{ownerID}, memberIDs...))
	key := models.MemberKey(members)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	room, err := findRoomWhere(ctx, tx,
		`kind = 'broadcast' AND owner_id = $1 AND is_deleted = FALSE`, ownerID)
	if err == nil {
		// Repeat call replaces name and membership on the existing room.
		if _, err := tx.ExecContext(ctx, `
			UPDATE rooms SET name = $2, member_key = $3, updated_at = CURRENT_TIMESTAMP
			WHERE id = $1`, room.ID, name, key); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE room_members SET is_deleted = TRUE WHERE room_id = $1`, room.ID); err != nil {
			return nil, err
		}
		for _, uid := range members {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO room_members (room_id, user_id)
				VALUES ($1, $2)
				ON CONFLICT (room_id, user_id) DO UPDATE SET is_deleted = FALSE`,
				room.ID, uid); err != nil {
				return nil, err
			}
		}
		room, err = getRoom(ctx, tx, room.ID)
		if err != nil {
			return nil, err
		}
		return room, tx.Commit()
	}
	if err != models.ErrNotFound {
		return nil, err
	}

	now := time.Now()
	room = &models.Room{
		ID:        uuid.New().String(),
		Kind:      models.RoomBroadcast,
		Name:      name,
		OwnerID:   &ownerID,
		Members:   members,
		CreatedBy: ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := insertRoom(ctx, tx, room, key); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	return getRoom(ctx, s.db, roomID)
}

func (s *Store) GetUserRooms(ctx context.Context, userID string) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.kind, r.name, r.image, r.event_id, r.owner_id,
		       r.is_deleted, r.created_by, r.created_at, r.updated_at
		FROM rooms r
		JOIN room_members rm ON rm.room_id = r.id
		WHERE rm.user_id = $1 AND rm.is_deleted = FALSE AND r.is_deleted = FALSE
		ORDER BY r.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		if err := loadRoomMembers(ctx, s.db, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) AddRoomMembers(ctx context.Context, roomID, actorID string, userIDs []string) (*models.Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	room, err := getRoom(ctx, tx, roomID)
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
		// Covers both fresh joins and rejoins of members who had left.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO room_members (room_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (room_id, user_id) DO UPDATE SET is_deleted = FALSE`,
			roomID, uid); err != nil {
			return nil, err
		}
	}
	if err := refreshMemberKey(ctx, tx, room); err != nil {
		return nil, err
	}
	// Membership changed under us; reload before anything downstream
	// checks it.
	room, err = getRoom(ctx, tx, roomID)
	if err != nil {
		return nil, err
	}
	return room, tx.Commit()
}

func (s *Store) RemoveRoomMember(ctx context.Context, roomID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	room, err := getRoom(ctx, tx, roomID)
	if err != nil {
		return err
	}
	if !room.HasMember(userID) {
		if room.HasLeft(userID) {
			return models.ErrAlreadyInState
		}
		return models.ErrNotAMember
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE room_members SET is_deleted = TRUE
		WHERE room_id = $1 AND user_id = $2`, roomID, userID); err != nil {
		return err
	}
	if err := refreshMemberKey(ctx, tx, room); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ClearRoomHistory(ctx context.Context, roomID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	room, err := getRoom(ctx, tx, roomID)
	if err != nil {
		return err
	}
	if !room.HasMember(userID) {
		return models.ErrNotAMember
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE room_members SET history_cleared = TRUE
		WHERE room_id = $1 AND user_id = $2`, roomID, userID); err != nil {
		return err
	}
	// Point-in-time wipe: only messages that exist right now are hidden.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message_hidden (message_id, user_id)
		SELECT id, $2 FROM messages WHERE room_id = $1
		ON CONFLICT (message_id, user_id) DO NOTHING`, roomID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SoftDeleteRoom(ctx context.Context, roomID, actorID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	room, err := getRoom(ctx, tx, roomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != actorID && !room.IsBroadcastOwner(actorID) {
		return models.ErrNotAMember
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE rooms SET is_deleted = TRUE, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`, roomID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RoomUnreadCounts(ctx context.Context, roomID string) (map[string]int, error) {
	room, err := getRoom(ctx, s.db, roomID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(room.Members))
	for _, uid := range room.Members {
		counts[uid] = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rm.user_id, COUNT(m.id)
		FROM room_members rm
		JOIN messages m ON m.room_id = rm.room_id AND m.is_deleted = FALSE
		WHERE rm.room_id = $1 AND rm.is_deleted = FALSE
		  AND NOT EXISTS (
			SELECT 1 FROM message_reads r
			WHERE r.message_id = m.id AND r.user_id = rm.user_id)
		  AND NOT EXISTS (
			SELECT 1 FROM message_hidden h
			WHERE h.message_id = m.id AND h.user_id = rm.user_id)
		GROUP BY rm.user_id`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var uid string
		var n int
		if err := rows.Scan(&uid, &n); err != nil {
			return nil, err
		}
		counts[uid] = n
	}
	return counts, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(sc rowScanner) (*models.Room, error) {
	var room models.Room
	var eventID, ownerID sql.NullString
	err := sc.Scan(&room.ID, &room.Kind, &room.Name, &room.Image,
		&eventID, &ownerID, &room.IsDeleted,
		&room.CreatedBy, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if eventID.Valid {
		room.EventID = &eventID.String
	}
	if ownerID.Valid {
		room.OwnerID = &ownerID.String
	}
	return &room, nil
}

func findRoomWhere(ctx context.Context, q querier, where string, args ...any) (*models.Room, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE `+where, args...)
	room, err := scanRoom(row)
	if err != nil {
		return nil, err
	}
	if err := loadRoomMembers(ctx, q, room); err != nil {
		return nil, err
	}
	return room, nil
}

func insertRoom(ctx context.Context, q querier, room *models.Room, memberKey string) error {
	var eventID, ownerID any
	if room.EventID != nil {
		eventID = *room.EventID
	}
	if room.OwnerID != nil {
		ownerID = *room.OwnerID
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO rooms (id, kind, name, image, event_id, owner_id, member_key, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		room.ID, room.Kind, room.Name, room.Image, eventID, ownerID,
		memberKey, room.CreatedBy, room.CreatedAt); err != nil {
		return err
	}
	for _, uid := range room.Members {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO room_members (room_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (room_id, user_id) DO NOTHING`, room.ID, uid); err != nil {
			return err
		}
	}
	return nil
}

// refreshMemberKey recomputes the dedup key from the active member set
// after a membership change. Personal rooms never change membership so
// their key is stable by construction.
func refreshMemberKey(ctx context.Context, q querier, room *models.Room) error {
	if room.Kind == models.RoomPersonal {
		return nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT user_id FROM room_members
		WHERE room_id = $1 AND is_deleted = FALSE`, room.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var active []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return err
		}
		active = append(active, uid)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE rooms SET member_key = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`, room.ID, models.MemberKey(active))
	return err
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
