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

	"github.com/lib/pq"

	"github.com/gathrhq/chat/backend/models"
)

const messageColumns = `id, room_id, sender_id, body, kind, media_ref, shared_ref, is_edited, is_deleted, created_at, updated_at`

// SaveMessage inserts a message with its membership checks in the same
// transaction, so a concurrent removal either happens before (rejected)
// or after (delivered) this post, never half-way.
func (s *Store) SaveMessage(ctx context.Context, msg *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	room, err := getRoom(ctx, tx, msg.RoomID)
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
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender_id, body, kind, media_ref, shared_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		msg.ID, msg.RoomID, msg.SenderID, msg.Body, msg.Kind,
		msg.MediaRef, msg.SharedRef, now); err != nil {
		return err
	}

	// The sender has implicitly read their own message.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		VALUES ($1, $2, $3)`, msg.ID, msg.SenderID, now); err != nil {
		return err
	}
	msg.ReadBy = []models.ReadReceipt{{UserID: msg.SenderID, ReadAt: now}}

	// New activity un-hides history: any prior personal wipe is undone
	// and the old messages are visible again on the next fetch.
	if _, err := tx.ExecContext(ctx, `
		UPDATE room_members SET history_cleared = FALSE
		WHERE room_id = $1 AND history_cleared = TRUE`, msg.RoomID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM message_hidden
		WHERE message_id IN (SELECT id FROM messages WHERE room_id = $1)`, msg.RoomID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE rooms SET updated_at = $2 WHERE id = $1`, msg.RoomID, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE id = $1 AND is_deleted = FALSE`, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadMessageMeta(ctx, []*models.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) GetRoomMessages(ctx context.Context, roomID, viewerID string, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages m
		WHERE m.room_id = $1 AND m.is_deleted = FALSE
		  AND NOT EXISTS (
			SELECT 1 FROM message_hidden h
			WHERE h.message_id = m.id AND h.user_id = $2)
		ORDER BY m.created_at DESC
		LIMIT $3 OFFSET $4`, roomID, viewerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadMessageMeta(ctx, msgs); err != nil {
		return nil, err
	}
	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = *m
	}
	return out, nil
}

func (s *Store) LastVisibleMessage(ctx context.Context, roomID, viewerID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages m
		WHERE m.room_id = $1 AND m.is_deleted = FALSE
		  AND NOT EXISTS (
			SELECT 1 FROM message_hidden h
			WHERE h.message_id = m.id AND h.user_id = $2)
		ORDER BY m.created_at DESC
		LIMIT 1`, roomID, viewerID)
	msg, err := scanMessage(row)
	if err == models.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) UpdateMessage(ctx context.Context, messageID, editorID string, body, mediaRef *string) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE id = $1 AND is_deleted = FALSE
		FOR UPDATE`, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != editorID {
		return nil, models.ErrNotAMember
	}

	if body != nil {
		msg.Body = body
	}
	if mediaRef != nil {
		msg.MediaRef = mediaRef
		msg.Kind = models.ClassifyMedia(*mediaRef)
	}
	if (msg.Body == nil || *msg.Body == "") && msg.MediaRef == nil && msg.SharedRef == nil {
		return nil, models.ErrEmptyMessage
	}

	now := time.Now()
	msg.IsEdited = true
	msg.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET body = $2, media_ref = $3, kind = $4, is_edited = TRUE, updated_at = $5
		WHERE id = $1`,
		messageID, msg.Body, msg.MediaRef, msg.Kind, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if err := s.loadMessageMeta(ctx, []*models.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) SoftDeleteMessage(ctx context.Context, messageID, actorID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE id = $1 AND is_deleted = FALSE
		FOR UPDATE`, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		return err
	}
	if msg.SenderID != actorID {
		return models.ErrNotAMember
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET is_deleted = TRUE, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`, messageID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SetReaction(ctx context.Context, messageID, userID, reaction string) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE id = $1 AND is_deleted = FALSE`, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	room, err := getRoom(ctx, tx, msg.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(userID) {
		return nil, models.ErrNotAMember
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message_reactions (message_id, user_id, reaction)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO UPDATE SET reaction = $3`,
		messageID, userID, reaction); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if err := s.loadMessageMeta(ctx, []*models.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) MarkRoomRead(ctx context.Context, roomID, userID string, at time.Time) (int, error) {
	room, err := getRoom(ctx, s.db, roomID)
	if err != nil {
		return 0, err
	}
	if !room.HasMember(userID) {
		return 0, models.ErrNotAMember
	}
	// ON CONFLICT DO NOTHING keeps earlier receipts: re-reading never
	// rewrites a read timestamp.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, $2, $3 FROM messages m
		WHERE m.room_id = $1 AND m.is_deleted = FALSE
		  AND NOT EXISTS (
			SELECT 1 FROM message_hidden h
			WHERE h.message_id = m.id AND h.user_id = $2)
		ON CONFLICT (message_id, user_id) DO NOTHING`, roomID, userID, at)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) UnreadCount(ctx context.Context, roomID, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		WHERE m.room_id = $1 AND m.is_deleted = FALSE
		  AND NOT EXISTS (
			SELECT 1 FROM message_reads r
			WHERE r.message_id = m.id AND r.user_id = $2)
		  AND NOT EXISTS (
			SELECT 1 FROM message_hidden h
			WHERE h.message_id = m.id AND h.user_id = $2)`,
		roomID, userID).Scan(&n)
	return n, err
}

func (s *Store) UnreadCountAll(ctx context.Context, userID string) (map[string]int, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.room_id, COUNT(*)
		FROM messages m
		JOIN room_members rm ON rm.room_id = m.room_id AND rm.user_id = $1 AND rm.is_deleted = FALSE
		JOIN rooms r ON r.id = m.room_id AND r.is_deleted = FALSE
		WHERE m.is_deleted = FALSE
		  AND NOT EXISTS (
			SELECT 1 FROM message_reads rr
			WHERE rr.message_id = m.id AND rr.user_id = $1)
		  AND NOT EXISTS (
			SELECT 1 FROM message_hidden h
			WHERE h.message_id = m.id AND h.user_id = $1)
		GROUP BY m.room_id`, userID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	perRoom := make(map[string]int)
	total := 0
	for rows.Next() {
		var roomID string
		var n int
		if err := rows.Scan(&roomID, &n); err != nil {
			return nil, 0, err
		}
		perRoom[roomID] = n
		total += n
	}
	return perRoom, total, rows.Err()
}

func scanMessage(sc rowScanner) (*models.Message, error) {
	var msg models.Message
	var body, mediaRef, sharedRef sql.NullString
	err := sc.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &body, &msg.Kind,
		&mediaRef, &sharedRef, &msg.IsEdited, &msg.IsDeleted,
		&msg.CreatedAt, &msg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if body.Valid {
		msg.Body = &body.String
	}
	if mediaRef.Valid {
		msg.MediaRef = &mediaRef.String
	}
	if sharedRef.Valid {
		msg.SharedRef = &sharedRef.String
	}
	return &msg, nil
}

// loadMessageMeta fills receipts, reactions and hidden sets for a batch
// of messages with one query per table instead of one per message.
func (s *Store) loadMessageMeta(ctx context.Context, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	byID := make(map[string]*models.Message, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		byID[m.ID] = m
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, read_at FROM message_reads
		WHERE message_id = ANY($1)
		ORDER BY read_at`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var msgID string
		var rr models.ReadReceipt
		if err := rows.Scan(&msgID, &rr.UserID, &rr.ReadAt); err != nil {
			return err
		}
		byID[msgID].ReadBy = append(byID[msgID].ReadBy, rr)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	rrows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, reaction FROM message_reactions
		WHERE message_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rrows.Close()
	for rrows.Next() {
		var msgID string
		var re models.Reaction
		if err := rrows.Scan(&msgID, &re.UserID, &re.Reaction); err != nil {
			return err
		}
		byID[msgID].Reactions = append(byID[msgID].Reactions, re)
	}
	if err := rrows.Err(); err != nil {
		return err
	}

	hrows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id FROM message_hidden
		WHERE message_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer hrows.Close()
	for hrows.Next() {
		var msgID, userID string
		if err := hrows.Scan(&msgID, &userID); err != nil {
			return err
		}
		byID[msgID].HiddenFor = append(byID[msgID].HiddenFor, userID)
	}
	return hrows.Err()
}
