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

	"github.com/lib/pq"

	"github.com/gathrhq/chat/backend/models"
)

// Store implements storage.Store on PostgreSQL. Mutating methods own
// their transaction: begin, defer rollback, commit on success.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx so the row helpers
// work inside and outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const roomColumns = `id, kind, name, image, event_id, owner_id, is_deleted, created_by, created_at, updated_at`

// isUniqueViolation reports whether err is a unique-constraint failure,
// the signal that a concurrent caller won a find-or-create race.
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// getRoom loads a room with its membership sets. Globally soft-deleted
// rooms read as not found.
func getRoom(ctx context.Context, q querier, roomID string) (*models.Room, error) {
	return findRoomWhere(ctx, q, `id = $1 AND is_deleted = FALSE`, roomID)
}

func loadRoomMembers(ctx context.Context, q querier, room *models.Room) error {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id, is_deleted, history_cleared
		FROM room_members
		WHERE room_id = $1
		ORDER BY joined_at`, room.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		var deleted, cleared bool
		if err := rows.Scan(&userID, &deleted, &cleared); err != nil {
			return err
		}
		if deleted {
			room.DeletedUsers = append(room.DeletedUsers, userID)
		} else {
			room.Members = append(room.Members, userID)
		}
		if cleared {
			room.HistoryClearedBy = append(room.HistoryClearedBy, userID)
		}
	}
	return rows.Err()
}
