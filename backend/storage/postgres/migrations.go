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

func (s *Store) Migrate() error {
	migrations := []string{
		// Rooms table. member_key is the canonical sorted member-set key;
		// the partial unique indexes below carry the deduplication
		// invariants for personal and broadcast rooms.
		`CREATE TABLE IF NOT EXISTS rooms (
			id VARCHAR(64) PRIMARY KEY,
			kind VARCHAR(16) NOT NULL CHECK (kind IN ('personal', 'group', 'broadcast')),
			name VARCHAR(255) NOT NULL DEFAULT '',
			image VARCHAR(512) NOT NULL DEFAULT '',
			event_id VARCHAR(64),
			owner_id VARCHAR(64),
			member_key TEXT NOT NULL DEFAULT '',
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_by VARCHAR(64) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// At most one live personal room per unordered member pair
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_personal_room_pair
		ON rooms(member_key)
		WHERE kind = 'personal' AND is_deleted = FALSE`,

		// At most one live broadcast room per owner
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_broadcast_owner
		ON rooms(owner_id)
		WHERE kind = 'broadcast' AND is_deleted = FALSE`,

		// Event-linked rooms are keyed by the event
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_event_room
		ON rooms(event_id)
		WHERE event_id IS NOT NULL`,

		`CREATE INDEX IF NOT EXISTS idx_group_room_lookup
		ON rooms(member_key, name)
		WHERE kind = 'group' AND is_deleted = FALSE`,

		// Room members. is_deleted marks members who left (the room
		// survives, they are hidden from it); history_cleared marks
		// members who wiped their own view and is reset on the next post.
		`CREATE TABLE IF NOT EXISTS room_members (
			room_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			history_cleared BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (room_id, user_id),
			FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_user_rooms
		ON room_members(user_id) WHERE is_deleted = FALSE`,

		// Messages table
		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(64) PRIMARY KEY,
			room_id VARCHAR(64) NOT NULL,
			sender_id VARCHAR(64) NOT NULL,
			body TEXT,
			kind VARCHAR(16) NOT NULL CHECK (kind IN ('text', 'image', 'video', 'file', 'post', 'event')),
			media_ref VARCHAR(512),
			shared_ref VARCHAR(64),
			is_edited BOOLEAN NOT NULL DEFAULT FALSE,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_room_messages
		ON messages(room_id, created_at DESC)`,

		// Read receipts: append-only, at most one per (message, user).
		// Unread counts are derived from the absence of a row here.
		`CREATE TABLE IF NOT EXISTS message_reads (
			message_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			read_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (message_id, user_id),
			FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
		)`,

		// Reactions: one per (message, user), last write wins
		`CREATE TABLE IF NOT EXISTS message_reactions (
			message_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			reaction VARCHAR(64) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (message_id, user_id),
			FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
		)`,

		// Per-viewer hidden messages, written by clear-history
		`CREATE TABLE IF NOT EXISTS message_hidden (
			message_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			PRIMARY KEY (message_id, user_id),
			FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
		)`,

		// Like rows are owned by the feed service; this subsystem only
		// reads them for fan-out personalization.
		`CREATE TABLE IF NOT EXISTS likes (
			object_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (object_id, user_id)
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
