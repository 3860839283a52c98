// Copyright (C) 2025 gathr.social <dev@gathr.social>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package postgres

import (
	"context"

	"github.com/lib/pq"
)

// LikedBy answers "which of these users liked this object" in a single
// query. The fan-out engine calls it once per audience batch.
func (s *Store) LikedBy(ctx context.Context, objectID string, userIDs []string) (map[string]bool, error) {
	liked := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return liked, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM likes
		WHERE object_id = $1 AND user_id = ANY($2)`,
		objectID, pq.Array(userIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		liked[uid] = true
	}
	return liked, rows.Err()
}
