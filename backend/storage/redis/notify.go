// Copyright (C) 2025 gathr.social <dev@gathr.social>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/gathrhq/chat/backend/models"
)

const (
	// Jobs older than this are worthless; the recipient has either seen
	// the message through a normal fetch or stopped caring.
	jobTTL = 7 * 24 * time.Hour

	dispatchKey     = "notify:dispatch"    // global FIFO the dispatcher consumes
	userQueuePrefix = "notify:user:"       // notify:user:{userId} - pending jobs per user
)

// NotifyQueue hands notification jobs to the external dispatch service
// through Redis. This subsystem only produces; the dispatcher consumes
// the global list and each user list expires on its own.
type NotifyQueue struct {
	rdb *redis.Client
}

func NewNotifyQueue(rdb *redis.Client) *NotifyQueue {
	return &NotifyQueue{rdb: rdb}
}

func (q *NotifyQueue) Enqueue(ctx context.Context, job models.NotificationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal notification job: %w", err)
	}
	if err := q.rdb.RPush(ctx, dispatchKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	userKey := userQueuePrefix + job.UserID
	if err := q.rdb.RPush(ctx, userKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue user notification: %w", err)
	}
	q.rdb.Expire(ctx, userKey, jobTTL)
	return nil
}

// PendingFor returns the most recent queued jobs for a user, newest
// first. Exposed for the dispatcher's catch-up path.
func (q *NotifyQueue) PendingFor(ctx context.Context, userID string, limit int) ([]models.NotificationJob, error) {
	userKey := userQueuePrefix + userID
	raw, err := q.rdb.LRange(ctx, userKey, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notification queue: %w", err)
	}
	jobs := make([]models.NotificationJob, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var job models.NotificationJob
		if err := json.Unmarshal([]byte(raw[i]), &job); err != nil {
			continue // skip malformed entries
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ClearFor drops a user's pending jobs, e.g. once they reconnect and
// fetch current state.
func (q *NotifyQueue) ClearFor(ctx context.Context, userID string) error {
	return q.rdb.Del(ctx, userQueuePrefix+userID).Err()
}
