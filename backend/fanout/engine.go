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

// Package fanout delivers state changes to live connections. Delivery is
// best effort and happens strictly after the owning transaction has
// committed: the push layer is a cache-invalidation signal, never the
// source of truth.
package fanout

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/gathrhq/chat/backend/metrics"
	"github.com/gathrhq/chat/backend/models"
	"github.com/gathrhq/chat/backend/presence"
)

// DefaultBatchSize bounds how many recipients a personalized broadcast
// materializes at once.
const DefaultBatchSize = 100

// Store is the slice of storage the engine needs: membership re-reads
// and the bulk like lookup.
type Store interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	LikedBy(ctx context.Context, objectID string, userIDs []string) (map[string]bool, error)
}

// Notifier hands a job to the external notification dispatcher.
type Notifier interface {
	Enqueue(ctx context.Context, job models.NotificationJob) error
}

type Engine struct {
	store     Store
	reg       *presence.Registry
	notify    Notifier // nil disables the offline handoff
	log       *slog.Logger
	batchSize int
}

func NewEngine(store Store, reg *presence.Registry, notify Notifier, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:     store,
		reg:       reg,
		notify:    notify,
		log:       log,
		batchSize: DefaultBatchSize,
	}
}

// SetBatchSize overrides DefaultBatchSize. Values below 1 are ignored.
func (e *Engine) SetBatchSize(n int) {
	if n > 0 {
		e.batchSize = n
	}
}

// ViewFunc builds one recipient's view of a shared object from the base
// object plus that recipient's own like flag. It is called once per
// recipient; the result is never reused for anyone else.
type ViewFunc func(userID string, liked bool) any

// RoomEvent delivers an event to the live sessions of every current
// member. Membership is re-read from storage at call time, since it may
// have changed since the action that produced the event. includeRemoved
// extends the audience to members who left, for "you were removed"
// style events.
func (e *Engine) RoomEvent(ctx context.Context, roomID, event string, payload any, includeRemoved bool) {
	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		e.log.Warn("fanout: room audience lookup failed", "room", roomID, "event", event, "error", err)
		return
	}
	audience := room.Members
	if includeRemoved {
		audience = append(append([]string{}, room.Members...), room.DeletedUsers...)
	}

	data, err := models.Envelope(event, payload)
	if err != nil {
		e.log.Error("fanout: encode failed", "event", event, "error", err)
		return
	}
	metrics.FanoutEvents.WithLabelValues(event).Inc()
	for _, uid := range audience {
		e.sendToUser(uid, event, data)
	}
}

// ChannelEvent delivers to every session currently joined to a logical
// channel, independent of persisted membership. Used for ephemeral
// signals like typing.
func (e *Engine) ChannelEvent(channelID, event string, payload any) {
	data, err := models.Envelope(event, payload)
	if err != nil {
		e.log.Error("fanout: encode failed", "event", event, "error", err)
		return
	}
	metrics.FanoutEvents.WithLabelValues(event).Inc()
	for _, s := range e.reg.SessionsInChannel(channelID) {
		if !s.Send(data) {
			metrics.FanoutSendFailures.Inc()
			e.log.Warn("fanout: dropped channel event", "channel", channelID, "event", event)
		}
	}
}

// Personalized delivers a per-recipient view of one shared object.
//
// The audience is the intersection of the caller-supplied candidates and
// the users connected right now; a nil candidate list means "every
// connected user" (public objects). Recipients are processed in fixed
// batches: one bulk like lookup per batch, then one view per recipient,
// so neither queries nor payloads grow with audience size. A recipient's
// view carries only their own like flag - never anyone else's.
func (e *Engine) Personalized(ctx context.Context, objectID, event string, candidates []string, view ViewFunc) {
	var audience []string
	if candidates == nil {
		audience = e.reg.ConnectedUserIDs()
	} else {
		seen := make(map[string]bool, len(candidates))
		for _, uid := range candidates {
			if !seen[uid] && e.reg.IsConnected(uid) {
				seen[uid] = true
				audience = append(audience, uid)
			}
		}
	}
	metrics.FanoutEvents.WithLabelValues(event).Inc()

	for start := 0; start < len(audience); start += e.batchSize {
		end := start + e.batchSize
		if end > len(audience) {
			end = len(audience)
		}
		batch := audience[start:end]

		liked, err := e.store.LikedBy(ctx, objectID, batch)
		if err != nil {
			e.log.Error("fanout: like lookup failed", "object", objectID, "error", err)
			return
		}
		for _, uid := range batch {
			data, err := models.Envelope(event, view(uid, liked[uid]))
			if err != nil {
				e.log.Error("fanout: encode failed", "event", event, "error", err)
				continue
			}
			e.sendToUser(uid, event, data)
		}
		// Cede the scheduler between batches so one large audience
		// cannot starve concurrent deliveries.
		runtime.Gosched()
	}
}

// UserEvent delivers to an explicit user list. Used when the audience
// cannot be re-read from storage anymore, e.g. announcing a room that
// was just soft-deleted.
func (e *Engine) UserEvent(userIDs []string, event string, payload any) {
	data, err := models.Envelope(event, payload)
	if err != nil {
		e.log.Error("fanout: encode failed", "event", event, "error", err)
		return
	}
	metrics.FanoutEvents.WithLabelValues(event).Inc()
	for _, uid := range userIDs {
		e.sendToUser(uid, event, data)
	}
}

// NotifyOffline enqueues a dispatch job for every active member without
// a live session, skipping the sender. Failures are logged and dropped;
// the notification layer is best effort like the rest of the push path.
func (e *Engine) NotifyOffline(ctx context.Context, room *models.Room, job models.NotificationJob) {
	if e.notify == nil {
		return
	}
	for _, uid := range room.Members {
		if uid == job.SenderID || e.reg.IsConnected(uid) {
			continue
		}
		j := job
		j.UserID = uid
		if err := e.notify.Enqueue(ctx, j); err != nil {
			e.log.Warn("fanout: notification enqueue failed", "user", uid, "room", room.ID, "error", err)
			continue
		}
		metrics.NotificationsQueued.Inc()
	}
}

// sendToUser pushes to all of a user's sessions. A full buffer on one
// device never blocks or aborts delivery to the others.
func (e *Engine) sendToUser(userID, event string, data []byte) {
	for _, s := range e.reg.SessionsFor(userID) {
		if !s.Send(data) {
			metrics.FanoutSendFailures.Inc()
			e.log.Warn("fanout: dropped event", "user", userID, "event", event)
		}
	}
}
