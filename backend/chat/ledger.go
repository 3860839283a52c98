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

package chat

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gathrhq/chat/backend/metrics"
	"github.com/gathrhq/chat/backend/models"
)

// PostInput is what a sender supplies. At least one of Body, MediaRef
// and SharedRef must be present. SharedKind says what a SharedRef points
// at ("post" or "event").
type PostInput struct {
	Body       *string
	MediaRef   *string
	SharedRef  *string
	SharedKind string
}

func (in PostInput) empty() bool {
	return (in.Body == nil || *in.Body == "") && in.MediaRef == nil && in.SharedRef == nil
}

func (in PostInput) kind() models.MessageKind {
	switch {
	case in.SharedRef != nil && in.SharedKind == "event":
		return models.MessageEvent
	case in.SharedRef != nil:
		return models.MessagePost
	case in.MediaRef != nil:
		return models.ClassifyMedia(*in.MediaRef)
	default:
		return models.MessageText
	}
}

// Post validates and persists a message, then pushes it to the room's
// live members and queues notifications for the offline ones. Posting
// into a broadcast room additionally mirrors the message into a
// personal room with each recipient.
func (s *Service) Post(ctx context.Context, roomID, senderID string, in PostInput) (*models.Message, error) {
	if in.empty() {
		return nil, models.ErrEmptyMessage
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		SenderID:  senderID,
		Body:      in.Body,
		Kind:      in.kind(),
		MediaRef:  in.MediaRef,
		SharedRef: in.SharedRef,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesPosted.Inc()

	s.engine.RoomEvent(ctx, roomID, models.EventMessageCreated, msg, false)
	s.engine.NotifyOffline(ctx, room, models.NotificationJob{
		RoomID:    roomID,
		MessageID: msg.ID,
		SenderID:  senderID,
		Preview:   preview(msg),
		CreatedAt: msg.CreatedAt,
	})

	if room.Kind == models.RoomBroadcast {
		s.mirrorBroadcast(ctx, room, in)
	}
	return msg, nil
}

// mirrorBroadcast copies a broadcast post into a personal room between
// the owner and each recipient, so it lands in their regular inbox too.
// Each mirror stands alone: one recipient failing never aborts the rest.
func (s *Service) mirrorBroadcast(ctx context.Context, room *models.Room, in PostInput) {
	owner := *room.OwnerID
	for _, uid := range room.Members {
		if uid == owner {
			continue
		}
		personal, _, err := s.store.FindOrCreatePersonalRoom(ctx, owner, uid, owner)
		if err != nil {
			s.log.Warn("broadcast mirror: personal room failed", "owner", owner, "recipient", uid, "error", err)
			continue
		}
		mirror := &models.Message{
			ID:        uuid.New().String(),
			RoomID:    personal.ID,
			SenderID:  owner,
			Body:      in.Body,
			Kind:      in.kind(),
			MediaRef:  in.MediaRef,
			SharedRef: in.SharedRef,
		}
		if err := s.store.SaveMessage(ctx, mirror); err != nil {
			s.log.Warn("broadcast mirror: save failed", "room", personal.ID, "recipient", uid, "error", err)
			continue
		}
		s.engine.RoomEvent(ctx, personal.ID, models.EventMessageCreated, mirror, false)
	}
}

// Edit applies a sender-only edit and pushes the updated message.
func (s *Service) Edit(ctx context.Context, messageID, editorID string, body, mediaRef *string) (*models.Message, error) {
	msg, err := s.store.UpdateMessage(ctx, messageID, editorID, body, mediaRef)
	if err != nil {
		return nil, err
	}
	s.engine.RoomEvent(ctx, msg.RoomID, models.EventMessageUpdated, msg, false)
	return msg, nil
}

// Delete soft-deletes a message for everyone.
func (s *Service) Delete(ctx context.Context, messageID, actorID string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteMessage(ctx, messageID, actorID); err != nil {
		return err
	}
	s.engine.RoomEvent(ctx, msg.RoomID, models.EventMessageDeleted, map[string]string{
		"message_id": messageID,
		"room_id":    msg.RoomID,
	}, false)
	return nil
}

// React upserts the user's reaction and flashes it to whoever has the
// room channel open. Reactions are room-channel events, not room events:
// nobody needs a push for a reaction in a room they aren't looking at.
func (s *Service) React(ctx context.Context, messageID, userID, reaction string) (*models.Message, error) {
	msg, err := s.store.SetReaction(ctx, messageID, userID, reaction)
	if err != nil {
		return nil, err
	}
	s.engine.ChannelEvent(msg.RoomID, models.EventMessageReaction, msg)
	return msg, nil
}

// MarkRead appends receipts for everything visible and unread in the
// room. Returns how many messages were newly marked.
func (s *Service) MarkRead(ctx context.Context, roomID, userID string) (int, error) {
	return s.store.MarkRoomRead(ctx, roomID, userID, time.Now())
}

func (s *Service) Unread(ctx context.Context, roomID, userID string) (int, error) {
	return s.store.UnreadCount(ctx, roomID, userID)
}

func (s *Service) UnreadAll(ctx context.Context, userID string) (map[string]int, int, error) {
	return s.store.UnreadCountAll(ctx, userID)
}

func (s *Service) Messages(ctx context.Context, roomID, viewerID string, limit, offset int) ([]models.Message, error) {
	return s.store.GetRoomMessages(ctx, roomID, viewerID, limit, offset)
}

func preview(msg *models.Message) string {
	if msg.Body != nil && *msg.Body != "" {
		body := *msg.Body
		if len(body) > 120 {
			// Back off to a rune start so the cut never splits a
			// multi-byte character.
			cut := 120
			for cut > 0 && !utf8.RuneStart(body[cut]) {
				cut--
			}
			body = body[:cut]
		}
		return body
	}
	switch msg.Kind {
	case models.MessageImage:
		return "[image]"
	case models.MessageVideo:
		return "[video]"
	case models.MessageFile:
		return "[file]"
	case models.MessagePost:
		return "[shared post]"
	case models.MessageEvent:
		return "[shared event]"
	}
	return ""
}
