// Copyright (C) 2025 gathr.social <dev@gathr.social>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "errors"

// Sentinel errors shared by the storage implementations and the chat
// services. Handlers match these with errors.Is and map them to HTTP
// status codes; everything else is treated as an internal error.
var (
	// ErrNotFound is returned when a room or message does not exist or
	// has been globally soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrNotAMember is returned when the acting user is not an active
	// member of the room (or is not allowed to touch the record).
	ErrNotAMember = errors.New("not a room member")

	// ErrPersonalRoomMembers is returned on an attempt to grow a
	// personal room beyond its two members.
	ErrPersonalRoomMembers = errors.New("personal rooms have exactly two members")

	// ErrNotBroadcastOwner is returned when someone other than the
	// broadcast owner posts into or mutates a broadcast room.
	ErrNotBroadcastOwner = errors.New("only the broadcast owner may do that")

	// ErrEmptyMessage is returned when a message carries no body, no
	// media reference and no shared object reference.
	ErrEmptyMessage = errors.New("message has no content")

	// ErrAlreadyInState is returned for idempotent transitions that have
	// already happened, e.g. leaving a room twice.
	ErrAlreadyInState = errors.New("already in requested state")
)
