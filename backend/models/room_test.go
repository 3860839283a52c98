// Copyright (C) 2025 gathr.social <dev@gathr.social>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "testing"

func TestMemberKey(t *testing.T) {
	if MemberKey([]string{"b", "a"}) != MemberKey([]string{"a", "b"}) {
		t.Fatalf("member key must be order independent")
	}
	if MemberKey([]string{"a", "a", "b"}) != "a:b" {
		t.Fatalf("duplicates should collapse, got %q", MemberKey([]string{"a", "a", "b"}))
	}
	if MemberKey([]string{"", "a"}) != "a" {
		t.Fatalf("empty ids should be dropped")
	}
}

func TestClassifyMedia(t *testing.T) {
	cases := map[string]MessageKind{
		"photo.jpg":      MessageImage,
		"photo.JPEG":     MessageImage,
		"clip.mp4":       MessageVideo,
		"slides.pdf":     MessageFile,
		"archive.tar.gz": MessageFile,
		"u/123/pic.webp": MessageImage,
		"no-extension":   MessageFile,
	}
	for ref, want := range cases {
		if got := ClassifyMedia(ref); got != want {
			t.Fatalf("ClassifyMedia(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestMessageVisibility(t *testing.T) {
	msg := &Message{HiddenFor: []string{"bob"}}
	if !msg.VisibleTo("alice") {
		t.Fatalf("message should be visible to alice")
	}
	if msg.VisibleTo("bob") {
		t.Fatalf("message hidden for bob")
	}
	msg.IsDeleted = true
	if msg.VisibleTo("alice") {
		t.Fatalf("deleted message visible")
	}
}
