package activitypub

import (
	"encoding/json"
	"testing"
	"time"
)

func TestObjectURI(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"object as string",
			`{"type":"Like","object":"https://social.example/notes/1"}`,
			"https://social.example/notes/1",
		},
		{
			"object as map with id",
			`{"type":"Create","object":{"id":"https://social.example/notes/2","type":"Note"}}`,
			"https://social.example/notes/2",
		},
		{
			"object absent",
			`{"type":"Delete"}`,
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var act Activity
			if err := json.Unmarshal([]byte(tt.body), &act); err != nil {
				t.Fatalf("Failed to unmarshal: %v", err)
			}
			in := &Inbound{Activity: act}
			if got := in.ObjectURI(); got != tt.want {
				t.Errorf("ObjectURI() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAudienceMergesObjectAddressing(t *testing.T) {
	body := `{
		"type": "Create",
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"cc": "https://mammut.test/users/alice",
		"object": {
			"id": "https://social.example/notes/1",
			"to": ["https://social.example/users/bob/followers"],
			"cc": ["https://mammut.test/users/carol"]
		}
	}`
	var act Activity
	if err := json.Unmarshal([]byte(body), &act); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	in := &Inbound{Activity: act}
	audience := in.Audience()
	if len(audience) != 4 {
		t.Fatalf("Expected 4 addresses, got %d: %v", len(audience), audience)
	}

	found := false
	for _, addr := range audience {
		if addr == "https://mammut.test/users/carol" {
			found = true
		}
	}
	if !found {
		t.Error("Object-level cc should be part of the audience")
	}
}

func TestQuoteRefURIPrecedence(t *testing.T) {
	obj := map[string]interface{}{
		"quoteUri":       "https://social.example/notes/low",
		"_misskey_quote": "https://social.example/notes/mid",
		"quoteUrl":       "https://social.example/notes/high",
	}
	if got := quoteRefURI(obj); got != "https://social.example/notes/high" {
		t.Errorf("quoteUrl should win, got %q", got)
	}

	delete(obj, "quoteUrl")
	if got := quoteRefURI(obj); got != "https://social.example/notes/mid" {
		t.Errorf("_misskey_quote should win over quoteUri, got %q", got)
	}

	if got := quoteRefURI(map[string]interface{}{}); got != "" {
		t.Errorf("Expected empty quote ref, got %q", got)
	}
}

func TestMentionURLs(t *testing.T) {
	obj := map[string]interface{}{
		"tag": []interface{}{
			map[string]interface{}{"type": "Mention", "href": "https://mammut.test/users/alice"},
			map[string]interface{}{"type": "Hashtag", "href": "https://social.example/tags/go"},
			map[string]interface{}{"type": "Mention", "href": "https://social.example/users/bob"},
			map[string]interface{}{"type": "Mention"},
		},
	}

	urls := mentionURLs(obj)
	if len(urls) != 2 {
		t.Fatalf("Expected 2 mention URLs, got %d: %v", len(urls), urls)
	}
	if urls[0] != "https://mammut.test/users/alice" {
		t.Errorf("Unexpected first mention: %q", urls[0])
	}

	if got := mentionURLs(map[string]interface{}{}); got != nil {
		t.Errorf("Expected nil for untagged object, got %v", got)
	}
}

func TestPollOptionsOf(t *testing.T) {
	body := `{
		"type": "Question",
		"oneOf": [
			{"name": "red", "replies": {"totalItems": 3}},
			{"name": "blue", "replies": {"totalItems": 1}},
			{"replies": {"totalItems": 9}}
		]
	}`
	var obj map[string]interface{}
	json.Unmarshal([]byte(body), &obj)

	options := pollOptionsOf(obj)
	if len(options) != 2 {
		t.Fatalf("Expected 2 named options, got %d", len(options))
	}
	if options[0].Name != "red" || options[0].Count != 3 {
		t.Errorf("Unexpected first option: %+v", options[0])
	}

	// anyOf works the same way
	anyOf := map[string]interface{}{
		"anyOf": []interface{}{
			map[string]interface{}{"name": "green"},
		},
	}
	options = pollOptionsOf(anyOf)
	if len(options) != 1 || options[0].Name != "green" || options[0].Count != 0 {
		t.Errorf("Unexpected anyOf options: %+v", options)
	}

	if got := pollOptionsOf(map[string]interface{}{}); got != nil {
		t.Errorf("Expected nil for non-poll object, got %v", got)
	}
}

func TestPollEnd(t *testing.T) {
	obj := map[string]interface{}{"endTime": "2026-01-02T15:04:05Z"}
	end := pollEnd(obj)
	if end == nil {
		t.Fatal("Expected an end time")
	}
	if end.Year() != 2026 {
		t.Errorf("Unexpected end time: %v", end)
	}

	if got := pollEnd(map[string]interface{}{"endTime": "garbage"}); got != nil {
		t.Error("Unparseable end time should yield nil")
	}
	if got := pollEnd(map[string]interface{}{}); got != nil {
		t.Error("Missing end time should yield nil")
	}
}

func TestParsePublished(t *testing.T) {
	got := parsePublished("2025-06-01T12:00:00Z")
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("parsePublished = %v, want %v", got, want)
	}

	// Absent or broken timestamps fall back to now
	before := time.Now()
	got = parsePublished(nil)
	if got.Before(before.Add(-time.Second)) {
		t.Error("Fallback should be near now")
	}
	got = parsePublished("not a timestamp")
	if got.Before(before.Add(-time.Second)) {
		t.Error("Fallback should be near now")
	}
}

func TestAsStringList(t *testing.T) {
	if got := asStringList("one"); len(got) != 1 || got[0] != "one" {
		t.Errorf("Single string should become a one-element list: %v", got)
	}
	if got := asStringList([]interface{}{"a", 1, "b"}); len(got) != 2 {
		t.Errorf("Non-strings should be skipped: %v", got)
	}
	if got := asStringList(nil); got != nil {
		t.Errorf("nil should stay nil: %v", got)
	}
}
