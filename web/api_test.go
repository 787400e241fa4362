package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/deemkeen/mammut/queue"
	"github.com/google/uuid"
)

func composeNote(t *testing.T, s *Server, payload map[string]interface{}) *http.Request {
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	req, _ := http.NewRequest("POST", "https://mammut.test/api/notes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestComposeCreatesAndQueues(t *testing.T) {
	s, local := newTestServer(t)

	w := serve(s, composeNote(t, s, map[string]interface{}{
		"username": "admin",
		"content":  "first post",
	}))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Id        string `json:"id"`
		ObjectUri string `json:"objectUri"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Response is not JSON: %v", err)
	}
	noteId, err := uuid.Parse(resp.Id)
	if err != nil {
		t.Fatalf("Response id is not a uuid: %v", err)
	}
	if !strings.HasPrefix(resp.ObjectUri, "https://mammut.test/notes/") {
		t.Errorf("Unexpected object URI: %s", resp.ObjectUri)
	}

	err2, note := s.DB.ReadNoteById(noteId)
	if err2 != nil || note == nil {
		t.Fatalf("Composed note not stored: %v", err2)
	}
	if !note.Local || note.AccountId != local.Id {
		t.Error("Composed note should be local and owned by the author")
	}
	if note.RawJSON == "" {
		t.Error("Outbound JSON should be cached on the note")
	}

	// The Create is logged and queued for fan-out
	if err, act := s.DB.ReadActivityByObjectURI(note.ObjectURI); err != nil || act == nil || !act.Local {
		t.Error("Compose should log a local Create activity")
	}
	paths, _ := s.Queue.List(queue.LaneOutbox, 0)
	if len(paths) != 1 {
		t.Errorf("Expected 1 queued delivery, got %d", len(paths))
	}
}

func TestComposeValidation(t *testing.T) {
	s, _ := newTestServer(t)

	// Missing content
	w := serve(s, composeNote(t, s, map[string]interface{}{"username": "admin"}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without content, got %d", w.Code)
	}

	// Unknown author
	w = serve(s, composeNote(t, s, map[string]interface{}{"username": "ghost", "content": "x"}))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown account, got %d", w.Code)
	}

	// Type outside the configured collections
	w = serve(s, composeNote(t, s, map[string]interface{}{"username": "admin", "content": "x", "type": "Video"}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unsupported type, got %d", w.Code)
	}
}

func TestComposeReplyBumpsParent(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, composeNote(t, s, map[string]interface{}{
		"username": "admin",
		"content":  "parent",
	}))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}
	var parent struct {
		Id string `json:"id"`
	}
	json.Unmarshal(w.Body.Bytes(), &parent)

	w = serve(s, composeNote(t, s, map[string]interface{}{
		"username":  "admin",
		"content":   "child",
		"inReplyTo": parent.Id,
	}))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for reply, got %d", w.Code)
	}

	parentId, _ := uuid.Parse(parent.Id)
	err, got := s.DB.ReadNoteById(parentId)
	if err != nil || got == nil {
		t.Fatalf("ReadNoteById failed: %v", err)
	}
	if got.ReplyCount != 1 {
		t.Errorf("Parent reply count should be 1, got %d", got.ReplyCount)
	}
}
