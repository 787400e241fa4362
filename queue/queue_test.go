package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestQueue(t *testing.T) *Queue {
	q, err := New(filepath.Join(t.TempDir(), "queue"))
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	return q
}

func TestPushGetRoundTrip(t *testing.T) {
	q := newTestQueue(t)

	item := &Item{
		Payload:          json.RawMessage(`{"type":"Follow"}`),
		LocalActorId:     "local-id",
		ExternalActorURL: "https://social.example/users/alice",
		ExternalActorId:  "remote-id",
	}
	path, err := q.Push(LaneInbox, item)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	got, err := q.Get(path)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing item")
	}
	if string(got.Payload) != `{"type":"Follow"}` {
		t.Errorf("Payload corrupted: %s", got.Payload)
	}
	if got.LocalActorId != "local-id" || got.ExternalActorURL != "https://social.example/users/alice" {
		t.Error("Actor references did not round-trip")
	}
	if got.NextAttemptAt.IsZero() {
		t.Error("Push should set NextAttemptAt")
	}
	if !got.Due(time.Now()) {
		t.Error("Freshly pushed item should be due")
	}
}

func TestFIFOOrder(t *testing.T) {
	q := newTestQueue(t)

	for i := 0; i < 5; i++ {
		_, err := q.Push(LaneOutbox, &Item{
			Payload: json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
		})
		if err != nil {
			t.Fatalf("Push %d failed: %v", i, err)
		}
		// Filenames order by push timestamp
		time.Sleep(time.Millisecond)
	}

	paths, err := q.List(LaneOutbox, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(paths) != 5 {
		t.Fatalf("Expected 5 items, got %d", len(paths))
	}

	for i, path := range paths {
		item, err := q.Get(path)
		if err != nil || item == nil {
			t.Fatalf("Get %s failed: %v", path, err)
		}
		var payload struct {
			Seq int `json:"seq"`
		}
		json.Unmarshal(item.Payload, &payload)
		if payload.Seq != i {
			t.Errorf("Position %d holds seq %d, FIFO order broken", i, payload.Seq)
		}
	}
}

func TestListLimit(t *testing.T) {
	q := newTestQueue(t)
	for i := 0; i < 4; i++ {
		q.Push(LaneInbox, &Item{Payload: json.RawMessage(`{}`)})
		time.Sleep(time.Millisecond)
	}

	paths, err := q.List(LaneInbox, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("Expected 2 items with limit, got %d", len(paths))
	}
}

func TestLanesAreIsolated(t *testing.T) {
	q := newTestQueue(t)
	q.Push(LaneInbox, &Item{Payload: json.RawMessage(`{}`)})

	for _, lane := range []string{LaneOutbox, LaneBackfill} {
		paths, err := q.List(lane, 0)
		if err != nil {
			t.Fatalf("List %s failed: %v", lane, err)
		}
		if len(paths) != 0 {
			t.Errorf("Lane %s should be empty, has %d items", lane, len(paths))
		}
	}
}

func TestDeleteClaims(t *testing.T) {
	q := newTestQueue(t)
	path, _ := q.Push(LaneInbox, &Item{Payload: json.RawMessage(`{}`)})

	if !q.Delete(path) {
		t.Error("First delete should succeed")
	}
	if q.Delete(path) {
		t.Error("Second delete should report the file already gone")
	}

	// A racing worker that lost the claim sees nil, nil
	item, err := q.Get(path)
	if err != nil {
		t.Errorf("Get on claimed item should not error: %v", err)
	}
	if item != nil {
		t.Error("Get on claimed item should return nil")
	}
}

func TestRetryBackoff(t *testing.T) {
	q := newTestQueue(t)
	path, _ := q.Push(LaneInbox, &Item{Payload: json.RawMessage(`{}`)})
	item, _ := q.Get(path)

	requeued, err := q.Retry(LaneInbox, path, item)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if !requeued {
		t.Fatal("First retry should requeue")
	}

	got, err := q.Get(path)
	if err != nil || got == nil {
		t.Fatalf("Item should still exist after retry: %v", err)
	}
	if got.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", got.Attempts)
	}
	if got.Due(time.Now()) {
		t.Error("Retried item should not be due immediately")
	}
	// First backoff slot is one minute
	if got.NextAttemptAt.After(time.Now().Add(2 * time.Minute)) {
		t.Error("First backoff should be around one minute")
	}
}

func TestRetryExhaustionMovesToFailedLane(t *testing.T) {
	q := newTestQueue(t)
	path, _ := q.Push(LaneInbox, &Item{Payload: json.RawMessage(`{}`)})
	item, _ := q.Get(path)
	item.Attempts = MaxAttempts - 1

	requeued, err := q.Retry(LaneInbox, path, item)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if requeued {
		t.Fatal("Exhausted item should not be requeued")
	}

	paths, _ := q.List(LaneInbox, 0)
	if len(paths) != 0 {
		t.Errorf("Lane should be empty after giving up, has %d items", len(paths))
	}

	failed, err := os.ReadDir(filepath.Join(q.baseDir, LaneInbox+".failed"))
	if err != nil {
		t.Fatalf("Failed lane missing: %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("Expected 1 item in failed lane, got %d", len(failed))
	}
}

func TestFailRawPreservesCorruptItem(t *testing.T) {
	q := newTestQueue(t)
	path, _ := q.Push(LaneInbox, &Item{Payload: json.RawMessage(`{}`)})

	corrupt := []byte(`{"payload": truncated`)
	if err := os.WriteFile(path, corrupt, 0644); err != nil {
		t.Fatalf("Failed to corrupt item: %v", err)
	}

	if err := q.FailRaw(LaneInbox, path); err != nil {
		t.Fatalf("FailRaw failed: %v", err)
	}

	paths, _ := q.List(LaneInbox, 0)
	if len(paths) != 0 {
		t.Errorf("Lane should be empty after FailRaw, has %d items", len(paths))
	}

	moved, err := os.ReadFile(filepath.Join(q.baseDir, LaneInbox+".failed", filepath.Base(path)))
	if err != nil {
		t.Fatalf("Item missing from failed lane: %v", err)
	}
	if string(moved) != string(corrupt) {
		t.Errorf("Failed item was rewritten, got %s", moved)
	}
}

func TestDue(t *testing.T) {
	now := time.Now()
	past := &Item{NextAttemptAt: now.Add(-time.Minute)}
	future := &Item{NextAttemptAt: now.Add(time.Minute)}

	if !past.Due(now) {
		t.Error("Item with past NextAttemptAt should be due")
	}
	if future.Due(now) {
		t.Error("Item with future NextAttemptAt should not be due")
	}
}
