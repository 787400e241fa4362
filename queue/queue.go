package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lane names. Each lane is its own directory of JSON item files.
const (
	LaneInbox    = "inbox"
	LaneOutbox   = "outbox"
	LaneBackfill = "backfill"
)

// Backoff schedule in minutes, indexed by attempt-1 and clamped.
var backoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// MaxAttempts is the retry budget before an item moves to the failed lane.
const MaxAttempts = 10

// Item is the queue envelope written per file. Payload carries the raw
// activity document; the actor references tell the worker on whose
// behalf the item is processed.
type Item struct {
	Payload          json.RawMessage `json:"payload"`
	LocalActorId     string          `json:"local_actor_id"`
	ExternalActorURL string          `json:"external_actor_url"`
	ExternalActorId  string          `json:"external_actor_id"`
	Attempts         int             `json:"attempts"`
	NextAttemptAt    time.Time       `json:"next_attempt_at"`
}

// Queue is a durable, ordered, at-least-once file queue. Filenames are
// "{unix-nano}_{uuid}.json" so a plain lexicographic sort of the
// directory is FIFO order. There is no locking: concurrent consumers
// race on get+delete and handlers must be idempotent.
type Queue struct {
	baseDir string
}

// New creates a queue rooted at baseDir, creating the known lanes.
func New(baseDir string) (*Queue, error) {
	q := &Queue{baseDir: baseDir}
	for _, lane := range []string{LaneInbox, LaneOutbox, LaneBackfill} {
		if err := os.MkdirAll(q.laneDir(lane), 0755); err != nil {
			return nil, fmt.Errorf("failed to create queue lane %s: %w", lane, err)
		}
	}
	return q, nil
}

func (q *Queue) laneDir(lane string) string {
	return filepath.Join(q.baseDir, lane)
}

// Push appends an item to a lane and returns the absolute file path.
func (q *Queue) Push(lane string, item *Item) (string, error) {
	if item.NextAttemptAt.IsZero() {
		item.NextAttemptAt = time.Now()
	}

	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue item: %w", err)
	}

	name := fmt.Sprintf("%019d_%s.json", time.Now().UnixNano(), uuid.New().String())
	path := filepath.Join(q.laneDir(lane), name)

	// Write to a temp name first so readers never see partial items
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write queue item: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to commit queue item: %w", err)
	}

	return path, nil
}

// List returns up to limit item paths in FIFO order.
func (q *Queue) List(lane string, limit int) ([]string, error) {
	entries, err := os.ReadDir(q.laneDir(lane))
	if err != nil {
		return nil, fmt.Errorf("failed to list queue lane %s: %w", lane, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(q.laneDir(lane), name)
	}
	return paths, nil
}

// Get parses the item at path. A nil item with nil error means the file
// disappeared, i.e. another worker claimed it first.
func (q *Queue) Get(path string) (*Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue item: %w", err)
	}

	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to parse queue item %s: %w", filepath.Base(path), err)
	}
	return &item, nil
}

// Delete removes a processed item. Returns false when the file was
// already gone.
func (q *Queue) Delete(path string) bool {
	err := os.Remove(path)
	return err == nil
}

// Retry rewrites the item in place with a bumped attempt counter and
// the next slot of the backoff schedule. When the attempt budget is
// exhausted the item is moved to the failed lane instead and false is
// returned.
func (q *Queue) Retry(lane, path string, item *Item) (bool, error) {
	item.Attempts++
	if item.Attempts >= MaxAttempts {
		return false, q.Fail(lane, path, item)
	}

	idx := item.Attempts - 1
	if idx >= len(backoffMinutes) {
		idx = len(backoffMinutes) - 1
	}
	item.NextAttemptAt = time.Now().Add(time.Duration(backoffMinutes[idx]) * time.Minute)

	data, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("failed to marshal queue item: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, fmt.Errorf("failed to rewrite queue item: %w", err)
	}
	return true, nil
}

// Fail moves an abandoned item to "<lane>.failed" for operator
// inspection.
func (q *Queue) Fail(lane, path string, item *Item) error {
	failedDir := q.laneDir(lane + ".failed")
	if err := os.MkdirAll(failedDir, 0755); err != nil {
		return fmt.Errorf("failed to create failed lane: %w", err)
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item: %w", err)
	}
	target := filepath.Join(failedDir, filepath.Base(path))
	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("failed to write failed item: %w", err)
	}
	os.Remove(path)
	return nil
}

// FailRaw moves the file at path into "<lane>.failed" byte-for-byte,
// for items whose envelope no longer parses. The original content is
// what the operator needs to see.
func (q *Queue) FailRaw(lane, path string) error {
	failedDir := q.laneDir(lane + ".failed")
	if err := os.MkdirAll(failedDir, 0755); err != nil {
		return fmt.Errorf("failed to create failed lane: %w", err)
	}

	target := filepath.Join(failedDir, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("failed to move failed item: %w", err)
	}
	return nil
}

// Due reports whether the item's backoff window has elapsed.
func (i *Item) Due(now time.Time) bool {
	return !i.NextAttemptAt.After(now)
}
