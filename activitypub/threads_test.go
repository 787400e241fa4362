package activitypub

import (
	"fmt"
	"testing"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

func newThreadCounter(t *testing.T) (*ThreadCounter, *db.DB) {
	database := newTestDB(t)
	return &ThreadCounter{DB: database, Conf: newTestConf()}, database
}

func storeChainNote(t *testing.T, database *db.DB, uri, inReplyTo string) *domain.Note {
	note := &domain.Note{
		Id:           uuid.New(),
		ObjectURI:    uri,
		ObjectType:   "Note",
		Content:      "chain",
		InReplyToURI: inReplyTo,
		Published:    time.Now(),
		CreatedAt:    time.Now(),
	}
	if err := database.CreateNote(note); err != nil {
		t.Fatalf("CreateNote failed: %v", err)
	}
	return note
}

func TestIncrementWalksAncestors(t *testing.T) {
	tc, database := newThreadCounter(t)

	root := storeChainNote(t, database, "https://social.example/notes/root", "")
	mid := storeChainNote(t, database, "https://social.example/notes/mid", root.ObjectURI)
	leaf := storeChainNote(t, database, "https://social.example/notes/leaf", mid.ObjectURI)

	// A reply to the leaf counts on every ancestor
	tc.Increment(leaf.ObjectURI)

	for _, id := range []uuid.UUID{root.Id, mid.Id, leaf.Id} {
		err, got := database.ReadNoteById(id)
		if err != nil || got == nil {
			t.Fatalf("ReadNoteById failed: %v", err)
		}
		if got.ReplyCount != 1 {
			t.Errorf("Note %s should have reply count 1, got %d", got.ObjectURI, got.ReplyCount)
		}
	}
}

func TestDecrementClampsAtZero(t *testing.T) {
	tc, database := newThreadCounter(t)
	note := storeChainNote(t, database, "https://social.example/notes/solo", "")

	tc.Decrement(note.ObjectURI)
	tc.Decrement(note.ObjectURI)

	err, got := database.ReadNoteById(note.Id)
	if err != nil || got.ReplyCount != 0 {
		t.Errorf("Reply count must never go negative, got %d", got.ReplyCount)
	}
}

func TestAdjustStopsOnCycle(t *testing.T) {
	tc, database := newThreadCounter(t)

	a := storeChainNote(t, database, "https://social.example/notes/cyc-a", "https://social.example/notes/cyc-b")
	b := storeChainNote(t, database, "https://social.example/notes/cyc-b", a.ObjectURI)

	// Must terminate, and each cycle member is counted at most once
	tc.Increment(a.ObjectURI)

	err, gotA := database.ReadNoteById(a.Id)
	if err != nil || gotA.ReplyCount != 1 {
		t.Errorf("Expected count 1 on first cycle member, got %d", gotA.ReplyCount)
	}
	err, gotB := database.ReadNoteById(b.Id)
	if err != nil || gotB.ReplyCount != 1 {
		t.Errorf("Expected count 1 on second cycle member, got %d", gotB.ReplyCount)
	}
}

func TestAdjustStopsAtUnknownParent(t *testing.T) {
	tc, database := newThreadCounter(t)
	note := storeChainNote(t, database, "https://social.example/notes/orphan", "https://social.example/notes/gone")

	tc.Increment(note.ObjectURI)

	err, got := database.ReadNoteById(note.Id)
	if err != nil || got.ReplyCount != 1 {
		t.Errorf("Known note should still be counted, got %d", got.ReplyCount)
	}
}

func TestResolveByIdAndURI(t *testing.T) {
	tc, database := newThreadCounter(t)

	id := uuid.New()
	note := &domain.Note{
		Id:         id,
		ObjectURI:  fmt.Sprintf("https://mammut.test/objects/%s", id),
		ObjectType: "Note",
		Local:      true,
		Published:  time.Now(),
		CreatedAt:  time.Now(),
	}
	if err := database.CreateNote(note); err != nil {
		t.Fatalf("CreateNote failed: %v", err)
	}

	if got := tc.resolve(id.String()); got == nil || got.Id != id {
		t.Error("resolve should find notes by bare id")
	}
	if got := tc.resolve(note.ObjectURI); got == nil || got.Id != id {
		t.Error("resolve should find notes by object URI")
	}
	if got := tc.resolve(fmt.Sprintf("https://mammut.test/notes/%s", id)); got == nil || got.Id != id {
		t.Error("resolve should strip local note URLs down to the id")
	}
	if got := tc.resolve("https://social.example/notes/unknown"); got != nil {
		t.Error("resolve should return nil for unknown refs")
	}
}
