package activitypub

import (
	"log"
	"strings"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

// maxThreadDepth bounds reply-chain walks so a crafted reply cycle can
// never spin the counter forever.
const maxThreadDepth = 64

// ThreadCounter maintains the denormalized reply counts along a reply
// chain. A reply bumps every ancestor up to the thread root.
type ThreadCounter struct {
	DB   *db.DB
	Conf *util.AppConfig
}

// Increment adds one reply to the object behind ref and to all of its
// ancestors.
func (t *ThreadCounter) Increment(ref string) {
	t.adjust(ref, 1)
}

// Decrement removes one reply from the object behind ref and from all
// of its ancestors.
func (t *ThreadCounter) Decrement(ref string) {
	t.adjust(ref, -1)
}

func (t *ThreadCounter) adjust(ref string, delta int) {
	seen := make(map[string]bool)
	for depth := 0; ref != "" && depth < maxThreadDepth; depth++ {
		if seen[ref] {
			log.Printf("Threads: Reply cycle detected at %s, stopping", ref)
			return
		}
		seen[ref] = true

		note := t.resolve(ref)
		if note == nil {
			return
		}

		note.ReplyCount += delta
		if note.ReplyCount < 0 {
			note.ReplyCount = 0
		}
		if err := t.DB.UpdateNote(note); err != nil {
			log.Printf("Threads: Failed to update reply count for %s: %v", note.ObjectURI, err)
			return
		}

		ref = note.InReplyToURI
	}
}

// resolve finds a local note by id, by object URI, or by stripping a
// local /notes/ URL down to its id.
func (t *ThreadCounter) resolve(ref string) *domain.Note {
	if id, err := uuid.Parse(ref); err == nil {
		if err, note := t.DB.ReadNoteById(id); err == nil && note != nil {
			return note
		}
		return nil
	}

	if err, note := t.DB.ReadNoteByObjectURI(ref); err == nil && note != nil {
		return note
	}

	if t.Conf != nil {
		prefix := "https://" + t.Conf.Domain() + "/notes/"
		if strings.HasPrefix(ref, prefix) {
			if id, err := uuid.Parse(strings.TrimPrefix(ref, prefix)); err == nil {
				if err, note := t.DB.ReadNoteById(id); err == nil && note != nil {
					return note
				}
			}
		}
	}
	return nil
}
