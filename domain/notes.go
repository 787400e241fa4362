package domain

import (
	"github.com/google/uuid"
	"time"
)

// PollOption is one answer of a Question object.
type PollOption struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Note is a federated content object (Note, Article or Question).
// Either AccountId (local author) or RemoteAccountId (remote author)
// is set, never both. The denormalized counters are maintained
// incrementally by the inbox pipeline and repaired exactly by the
// maintenance job.
type Note struct {
	Id              uuid.UUID
	ObjectURI       string
	ObjectType      string // Note, Article, Question
	AccountId       uuid.UUID
	RemoteAccountId uuid.UUID
	AttributedTo    string
	Title           string // Article headline / Question name
	Content         string
	Summary         string
	Sensitive       bool
	InReplyToURI    string
	QuoteURI        string
	MentionedURLs   []string
	LikedBy         []string // actor URIs
	BoostedBy       []string // actor URIs
	LikeCount       int
	BoostCount      int
	ReplyCount      int
	RelatedCount    int
	RawJSON         string // cached outbound representation
	Local           bool
	Published       time.Time
	CreatedAt       time.Time

	// Question fields
	PollOptions []PollOption
	VotersCount int
	PollEndsAt  *time.Time
}

// HasLikeFrom reports whether the actor URI already appears in LikedBy.
func (n *Note) HasLikeFrom(actorURI string) bool {
	for _, a := range n.LikedBy {
		if a == actorURI {
			return true
		}
	}
	return false
}

// HasBoostFrom reports whether the actor URI already appears in BoostedBy.
func (n *Note) HasBoostFrom(actorURI string) bool {
	for _, a := range n.BoostedBy {
		if a == actorURI {
			return true
		}
	}
	return false
}
