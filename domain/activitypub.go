package domain

import (
	"github.com/google/uuid"
	"time"
)

// Collection membership tags on a remote account.
const (
	CollectionFollowers = "followers"
	CollectionFollowing = "following"
	CollectionPending   = "pending"
)

// RemoteAccount represents a federated user. A freshly resolved actor
// starts out ephemeral (Saved == false); it is only written to storage
// once a trust relationship or an admitted activity requires it.
type RemoteAccount struct {
	Id             uuid.UUID
	Username       string
	Domain         string
	Slug           string
	ActorURI       string
	DisplayName    string
	Summary        string
	InboxURI       string
	SharedInboxURI string
	OutboxURI      string
	PublicKeyPem   string
	AvatarURL      string
	Collections    []string
	LastFetchedAt  time.Time
	Saved          bool
}

// HasCollection reports membership of a collection tag.
func (r *RemoteAccount) HasCollection(tag string) bool {
	for _, c := range r.Collections {
		if c == tag {
			return true
		}
	}
	return false
}

// AddCollection adds a collection tag if not already present.
func (r *RemoteAccount) AddCollection(tag string) {
	if !r.HasCollection(tag) {
		r.Collections = append(r.Collections, tag)
	}
}

// RemoveCollection drops a collection tag.
func (r *RemoteAccount) RemoveCollection(tag string) {
	out := r.Collections[:0]
	for _, c := range r.Collections {
		if c != tag {
			out = append(out, c)
		}
	}
	r.Collections = out
}

// DeliveryInbox prefers the shared inbox when the remote server
// advertises one.
func (r *RemoteAccount) DeliveryInbox() string {
	if r.SharedInboxURI != "" {
		return r.SharedInboxURI
	}
	return r.InboxURI
}

// Follow represents a follow relationship. Both directions live in the
// same table: AccountId is always the follower, TargetAccountId the
// account being followed.
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID
	TargetAccountId uuid.UUID
	URI             string // ActivityPub Follow activity URI
	CreatedAt       time.Time
	Accepted        bool
}

// Block represents a local account blocking a remote one.
type Block struct {
	Id              uuid.UUID
	AccountId       uuid.UUID
	RemoteAccountId uuid.UUID
	CreatedAt       time.Time
}

// Activity is the durable log entry written for every applied
// activity. Id is the stable hash of ActivityURI, so re-processing the
// same payload cannot create a second record.
type Activity struct {
	Id           string
	ActivityURI  string
	ActivityType string // Follow, Create, Like, Announce, Undo, ...
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Local        bool // true if originated from this server
	CreatedAt    time.Time
}
