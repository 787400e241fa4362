package domain

import (
	"fmt"

	"github.com/google/uuid"
	"time"
)

// Account is a local actor. Private key material is only ever present
// on local accounts.
type Account struct {
	Id            uuid.UUID
	Username      string
	DisplayName   string
	Summary       string
	AvatarURL     string
	WebPublicKey  string
	WebPrivateKey string
	CreatedAt     time.Time
}

// ActorURI returns the canonical ActivityPub id of the account on the
// given domain.
func (a *Account) ActorURI(domain string) string {
	return fmt.Sprintf("https://%s/users/%s", domain, a.Username)
}

// FollowersURI returns the followers collection URL of the account.
func (a *Account) FollowersURI(domain string) string {
	return fmt.Sprintf("https://%s/users/%s/followers", domain, a.Username)
}
