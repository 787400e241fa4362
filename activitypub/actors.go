package activitypub

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

// actorCacheTTL is how long a cached remote account is considered
// fresh before it is re-fetched.
const actorCacheTTL = 24 * time.Hour

// maxAvatarBytes caps best-effort avatar downloads.
const maxAvatarBytes = 1 << 20

// ActorDoc represents the JSON structure of an ActivityPub actor
type ActorDoc struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Suspended         bool        `json:"suspended"`
	TootSuspended     bool        `json:"toot:suspended"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	Icon struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		URL       string `json:"url"`
	} `json:"icon"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// Resolver fetches and normalizes remote actor documents. Resolved
// actors are ephemeral until a caller (or the persist flag) promotes
// them to storage.
type Resolver struct {
	DB     *db.DB
	Conf   *util.AppConfig
	Client *http.Client
}

// Resolve returns the remote account for an actor URI. Cached entries
// fresher than 24h short-circuit the fetch. With persist set, a newly
// built account is saved immediately; otherwise the caller decides
// based on admission policy.
func (r *Resolver) Resolve(actorURI string, persist bool) (*domain.RemoteAccount, error) {
	err, cached := r.DB.ReadRemoteAccountByURI(actorURI)
	if err == nil && cached != nil {
		if time.Since(cached.LastFetchedAt) < actorCacheTTL {
			return cached, nil
		}
	}

	doc, err := r.fetchActorDoc(actorURI)
	if err != nil {
		// A stale cache entry still beats no actor at all
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}

	if doc.Suspended || doc.TootSuspended {
		return nil, fmt.Errorf("actor %s is suspended", actorURI)
	}

	if doc.ID == "" || doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	// Canonical-id redirection: the document may identify itself under
	// a different URI than the one we asked for.
	if doc.ID != actorURI {
		err, canonical := r.DB.ReadRemoteAccountByURI(doc.ID)
		if err == nil && canonical != nil {
			return canonical, nil
		}
	}

	domainName, err := extractDomain(doc.ID)
	if err != nil {
		return nil, err
	}

	acc := &domain.RemoteAccount{
		Id:             uuid.New(),
		Username:       doc.PreferredUsername,
		Domain:         domainName,
		Slug:           util.RemoteSlug(doc.PreferredUsername, domainName),
		ActorURI:       doc.ID,
		DisplayName:    doc.Name,
		Summary:        doc.Summary,
		InboxURI:       doc.Inbox,
		SharedInboxURI: doc.Endpoints.SharedInbox,
		OutboxURI:      doc.Outbox,
		PublicKeyPem:   doc.PublicKey.PublicKeyPem,
		AvatarURL:      doc.Icon.URL,
		LastFetchedAt:  time.Now(),
	}

	// Keep the id of a stale cached copy so an update stays an update
	if cached != nil {
		acc.Id = cached.Id
		acc.Collections = cached.Collections
		acc.Saved = true
	}

	r.downloadAvatar(acc)

	if persist || acc.Saved {
		if err := r.DB.EnsureRemoteAccount(acc); err != nil {
			return nil, fmt.Errorf("failed to store remote account: %w", err)
		}
	}

	return acc, nil
}

// fetchActorDoc GETs and parses an actor document, downgrading
// transport security only for configured dev hosts.
func (r *Resolver) fetchActorDoc(actorURI string) (*ActorDoc, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return nil, fmt.Errorf("invalid actor URI: %w", err)
	}

	req, err := http.NewRequest("GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/activity+json, application/ld+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if r.Conf != nil && r.Conf.IsDevHost(parsed.Host) {
		client = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var doc ActorDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	return &doc, nil
}

// downloadAvatar stores a copy of the actor's avatar under the data
// dir. Failure is never fatal; the remote URL stays on the account
// either way.
func (r *Resolver) downloadAvatar(acc *domain.RemoteAccount) {
	if acc.AvatarURL == "" || r.Conf == nil || r.Conf.Conf.DataDir == "" {
		return
	}

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Get(acc.AvatarURL)
	if err != nil {
		log.Printf("Resolver: Avatar fetch for %s failed: %v", acc.Slug, err)
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(contentType, "image/") {
		log.Printf("Resolver: Skipping avatar for %s (status %d, type %s)", acc.Slug, resp.StatusCode, contentType)
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarBytes+1))
	if err != nil || len(data) > maxAvatarBytes {
		log.Printf("Resolver: Avatar for %s too large or unreadable, skipping", acc.Slug)
		return
	}

	avatarDir := filepath.Join(r.Conf.Conf.DataDir, "avatars")
	if err := os.MkdirAll(avatarDir, 0755); err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(avatarDir, acc.Slug), data, 0644); err != nil {
		log.Printf("Resolver: Failed to write avatar for %s: %v", acc.Slug, err)
	}
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}

	return parsed.Host, nil
}
