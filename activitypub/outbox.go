package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/queue"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

// Outbox builds locally-authored activities, caches their outbound
// JSON and hands them to the delivery queue. The synchronous send path
// is reserved for handshake responses (Accept), everything else goes
// through the outbox lane.
type Outbox struct {
	DB     *db.DB
	Conf   *util.AppConfig
	Queue  *queue.Queue
	Client *http.Client
}

// SendActivity signs and POSTs an activity to one remote inbox.
func (o *Outbox) SendActivity(activity interface{}, inboxURI string, localAccount *domain.Account) error {
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	return o.SendRaw(activityJSON, inboxURI, localAccount)
}

// SendRaw signs and POSTs a pre-marshaled activity document.
func (o *Outbox) SendRaw(activityJSON []byte, inboxURI string, localAccount *domain.Account) error {
	req, err := http.NewRequest("POST", inboxURI, bytes.NewReader(activityJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	privateKey, err := ParsePrivateKey(localAccount.WebPrivateKey)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	keyID := fmt.Sprintf("%s#main-key", localAccount.ActorURI(o.Conf.Domain()))
	if err := SignRequest(req, privateKey, keyID, activityJSON); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	client := o.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	log.Printf("Outbox: Delivered to %s (status: %d)", inboxURI, resp.StatusCode)
	return nil
}

// SendAccept sends an Accept wrapping the given object (a Follow or a
// QuoteRequest) back to the remote actor's inbox. Fire-and-forget:
// callers log failures, nothing retries.
func (o *Outbox) SendAccept(localAccount *domain.Account, remoteActor *domain.RemoteAccount, object interface{}) error {
	domainName := o.Conf.Domain()
	accept := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("https://%s/activities/%s", domainName, uuid.New().String()),
		"type":     "Accept",
		"actor":    localAccount.ActorURI(domainName),
		"object":   object,
	}
	return o.SendActivity(accept, remoteActor.InboxURI, localAccount)
}

// SendFollow sends a Follow to a remote actor. The relationship is
// stored pending until the Accept comes back.
func (o *Outbox) SendFollow(localAccount *domain.Account, remoteActor *domain.RemoteAccount) error {
	domainName := o.Conf.Domain()
	followID := fmt.Sprintf("https://%s/activities/%s", domainName, uuid.New().String())

	follow := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       followID,
		"type":     "Follow",
		"actor":    localAccount.ActorURI(domainName),
		"object":   remoteActor.ActorURI,
	}

	if err := o.DB.EnsureRemoteAccount(remoteActor); err != nil {
		return fmt.Errorf("failed to store remote account: %w", err)
	}
	remoteActor.AddCollection(domain.CollectionPending)
	if err := o.DB.UpdateRemoteAccount(remoteActor); err != nil {
		return fmt.Errorf("failed to tag remote account: %w", err)
	}

	followRecord := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       localAccount.Id,
		TargetAccountId: remoteActor.Id,
		URI:             followID,
		Accepted:        false, // pending until Accept received
		CreatedAt:       time.Now(),
	}
	if err := o.DB.CreateFollow(followRecord); err != nil {
		return fmt.Errorf("failed to store follow: %w", err)
	}

	followJSON, err := json.Marshal(follow)
	if err != nil {
		return fmt.Errorf("failed to marshal follow: %w", err)
	}
	_, err = o.Queue.Push(queue.LaneOutbox, &queue.Item{
		Payload:          followJSON,
		LocalActorId:     localAccount.Id.String(),
		ExternalActorURL: remoteActor.ActorURI,
		ExternalActorId:  remoteActor.Id.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to queue follow delivery: %w", err)
	}

	log.Printf("Outbox: Queued Follow of %s for %s", remoteActor.ActorURI, localAccount.Username)
	return nil
}

// BuildNoteDoc produces the canonical outbound object document of a
// local note.
func (o *Outbox) BuildNoteDoc(note *domain.Note, localAccount *domain.Account) map[string]interface{} {
	domainName := o.Conf.Domain()
	actorURI := localAccount.ActorURI(domainName)

	doc := map[string]interface{}{
		"id":           note.ObjectURI,
		"type":         note.ObjectType,
		"attributedTo": actorURI,
		"content":      note.Content,
		"published":    note.Published.Format(time.RFC3339),
		"to":           []string{"https://www.w3.org/ns/activitystreams#Public"},
		"cc":           []string{localAccount.FollowersURI(domainName)},
	}
	if note.Title != "" {
		doc["name"] = note.Title
	}
	if note.Summary != "" {
		doc["summary"] = note.Summary
	}
	if note.Sensitive {
		doc["sensitive"] = true
	}
	if note.InReplyToURI != "" {
		doc["inReplyTo"] = note.InReplyToURI
	}
	if note.QuoteURI != "" {
		doc["quoteUrl"] = note.QuoteURI
	}
	return doc
}

// SendCreate wraps a local note in a Create activity, records it in the
// activity log and queues fan-out delivery. The note's cached outbound
// JSON is refreshed as a side effect.
func (o *Outbox) SendCreate(note *domain.Note, localAccount *domain.Account) error {
	domainName := o.Conf.Domain()
	actorURI := localAccount.ActorURI(domainName)
	createID := fmt.Sprintf("https://%s/activities/%s", domainName, uuid.New().String())

	noteDoc := o.BuildNoteDoc(note, localAccount)
	create := map[string]interface{}{
		"@context":  "https://www.w3.org/ns/activitystreams",
		"id":        createID,
		"type":      "Create",
		"actor":     actorURI,
		"published": note.Published.Format(time.RFC3339),
		"to":        []string{"https://www.w3.org/ns/activitystreams#Public"},
		"cc":        []string{localAccount.FollowersURI(domainName)},
		"object":    noteDoc,
	}

	createJSON, err := json.Marshal(create)
	if err != nil {
		return fmt.Errorf("failed to marshal create: %w", err)
	}

	note.RawJSON = reMarshal(noteDoc)
	if err := o.DB.UpdateNote(note); err != nil {
		log.Printf("Outbox: Failed to cache outbound JSON for %s: %v", note.Id, err)
	}

	activity := &domain.Activity{
		ActivityURI:  createID,
		ActivityType: "Create",
		ActorURI:     actorURI,
		ObjectURI:    note.ObjectURI,
		RawJSON:      string(createJSON),
		Local:        true,
		CreatedAt:    time.Now(),
	}
	if err := o.DB.CreateActivity(activity); err != nil {
		return fmt.Errorf("failed to log create activity: %w", err)
	}

	_, err = o.Queue.Push(queue.LaneOutbox, &queue.Item{
		Payload:      createJSON,
		LocalActorId: localAccount.Id.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to queue delivery: %w", err)
	}

	log.Printf("Outbox: Queued Create for note %s", note.Id)
	return nil
}
