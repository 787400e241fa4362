package web

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

// GetActor renders the ActivityPub actor document of a local account.
func GetActor(database *db.DB, actor string, conf *util.AppConfig) (error, string) {
	err, acc := database.ReadAccByUsername(actor)
	if err != nil {
		return err, "{}"
	}

	domainName := conf.Domain()
	actorURI := acc.ActorURI(domainName)

	displayName := acc.DisplayName
	if displayName == "" {
		displayName = acc.Username
	}

	doc := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        actorURI,
		"type":                      "Person",
		"preferredUsername":         acc.Username,
		"name":                      displayName,
		"summary":                   acc.Summary,
		"inbox":                     fmt.Sprintf("%s/inbox", actorURI),
		"outbox":                    fmt.Sprintf("%s/outbox", actorURI),
		"followers":                 acc.FollowersURI(domainName),
		"following":                 fmt.Sprintf("%s/following", actorURI),
		"url":                       actorURI,
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"endpoints": map[string]interface{}{
			"sharedInbox": fmt.Sprintf("https://%s/sharedInbox", domainName),
		},
		"publicKey": map[string]interface{}{
			"id":           fmt.Sprintf("%s#main-key", actorURI),
			"owner":        actorURI,
			"publicKeyPem": acc.WebPublicKey,
		},
	}
	if acc.AvatarURL != "" {
		doc["icon"] = map[string]interface{}{
			"type": "Image",
			"url":  acc.AvatarURL,
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return err, "{}"
	}
	return nil, string(data)
}

// GetNoteObject renders a local note as its ActivityPub object
// document. The cached outbound JSON is preferred when present.
func GetNoteObject(database *db.DB, noteId uuid.UUID, conf *util.AppConfig) (error, string) {
	err, note := database.ReadNoteById(noteId)
	if err != nil {
		return err, "{}"
	}
	if !note.Local {
		return fmt.Errorf("note %s is not local", noteId), "{}"
	}

	if note.RawJSON != "" {
		return nil, note.RawJSON
	}

	err, account := database.ReadAccById(note.AccountId)
	if err != nil {
		return err, "{}"
	}

	domainName := conf.Domain()
	actorURI := account.ActorURI(domainName)

	doc := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           note.ObjectURI,
		"type":         note.ObjectType,
		"attributedTo": actorURI,
		"content":      note.Content,
		"published":    note.Published.Format(time.RFC3339),
		"to":           []string{"https://www.w3.org/ns/activitystreams#Public"},
		"cc":           []string{account.FollowersURI(domainName)},
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

	data, err := json.Marshal(doc)
	if err != nil {
		return err, "{}"
	}
	return nil, string(data)
}

// GetCollection renders the outbox/followers/following collection
// metadata of a local account.
func GetCollection(database *db.DB, actor string, which string, conf *util.AppConfig) (error, string) {
	err, acc := database.ReadAccByUsername(actor)
	if err != nil {
		return err, "{}"
	}

	totalItems := 0
	switch which {
	case "outbox":
		err, notes := database.ReadNotesByAccountId(acc.Id)
		if err == nil && notes != nil {
			totalItems = len(*notes)
		}
	case "followers":
		err, follows := database.ReadFollowersOf(acc.Id)
		if err == nil && follows != nil {
			totalItems = len(*follows)
		}
	case "following":
		err, follows := database.ReadFollowingOf(acc.Id)
		if err == nil && follows != nil {
			totalItems = len(*follows)
		}
	}

	collectionURI := fmt.Sprintf("%s/%s", acc.ActorURI(conf.Domain()), which)
	doc := map[string]interface{}{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         collectionURI,
		"type":       "OrderedCollection",
		"totalItems": totalItems,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return err, "{}"
	}
	return nil, string(data)
}

// ResolveLocalNote finds a note by uuid for web handlers.
func ResolveLocalNote(database *db.DB, idStr string) *domain.Note {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil
	}
	err, note := database.ReadNoteById(id)
	if err != nil {
		return nil
	}
	return note
}
