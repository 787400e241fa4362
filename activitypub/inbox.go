package activitypub

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/queue"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

// sensitiveSummary is the placeholder content warning for sensitive
// objects that arrive without one.
const sensitiveSummary = "Sensitive Content"

// Pipeline processes incoming activities against local state. One
// activity runs through: block check, federation gate, dispatcher
// attempt, fallback switch, persistence tail.
type Pipeline struct {
	DB         *db.DB
	Conf       *util.AppConfig
	Queue      *queue.Queue
	Resolver   *Resolver
	Dispatcher *Dispatcher
	Outbox     *Outbox
	Threads    *ThreadCounter
	Client     *http.Client
}

// NewPipeline wires a pipeline with the built-in content handlers
// registered for every federated object type.
func NewPipeline(database *db.DB, conf *util.AppConfig, q *queue.Queue, resolver *Resolver, outbox *Outbox) *Pipeline {
	p := &Pipeline{
		DB:         database,
		Conf:       conf,
		Queue:      q,
		Resolver:   resolver,
		Outbox:     outbox,
		Dispatcher: NewDispatcher(),
		Threads:    &ThreadCounter{DB: database, Conf: conf},
	}

	handler := &contentHandler{p: p}
	for _, col := range conf.Conf.Collections {
		for _, activityType := range []string{"Create", "Update", "Delete"} {
			p.Dispatcher.Register(activityType, col.Type, handler)
		}
	}
	return p
}

// contentHandler routes dispatched content activities into the same
// application logic the fallback switch uses, so both paths share one
// admission predicate.
type contentHandler struct {
	p *Pipeline
}

func (h *contentHandler) HandleCreate(in *Inbound) (Outcome, error) { return h.p.applyCreate(in) }
func (h *contentHandler) HandleUpdate(in *Inbound) (Outcome, error) { return h.p.applyUpdate(in) }
func (h *contentHandler) HandleDelete(in *Inbound) (Outcome, error) { return h.p.applyDelete(in) }

// Process runs one inbound activity through the full state machine and
// returns its outcome.
func (p *Pipeline) Process(local *domain.Account, remote *domain.RemoteAccount, body []byte) (Outcome, error) {
	var act Activity
	if err := json.Unmarshal(body, &act); err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to parse activity: %w", err)
	}

	in := &Inbound{Body: body, Activity: act, Local: local, Remote: remote}
	if obj := in.ObjectMap(); obj != nil {
		in.ObjectType, _ = obj["type"].(string)
	}

	log.Printf("Inbox: Received %s from %s for %s", act.Type, act.Actor, local.Username)

	// Block check: activities from blocked actors vanish silently
	if remote.Saved {
		if err, block := p.DB.ReadBlock(local.Id, remote.Id); err == nil && block != nil {
			log.Printf("Inbox: Dropping %s from blocked actor %s", act.Type, remote.ActorURI)
			return OutcomeSuppressed, nil
		}
	}

	// Federation gate: object types mapped to a non-federated
	// collection are not accepted from remote servers
	if in.ObjectType != "" {
		if col, ok := p.Conf.CollectionForType(in.ObjectType); ok && (!col.Enabled || !col.Federated) {
			log.Printf("Inbox: Collection for %s is not federated, dropping", in.ObjectType)
			return OutcomeSuppressed, nil
		}
	}

	out, matched, err := p.Dispatcher.Dispatch(in)
	if err != nil {
		return out, err
	}
	if !matched {
		out, err = p.fallback(in)
		if err != nil {
			return out, err
		}
	}

	if out == OutcomeApplied {
		if err := p.persistTail(in); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (p *Pipeline) fallback(in *Inbound) (Outcome, error) {
	switch in.Activity.Type {
	case "Follow":
		return p.applyFollow(in)
	case "Accept":
		return p.applyAccept(in)
	case "Reject":
		return p.applyReject(in)
	case "Undo":
		return p.applyUndo(in)
	case "Create":
		return p.applyCreate(in)
	case "Update":
		return p.applyUpdate(in)
	case "Like":
		return p.applyLike(in)
	case "Announce":
		return p.applyAnnounce(in)
	case "Delete":
		return p.applyDelete(in)
	case "QuoteRequest":
		return p.applyQuoteRequest(in)
	default:
		log.Printf("Inbox: Unhandled activity type: %s", in.Activity.Type)
		return OutcomeIgnored, nil
	}
}

// persistTail runs after an applied handler: promote the sender if
// still ephemeral, log the activity keyed by the stable hash of its id,
// and refresh the related-activity count for non-content verbs.
func (p *Pipeline) persistTail(in *Inbound) error {
	if !in.Remote.Saved {
		if err := p.DB.EnsureRemoteAccount(in.Remote); err != nil {
			return fmt.Errorf("failed to store remote account: %w", err)
		}
	}

	if in.Activity.ID == "" {
		return nil
	}
	if err, existing := p.DB.ReadActivityByURI(in.Activity.ID); err == nil && existing != nil {
		return nil
	}

	record := &domain.Activity{
		ActivityURI:  in.Activity.ID,
		ActivityType: in.Activity.Type,
		ActorURI:     in.Activity.Actor,
		ObjectURI:    in.ObjectURI(),
		RawJSON:      string(in.Body),
		Local:        false,
		CreatedAt:    time.Now(),
	}
	if err := p.DB.CreateActivity(record); err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}

	switch in.Activity.Type {
	case "Create", "Update", "Delete":
	default:
		p.refreshRelatedCount(in.ObjectURI())
	}
	return nil
}

func (p *Pipeline) refreshRelatedCount(objectURI string) {
	if objectURI == "" {
		return
	}
	err, note := p.DB.ReadNoteByObjectURI(objectURI)
	if err != nil || note == nil {
		return
	}
	if err, count := p.DB.CountActivitiesByObjectURI(objectURI); err == nil && count != note.RelatedCount {
		note.RelatedCount = count
		if err := p.DB.UpdateNote(note); err != nil {
			log.Printf("Inbox: Failed to refresh related count for %s: %v", objectURI, err)
		}
	}
}

// admitRemote is the stray-content admission predicate: an
// externally-authored content activity is only accepted when the
// sender is followed, the local actor is addressed, or the activity
// connects to an object already known here.
func (p *Pipeline) admitRemote(in *Inbound) bool {
	if in.Remote.Saved {
		if err, f := p.DB.ReadFollowBetween(in.Local.Id, in.Remote.Id); err == nil && f != nil && f.Accepted {
			return true
		}
	}

	localURI := in.Local.ActorURI(p.Conf.Domain())
	for _, addr := range in.Audience() {
		if addr == localURI {
			return true
		}
	}

	if obj := in.ObjectMap(); obj != nil {
		if parent := refURI(obj["inReplyTo"]); parent != "" && p.Threads.resolve(parent) != nil {
			return true
		}
	}
	if uri := in.ObjectURI(); uri != "" && p.Threads.resolve(uri) != nil {
		return true
	}
	return false
}

// connected reports an established relationship in either direction.
func (p *Pipeline) connected(in *Inbound) bool {
	if !in.Remote.Saved {
		return false
	}
	if err, f := p.DB.ReadFollowBetween(in.Local.Id, in.Remote.Id); err == nil && f != nil {
		return true
	}
	if err, f := p.DB.ReadFollowBetween(in.Remote.Id, in.Local.Id); err == nil && f != nil {
		return true
	}
	return false
}

// applyFollow links the relationship in both directions, persists the
// sender (the one case ephemeral actors are always promoted) and sends
// the Accept back inline.
func (p *Pipeline) applyFollow(in *Inbound) (Outcome, error) {
	if err := p.DB.EnsureRemoteAccount(in.Remote); err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to store follower: %w", err)
	}

	in.Remote.AddCollection(domain.CollectionFollowers)
	if err := p.DB.UpdateRemoteAccount(in.Remote); err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to tag follower: %w", err)
	}

	if err, existing := p.DB.ReadFollowBetween(in.Remote.Id, in.Local.Id); err != nil || existing == nil {
		follow := &domain.Follow{
			Id:              uuid.New(),
			AccountId:       in.Remote.Id,
			TargetAccountId: in.Local.Id,
			URI:             in.Activity.ID,
			Accepted:        true,
			CreatedAt:       time.Now(),
		}
		if err := p.DB.CreateFollow(follow); err != nil {
			return OutcomeIgnored, fmt.Errorf("failed to store follow: %w", err)
		}
	}

	// Fire-and-forget: a failed Accept delivery is logged, not retried
	object := map[string]interface{}{
		"id":     in.Activity.ID,
		"type":   "Follow",
		"actor":  in.Remote.ActorURI,
		"object": in.Local.ActorURI(p.Conf.Domain()),
	}
	if err := p.Outbox.SendAccept(in.Local, in.Remote, object); err != nil {
		log.Printf("Inbox: Failed to send Accept to %s: %v", in.Remote.ActorURI, err)
	}

	log.Printf("Inbox: %s now follows %s", in.Remote.ActorURI, in.Local.Username)
	return OutcomeApplied, nil
}

// applyAccept confirms an outbound Follow: pending becomes following
// and a one-shot history backfill is queued for the actor.
func (p *Pipeline) applyAccept(in *Inbound) (Outcome, error) {
	if !in.Remote.HasCollection(domain.CollectionPending) {
		return OutcomeIgnored, nil
	}

	in.Remote.RemoveCollection(domain.CollectionPending)
	in.Remote.AddCollection(domain.CollectionFollowing)
	if err := p.DB.UpdateRemoteAccount(in.Remote); err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to promote pending follow: %w", err)
	}

	followURI := in.ObjectURI()
	if followURI != "" {
		if err := p.DB.AcceptFollowByURI(followURI); err != nil {
			log.Printf("Inbox: Failed to accept follow %s: %v", followURI, err)
		}
	} else if err, f := p.DB.ReadFollowBetween(in.Local.Id, in.Remote.Id); err == nil && f != nil {
		if err := p.DB.AcceptFollowByURI(f.URI); err != nil {
			log.Printf("Inbox: Failed to accept follow %s: %v", f.URI, err)
		}
	}

	if _, err := p.Queue.Push(queue.LaneBackfill, &queue.Item{
		Payload:          in.Body,
		LocalActorId:     in.Local.Id.String(),
		ExternalActorURL: in.Remote.ActorURI,
		ExternalActorId:  in.Remote.Id.String(),
	}); err != nil {
		log.Printf("Inbox: Failed to queue backfill for %s: %v", in.Remote.ActorURI, err)
	}

	log.Printf("Inbox: %s accepted follow from %s", in.Remote.ActorURI, in.Local.Username)
	return OutcomeApplied, nil
}

// applyReject drops the pending tag; no relationship is established.
func (p *Pipeline) applyReject(in *Inbound) (Outcome, error) {
	if !in.Remote.HasCollection(domain.CollectionPending) {
		return OutcomeIgnored, nil
	}
	in.Remote.RemoveCollection(domain.CollectionPending)
	if err := p.DB.UpdateRemoteAccount(in.Remote); err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to clear pending follow: %w", err)
	}
	if err := p.DB.DeleteFollowBetween(in.Local.Id, in.Remote.Id); err != nil {
		log.Printf("Inbox: Failed to delete rejected follow: %v", err)
	}
	log.Printf("Inbox: %s rejected follow from %s", in.Remote.ActorURI, in.Local.Username)
	return OutcomeApplied, nil
}

// applyUndo dispatches on the embedded object's type.
func (p *Pipeline) applyUndo(in *Inbound) (Outcome, error) {
	obj := in.ObjectMap()
	if obj == nil {
		return OutcomeIgnored, nil
	}
	innerType, _ := obj["type"].(string)

	switch innerType {
	case "Follow":
		if !in.Remote.Saved {
			return OutcomeIgnored, nil
		}
		in.Remote.RemoveCollection(domain.CollectionFollowers)
		if err := p.DB.UpdateRemoteAccount(in.Remote); err != nil {
			return OutcomeIgnored, fmt.Errorf("failed to untag follower: %w", err)
		}
		if followURI := refURI(obj["id"]); followURI != "" {
			if err := p.DB.DeleteFollowByURI(followURI); err != nil {
				log.Printf("Inbox: Failed to delete follow %s: %v", followURI, err)
			}
		} else if err := p.DB.DeleteFollowBetween(in.Remote.Id, in.Local.Id); err != nil {
			log.Printf("Inbox: Failed to delete follow: %v", err)
		}
		log.Printf("Inbox: %s unfollowed %s", in.Remote.ActorURI, in.Local.Username)
		return OutcomeApplied, nil

	case "Like":
		note := p.Threads.resolve(refURI(obj["object"]))
		if note == nil {
			return OutcomeIgnored, nil
		}
		kept := note.LikedBy[:0]
		for _, actor := range note.LikedBy {
			if actor != in.Remote.ActorURI {
				kept = append(kept, actor)
			}
		}
		note.LikedBy = kept
		note.LikeCount = len(note.LikedBy)
		if err := p.DB.UpdateNote(note); err != nil {
			return OutcomeIgnored, fmt.Errorf("failed to remove like: %w", err)
		}
		return OutcomeApplied, nil

	case "Announce":
		note := p.Threads.resolve(refURI(obj["object"]))
		if note == nil {
			return OutcomeIgnored, nil
		}
		kept := note.BoostedBy[:0]
		for _, actor := range note.BoostedBy {
			if actor != in.Remote.ActorURI {
				kept = append(kept, actor)
			}
		}
		note.BoostedBy = kept
		note.BoostCount = len(note.BoostedBy)
		if err := p.DB.UpdateNote(note); err != nil {
			return OutcomeIgnored, fmt.Errorf("failed to remove boost: %w", err)
		}
		return OutcomeApplied, nil
	}
	return OutcomeIgnored, nil
}

// applyLike adds the sender to the target's liked_by set. Duplicate
// likes from the same actor are a no-op.
func (p *Pipeline) applyLike(in *Inbound) (Outcome, error) {
	note := p.Threads.resolve(in.ObjectURI())
	if note == nil {
		return OutcomeIgnored, nil
	}

	if !note.HasLikeFrom(in.Remote.ActorURI) {
		note.LikedBy = append(note.LikedBy, in.Remote.ActorURI)
	}
	note.LikeCount = len(note.LikedBy)
	if err := p.DB.UpdateNote(note); err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to store like: %w", err)
	}
	return OutcomeApplied, nil
}

// applyAnnounce records a boost. Replayed Announces (same activity id)
// are suppressed before any state changes.
func (p *Pipeline) applyAnnounce(in *Inbound) (Outcome, error) {
	if in.Activity.ID != "" {
		if err, existing := p.DB.ReadActivityByURI(in.Activity.ID); err == nil && existing != nil {
			return OutcomeSuppressed, nil
		}
	}

	note, err := p.resolveOrFetchNote(in.ObjectURI(), "")
	if err != nil {
		log.Printf("Inbox: Failed to resolve boosted object %s: %v", in.ObjectURI(), err)
	}
	if note == nil {
		return OutcomeIgnored, nil
	}

	// Boosts resurface the object in timelines
	var env struct {
		Published string `json:"published"`
	}
	json.Unmarshal(in.Body, &env)
	note.Published = parsePublished(env.Published)

	if !note.HasBoostFrom(in.Remote.ActorURI) {
		note.BoostedBy = append(note.BoostedBy, in.Remote.ActorURI)
	}
	note.BoostCount = len(note.BoostedBy)
	if err := p.DB.UpdateNote(note); err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to store boost: %w", err)
	}
	return OutcomeApplied, nil
}

// applyCreate materializes a remote content object, subject to the
// admission predicate. A rejected Create leaves no trace at all.
func (p *Pipeline) applyCreate(in *Inbound) (Outcome, error) {
	obj := in.ObjectMap()
	if obj == nil {
		return OutcomeIgnored, nil
	}
	objectURI := in.ObjectURI()
	if objectURI == "" {
		return OutcomeIgnored, nil
	}

	// Only object types mapped to a configured collection are accepted
	if _, ok := p.Conf.CollectionForType(in.ObjectType); !ok {
		log.Printf("Inbox: No collection accepts %s objects, dropping %s", in.ObjectType, objectURI)
		return OutcomeSuppressed, nil
	}

	if !p.admitRemote(in) {
		log.Printf("Inbox: Admission rejected Create %s from %s", objectURI, in.Remote.ActorURI)
		return OutcomeSuppressed, nil
	}

	if err := p.DB.EnsureRemoteAccount(in.Remote); err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to store author: %w", err)
	}

	if err, existing := p.DB.ReadNoteByObjectURI(objectURI); err == nil && existing != nil {
		return OutcomeApplied, nil
	}

	note := &domain.Note{
		Id:              uuid.New(),
		ObjectURI:       objectURI,
		ObjectType:      in.ObjectType,
		RemoteAccountId: in.Remote.Id,
		AttributedTo:    in.Remote.ActorURI,
		RawJSON:         reMarshal(obj),
		Local:           false,
		Published:       parsePublished(obj["published"]),
		CreatedAt:       time.Now(),
	}
	note.Content, _ = obj["content"].(string)
	note.Title, _ = obj["name"].(string)
	note.Summary, _ = obj["summary"].(string)
	note.Sensitive, _ = obj["sensitive"].(bool)
	if note.Sensitive && note.Summary == "" {
		note.Summary = sensitiveSummary
	}
	note.MentionedURLs = mentionURLs(obj)

	if in.ObjectType == "Question" {
		note.PollOptions = pollOptionsOf(obj)
		if vc, ok := obj["votersCount"].(float64); ok {
			note.VotersCount = int(vc)
		}
		note.PollEndsAt = pollEnd(obj)
	}

	// Reply target, cycle-guarded against self-referencing objects
	var parent *domain.Note
	if replyURI := refURI(obj["inReplyTo"]); replyURI != "" && replyURI != objectURI {
		parent, _ = p.resolveOrFetchNote(replyURI, objectURI)
		if parent != nil {
			note.InReplyToURI = parent.ObjectURI
		} else {
			note.InReplyToURI = replyURI
		}
	}

	if quoteURI := quoteRefURI(obj); quoteURI != "" && quoteURI != objectURI {
		if quoted, _ := p.resolveOrFetchNote(quoteURI, objectURI); quoted != nil {
			note.QuoteURI = quoted.ObjectURI
		} else {
			note.QuoteURI = quoteURI
		}
	}

	if err := p.DB.CreateNote(note); err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to store note: %w", err)
	}

	if parent != nil {
		p.Threads.Increment(parent.ObjectURI)
		if parent.ObjectType == "Question" {
			p.recordPollVote(parent, note)
		}
	}

	log.Printf("Inbox: Stored %s %s from %s", in.ObjectType, objectURI, in.Remote.ActorURI)
	return OutcomeApplied, nil
}

// recordPollVote counts a reply to a Question as a vote when its title
// or content matches an option name.
func (p *Pipeline) recordPollVote(poll *domain.Note, reply *domain.Note) {
	choice := strings.TrimSpace(reply.Title)
	if choice == "" {
		choice = strings.TrimSpace(reply.Content)
	}
	if choice == "" {
		return
	}

	// Re-read: the reply-count bump already rewrote the poll row
	if err, fresh := p.DB.ReadNoteById(poll.Id); err == nil && fresh != nil {
		poll = fresh
	}

	for i := range poll.PollOptions {
		if strings.EqualFold(strings.TrimSpace(poll.PollOptions[i].Name), choice) {
			poll.PollOptions[i].Count++
			poll.VotersCount++
			if err := p.DB.UpdateNote(poll); err != nil {
				log.Printf("Inbox: Failed to record poll vote on %s: %v", poll.ObjectURI, err)
			}
			return
		}
	}
}

// applyUpdate patches actors or content objects. Fields absent from the
// payload are left untouched.
func (p *Pipeline) applyUpdate(in *Inbound) (Outcome, error) {
	obj := in.ObjectMap()
	if obj == nil {
		return OutcomeIgnored, nil
	}

	switch in.ObjectType {
	case "Person", "Service":
		// Profile self-updates only, and only for actors already stored
		if refURI(obj["id"]) != in.Remote.ActorURI {
			return OutcomeSuppressed, nil
		}
		if !in.Remote.Saved {
			return OutcomeSuppressed, nil
		}
		if name, ok := obj["name"].(string); ok {
			in.Remote.DisplayName = name
		}
		if summary, ok := obj["summary"].(string); ok {
			in.Remote.Summary = summary
		}
		in.Remote.LastFetchedAt = time.Now()
		if err := p.DB.UpdateRemoteAccount(in.Remote); err != nil {
			return OutcomeIgnored, fmt.Errorf("failed to update actor: %w", err)
		}
		return OutcomeApplied, nil
	}

	if _, ok := p.Conf.CollectionForType(in.ObjectType); !ok {
		return OutcomeSuppressed, nil
	}

	err, note := p.DB.ReadNoteByObjectURI(in.ObjectURI())
	if err != nil || note == nil {
		if p.connected(in) {
			// A connected sender's update of an unknown object is
			// still worth the log entry
			return OutcomeApplied, nil
		}
		return OutcomeSuppressed, nil
	}

	if content, ok := obj["content"].(string); ok {
		note.Content = content
	}
	if name, ok := obj["name"].(string); ok {
		note.Title = name
	}
	if summary, ok := obj["summary"].(string); ok {
		note.Summary = summary
	}
	if sensitive, ok := obj["sensitive"].(bool); ok {
		note.Sensitive = sensitive
	}
	note.RawJSON = reMarshal(obj)

	// Re-link the owner when the previous link is gone or stale
	if !note.Local {
		if note.RemoteAccountId == uuid.Nil {
			note.RemoteAccountId = in.Remote.Id
		} else if err, owner := p.DB.ReadRemoteAccountById(note.RemoteAccountId); err != nil || owner == nil {
			note.RemoteAccountId = in.Remote.Id
		}
	}

	if note.ObjectType == "Question" {
		if opts := pollOptionsOf(obj); opts != nil {
			note.PollOptions = opts
		}
		if vc, ok := obj["votersCount"].(float64); ok {
			note.VotersCount = int(vc)
		}
		if end := pollEnd(obj); end != nil {
			note.PollEndsAt = end
		}
	}

	if err := p.DB.UpdateNote(note); err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to update note: %w", err)
	}
	return OutcomeApplied, nil
}

// applyDelete removes an object after an ownership check. Unconnected
// senders deleting unknown objects vanish without a trace.
func (p *Pipeline) applyDelete(in *Inbound) (Outcome, error) {
	note := p.Threads.resolve(in.ObjectURI())
	if note == nil {
		if !p.connected(in) {
			return OutcomeSuppressed, nil
		}
		// Connected sender, unknown object: log the activity anyway
		return OutcomeApplied, nil
	}

	owns := false
	if in.Remote.Saved && note.RemoteAccountId == in.Remote.Id {
		owns = true
	}
	if note.AttributedTo != "" && note.AttributedTo == in.Remote.ActorURI {
		owns = true
	}
	if note.Local || !owns {
		log.Printf("Inbox: %s tried to delete %s without owning it", in.Remote.ActorURI, note.ObjectURI)
		return OutcomeSuppressed, nil
	}

	if note.InReplyToURI != "" {
		p.Threads.Decrement(note.InReplyToURI)
	}
	if err := p.DB.DeleteActivityByObjectAndType(note.ObjectURI, "Create"); err != nil {
		log.Printf("Inbox: Failed to delete Create record for %s: %v", note.ObjectURI, err)
	}
	if err := p.DB.DeleteNote(note.Id); err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to delete note: %w", err)
	}

	log.Printf("Inbox: Deleted %s on request of %s", note.ObjectURI, in.Remote.ActorURI)
	return OutcomeApplied, nil
}

// applyQuoteRequest grants consent-based quoting: if the quoted local
// object exists and quoting is allowed, the request is accepted with a
// fire-and-forget Accept.
func (p *Pipeline) applyQuoteRequest(in *Inbound) (Outcome, error) {
	note := p.Threads.resolve(in.ObjectURI())
	if note == nil || !note.Local {
		return OutcomeIgnored, nil
	}
	if !p.Conf.Conf.AllowQuotes {
		log.Printf("Inbox: Quoting disabled, dropping QuoteRequest from %s", in.Remote.ActorURI)
		return OutcomeSuppressed, nil
	}

	// Echo the request back inside the Accept per FEP-044f
	var request map[string]interface{}
	if err := json.Unmarshal(in.Body, &request); err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to parse quote request: %w", err)
	}
	delete(request, "@context")
	if err := p.Outbox.SendAccept(in.Local, in.Remote, request); err != nil {
		log.Printf("Inbox: Failed to accept quote request from %s: %v", in.Remote.ActorURI, err)
	}
	return OutcomeApplied, nil
}

// resolveOrFetchNote resolves an object reference locally and falls
// back to fetching and materializing the remote object. selfURI guards
// against objects that reference themselves.
func (p *Pipeline) resolveOrFetchNote(ref, selfURI string) (*domain.Note, error) {
	if note := p.Threads.resolve(ref); note != nil {
		return note, nil
	}
	if ref == "" || ref == selfURI || !strings.HasPrefix(ref, "http") {
		return nil, nil
	}
	// Local URLs that did not resolve above do not exist; never
	// re-fetch our own objects over the network
	if util.HostOf(ref) == p.Conf.Domain() {
		return nil, nil
	}
	return p.fetchAndMaterialize(ref)
}

// fetchAndMaterialize pulls a remote object document and stores it as
// a federated note, resolving and persisting its author.
func (p *Pipeline) fetchAndMaterialize(uri string) (*domain.Note, error) {
	doc, err := p.fetchObject(uri)
	if err != nil {
		return nil, err
	}
	return p.materializeDoc(doc, uri)
}

// materializeDoc stores a remote object document as a federated note,
// resolving and persisting its author.
func (p *Pipeline) materializeDoc(doc map[string]interface{}, uri string) (*domain.Note, error) {
	objType, _ := doc["type"].(string)
	if col, ok := p.Conf.CollectionForType(objType); !ok || !col.Federated {
		return nil, nil
	}

	attributedTo := refURI(doc["attributedTo"])
	var authorId uuid.UUID
	if attributedTo != "" {
		if author, err := p.Resolver.Resolve(attributedTo, true); err == nil && author != nil {
			authorId = author.Id
		}
	}

	objectURI := refURI(doc["id"])
	if objectURI == "" {
		objectURI = uri
	}
	if err, existing := p.DB.ReadNoteByObjectURI(objectURI); err == nil && existing != nil {
		return existing, nil
	}

	note := &domain.Note{
		Id:              uuid.New(),
		ObjectURI:       objectURI,
		ObjectType:      objType,
		RemoteAccountId: authorId,
		AttributedTo:    attributedTo,
		InReplyToURI:    refURI(doc["inReplyTo"]),
		MentionedURLs:   mentionURLs(doc),
		RawJSON:         reMarshal(doc),
		Local:           false,
		Published:       parsePublished(doc["published"]),
		CreatedAt:       time.Now(),
	}
	note.Content, _ = doc["content"].(string)
	note.Title, _ = doc["name"].(string)
	note.Summary, _ = doc["summary"].(string)
	note.Sensitive, _ = doc["sensitive"].(bool)
	if objType == "Question" {
		note.PollOptions = pollOptionsOf(doc)
		if vc, ok := doc["votersCount"].(float64); ok {
			note.VotersCount = int(vc)
		}
		note.PollEndsAt = pollEnd(doc)
	}

	if err := p.DB.CreateNote(note); err != nil {
		return nil, fmt.Errorf("failed to store fetched object: %w", err)
	}
	log.Printf("Inbox: Materialized remote object %s", objectURI)
	return note, nil
}

func (p *Pipeline) fetchObject(uri string) (map[string]interface{}, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid object URI: %w", err)
	}

	req, err := http.NewRequest("GET", uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/activity+json, application/ld+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if p.Conf.IsDevHost(parsed.Host) {
		client = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("object fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse object JSON: %w", err)
	}
	return doc, nil
}

// backfillLimit caps how many historical objects are imported per
// newly-followed actor.
const backfillLimit = 20

// BackfillActor imports the most recent objects from a newly-followed
// actor's outbox. One-shot: failures surface to the queue for retry.
func (p *Pipeline) BackfillActor(actorURI string) error {
	remote, err := p.Resolver.Resolve(actorURI, true)
	if err != nil || remote == nil {
		return fmt.Errorf("failed to resolve %s: %w", actorURI, err)
	}
	if remote.OutboxURI == "" {
		return nil
	}

	col, err := p.fetchObject(remote.OutboxURI)
	if err != nil {
		return fmt.Errorf("failed to fetch outbox of %s: %w", actorURI, err)
	}
	items, ok := col["orderedItems"].([]interface{})
	if !ok {
		if first, ok := col["first"].(string); ok {
			page, err := p.fetchObject(first)
			if err != nil {
				return fmt.Errorf("failed to fetch outbox page of %s: %w", actorURI, err)
			}
			items, _ = page["orderedItems"].([]interface{})
		}
	}

	imported := 0
	for _, raw := range items {
		if imported >= backfillLimit {
			break
		}
		act, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if t, _ := act["type"].(string); t != "Create" {
			continue
		}

		var note *domain.Note
		if obj, ok := act["object"].(map[string]interface{}); ok {
			objURI := refURI(obj["id"])
			if objURI == "" {
				continue
			}
			if err, existing := p.DB.ReadNoteByObjectURI(objURI); err == nil && existing != nil {
				continue
			}
			note, _ = p.materializeDoc(obj, objURI)
		} else if objURI := refURI(act["object"]); objURI != "" {
			note, _ = p.resolveOrFetchNote(objURI, "")
		}
		if note != nil {
			imported++
		}
	}

	log.Printf("Backfill: Imported %d objects from %s", imported, actorURI)
	return nil
}

// ProcessItem reconstructs the actors of a queued inbox item and runs
// the pipeline on its payload.
func (p *Pipeline) ProcessItem(item *queue.Item) error {
	localId, err := uuid.Parse(item.LocalActorId)
	if err != nil {
		return fmt.Errorf("bad local actor id: %w", err)
	}
	err, local := p.DB.ReadAccById(localId)
	if err != nil || local == nil {
		return fmt.Errorf("local actor %s not found", item.LocalActorId)
	}

	remote, err := p.Resolver.Resolve(item.ExternalActorURL, false)
	if err != nil || remote == nil {
		return fmt.Errorf("failed to resolve %s: %w", item.ExternalActorURL, err)
	}

	_, err = p.Process(local, remote, item.Payload)
	return err
}
