package activitypub

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/queue"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const publicSentinel = "https://www.w3.org/ns/activitystreams#Public"

// DomainLimiter throttles outbound deliveries per remote hostname.
// Shared across all delivery workers; the limiter map is the one piece
// of delivery state needing cross-worker atomicity.
type DomainLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	perMinute int
}

func NewDomainLimiter(perMinute int) *DomainLimiter {
	return &DomainLimiter{
		limiters:  make(map[string]*rate.Limiter),
		perMinute: perMinute,
	}
}

// Allow reserves one delivery slot for the host, or reports that the
// host is currently over its per-minute budget.
func (l *DomainLimiter) Allow(host string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// DeliveryReport summarizes one fan-out run.
type DeliveryReport struct {
	Delivered   int
	Failed      int // permanent failures, not retried
	Retryable   int // transient failures (5xx, 429, network)
	RateLimited int // skipped by the domain limiter, retried next attempt
}

// NeedsRetry reports whether the queue item should run again.
func (r *DeliveryReport) NeedsRetry() bool {
	return r.Retryable > 0 || r.RateLimited > 0
}

// Deliverer fans locally-authored activities out to remote inboxes:
// recipient expansion, inbox dedup, per-domain rate limiting, signed
// concurrent POSTs.
type Deliverer struct {
	DB      *db.DB
	Conf    *util.AppConfig
	Limiter *DomainLimiter
	Client  *http.Client
}

// Deliver processes one outbox queue item. The returned error is
// non-nil only when no actor or key material was resolvable at all,
// which is the retryable job-level condition; per-inbox failures are
// reported, not raised.
func (d *Deliverer) Deliver(item *queue.Item) (*DeliveryReport, error) {
	var activity map[string]interface{}
	if err := json.Unmarshal(item.Payload, &activity); err != nil {
		return nil, fmt.Errorf("failed to parse activity payload: %w", err)
	}

	localId, err := uuid.Parse(item.LocalActorId)
	if err != nil {
		return nil, fmt.Errorf("bad local actor id: %w", err)
	}
	err, local := d.DB.ReadAccById(localId)
	if err != nil || local == nil {
		return nil, fmt.Errorf("local actor %s not found", item.LocalActorId)
	}

	privateKey, err := ParsePrivateKey(local.WebPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	keyID := fmt.Sprintf("%s#main-key", local.ActorURI(d.Conf.Domain()))

	inboxes := d.expandRecipients(activity, local)
	if item.ExternalActorURL != "" {
		if inbox := d.directInbox(local, item.ExternalActorURL); inbox != "" {
			inboxes = append(inboxes, inbox)
		}
	}
	inboxes = dedupStrings(inboxes)

	report := &DeliveryReport{}
	if len(inboxes) == 0 {
		return report, nil
	}

	chunkSize := d.Conf.Conf.DeliveryConcurrency
	if chunkSize <= 0 {
		chunkSize = 10
	}

	for start := 0; start < len(inboxes); start += chunkSize {
		end := start + chunkSize
		if end > len(inboxes) {
			end = len(inboxes)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, inbox := range inboxes[start:end] {
			host := util.HostOf(inbox)
			if host == "" {
				report.Failed++
				continue
			}
			if !d.Limiter.Allow(host) {
				log.Printf("Delivery: %s rate limited, retrying on next attempt", inbox)
				report.RateLimited++
				continue
			}

			wg.Add(1)
			go func(inbox string) {
				defer wg.Done()
				retryable, err := d.sendOne(inbox, item.Payload, privateKey, keyID)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					report.Delivered++
				} else if retryable {
					log.Printf("Delivery: Transient failure for %s: %v", inbox, err)
					report.Retryable++
				} else {
					log.Printf("Delivery: Permanent failure for %s: %v", inbox, err)
					report.Failed++
				}
			}(inbox)
		}
		wg.Wait()
	}

	log.Printf("Delivery: %d delivered, %d failed, %d retryable, %d rate limited",
		report.Delivered, report.Failed, report.Retryable, report.RateLimited)
	return report, nil
}

// expandRecipients turns the activity's merged to+cc into inbox URLs:
// the public sentinel is dropped, the local followers collection is
// expanded (minus blocked actors), direct mentions resolve to their
// inbox. Shared inboxes collapse naturally on dedup.
func (d *Deliverer) expandRecipients(activity map[string]interface{}, local *domain.Account) []string {
	addrs := append(asStringList(activity["to"]), asStringList(activity["cc"])...)
	followersURI := local.FollowersURI(d.Conf.Domain())

	var inboxes []string
	for _, addr := range addrs {
		switch addr {
		case publicSentinel:
		case followersURI:
			inboxes = append(inboxes, d.followerInboxes(local)...)
		default:
			if inbox := d.directInbox(local, addr); inbox != "" {
				inboxes = append(inboxes, inbox)
			}
		}
	}
	return inboxes
}

func (d *Deliverer) followerInboxes(local *domain.Account) []string {
	err, follows := d.DB.ReadFollowersOf(local.Id)
	if err != nil || follows == nil {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(*follows))
	for _, f := range *follows {
		ids = append(ids, f.AccountId)
	}
	err, accounts := d.DB.ReadRemoteAccountsByIds(ids)
	if err != nil || accounts == nil {
		return nil
	}

	var inboxes []string
	for i := range *accounts {
		acc := &(*accounts)[i]
		if err, block := d.DB.ReadBlock(local.Id, acc.Id); err == nil && block != nil {
			continue
		}
		if inbox := acc.DeliveryInbox(); inbox != "" {
			inboxes = append(inboxes, inbox)
		}
	}
	return inboxes
}

func (d *Deliverer) directInbox(local *domain.Account, actorURI string) string {
	err, remote := d.DB.ReadRemoteAccountByURI(actorURI)
	if err != nil || remote == nil {
		return ""
	}
	if err, block := d.DB.ReadBlock(local.Id, remote.Id); err == nil && block != nil {
		return ""
	}
	return remote.DeliveryInbox()
}

// sendOne signs and POSTs the activity to one inbox. The bool reports
// whether a failure is transient (retry) or permanent.
func (d *Deliverer) sendOne(inboxURI string, body []byte, privateKey *rsa.PrivateKey, keyID string) (bool, error) {
	req, err := http.NewRequest("POST", inboxURI, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	// Same key, different target: every inbox gets its own signature
	if err := SignRequest(req, privateKey, keyID, body); err != nil {
		return false, fmt.Errorf("failed to sign request: %w", err)
	}

	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
