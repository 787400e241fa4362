package activitypub

import (
	"log"
	"time"

	"github.com/deemkeen/mammut/queue"
	"github.com/deemkeen/mammut/util"
)

// workerTick is how often queue workers poll their lanes.
const workerTick = 10 * time.Second

// StartInboxWorker polls the inbox lane and runs queued activities
// through the pipeline. Multiple workers may race on the same lane;
// claiming is get+delete and the pipeline is idempotent.
func StartInboxWorker(p *Pipeline, q *queue.Queue, conf *util.AppConfig) {
	log.Println("Starting inbox worker...")
	ticker := time.NewTicker(workerTick)
	go func() {
		for range ticker.C {
			drainLane(q, queue.LaneInbox, conf.Conf.QueueBatch, func(item *queue.Item) (retry bool) {
				if err := p.ProcessItem(item); err != nil {
					log.Printf("InboxWorker: %v", err)
					return true
				}
				return false
			})
		}
	}()
}

// StartDeliveryWorker polls the outbox lane and fans activities out.
func StartDeliveryWorker(d *Deliverer, q *queue.Queue, conf *util.AppConfig) {
	log.Println("Starting delivery worker...")
	ticker := time.NewTicker(workerTick)
	go func() {
		for range ticker.C {
			drainLane(q, queue.LaneOutbox, conf.Conf.QueueBatch, func(item *queue.Item) (retry bool) {
				report, err := d.Deliver(item)
				if err != nil {
					log.Printf("DeliveryWorker: %v", err)
					return true
				}
				return report.NeedsRetry()
			})
		}
	}()
}

// StartBackfillWorker polls the backfill lane and imports recent
// history from newly-followed actors.
func StartBackfillWorker(p *Pipeline, q *queue.Queue, conf *util.AppConfig) {
	log.Println("Starting backfill worker...")
	ticker := time.NewTicker(workerTick)
	go func() {
		for range ticker.C {
			drainLane(q, queue.LaneBackfill, conf.Conf.QueueBatch, func(item *queue.Item) (retry bool) {
				if err := p.BackfillActor(item.ExternalActorURL); err != nil {
					log.Printf("BackfillWorker: %v", err)
					return true
				}
				return false
			})
		}
	}()
}

// drainLane runs one batch of due items through handle. A handler
// returning retry=true puts the item back with backoff; otherwise the
// item is deleted.
func drainLane(q *queue.Queue, lane string, batch int, handle func(*queue.Item) bool) {
	paths, err := q.List(lane, batch)
	if err != nil {
		log.Printf("Queue: Failed to list lane %s: %v", lane, err)
		return
	}

	now := time.Now()
	for _, path := range paths {
		item, err := q.Get(path)
		if err != nil {
			log.Printf("Queue: Failed to read %s: %v", path, err)
			if err := q.FailRaw(lane, path); err != nil {
				log.Printf("Queue: Failed to move %s to failed lane: %v", path, err)
			}
			continue
		}
		if item == nil {
			// Claimed by another worker
			continue
		}
		if !item.Due(now) {
			continue
		}

		if handle(item) {
			if requeued, err := q.Retry(lane, path, item); err != nil {
				log.Printf("Queue: Failed to requeue %s: %v", path, err)
			} else if !requeued {
				log.Printf("Queue: Giving up on %s after %d attempts", path, item.Attempts)
			}
			continue
		}
		q.Delete(path)
	}
}
