package activitypub

import (
	"log"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/util"
)

// Maintenance repairs denormalized counters and prunes federated data
// past its retention window. Incremental counter updates are
// best-effort; this job makes them exact.
type Maintenance struct {
	DB   *db.DB
	Conf *util.AppConfig
}

// Start runs both jobs once at boot and then hourly.
func (m *Maintenance) Start() {
	log.Println("Starting maintenance jobs...")
	go func() {
		m.RecalculateCounts()
		m.PruneFederated()
		ticker := time.NewTicker(time.Hour)
		for range ticker.C {
			m.RecalculateCounts()
			m.PruneFederated()
		}
	}()
}

// RecalculateCounts recomputes every note's reply, like, boost and
// related-activity counters in a single pass over notes and
// activities. Rows are only written when a value actually changed.
func (m *Maintenance) RecalculateCounts() {
	err, notes := m.DB.ReadAllNotes()
	if err != nil || notes == nil {
		log.Printf("Maintenance: Failed to read notes: %v", err)
		return
	}
	err, activities := m.DB.ReadAllActivities()
	if err != nil || activities == nil {
		log.Printf("Maintenance: Failed to read activities: %v", err)
		return
	}

	// Group once, look up per note
	replies := make(map[string]int)
	related := make(map[string]int)
	for i := range *notes {
		if parent := (*notes)[i].InReplyToURI; parent != "" {
			replies[parent]++
		}
	}
	for i := range *activities {
		if obj := (*activities)[i].ObjectURI; obj != "" {
			related[obj]++
		}
	}

	fixed := 0
	for i := range *notes {
		note := &(*notes)[i]

		replyCount := replies[note.ObjectURI]
		likeCount := len(note.LikedBy)
		boostCount := len(note.BoostedBy)
		relatedCount := related[note.ObjectURI]

		if note.ReplyCount == replyCount && note.LikeCount == likeCount &&
			note.BoostCount == boostCount && note.RelatedCount == relatedCount {
			continue
		}

		note.ReplyCount = replyCount
		note.LikeCount = likeCount
		note.BoostCount = boostCount
		note.RelatedCount = relatedCount
		if err := m.DB.UpdateNote(note); err != nil {
			log.Printf("Maintenance: Failed to fix counts for %s: %v", note.ObjectURI, err)
			continue
		}
		fixed++
	}

	if fixed > 0 {
		log.Printf("Maintenance: Repaired counters on %d notes", fixed)
	}
}

// PruneFederated deletes remote activities and notes beyond their
// retention windows. Local entries and actors are never touched; a
// zero retention disables the respective pruning.
func (m *Maintenance) PruneFederated() {
	if days := m.Conf.Conf.RetentionActivities; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		if err := m.DB.DeleteFederatedActivitiesOlderThan(cutoff); err != nil {
			log.Printf("Maintenance: Failed to prune activities: %v", err)
		}
	}

	if days := m.Conf.Conf.RetentionEntries; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		err, notes := m.DB.ReadFederatedNotesOlderThan(cutoff)
		if err != nil || notes == nil {
			return
		}
		pruned := 0
		for i := range *notes {
			if err := m.DB.DeleteNote((*notes)[i].Id); err != nil {
				log.Printf("Maintenance: Failed to prune note %s: %v", (*notes)[i].Id, err)
				continue
			}
			pruned++
		}
		if pruned > 0 {
			log.Printf("Maintenance: Pruned %d federated notes", pruned)
		}
	}
}
