package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"
)

// GetRSS renders the local notes of one account, or of everyone, as an
// RSS feed.
func GetRSS(database *db.DB, conf *util.AppConfig, username string) (string, error) {
	var notes *[]domain.Note
	var err error
	var title string
	var author string

	link := fmt.Sprintf("https://%s/feed", conf.Domain())

	if username != "" {
		err, acc := database.ReadAccByUsername(username)
		if err != nil || acc == nil {
			return "", errors.New("error retrieving account")
		}
		var readErr error
		readErr, notes = database.ReadNotesByAccountId(acc.Id)
		if readErr != nil || notes == nil {
			log.Printf("RSS: Could not get notes of %s: %v", username, readErr)
			return "", errors.New("error retrieving notes by username")
		}
		title = fmt.Sprintf("Mammut Notes - %s", username)
		author = username
		link = fmt.Sprintf("%s?username=%s", link, username)
	} else {
		err, notes = database.ReadAllNotes()
		if err != nil || notes == nil {
			log.Printf("RSS: Could not get notes: %v", err)
			return "", errors.New("error retrieving notes")
		}
		title = "All Mammut Notes"
		author = "everyone"
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: "federated notes feed",
		Author:      &feeds.Author{Name: author, Email: fmt.Sprintf("%s@%s", author, util.Name)},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, note := range *notes {
		if !note.Local {
			continue
		}
		itemTitle := note.Title
		if itemTitle == "" {
			itemTitle = note.CreatedAt.Format(util.DateTimeFormat())
		}
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      note.Id.String(),
				Title:   itemTitle,
				Link:    &feeds.Link{Href: fmt.Sprintf("https://%s/feed/%s", conf.Domain(), note.Id)},
				Content: note.Content,
				Created: note.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}

// GetRSSItem renders a single local note as a one-item feed.
func GetRSSItem(database *db.DB, conf *util.AppConfig, id uuid.UUID) (string, error) {
	err, note := database.ReadNoteById(id)
	if err != nil || note == nil || !note.Local {
		return "", errors.New("error retrieving note by id")
	}

	url := fmt.Sprintf("https://%s/feed/%s", conf.Domain(), note.Id)
	feed := &feeds.Feed{
		Title:       "Single Mammut Note",
		Link:        &feeds.Link{Href: url},
		Description: "federated notes feed",
		Created:     time.Now(),
	}

	feed.Items = []*feeds.Item{
		{
			Id:      note.Id.String(),
			Title:   note.CreatedAt.Format(util.DateTimeFormat()),
			Link:    &feeds.Link{Href: url},
			Content: note.Content,
			Created: note.CreatedAt,
		},
	}
	return feed.ToRss()
}
