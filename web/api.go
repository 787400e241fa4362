package web

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// composeRequest is the body of POST /api/notes.
type composeRequest struct {
	Username  string `json:"username"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Summary   string `json:"summary"`
	Sensitive bool   `json:"sensitive"`
	InReplyTo string `json:"inReplyTo"`
}

// HandleCompose creates a local note and queues its federated
// delivery. Errors surface as structured JSON, not stack traces.
func (s *Server) HandleCompose(c *gin.Context) {
	var req composeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content is required"})
		return
	}
	if req.Type == "" {
		req.Type = "Note"
	}
	if col, ok := s.Conf.CollectionForType(req.Type); !ok || !col.Enabled {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unsupported object type: %s", req.Type)})
		return
	}

	err, account := s.DB.ReadAccByUsername(req.Username)
	if err != nil || account == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown account"})
		return
	}

	noteId := uuid.New()
	now := time.Now()
	note := &domain.Note{
		Id:         noteId,
		ObjectURI:  fmt.Sprintf("https://%s/notes/%s", s.Conf.Domain(), noteId),
		ObjectType: req.Type,
		AccountId:  account.Id,
		Title:      req.Title,
		Content:    req.Content,
		Summary:    req.Summary,
		Sensitive:  req.Sensitive,
		Local:      true,
		Published:  now,
		CreatedAt:  now,
	}
	if req.InReplyTo != "" {
		if parent := ResolveLocalNote(s.DB, req.InReplyTo); parent != nil {
			note.InReplyToURI = parent.ObjectURI
		} else {
			note.InReplyToURI = req.InReplyTo
		}
	}

	if err := s.DB.CreateNote(note); err != nil {
		log.Printf("Web: Failed to store note: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store note"})
		return
	}

	if note.InReplyToURI != "" {
		s.Pipeline.Threads.Increment(note.InReplyToURI)
	}

	if err := s.Outbox.SendCreate(note, account); err != nil {
		log.Printf("Web: Failed to queue delivery for %s: %v", note.Id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue delivery"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        note.Id.String(),
		"objectUri": note.ObjectURI,
	})
}
