package web

import (
	"fmt"
	"log"
	"strings"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/queue"
	"github.com/deemkeen/mammut/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Server bundles the handlers' collaborators.
type Server struct {
	DB       *db.DB
	Conf     *util.AppConfig
	Queue    *queue.Queue
	Pipeline *activitypub.Pipeline
	Verifier *activitypub.Verifier
	Outbox   *activitypub.Outbox
}

// Router builds the gin engine with all federation and feed routes.
func (s *Server) Router() *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter limit and a 1MB body cap on the federation endpoints
	apLimiter := NewRateLimiter(rate.Limit(5), 10)
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	conf := s.Conf

	// RSS
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := GetRSS(s.DB, conf, c.Query("username"))
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	g.GET("/feed/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		feedId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.Render(404, render.String{Format: ""})
			return
		}
		rssItem, err := GetRSSItem(s.DB, conf, feedId)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rssItem})
		}
	})

	// ActivityPub object documents
	g.GET("/notes/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		noteId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Invalid note ID"})
			return
		}
		err, note := GetNoteObject(s.DB, noteId, conf)
		if err != nil {
			c.JSON(404, gin.H{"error": "Note not found"})
		} else {
			c.Render(200, render.String{Format: note})
		}
	})

	g.GET("/users/:actor", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, actor := GetActor(s.DB, c.Param("actor"), conf)
		if err != nil {
			c.Render(404, render.String{Format: actor})
		} else {
			c.Render(200, render.String{Format: actor})
		}
	})

	for _, which := range []string{"outbox", "followers", "following"} {
		which := which
		g.GET(fmt.Sprintf("/users/:actor/%s", which), func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, doc := GetCollection(s.DB, c.Param("actor"), which, conf)
			if err != nil {
				c.Render(404, render.String{Format: doc})
			} else {
				c.Render(200, render.String{Format: doc})
			}
		})
	}

	// Per-actor inbox
	g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(400, gin.H{"error": "Failed to read body"})
			return
		}
		s.HandleInbox(c, c.Param("actor"), body)
	})

	// The "@handle" path family cannot be expressed as a gin route
	// pattern (the parameter does not own its segment), so it is
	// served from the fallback handler.
	g.NoRoute(RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		path := c.Request.URL.Path
		if !strings.HasPrefix(path, "/@") {
			c.JSON(404, gin.H{"error": "Not found"})
			return
		}
		rest := strings.TrimPrefix(path, "/@")

		if c.Request.Method == "POST" && strings.HasSuffix(rest, "/inbox") {
			handle := strings.TrimSuffix(rest, "/inbox")
			body, err := c.GetRawData()
			if err != nil {
				c.JSON(400, gin.H{"error": "Failed to read body"})
				return
			}
			s.HandleInbox(c, handle, body)
			return
		}

		if c.Request.Method == "GET" && !strings.Contains(rest, "/") {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, actor := GetActor(s.DB, rest, conf)
			if err != nil {
				c.Render(404, render.String{Format: actor})
			} else {
				c.Render(200, render.String{Format: actor})
			}
			return
		}

		c.JSON(404, gin.H{"error": "Not found"})
	})

	g.POST("/sharedInbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(400, gin.H{"error": "Failed to read body"})
			return
		}
		s.HandleSharedInbox(c, body)
	})

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")

		resource := c.Query("resource")
		if resource == "" || !strings.HasPrefix(resource, "acct:") {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
			return
		}
		resource = strings.TrimPrefix(resource, "acct:")
		resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", conf.Domain()))
		err, resp := GetWebfinger(s.DB, resource, conf)
		if err != nil {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
		} else {
			c.Render(200, render.String{Format: resp})
		}
	})

	// Local note composition
	g.POST("/api/notes", maxBodySize, s.HandleCompose)

	return g
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	log.Printf("Starting federation server on %s:%d", s.Conf.Conf.Host, s.Conf.Conf.HttpPort)
	return s.Router().Run(fmt.Sprintf(":%d", s.Conf.Conf.HttpPort))
}
