package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/deemkeen/mammut/queue"
	"github.com/gin-gonic/gin"
)

// immediateTypes are processed inline with a 200; everything else is
// queued and answered with 202.
var immediateTypes = map[string]bool{
	"Follow": true,
	"Accept": true,
	"Reject": true,
}

// HandleInbox processes a signed activity addressed to one local
// account. Status taxonomy: 200 processed, 202 queued, 400 malformed,
// 401 bad signature, 403 blocked, 404 unknown actor.
func (s *Server) HandleInbox(c *gin.Context, handle string, body []byte) {
	err, local := s.DB.ReadAccByUsername(handle)
	if err != nil || local == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown actor"})
		return
	}

	var activity map[string]interface{}
	if err := json.Unmarshal(body, &activity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid activity"})
		return
	}
	activityType, _ := activity["type"].(string)
	actorURI, _ := activity["actor"].(string)
	if activityType == "" || actorURI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid activity"})
		return
	}

	if c.GetHeader("Signature") == "" {
		log.Printf("Web: Missing HTTP signature on %s for %s", activityType, handle)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing signature"})
		return
	}
	signerURI, err := s.Verifier.VerifyRequest(c.Request)
	if err != nil {
		log.Printf("Web: Signature verification failed: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}
	// Deletes of gone actors cannot be re-verified against their key;
	// any other actor/signer mismatch is rejected
	if signerURI != actorURI && activityType != "Delete" {
		log.Printf("Web: Signer %s does not match actor %s", signerURI, actorURI)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	remote, err := s.Pipeline.Resolver.Resolve(actorURI, false)
	if err != nil || remote == nil {
		if activityType == "Delete" {
			// A Delete for an actor we never stored needs no work
			c.Status(http.StatusOK)
			return
		}
		log.Printf("Web: Failed to resolve actor %s: %v", actorURI, err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown actor"})
		return
	}

	if remote.Saved {
		if err, block := s.DB.ReadBlock(local.Id, remote.Id); err == nil && block != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "Blocked"})
			return
		}
	}

	if immediateTypes[activityType] {
		if _, err := s.Pipeline.Process(local, remote, body); err != nil {
			log.Printf("Web: Failed to process %s: %v", activityType, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Processing failed"})
			return
		}
		c.Status(http.StatusOK)
		return
	}

	if _, err := s.Queue.Push(queue.LaneInbox, &queue.Item{
		Payload:          body,
		LocalActorId:     local.Id.String(),
		ExternalActorURL: remote.ActorURI,
		ExternalActorId:  remote.Id.String(),
	}); err != nil {
		log.Printf("Web: Failed to queue %s: %v", activityType, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Queueing failed"})
		return
	}
	c.Status(http.StatusAccepted)
}

// HandleSharedInbox routes a shared-inbox delivery to the addressed
// local account, falling back to follower lookup for fan-in content.
func (s *Server) HandleSharedInbox(c *gin.Context, body []byte) {
	var activity map[string]interface{}
	if err := json.Unmarshal(body, &activity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid activity"})
		return
	}

	handle := s.targetHandle(activity)
	if handle == "" {
		// Nothing here is addressed to us; acknowledge and move on
		log.Printf("Web: Shared inbox could not route %v activity", activity["type"])
		c.Status(http.StatusAccepted)
		return
	}

	log.Printf("Web: Shared inbox routing to %s", handle)
	s.HandleInbox(c, handle, body)
}

// targetHandle extracts the local account a shared-inbox activity is
// meant for: addressing first, then the Follow object, then whichever
// local account follows the sending actor.
func (s *Server) targetHandle(activity map[string]interface{}) string {
	for _, field := range []string{"to", "cc"} {
		for _, addr := range asList(activity[field]) {
			if handle := s.localHandleOf(addr); handle != "" {
				return handle
			}
		}
	}

	if objStr, ok := activity["object"].(string); ok {
		if handle := s.localHandleOf(objStr); handle != "" {
			return handle
		}
	}

	actorURI, _ := activity["actor"].(string)
	if actorURI == "" {
		return ""
	}
	err, remote := s.DB.ReadRemoteAccountByURI(actorURI)
	if err != nil || remote == nil {
		return ""
	}
	err, follows := s.DB.ReadFollowersOf(remote.Id)
	if err != nil || follows == nil || len(*follows) == 0 {
		return ""
	}
	err, local := s.DB.ReadAccById((*follows)[0].AccountId)
	if err != nil || local == nil {
		return ""
	}
	return local.Username
}

// localHandleOf maps a local actor or followers URI onto its username.
func (s *Server) localHandleOf(uri string) string {
	prefix := "https://" + s.Conf.Domain() + "/users/"
	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	handle := strings.TrimPrefix(uri, prefix)
	if i := strings.IndexByte(handle, '/'); i >= 0 {
		handle = handle[:i]
	}
	return handle
}

func asList(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []interface{}:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
