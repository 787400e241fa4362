package web

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestGetWebfinger(t *testing.T) {
	s, local := newTestServer(t)

	err, raw := GetWebfinger(s.DB, "admin", s.Conf)
	if err != nil {
		t.Fatalf("GetWebfinger failed: %v", err)
	}

	var jrd struct {
		Subject string `json:"subject"`
		Links   []struct {
			Rel  string `json:"rel"`
			Type string `json:"type"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal([]byte(raw), &jrd); err != nil {
		t.Fatalf("JRD is not JSON: %v", err)
	}

	if jrd.Subject != "acct:admin@mammut.test" {
		t.Errorf("Unexpected subject: %s", jrd.Subject)
	}
	if len(jrd.Links) != 1 {
		t.Fatalf("Expected 1 link, got %d", len(jrd.Links))
	}
	if jrd.Links[0].Rel != "self" || jrd.Links[0].Type != "application/activity+json" {
		t.Errorf("Unexpected link: %+v", jrd.Links[0])
	}
	if jrd.Links[0].Href != local.ActorURI(s.Conf.Domain()) {
		t.Errorf("Link should point at the actor, got %s", jrd.Links[0].Href)
	}
}

func TestGetWebfingerUnknownUser(t *testing.T) {
	s, _ := newTestServer(t)
	if err, _ := GetWebfinger(s.DB, "ghost", s.Conf); err == nil {
		t.Error("Expected error for unknown user")
	}
}

func TestWebfingerRoute(t *testing.T) {
	s, _ := newTestServer(t)

	req, _ := http.NewRequest("GET", "https://mammut.test/.well-known/webfinger?resource=acct:admin@mammut.test", nil)
	w := serve(s, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var jrd map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &jrd); err != nil {
		t.Fatalf("Response is not JSON: %v", err)
	}
	if jrd["subject"] != "acct:admin@mammut.test" {
		t.Errorf("Unexpected subject: %v", jrd["subject"])
	}

	// Missing or non-acct resources are not found
	req, _ = http.NewRequest("GET", "https://mammut.test/.well-known/webfinger", nil)
	if w := serve(s, req); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without resource, got %d", w.Code)
	}
	req, _ = http.NewRequest("GET", "https://mammut.test/.well-known/webfinger?resource=https://mammut.test/users/admin", nil)
	if w := serve(s, req); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for non-acct resource, got %d", w.Code)
	}
	req, _ = http.NewRequest("GET", "https://mammut.test/.well-known/webfinger?resource=acct:ghost@mammut.test", nil)
	if w := serve(s, req); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown user, got %d", w.Code)
	}
}
