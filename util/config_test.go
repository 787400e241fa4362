package util

import "testing"

func newConf() *AppConfig {
	c := &AppConfig{}
	c.Conf.Host = "mammut.test"
	ApplyDefaults(c)
	return c
}

func TestApplyDefaults(t *testing.T) {
	c := &AppConfig{}
	ApplyDefaults(c)

	if c.Conf.DeliveryConcurrency != 10 {
		t.Errorf("Expected delivery concurrency 10, got %d", c.Conf.DeliveryConcurrency)
	}
	if c.Conf.DomainPerMinute != 30 {
		t.Errorf("Expected 30 deliveries per minute, got %d", c.Conf.DomainPerMinute)
	}
	if c.Conf.QueueBatch != 25 {
		t.Errorf("Expected queue batch 25, got %d", c.Conf.QueueBatch)
	}
	if len(c.Conf.Collections) != 3 {
		t.Fatalf("Expected 3 default collections, got %d", len(c.Conf.Collections))
	}
}

func TestDomainPrefersSslDomain(t *testing.T) {
	c := newConf()
	if c.Domain() != "mammut.test" {
		t.Errorf("Expected host as domain, got %q", c.Domain())
	}

	c.Conf.SslDomain = "public.example"
	if c.Domain() != "public.example" {
		t.Errorf("Expected ssl domain to win, got %q", c.Domain())
	}
}

func TestCollectionForType(t *testing.T) {
	c := newConf()

	col, ok := c.CollectionForType("Note")
	if !ok {
		t.Fatal("Expected a collection for Note")
	}
	if !col.Enabled || !col.Federated {
		t.Error("Default Note collection should be enabled and federated")
	}

	if _, ok := c.CollectionForType("Video"); ok {
		t.Error("Expected no collection for Video")
	}
}

func TestIsDevHost(t *testing.T) {
	c := newConf()
	c.Conf.DevHosts = []string{"localhost", "dev.local"}

	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"localhost:8080", true},
		{"dev.local", true},
		{"social.example", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := c.IsDevHost(tt.host); got != tt.want {
			t.Errorf("IsDevHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}
