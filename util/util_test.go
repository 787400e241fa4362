package util

import (
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase passthrough", "alice", "alice"},
		{"uppercase", "Alice", "alice"},
		{"spaces collapse", "hello  world", "hello-world"},
		{"special characters", "user@host!", "user-host"},
		{"leading and trailing junk", "--alice--", "alice"},
		{"dots", "social.example.com", "social-example-com"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.input); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRemoteSlug(t *testing.T) {
	got := RemoteSlug("alice", "social.example")
	want := "alice-at-social-example"
	if got != want {
		t.Errorf("RemoteSlug = %q, want %q", got, want)
	}
}

func TestActivityKeyStable(t *testing.T) {
	uri := "https://social.example/activities/123"

	first := ActivityKey(uri)
	second := ActivityKey(uri)
	if first != second {
		t.Errorf("ActivityKey is not stable: %q vs %q", first, second)
	}
	if len(first) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(first))
	}
	if other := ActivityKey("https://social.example/activities/124"); other == first {
		t.Error("Different URIs must not collide")
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"https://social.example/users/alice", "social.example"},
		{"https://social.example:8443/users/alice", "social.example"},
		{"not a uri", ""},
	}
	for _, tt := range tests {
		if got := HostOf(tt.uri); got != tt.want {
			t.Errorf("HostOf(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestNormalizeInput(t *testing.T) {
	got := NormalizeInput("hello\n<world>")
	if strings.Contains(got, "\n") {
		t.Error("Newlines should be replaced")
	}
	if strings.Contains(got, "<") {
		t.Error("HTML should be escaped")
	}
}

func TestGeneratePemKeypair(t *testing.T) {
	keys := GeneratePemKeypair()

	privBlock, _ := pem.Decode([]byte(keys.Private))
	if privBlock == nil {
		t.Fatal("Private key is not valid PEM")
	}
	if _, err := x509.ParsePKCS1PrivateKey(privBlock.Bytes); err != nil {
		t.Fatalf("Failed to parse generated private key: %v", err)
	}

	pubBlock, _ := pem.Decode([]byte(keys.Public))
	if pubBlock == nil {
		t.Fatal("Public key is not valid PEM")
	}
	if _, err := x509.ParsePKIXPublicKey(pubBlock.Bytes); err != nil {
		t.Fatalf("Failed to parse generated public key: %v", err)
	}
}

func TestGetNameAndVersion(t *testing.T) {
	nv := GetNameAndVersion()
	if !strings.HasPrefix(nv, Name) {
		t.Errorf("Expected prefix %q, got %q", Name, nv)
	}
}
