package fingerprint

import (
	"strings"
	"testing"
)

func TestHashIsDeterministicAndKeyed(t *testing.T) {
	a := NewHasher("key-a")
	b := NewHasher("key-b")

	if a.Hash("device-1") != a.Hash("  device-1 ") {
		t.Fatal("expected whitespace-insensitive hash")
	}
	if a.Hash("device-1") == b.Hash("device-1") {
		t.Fatal("expected different keys to produce different digests")
	}
	if len(a.Hash("device-1")) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a.Hash("device-1")))
	}
	if a.Hash("   ") != "" {
		t.Fatal("expected blank fingerprint to hash to empty string")
	}
}

func TestLongKeyIsAccepted(t *testing.T) {
	h := NewHasher(strings.Repeat("k", 200))
	if h.Hash("x") == "" {
		t.Fatal("expected digest")
	}
}
