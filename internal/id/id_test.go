package id

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	id := Generate("rec")

	// Check format
	if !strings.HasPrefix(id, "rec-") {
		t.Errorf("expected ID to start with 'rec-', got %s", id)
	}
	if parts := strings.Split(id, "-"); len(parts) != 3 {
		t.Errorf("expected 3 dash-separated parts, got %s", id)
	}

	// Check uniqueness
	id2 := Generate("rec")
	if id == id2 {
		t.Error("expected different IDs for consecutive calls")
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate("tts")
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
