package history

import (
	"context"
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIILeavesPlainTextAlone(t *testing.T) {
	input := "Read chapter twelve in a calm voice."
	out, changed := RedactPII(input)
	if changed || out != input {
		t.Fatalf("RedactPII(%q) = %q, changed=%v", input, out, changed)
	}
}

func TestRedactingStoreMasksOnlyThePersistedCopy(t *testing.T) {
	inner := NewInMemoryStore(8)
	store := NewRedactingStore(inner)

	err := store.Append(context.Background(), Entry{
		ID:    "e1",
		Voice: "default",
		Text:  "Call me at +1 (555) 123-9876 tomorrow.",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if !strings.Contains(entries[0].Text, "[REDACTED_PHONE]") {
		t.Fatalf("persisted text = %q, want the phone masked", entries[0].Text)
	}
	if strings.Contains(entries[0].Text, "555") {
		t.Fatalf("persisted text still carries digits: %q", entries[0].Text)
	}
}
