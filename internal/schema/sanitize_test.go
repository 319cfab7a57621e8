package schema

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSanitizeFillsDefaults(t *testing.T) {
	it, fixes := Sanitize(map[string]any{})

	if it.ID == "" {
		t.Error("expected generated id")
	}
	if it.Type != TypeTask {
		t.Errorf("Type = %q, want %q", it.Type, TypeTask)
	}
	if it.Status != StatusInbox {
		t.Errorf("Status = %q, want %q", it.Status, StatusInbox)
	}
	if it.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", it.Title, DefaultTitle)
	}
	if it.CreatedAt <= 0 || it.UpdatedAt <= 0 {
		t.Errorf("timestamps not filled: created=%d updated=%d", it.CreatedAt, it.UpdatedAt)
	}
	if len(fixes) == 0 {
		t.Error("expected coercion records for an empty input")
	}
}

func TestSanitizeCoercesInvalidEnums(t *testing.T) {
	it, fixes := Sanitize(map[string]any{
		"title":  "water plants",
		"type":   "chore",
		"status": "snoozed",
	})

	if it.Type != TypeTask {
		t.Errorf("Type = %q, want coerced to %q", it.Type, TypeTask)
	}
	if it.Status != StatusInbox {
		t.Errorf("Status = %q, want coerced to %q", it.Status, StatusInbox)
	}
	if it.Title != "water plants" {
		t.Errorf("Title = %q, valid field must survive coercion of siblings", it.Title)
	}

	joined := strings.Join(fixes, "\n")
	if !strings.Contains(joined, "type:") || !strings.Contains(joined, "status:") {
		t.Errorf("fixes missing enum coercions:\n%s", joined)
	}
}

func TestSanitizeCoercesMistypedFields(t *testing.T) {
	it, _ := Sanitize(map[string]any{
		"title":      "run",
		"due_at":     "tomorrow", // wrong type, dropped
		"tags":       []any{"health", "", "health", "outside"},
		"linked_ids": 42, // wrong type, dropped
		"priority":   float64(2),
	})

	if it.DueAt != nil {
		t.Errorf("DueAt = %v, want nil for non-numeric input", *it.DueAt)
	}
	if it.LinkedIDs != nil {
		t.Errorf("LinkedIDs = %v, want nil for non-array input", it.LinkedIDs)
	}
	if diff := cmp.Diff([]string{"health", "outside"}, it.Tags); diff != "" {
		t.Errorf("tags not deduped (-want +got):\n%s", diff)
	}
	if it.Priority == nil || *it.Priority != 2 {
		t.Errorf("Priority = %v, want 2", it.Priority)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	first, _ := Sanitize(map[string]any{
		"title":       "meditate",
		"type":        "habit",
		"status":      "active",
		"frequency":   "daily",
		"completions": map[string]any{"2026-08-30": true},
		"tags":        []any{"morning"},
	})

	second, fixes := Sanitize(first.Doc())
	if len(fixes) != 0 {
		t.Errorf("re-sanitizing a sanitized item produced coercions: %v", fixes)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("sanitize not idempotent (-first +second):\n%s", diff)
	}
}

func TestNormalizeMatchesSanitize(t *testing.T) {
	it := Item{Title: "ship it", Type: "bogus", Status: "bogus"}
	out := Normalize(it)

	if out.Type != TypeTask || out.Status != StatusInbox {
		t.Errorf("Normalize gave type=%q status=%q, want task/inbox", out.Type, out.Status)
	}
	if out.ID == "" || out.CreatedAt <= 0 {
		t.Error("Normalize must fill identity and timestamps")
	}
	// The input is untouched.
	if it.ID != "" {
		t.Error("Normalize mutated its argument")
	}
}

func TestSortByUpdated(t *testing.T) {
	items := []Item{
		{ID: "b", UpdatedAt: 100},
		{ID: "a", UpdatedAt: 100},
		{ID: "c", UpdatedAt: 300},
	}
	SortByUpdated(items)

	got := []string{items[0].ID, items[1].ID, items[2].ID}
	want := []string{"c", "a", "b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestDocRoundTrip(t *testing.T) {
	due := int64(1756600000000)
	it := Item{
		ID: NewID(), Type: TypeEvent, Status: StatusActive,
		Title: "dentist", CreatedAt: 1, UpdatedAt: 2,
		DueAt: &due, Tags: []string{"health"},
	}
	back, err := FromDoc(it.Doc())
	if err != nil {
		t.Fatalf("FromDoc: %v", err)
	}
	if diff := cmp.Diff(it, back); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}
