package schema

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPatchApplySetAndDelete(t *testing.T) {
	it, _ := Sanitize(map[string]any{
		"title":  "draft report",
		"type":   "task",
		"status": "active",
		"emoji":  "📝",
	})

	patch := Patch{
		"title": Set("final report"),
		"emoji": Delete(),
	}
	merged, _ := Sanitize(patch.Apply(it.Doc()))

	if merged.Title != "final report" {
		t.Errorf("Title = %q, want %q", merged.Title, "final report")
	}
	if merged.Emoji != nil {
		t.Errorf("Emoji = %q, want removed", *merged.Emoji)
	}
	if merged.Status != StatusActive {
		t.Errorf("Status = %q, untouched fields must survive", merged.Status)
	}
	// The source item is untouched.
	if it.Title != "draft report" {
		t.Error("Apply mutated the source document")
	}
}

func TestPatchFromValuesTreatsNilAsDelete(t *testing.T) {
	patch := FromValues(map[string]any{
		"title":  "new title",
		"due_at": nil,
	})

	if op := patch["title"]; op.Unset || op.Value != "new title" {
		t.Errorf("title op = %+v, want set", op)
	}
	if op := patch["due_at"]; !op.Unset {
		t.Errorf("due_at op = %+v, want delete marker", op)
	}
}

func TestPatchDeleteOfMissingFieldIsNoop(t *testing.T) {
	it, _ := Sanitize(map[string]any{"title": "walk"})
	before := it.Doc()

	after := Patch{"due_at": Delete()}.Apply(before)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("deleting an absent field changed the doc (-before +after):\n%s", diff)
	}
}

func TestPatchCloneIsIndependent(t *testing.T) {
	orig := Patch{"title": Set("a")}
	clone := orig.Clone()
	clone["title"] = Set("b")
	clone["status"] = Set("done")

	if orig["title"].Value != "a" {
		t.Error("mutating the clone leaked into the original")
	}
	if len(orig) != 1 {
		t.Errorf("original has %d ops, want 1", len(orig))
	}
}
