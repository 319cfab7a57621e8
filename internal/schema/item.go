// Package schema defines the universal item record and the sanitization
// rules that keep it well formed across both persistence backends.
//
// Every piece of user data in satchel — tasks, projects, habits, events,
// goals, notes — is an Item. Items are flat, last-write-wins records:
// each field can be updated independently and the updated_at timestamp
// resolves conflicts between a local cache and a remote snapshot.
package schema

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ItemType identifies which tool an item belongs to.
type ItemType string

const (
	TypeTask    ItemType = "task"
	TypeProject ItemType = "project"
	TypeHabit   ItemType = "habit"
	TypeEvent   ItemType = "event"
	TypeGoal    ItemType = "goal"
	TypeNote    ItemType = "note"
)

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	switch t {
	case TypeTask, TypeProject, TypeHabit, TypeEvent, TypeGoal, TypeNote:
		return true
	}
	return false
}

// Status is the workflow state of an item.
type Status string

const (
	StatusInbox    Status = "inbox"
	StatusActive   Status = "active"
	StatusWaiting  Status = "waiting"
	StatusDone     Status = "done"
	StatusArchived Status = "archived"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInbox, StatusActive, StatusWaiting, StatusDone, StatusArchived:
		return true
	}
	return false
}

// DefaultTitle is assigned when an item arrives without one.
const DefaultTitle = "Untitled"

// ChecklistEntry is a single line of a task checklist.
type ChecklistEntry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done,omitempty"`
}

// Item is the universal record manipulated by the sync engine.
//
// Optional fields are pointers or nilable collections so that a field
// with no meaningful value is omitted from the serialized document
// entirely. The remote adapter relies on this: absence in a sanitized
// document and an explicit delete-marker in a patch are the only two
// ways a field leaves the wire.
//
// Timestamps are epoch milliseconds.
type Item struct {
	ID     string   `json:"id"`
	Type   ItemType `json:"type"`
	Status Status   `json:"status"`
	Title  string   `json:"title"`

	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
	CompletedAt *int64 `json:"completed_at,omitempty"`

	// Task / project payload.
	DueAt     *int64           `json:"due_at,omitempty"`
	Priority  *int             `json:"priority,omitempty"`
	Checklist []ChecklistEntry `json:"checklist,omitempty"`

	// Habit payload. Completions maps a YYYY-MM-DD day to whether the
	// habit was checked on that day.
	Frequency   *string         `json:"frequency,omitempty"`
	CustomDays  []int           `json:"custom_days,omitempty"`
	Completions map[string]bool `json:"completions,omitempty"`

	// Event payload.
	StartAt    *int64  `json:"start_at,omitempty"`
	EndAt      *int64  `json:"end_at,omitempty"`
	CalendarID *string `json:"calendar_id,omitempty"`

	// Goal payload.
	Timeframe *string `json:"timeframe,omitempty"`
	Metric    *string `json:"metric,omitempty"`

	// Note payload.
	NoteKind *string `json:"note_kind,omitempty"`

	// Presentation payload used by parent/child views.
	Emoji *string `json:"emoji,omitempty"`
	Color *string `json:"color,omitempty"`

	// Relations. LinkedIDs is a symmetric set: if A lists B then B
	// lists A, except during the rollback window of a failed link
	// operation. Dangling ids (deleted peers) are expected and must be
	// filtered by existence, never treated as errors.
	ParentID  *string  `json:"parent_id,omitempty"`
	LinkedIDs []string `json:"linked_ids,omitempty"`

	Tags    []string `json:"tags,omitempty"`
	OwnerID string   `json:"owner_id,omitempty"`
}

// NowMillis returns the current wall clock as epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewID generates a fresh client-side item id.
func NewID() string {
	return uuid.NewString()
}

// Linked reports whether other is in the item's linked set.
func (it Item) Linked(other string) bool {
	for _, id := range it.LinkedIDs {
		if id == other {
			return true
		}
	}
	return false
}

// WithLink returns a copy of the item with other added to its linked set.
// Adding an already-present id is a no-op copy.
func (it Item) WithLink(other string) Item {
	if it.Linked(other) {
		return it
	}
	out := it
	out.LinkedIDs = append(append([]string(nil), it.LinkedIDs...), other)
	return out
}

// WithoutLink returns a copy of the item with other removed from its
// linked set. Removing an absent id is a no-op copy.
func (it Item) WithoutLink(other string) Item {
	if !it.Linked(other) {
		return it
	}
	out := it
	kept := make([]string, 0, len(it.LinkedIDs)-1)
	for _, id := range it.LinkedIDs {
		if id != other {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	out.LinkedIDs = kept
	return out
}

// Doc converts the item to its document form: a string-keyed map with
// every optional field present only when it holds a meaningful value.
// This is the shape stored by the remote document store and the shape
// Sanitize accepts.
func (it Item) Doc() map[string]any {
	data, err := json.Marshal(it)
	if err != nil {
		// Item contains only JSON-safe field types.
		return map[string]any{}
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return map[string]any{}
	}
	return doc
}

// FromDoc decodes a document map into an Item without sanitizing it.
// Unknown fields are dropped; mistyped fields fail the decode.
func FromDoc(doc map[string]any) (Item, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return Item{}, err
	}
	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	out.Checklist = append([]ChecklistEntry(nil), it.Checklist...)
	out.CustomDays = append([]int(nil), it.CustomDays...)
	out.LinkedIDs = append([]string(nil), it.LinkedIDs...)
	out.Tags = append([]string(nil), it.Tags...)
	if it.Completions != nil {
		out.Completions = make(map[string]bool, len(it.Completions))
		for k, v := range it.Completions {
			out.Completions[k] = v
		}
	}
	if len(out.Checklist) == 0 {
		out.Checklist = nil
	}
	if len(out.CustomDays) == 0 {
		out.CustomDays = nil
	}
	if len(out.LinkedIDs) == 0 {
		out.LinkedIDs = nil
	}
	if len(out.Tags) == 0 {
		out.Tags = nil
	}
	return out
}
