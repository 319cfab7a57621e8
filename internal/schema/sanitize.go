package schema

import (
	"fmt"
	"sort"
)

// Sanitize normalizes an arbitrary partial record into a well-formed
// Item. It never fails: invalid values are coerced to safe defaults and
// unknown fields are dropped. The returned slice describes every
// coercion that was applied, in field order, so callers can log or
// surface what was repaired.
//
// Sanitize is pure and idempotent: feeding the resulting item's Doc()
// back in yields an equal item and no coercions.
func Sanitize(raw map[string]any) (Item, []string) {
	var fixes []string
	fix := func(format string, args ...any) {
		fixes = append(fixes, fmt.Sprintf(format, args...))
	}

	var it Item

	if id, ok := asString(raw["id"]); ok && id != "" {
		it.ID = id
	} else {
		it.ID = NewID()
		fix("id: generated %s", it.ID)
	}

	if s, ok := asString(raw["type"]); ok && ItemType(s).Valid() {
		it.Type = ItemType(s)
	} else {
		it.Type = TypeTask
		if _, present := raw["type"]; present {
			fix("type: coerced %v to %s", raw["type"], TypeTask)
		} else {
			fix("type: defaulted to %s", TypeTask)
		}
	}

	if s, ok := asString(raw["status"]); ok && Status(s).Valid() {
		it.Status = Status(s)
	} else {
		it.Status = StatusInbox
		if _, present := raw["status"]; present {
			fix("status: coerced %v to %s", raw["status"], StatusInbox)
		} else {
			fix("status: defaulted to %s", StatusInbox)
		}
	}

	if title, ok := asString(raw["title"]); ok && title != "" {
		it.Title = title
	} else {
		it.Title = DefaultTitle
		fix("title: defaulted to %q", DefaultTitle)
	}

	now := NowMillis()
	if ms, ok := asMillis(raw["created_at"]); ok {
		it.CreatedAt = ms
	} else {
		it.CreatedAt = now
		fix("created_at: defaulted to now")
	}
	if ms, ok := asMillis(raw["updated_at"]); ok {
		it.UpdatedAt = ms
	} else {
		it.UpdatedAt = now
		fix("updated_at: defaulted to now")
	}

	it.CompletedAt = millisPtr(raw, "completed_at")
	it.DueAt = millisPtr(raw, "due_at")
	it.StartAt = millisPtr(raw, "start_at")
	it.EndAt = millisPtr(raw, "end_at")

	if n, ok := asInt(raw["priority"]); ok {
		it.Priority = &n
	}

	it.Frequency = stringPtr(raw, "frequency")
	it.Timeframe = stringPtr(raw, "timeframe")
	it.Metric = stringPtr(raw, "metric")
	it.NoteKind = stringPtr(raw, "note_kind")
	it.Emoji = stringPtr(raw, "emoji")
	it.Color = stringPtr(raw, "color")
	it.CalendarID = stringPtr(raw, "calendar_id")
	it.ParentID = stringPtr(raw, "parent_id")

	if v, present := raw["checklist"]; present {
		entries, ok := asChecklist(v)
		if !ok {
			fix("checklist: dropped non-array value")
		}
		it.Checklist = entries
	}

	if v, present := raw["custom_days"]; present {
		days, ok := asIntSlice(v)
		if !ok {
			fix("custom_days: dropped non-array value")
		}
		it.CustomDays = days
	}

	if v, present := raw["completions"]; present {
		comps, ok := asBoolMap(v)
		if !ok {
			fix("completions: dropped non-object value")
		}
		it.Completions = comps
	}

	if v, present := raw["linked_ids"]; present {
		ids, ok := asStringSlice(v)
		if !ok {
			fix("linked_ids: dropped non-array value")
		}
		it.LinkedIDs = dedupe(ids)
	}

	if v, present := raw["tags"]; present {
		tags, ok := asStringSlice(v)
		if !ok {
			fix("tags: dropped non-array value")
		}
		it.Tags = dedupe(tags)
	}

	if owner, ok := asString(raw["owner_id"]); ok {
		it.OwnerID = owner
	}

	return it, fixes
}

// Normalize sanitizes an already-typed item, coercing out-of-range enum
// values and filling required defaults. It is the struct-level
// counterpart of Sanitize and shares its idempotence guarantee.
func Normalize(it Item) Item {
	out := it.Clone()
	if out.ID == "" {
		out.ID = NewID()
	}
	if !out.Type.Valid() {
		out.Type = TypeTask
	}
	if !out.Status.Valid() {
		out.Status = StatusInbox
	}
	if out.Title == "" {
		out.Title = DefaultTitle
	}
	now := NowMillis()
	if out.CreatedAt <= 0 {
		out.CreatedAt = now
	}
	if out.UpdatedAt <= 0 {
		out.UpdatedAt = now
	}
	out.LinkedIDs = dedupe(out.LinkedIDs)
	out.Tags = dedupe(out.Tags)
	if len(out.Completions) == 0 {
		out.Completions = nil
	}
	return out
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asMillis accepts a positive epoch-milliseconds value. JSON numbers
// decode as float64; integers are accepted for typed callers.
func asMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n > 0 {
			return int64(n), true
		}
	case int64:
		if n > 0 {
			return n, true
		}
	case int:
		if n > 0 {
			return int64(n), true
		}
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

func millisPtr(raw map[string]any, key string) *int64 {
	if ms, ok := asMillis(raw[key]); ok {
		return &ms
	}
	return nil
}

func stringPtr(raw map[string]any, key string) *string {
	if s, ok := asString(raw[key]); ok && s != "" {
		return &s
	}
	return nil
}

func asStringSlice(v any) ([]string, bool) {
	switch vs := v.(type) {
	case []string:
		return append([]string(nil), vs...), true
	case []any:
		out := make([]string, 0, len(vs))
		for _, e := range vs {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

func asIntSlice(v any) ([]int, bool) {
	switch vs := v.(type) {
	case []int:
		if len(vs) == 0 {
			return nil, true
		}
		return append([]int(nil), vs...), true
	case []any:
		out := make([]int, 0, len(vs))
		for _, e := range vs {
			if n, ok := asInt(e); ok {
				out = append(out, n)
			}
		}
		if len(out) == 0 {
			return nil, true
		}
		return out, true
	}
	return nil, false
}

func asBoolMap(v any) (map[string]bool, bool) {
	switch vm := v.(type) {
	case map[string]bool:
		if len(vm) == 0 {
			return nil, true
		}
		out := make(map[string]bool, len(vm))
		for k, b := range vm {
			out[k] = b
		}
		return out, true
	case map[string]any:
		out := make(map[string]bool, len(vm))
		for k, e := range vm {
			if b, ok := e.(bool); ok {
				out[k] = b
			}
		}
		if len(out) == 0 {
			return nil, true
		}
		return out, true
	}
	return nil, false
}

func asChecklist(v any) ([]ChecklistEntry, bool) {
	entries, ok := v.([]any)
	if !ok {
		if typed, isTyped := v.([]ChecklistEntry); isTyped {
			if len(typed) == 0 {
				return nil, true
			}
			return append([]ChecklistEntry(nil), typed...), true
		}
		return nil, false
	}
	out := make([]ChecklistEntry, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		var entry ChecklistEntry
		entry.ID, _ = asString(m["id"])
		entry.Text, _ = asString(m["text"])
		if done, ok := m["done"].(bool); ok {
			entry.Done = done
		}
		if entry.ID == "" {
			entry.ID = NewID()
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil, true
	}
	return out, true
}

// dedupe removes duplicates preserving first occurrence, returning nil
// for an empty result so empty sets are omitted from documents.
func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SortByUpdated orders items by updated_at descending, id ascending as
// a stable tiebreak. This matches the remote query ordering.
func SortByUpdated(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].UpdatedAt != items[j].UpdatedAt {
			return items[i].UpdatedAt > items[j].UpdatedAt
		}
		return items[i].ID < items[j].ID
	})
}
