package engine

import (
	"github.com/satchelhq/satchel/internal/analytics"
	"github.com/satchelhq/satchel/internal/schema"
)

// classify maps an update's before/after pair to exactly one domain
// event. Status transitions win over habit completion toggles, which
// win over the generic update, so a single patch never produces more
// than one event.
func classify(prev, next schema.Item) analytics.Kind {
	if prev.Status != next.Status {
		switch {
		case next.Status == schema.StatusDone:
			return analytics.KindCompleted
		case prev.Status == schema.StatusDone:
			return analytics.KindUncompleted
		case next.Status == schema.StatusArchived:
			return analytics.KindArchived
		case prev.Status == schema.StatusArchived:
			return analytics.KindUnarchived
		}
		return analytics.KindUpdated
	}

	if next.Type == schema.TypeHabit {
		if toggled, checked := habitToggle(prev.Completions, next.Completions); toggled {
			if checked {
				return analytics.KindHabitChecked
			}
			return analytics.KindHabitUnchecked
		}
	}

	return analytics.KindUpdated
}

// habitToggle reports whether the set of checked days changed, and if
// so whether the net change added a check. A patch that both checks
// one day and unchecks another counts as checked; that only happens
// when the caller rewrites the whole map.
func habitToggle(prev, next map[string]bool) (toggled, checked bool) {
	added := 0
	removed := 0
	for day, v := range next {
		if v && !prev[day] {
			added++
		}
	}
	for day, v := range prev {
		if v && !next[day] {
			removed++
		}
	}
	if added == 0 && removed == 0 {
		return false, false
	}
	return true, added >= removed
}
