// Package analytics defines the fire-and-forget event sink invoked
// after successful mutations. Emission is never awaited and never
// allowed to fail a mutation; a sink that needs I/O must buffer or
// drop internally.
package analytics

import (
	"log"
	"os"

	"github.com/satchelhq/satchel/internal/schema"
)

// Kind classifies a domain event. The engine derives the kind by
// diffing a mutation against its pre-mutation snapshot and emits at
// most one event per mutation.
type Kind string

const (
	KindCreated        Kind = "item_created"
	KindUpdated        Kind = "item_updated"
	KindCompleted      Kind = "item_completed"
	KindArchived       Kind = "item_archived"
	KindUnarchived     Kind = "item_unarchived"
	KindUncompleted    Kind = "item_uncompleted"
	KindHabitChecked   Kind = "habit_checked"
	KindHabitUnchecked Kind = "habit_unchecked"
)

// Sink receives domain events.
type Sink interface {
	Emit(kind Kind, item schema.Item, extra map[string]string)
}

// LogSink writes events to a logger. It is the default sink.
type LogSink struct {
	Logger *log.Logger
}

// NewLogSink creates a LogSink; a nil logger falls back to a prefixed
// stderr logger.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.New(os.Stderr, "[analytics] ", log.LstdFlags)
	}
	return &LogSink{Logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(kind Kind, item schema.Item, extra map[string]string) {
	if len(extra) > 0 {
		s.Logger.Printf("%s item=%s type=%s extra=%v", kind, item.ID, item.Type, extra)
		return
	}
	s.Logger.Printf("%s item=%s type=%s", kind, item.ID, item.Type)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(Kind, schema.Item, map[string]string) {}
