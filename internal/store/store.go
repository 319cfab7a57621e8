// Package store defines the local persistence adapter: the durable
// on-device home of the full item collection, serialized as one blob
// under a fixed key alongside a schema-version marker.
//
// Two backends implement the adapter — a JSON file store and a
// BadgerDB store — registered the same way and selected by
// configuration. Both share the adapter's contract:
//
//   - Load never fails. Corruption is logged, the blob is discarded,
//     and an empty collection is returned; losing cached data beats
//     crashing the client.
//   - Save verifies its own write by reading it back. On verification
//     failure or quota exhaustion it runs one compaction pass (drop
//     archived items older than the compaction age) and retries once,
//     then reports failure without panicking.
//   - Changes delivers coalesced notifications when another process or
//     tab writes the same store, so every open client converges
//     without polling.
package store

import (
	"context"
	"log"
	"time"

	"github.com/satchelhq/satchel/internal/schema"
)

// SchemaVersion is written next to the blob for future migrations.
const SchemaVersion = "1"

// DefaultCompactionAge is how old an archived item must be before a
// compaction pass may drop it.
const DefaultCompactionAge = 30 * 24 * time.Hour

// Local is the local persistence adapter.
type Local interface {
	// Load returns the stored collection, or an empty one if nothing
	// is stored or the blob is corrupt. It never fails.
	Load(ctx context.Context) []schema.Item

	// Save persists the full collection, returning whether the write
	// landed and verified.
	Save(ctx context.Context, items []schema.Item) bool

	// Changes delivers a coalesced signal whenever the underlying
	// storage is modified by another writer.
	Changes() <-chan struct{}

	// Close releases watchers and database handles.
	Close() error
}

// Config tunes a backend. The zero value is usable.
type Config struct {
	// MaxBytes caps the serialized blob size, modelling storage quota.
	// Zero means no cap.
	MaxBytes int64

	// CompactionAge overrides DefaultCompactionAge.
	CompactionAge time.Duration

	// Logger receives corruption and compaction notices. Nil falls
	// back to a prefixed stderr logger.
	Logger *log.Logger
}

// CompactionCutoff returns the epoch-millisecond threshold below which
// archived items are eligible for compaction.
func (c Config) CompactionCutoff(now int64) int64 {
	age := c.CompactionAge
	if age <= 0 {
		age = DefaultCompactionAge
	}
	return now - age.Milliseconds()
}

// Compact drops archived items older than the configured age. It
// returns the kept items and how many were dropped.
func Compact(cfg Config, items []schema.Item) ([]schema.Item, int) {
	cutoff := cfg.CompactionCutoff(schema.NowMillis())
	kept := make([]schema.Item, 0, len(items))
	dropped := 0
	for _, it := range items {
		if it.Status == schema.StatusArchived && it.UpdatedAt < cutoff {
			dropped++
			continue
		}
		kept = append(kept, it)
	}
	return kept, dropped
}
