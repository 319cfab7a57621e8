// Package engine implements the item synchronization engine: the
// optimistic mutation coordinator, the bidirectional link operation,
// the subscription and reconnection manager, and the debounced
// peripheral-state sync.
//
// Mutations apply to the reactive collection immediately, then persist
// through whichever backend is active — the local store in local/demo
// mode, the remote document store when an identity is signed in. If
// persistence terminally fails after retries, the optimistic change is
// rolled back by restoring the full pre-mutation snapshot and the
// failure propagates to the caller. Transient failures are retried
// silently and never reach the caller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/satchelhq/satchel/internal/analytics"
	"github.com/satchelhq/satchel/internal/remote"
	"github.com/satchelhq/satchel/internal/retry"
	"github.com/satchelhq/satchel/internal/schema"
	"github.com/satchelhq/satchel/internal/store"
)

// ErrPersistenceFailure is the only error class mutations surface to
// callers. It means the retry budget is exhausted and the optimistic
// change has been rolled back; the user-visible treatment is an inline
// "can't connect, your data is safe locally" notice, never a blocking
// dialog.
var ErrPersistenceFailure = errors.New("persistence failed after retries")

// Remote is the remote persistence adapter as the engine consumes it.
// *remote.Client implements it; tests substitute fakes.
type Remote interface {
	Subscribe(ctx context.Context, owner string, cb remote.Callbacks) (func(), error)
	Create(ctx context.Context, item schema.Item) (string, error)
	Update(ctx context.Context, id string, patch schema.Patch) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*schema.Item, error)
	ApplyBatch(ctx context.Context, items []schema.Item) error
	PutMeta(ctx context.Context, owner string, meta schema.Meta) error
	GetMeta(ctx context.Context, owner string) (*schema.Meta, error)
	Close() error
}

// Config assembles an Engine.
type Config struct {
	// Local is the local persistence adapter. Required.
	Local store.Local

	// Sink receives domain events. Nil means analytics.Nop.
	Sink analytics.Sink

	// Retry tunes the backoff for one-shot remote calls.
	Retry retry.Config

	// Logger for engine activity. Nil falls back to a prefixed
	// stderr logger.
	Logger *log.Logger
}

// Engine is the optimistic mutation coordinator.
type Engine struct {
	col    *Collection
	local  store.Local
	sink   analytics.Sink
	logger *log.Logger
	retry  retry.Config

	// mu serializes the optimistic read-modify-write step of each
	// mutation. Persistence happens outside it, so two mutations may
	// interleave between their optimistic step and resolution — which
	// is exactly why rollback restores a full snapshot.
	mu sync.Mutex

	remoteMu sync.RWMutex
	remote   Remote
	owner    string
}

// New creates an engine in local mode. The subscription manager (or a
// direct SetRemote call) switches it to remote mode.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if cfg.Sink == nil {
		cfg.Sink = analytics.Nop{}
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = remote.IsRetryable
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = cfg.Logger
	}

	return &Engine{
		col:    NewCollection(),
		local:  cfg.Local,
		sink:   cfg.Sink,
		logger: cfg.Logger,
		retry:  cfg.Retry,
	}
}

// Collection exposes the reactive collection for read-only consumers.
func (e *Engine) Collection() *Collection {
	return e.col
}

// SubscribeToItems registers a change callback; it fires immediately
// with the best-available collection and on every subsequent change
// from either backend.
func (e *Engine) SubscribeToItems(fn func([]schema.Item)) func() {
	return e.col.Subscribe(fn)
}

// SetRemote switches the engine to remote mode for the given owner.
func (e *Engine) SetRemote(r Remote, owner string) {
	e.remoteMu.Lock()
	e.remote = r
	e.owner = owner
	e.remoteMu.Unlock()
}

// ClearRemote drops back to local mode. In-flight mutations keep the
// adapter they started with.
func (e *Engine) ClearRemote() {
	e.remoteMu.Lock()
	e.remote = nil
	e.remoteMu.Unlock()
}

func (e *Engine) activeRemote() (Remote, string) {
	e.remoteMu.RLock()
	defer e.remoteMu.RUnlock()
	return e.remote, e.owner
}

// CreateItem sanitizes the partial record, assigns identity and
// timestamps, inserts it into the reactive collection, and persists
// it. Rollback for a failed create is removal of the created record.
// Returns the new item's id.
func (e *Engine) CreateItem(ctx context.Context, partial map[string]any) (string, error) {
	item, fixes := schema.Sanitize(partial)
	if len(fixes) > 0 {
		e.logger.Printf("create %s: sanitized input: %v", item.ID, fixes)
	}

	r, owner := e.activeRemote()
	if owner != "" {
		item.OwnerID = owner
	}

	e.mu.Lock()
	// A caller-supplied id must not collide with a live record: the
	// optimistic Put would overwrite it and the create rollback would
	// then remove it. Ids are never reused, so mint a fresh one.
	if _, exists := e.col.Get(item.ID); exists {
		fresh := schema.NewID()
		e.logger.Printf("create: id %s already in use, minted %s", item.ID, fresh)
		item.ID = fresh
	}
	e.col.Put(item)
	e.mu.Unlock()

	var err error
	if r != nil {
		err = retry.Do(ctx, e.retry, "create "+item.ID, func(ctx context.Context) error {
			_, createErr := r.Create(ctx, item)
			return createErr
		})
	} else {
		err = e.saveLocal(ctx)
	}
	if err != nil {
		e.col.Remove(item.ID)
		return "", fmt.Errorf("%w: create %s: %v", ErrPersistenceFailure, item.ID, err)
	}

	e.mirrorLocal(ctx, r)
	e.sink.Emit(analytics.KindCreated, item, nil)
	return item.ID, nil
}

// UpdateItem shallow-merges the patch over the existing record, bumps
// updated_at, applies the result optimistically, and persists. On
// terminal failure the full pre-mutation snapshot is restored — not a
// partial undo — and the failure propagates. A missing target is a
// logged no-op.
func (e *Engine) UpdateItem(ctx context.Context, id string, patch schema.Patch) error {
	e.mu.Lock()
	snap := e.col.Snapshot()
	prev, ok := e.col.Get(id)
	if !ok {
		e.mu.Unlock()
		e.logger.Printf("update %s: not found, skipping", id)
		return nil
	}

	wire := completionMarkers(prev, patch.Clone())
	wire["updated_at"] = schema.Set(schema.NowMillis())

	next := mergePatch(prev, wire)
	e.col.Put(next)
	e.mu.Unlock()

	r, _ := e.activeRemote()
	var err error
	if r != nil {
		err = retry.Do(ctx, e.retry, "update "+id, func(ctx context.Context) error {
			return r.Update(ctx, id, wire)
		})
		if errors.Is(err, remote.ErrNotFound) {
			e.logger.Printf("update %s: gone remotely, skipping", id)
			err = nil
		}
	} else {
		err = e.saveLocal(ctx)
	}
	if err != nil {
		e.col.Restore(snap)
		return fmt.Errorf("%w: update %s: %v", ErrPersistenceFailure, id, err)
	}

	e.mirrorLocal(ctx, r)
	e.sink.Emit(classify(prev, next), next, nil)
	return nil
}

// DeleteItem removes the record optimistically and persists the
// removal. On terminal failure the snapshot is restored and the
// "deleted" item reappears. A missing target is a logged no-op.
func (e *Engine) DeleteItem(ctx context.Context, id string) error {
	e.mu.Lock()
	snap := e.col.Snapshot()
	if !e.col.Remove(id) {
		e.mu.Unlock()
		e.logger.Printf("delete %s: not found, skipping", id)
		return nil
	}
	e.mu.Unlock()

	r, _ := e.activeRemote()
	var err error
	if r != nil {
		err = retry.Do(ctx, e.retry, "delete "+id, func(ctx context.Context) error {
			return r.Delete(ctx, id)
		})
		if errors.Is(err, remote.ErrNotFound) {
			e.logger.Printf("delete %s: gone remotely, skipping", id)
			err = nil
		}
	} else {
		err = e.saveLocal(ctx)
	}
	if err != nil {
		e.col.Restore(snap)
		return fmt.Errorf("%w: delete %s: %v", ErrPersistenceFailure, id, err)
	}

	e.mirrorLocal(ctx, r)
	return nil
}

// GetItem returns an item from the reactive collection, falling back
// to a remote fetch for ids not cached locally. A missing item is
// (nil, nil), not an error.
func (e *Engine) GetItem(ctx context.Context, id string) (*schema.Item, error) {
	if it, ok := e.col.Get(id); ok {
		return &it, nil
	}
	r, _ := e.activeRemote()
	if r == nil {
		return nil, nil
	}
	return r.Get(ctx, id)
}

// saveLocal persists the whole reactive collection as one blob.
func (e *Engine) saveLocal(ctx context.Context) error {
	if !e.local.Save(ctx, e.col.Items()) {
		return errors.New("local save failed")
	}
	return nil
}

// mirrorLocal refreshes the offline cache after a successful remote
// write. Failures are logged only: the remote copy is authoritative
// in remote mode, and the next snapshot will repair the cache.
func (e *Engine) mirrorLocal(ctx context.Context, r Remote) {
	if r == nil {
		return
	}
	if !e.local.Save(ctx, e.col.Items()) {
		e.logger.Printf("failed to mirror collection to local cache")
	}
}

// completionMarkers augments a status-changing patch with the
// completed_at bookkeeping: entering done stamps it, leaving done
// clears it with a delete-marker.
func completionMarkers(prev schema.Item, patch schema.Patch) schema.Patch {
	op, ok := patch["status"]
	if !ok || op.Unset {
		return patch
	}
	var next schema.Status
	switch s := op.Value.(type) {
	case string:
		next = schema.Status(s)
	case schema.Status:
		next = s
	default:
		return patch
	}
	if next == schema.StatusDone && prev.Status != schema.StatusDone {
		if _, has := patch["completed_at"]; !has {
			patch["completed_at"] = schema.Set(schema.NowMillis())
		}
	}
	if next != schema.StatusDone && prev.Status == schema.StatusDone {
		if _, has := patch["completed_at"]; !has {
			patch["completed_at"] = schema.Delete()
		}
	}
	return patch
}

// mergePatch applies a patch to an item through its document form and
// renormalizes. Identity and creation time never change via patch.
func mergePatch(prev schema.Item, patch schema.Patch) schema.Item {
	doc := patch.Apply(prev.Doc())
	next, _ := schema.Sanitize(doc)
	next.ID = prev.ID
	next.CreatedAt = prev.CreatedAt
	next.OwnerID = prev.OwnerID
	return next
}
