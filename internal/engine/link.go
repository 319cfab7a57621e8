package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/satchelhq/satchel/internal/remote"
	"github.com/satchelhq/satchel/internal/retry"
	"github.com/satchelhq/satchel/internal/schema"
)

// LinkItems records a bidirectional link between two items: each ends
// up in the other's linked set. Both sides commit atomically — the
// remote path ships one batch, the local path writes one blob — so a
// failure leaves neither half applied. Linking an already-linked pair,
// or an item to itself, is a no-op; a missing endpoint is a logged
// no-op.
func (e *Engine) LinkItems(ctx context.Context, aID, bID string) error {
	return e.relink(ctx, aID, bID, true)
}

// UnlinkItems removes the bidirectional link between two items with
// the same atomicity and no-op rules as LinkItems.
func (e *Engine) UnlinkItems(ctx context.Context, aID, bID string) error {
	return e.relink(ctx, aID, bID, false)
}

func (e *Engine) relink(ctx context.Context, aID, bID string, link bool) error {
	verb := "link"
	if !link {
		verb = "unlink"
	}
	if aID == bID {
		e.logger.Printf("%s %s<->%s: same item, skipping", verb, aID, bID)
		return nil
	}

	e.mu.Lock()
	snap := e.col.Snapshot()
	a, okA := e.col.Get(aID)
	b, okB := e.col.Get(bID)
	if !okA || !okB {
		e.mu.Unlock()
		e.logger.Printf("%s %s<->%s: endpoint missing, skipping", verb, aID, bID)
		return nil
	}
	if a.Linked(bID) == link && b.Linked(aID) == link {
		e.mu.Unlock()
		return nil
	}

	now := schema.NowMillis()
	if link {
		a = a.WithLink(bID)
		b = b.WithLink(aID)
	} else {
		a = a.WithoutLink(bID)
		b = b.WithoutLink(aID)
	}
	a.UpdatedAt = now
	b.UpdatedAt = now
	e.col.Put(a, b)
	e.mu.Unlock()

	r, _ := e.activeRemote()
	var err error
	if r != nil {
		err = retry.Do(ctx, e.retry, verb+" "+aID+"<->"+bID, func(ctx context.Context) error {
			return r.ApplyBatch(ctx, []schema.Item{a, b})
		})
		if errors.Is(err, remote.ErrNotFound) {
			// An endpoint vanished remotely mid-flight. Undo rather
			// than leave a dangling half-link in the cache.
			e.logger.Printf("%s %s<->%s: endpoint gone remotely, undoing", verb, aID, bID)
			e.col.Restore(snap)
			return nil
		}
	} else {
		err = e.saveLocal(ctx)
	}
	if err != nil {
		e.col.Restore(snap)
		return fmt.Errorf("%w: %s %s<->%s: %v", ErrPersistenceFailure, verb, aID, bID, err)
	}

	e.mirrorLocal(ctx, r)
	return nil
}
