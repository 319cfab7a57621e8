package engine

import (
	"sync"

	"github.com/satchelhq/satchel/internal/schema"
)

// Collection is the reactive in-memory item set shared by every
// consumer: mutations apply to it optimistically, subscriptions
// replace it wholesale, and UI reads never block on I/O.
//
// Every mutation derives the next state from an explicit snapshot of
// the current one, never from state captured before a suspension
// point. That discipline — not a lock protocol — is what prevents
// lost updates between interleaved async mutations.
type Collection struct {
	mu      sync.RWMutex
	items   map[string]schema.Item
	subs    map[int]func([]schema.Item)
	nextSub int
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{
		items: make(map[string]schema.Item),
		subs:  make(map[int]func([]schema.Item)),
	}
}

// Snapshot returns a deep copy of the full collection state, suitable
// for restoring later with Restore.
func (c *Collection) Snapshot() map[string]schema.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := make(map[string]schema.Item, len(c.items))
	for id, it := range c.items {
		snap[id] = it.Clone()
	}
	return snap
}

// Restore replaces the collection with a previously taken snapshot.
// This is the rollback primitive: restoring the full snapshot, rather
// than applying an inverse patch, stays correct even when unrelated
// mutations interleaved between the failed mutation and its rollback.
func (c *Collection) Restore(snap map[string]schema.Item) {
	c.mu.Lock()
	c.items = make(map[string]schema.Item, len(snap))
	for id, it := range snap {
		c.items[id] = it.Clone()
	}
	c.mu.Unlock()
	c.notify()
}

// ReplaceAll replaces the collection with a fresh snapshot from a
// backend.
func (c *Collection) ReplaceAll(items []schema.Item) {
	c.mu.Lock()
	c.items = make(map[string]schema.Item, len(items))
	for _, it := range items {
		c.items[it.ID] = it.Clone()
	}
	c.mu.Unlock()
	c.notify()
}

// Get returns an item by id. Dangling references resolve here to
// "not found"; callers must treat that as expected, not exceptional.
func (c *Collection) Get(id string) (schema.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[id]
	if !ok {
		return schema.Item{}, false
	}
	return it.Clone(), true
}

// Put inserts or replaces one item.
func (c *Collection) Put(items ...schema.Item) {
	c.mu.Lock()
	for _, it := range items {
		c.items[it.ID] = it.Clone()
	}
	c.mu.Unlock()
	c.notify()
}

// Remove deletes one item, reporting whether it was present.
func (c *Collection) Remove(id string) bool {
	c.mu.Lock()
	_, ok := c.items[id]
	delete(c.items, id)
	c.mu.Unlock()
	if ok {
		c.notify()
	}
	return ok
}

// Items returns a copy of the collection ordered by updated_at
// descending, matching the remote query ordering.
func (c *Collection) Items() []schema.Item {
	c.mu.RLock()
	out := make([]schema.Item, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it.Clone())
	}
	c.mu.RUnlock()

	schema.SortByUpdated(out)
	return out
}

// Len returns the number of items.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Subscribe registers a change callback. It fires immediately with the
// current items and again after every change, until the returned
// function is called.
func (c *Collection) Subscribe(fn func([]schema.Item)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	fn(c.Items())

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Collection) notify() {
	c.mu.RLock()
	fns := make([]func([]schema.Item), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	if len(fns) == 0 {
		return
	}
	items := c.Items()
	for _, fn := range fns {
		fn(items)
	}
}
