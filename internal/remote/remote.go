// Package remote implements the remote persistence adapter: a
// WebSocket client for the networked document store. It provides
// per-item CRUD, an atomic batch write, peripheral-state documents,
// and a live subscription that delivers full per-owner snapshots.
//
// The adapter surfaces subscription errors instead of retrying them;
// reconnection policy belongs to the subscription manager, which can
// cancel and reset backoff on identity and connectivity changes.
// One-shot CRUD calls are wrapped in bounded retry by the engine.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/satchelhq/satchel/internal/docstore"
	"github.com/satchelhq/satchel/internal/schema"
)

var (
	// ErrNotFound means the target document does not exist remotely.
	// The engine treats this as a logged no-op, never a hard failure:
	// the target may have been legitimately deleted concurrently.
	ErrNotFound = errors.New("remote: document not found")

	// ErrTransient marks failures worth retrying: connection drops,
	// write timeouts, server restarts.
	ErrTransient = errors.New("remote: transient failure")

	// ErrClosed means the client has been closed.
	ErrClosed = errors.New("remote: client closed")
)

// IsRetryable reports whether a one-shot call that failed with err is
// worth retrying. Missing documents are not; everything else from the
// wire is presumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrNotFound)
}

// Callbacks receives pushed subscription traffic. OnError fires once
// when the connection dies; after that the subscription is dead and
// the owner must resubscribe through a fresh client.
type Callbacks struct {
	OnItems func(items []schema.Item)
	OnMeta  func(meta schema.Meta)
	OnError func(err error)
}

// Client is one WebSocket connection to the document store. A client
// carries any number of one-shot calls and at most one subscription;
// its lifetime is one connect cycle, so tearing down a subscription
// (identity change, reconnect) means closing the client.
type Client struct {
	url    string
	logger *log.Logger
	ws     *websocket.Conn

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan docstore.Response
	cb      Callbacks
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// Dial connects to the document store at url (ws://host:port/ws).
func Dial(ctx context.Context, url string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransient, url, err)
	}

	c := &Client{
		url:     url,
		logger:  logger,
		ws:      ws,
		pending: make(map[int64]chan docstore.Response),
		done:    make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

// Close tears down the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	c.wg.Wait()
	return err
}

// readLoop routes responses to pending calls and pushed snapshots to
// the subscription callbacks.
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		var resp docstore.Response
		if err := wsjson.Read(context.Background(), c.ws, &resp); err != nil {
			c.fail(fmt.Errorf("%w: read: %v", ErrTransient, err))
			return
		}

		switch resp.Kind {
		case docstore.KindSnapshot:
			c.mu.Lock()
			onItems := c.cb.OnItems
			c.mu.Unlock()
			if onItems != nil {
				onItems(resp.Items)
			}

		case docstore.KindMeta:
			c.mu.Lock()
			onMeta := c.cb.OnMeta
			c.mu.Unlock()
			if onMeta != nil && resp.Meta != nil {
				onMeta(*resp.Meta)
			}

		case docstore.KindResult:
			c.mu.Lock()
			ch := c.pending[resp.ID]
			delete(c.pending, resp.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- resp
			}

		default:
			c.logger.Printf("dropping message of unknown kind %q", resp.Kind)
		}
	}
}

// fail terminates every pending call and notifies the subscription.
func (c *Client) fail(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan docstore.Response)
	onError := c.cb.OnError
	c.cb.OnError = nil // fire once
	closed := c.closed
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	if onError != nil && !closed {
		onError(err)
	}
}

// call performs one request/response round trip.
func (c *Client) call(ctx context.Context, req docstore.Request) (docstore.Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return docstore.Response{}, ErrClosed
	}
	c.nextID++
	req.ID = c.nextID
	ch := make(chan docstore.Response, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := wsjson.Write(writeCtx, c.ws, req)
	cancel()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return docstore.Response{}, fmt.Errorf("%w: write %s: %v", ErrTransient, req.Op, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return docstore.Response{}, ctx.Err()
	case <-c.done:
		return docstore.Response{}, ErrClosed
	case resp, ok := <-ch:
		if !ok {
			return docstore.Response{}, fmt.Errorf("%w: connection lost", ErrTransient)
		}
		return resp, respError(resp)
	}
}

func respError(resp docstore.Response) error {
	switch resp.Code {
	case "":
		return nil
	case docstore.CodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Error)
	default:
		return fmt.Errorf("%w: %s: %s", ErrTransient, resp.Code, resp.Error)
	}
}

// Create stores a new item and returns its id.
func (c *Client) Create(ctx context.Context, item schema.Item) (string, error) {
	resp, err := c.call(ctx, docstore.Request{Op: docstore.OpCreate, Item: &item})
	if err != nil {
		return "", err
	}
	if resp.Item == nil {
		return item.ID, nil
	}
	return resp.Item.ID, nil
}

// Update applies a patch to one item. Every field the caller wants
// removed must already be a delete-marker in the patch; the wire
// protocol does not accept bare omission as removal.
func (c *Client) Update(ctx context.Context, id string, patch schema.Patch) error {
	_, err := c.call(ctx, docstore.Request{Op: docstore.OpUpdate, ItemID: id, Patch: patch})
	return err
}

// Delete removes one item.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.call(ctx, docstore.Request{Op: docstore.OpDelete, ItemID: id})
	return err
}

// Get fetches one item, or nil if it does not exist.
func (c *Client) Get(ctx context.Context, id string) (*schema.Item, error) {
	resp, err := c.call(ctx, docstore.Request{Op: docstore.OpGet, ItemID: id})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Item, nil
}

// List fetches the owner's full collection, newest first.
func (c *Client) List(ctx context.Context, owner string) ([]schema.Item, error) {
	resp, err := c.call(ctx, docstore.Request{Op: docstore.OpList, OwnerID: owner})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ApplyBatch writes several items in one server-side transaction.
// Both records of a link mutation travel through here so a partial
// write is never observable.
func (c *Client) ApplyBatch(ctx context.Context, items []schema.Item) error {
	_, err := c.call(ctx, docstore.Request{Op: docstore.OpBatch, Items: items})
	return err
}

// PutMeta replaces the peripheral-state document for an owner.
func (c *Client) PutMeta(ctx context.Context, owner string, meta schema.Meta) error {
	_, err := c.call(ctx, docstore.Request{Op: docstore.OpPutMeta, OwnerID: owner, Meta: &meta})
	return err
}

// GetMeta fetches the peripheral-state document, or nil if absent.
func (c *Client) GetMeta(ctx context.Context, owner string) (*schema.Meta, error) {
	resp, err := c.call(ctx, docstore.Request{Op: docstore.OpGetMeta, OwnerID: owner})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Meta, nil
}

// Subscribe registers for live snapshots of everything the owner has.
// The first snapshot arrives immediately after the call returns. The
// returned stop function tears the subscription down by closing the
// client; a subscription and its connection share a lifetime.
func (c *Client) Subscribe(ctx context.Context, owner string, cb Callbacks) (func(), error) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()

	_, err := c.call(ctx, docstore.Request{Op: docstore.OpSubscribe, OwnerID: owner})
	if err != nil {
		c.mu.Lock()
		c.cb = Callbacks{}
		c.mu.Unlock()
		return nil, err
	}

	return func() { _ = c.Close() }, nil
}
