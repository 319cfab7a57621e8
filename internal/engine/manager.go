package engine

import (
	"context"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/satchelhq/satchel/internal/remote"
	"github.com/satchelhq/satchel/internal/schema"
	"github.com/satchelhq/satchel/internal/store"
)

// State is the manager's connection lifecycle state.
type State string

const (
	// StateIdle means no identity is set; the engine serves local data.
	StateIdle State = "idle"
	// StateConnecting means a dial or subscribe is in flight.
	StateConnecting State = "connecting"
	// StateSubscribed means the live snapshot feed is up.
	StateSubscribed State = "subscribed"
	// StateBackoff means the last attempt failed and a retry is scheduled.
	StateBackoff State = "backoff"
	// StateUnable means the attempt budget is spent; the engine serves
	// the local cache until connectivity returns.
	StateUnable State = "unable"
)

// ManagerConfig assembles a Manager.
type ManagerConfig struct {
	Engine *Engine
	Local  store.Local

	// URL of the document store websocket endpoint.
	URL string

	// Dial opens a remote session. Nil uses remote.Dial; tests inject
	// fakes.
	Dial func(ctx context.Context, url string) (Remote, error)

	// MaxAttempts bounds consecutive failed connection attempts before
	// the manager gives up until SetOnline or SetIdentity. Zero means 5.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff between attempts. Zero
	// means 1s.
	BaseDelay time.Duration
	// MaxDelay caps the backoff. Zero means 30s.
	MaxDelay time.Duration

	// LoadingFloor is the minimum time the loading flag stays up, so
	// fast loads do not flash the UI. Zero means 800ms.
	LoadingFloor time.Duration
	// LoadingCeiling force-clears the loading flag even if the first
	// snapshot never arrives. Zero means 10s.
	LoadingCeiling time.Duration

	// OnState observes lifecycle transitions. Optional.
	OnState func(State)
	// OnLoading observes the loading flag. Optional.
	OnLoading func(bool)
	// OnMeta receives peripheral-state snapshots from the remote feed.
	// Optional; the peripheral syncer registers here.
	OnMeta func(schema.Meta)

	Logger *log.Logger
}

// Manager owns the subscription lifecycle: it dials the remote store,
// subscribes to the owner's live feed, reconnects with bounded
// exponential backoff when the feed drops, and falls back to the local
// cache when the budget is spent. All subscription-level backoff lives
// here; retry.Do only ever wraps one-shot calls.
type Manager struct {
	cfg    ManagerConfig
	logger *log.Logger

	done chan struct{}

	mu       sync.Mutex
	state    State
	identity string
	attempts int
	cancel   context.CancelFunc
	closed   bool

	loading      bool
	loadingSince time.Time
	loadingCeil  *time.Timer
}

// NewManager creates a manager in the idle state. Call SetIdentity to
// start it.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[manager] ", log.LstdFlags)
	}
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, url string) (Remote, error) {
			return remote.Dial(ctx, url, cfg.Logger)
		}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.LoadingFloor <= 0 {
		cfg.LoadingFloor = 800 * time.Millisecond
	}
	if cfg.LoadingCeiling <= 0 {
		cfg.LoadingCeiling = 10 * time.Second
	}

	m := &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		state:  StateIdle,
		done:   make(chan struct{}),
	}
	go m.watchLocal()
	return m
}

// watchLocal reloads the collection when another process rewrites the
// local store. Only local mode reacts; in remote mode the live feed is
// authoritative and the store is just a cache.
func (m *Manager) watchLocal() {
	ch := m.cfg.Local.Changes()
	if ch == nil {
		return
	}
	for {
		select {
		case <-m.done:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
		}
		m.mu.Lock()
		local := m.identity == "" && m.state == StateIdle && !m.closed
		m.mu.Unlock()
		if !local {
			continue
		}
		m.logger.Printf("local store changed externally, reloading")
		m.loadLocal()
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetIdentity tears down any active session and starts a new one for
// the given owner. An empty owner means signed out: the engine drops
// to local mode and loads the local store immediately.
func (m *Manager) SetIdentity(owner string) {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.identity = owner
	m.attempts = 0
	m.startLoadingLocked()

	if owner == "" {
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		m.cfg.Engine.ClearRemote()
		m.loadLocal()
		m.finishLoading()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	// Seed the collection from the cache so the UI has data while the
	// dial is in flight. The seed does not count as loaded: only the
	// first snapshot, the ceiling, or a spent attempt budget clears
	// the loading flag.
	m.loadLocal()
	go m.run(ctx, owner)
}

// SetOnline reports a connectivity change. Coming online resets the
// attempt budget and, if the manager had given up or is waiting out a
// backoff, reconnects immediately. Going offline tears the session
// down and parks in backoff so the next online signal restarts it.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	owner := m.identity
	if owner == "" {
		m.mu.Unlock()
		return
	}
	if !online {
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.setStateLocked(StateBackoff)
		m.mu.Unlock()
		m.cfg.Engine.ClearRemote()
		return
	}

	m.attempts = 0
	restart := m.state == StateUnable || m.state == StateBackoff
	if restart && m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if !restart {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()
	go m.run(ctx, owner)
}

// Close tears down any active session and stops the local-store
// watcher. Safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	m.setStateLocked(StateIdle)
	m.mu.Unlock()
	m.cfg.Engine.ClearRemote()
}

// run is the session loop: dial, subscribe, hold until the feed drops,
// back off, repeat. It exits when the context is cancelled or the
// attempt budget is spent.
func (m *Manager) run(ctx context.Context, owner string) {
	for {
		if ctx.Err() != nil {
			return
		}
		m.setState(StateConnecting)

		err := m.session(ctx, owner)
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.attempts++
		attempts := m.attempts
		m.mu.Unlock()
		if attempts >= m.cfg.MaxAttempts {
			m.logger.Printf("giving up after %d attempts: %v", attempts, err)
			m.setState(StateUnable)
			m.finishLoading()
			return
		}

		delay := m.backoffDelay(attempts)
		m.logger.Printf("connection lost (attempt %d/%d): %v; retrying in %s",
			attempts, m.cfg.MaxAttempts, err, delay)
		m.setState(StateBackoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// session runs one dial+subscribe and blocks until the feed drops or
// the context ends. A nil return only happens on cancellation.
func (m *Manager) session(ctx context.Context, owner string) error {
	r, err := m.cfg.Dial(ctx, m.cfg.URL)
	if err != nil {
		return err
	}

	errs := make(chan error, 1)
	stop, err := r.Subscribe(ctx, owner, remote.Callbacks{
		OnItems: m.applySnapshot,
		OnMeta: func(meta schema.Meta) {
			if m.cfg.OnMeta != nil {
				m.cfg.OnMeta(meta)
			}
		},
		OnError: func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	})
	if err != nil {
		r.Close()
		return err
	}

	m.cfg.Engine.SetRemote(r, owner)
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	m.setState(StateSubscribed)

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errs:
	}
	m.cfg.Engine.ClearRemote()
	stop()
	return err
}

// applySnapshot sanitizes a remote snapshot, replaces the reactive
// collection, mirrors it to the local cache, and clears the loading
// flag on the first one.
func (m *Manager) applySnapshot(items []schema.Item) {
	clean := make([]schema.Item, 0, len(items))
	for _, it := range items {
		clean = append(clean, schema.Normalize(it))
	}
	m.cfg.Engine.Collection().ReplaceAll(clean)
	if !m.cfg.Local.Save(context.Background(), clean) {
		m.logger.Printf("failed to cache snapshot locally")
	}
	m.finishLoading()
}

// loadLocal seeds the collection from the local store. Load never
// fails; an unreadable store yields an empty collection.
func (m *Manager) loadLocal() {
	items := m.cfg.Local.Load(context.Background())
	clean := make([]schema.Item, 0, len(items))
	for _, it := range items {
		clean = append(clean, schema.Normalize(it))
	}
	m.cfg.Engine.Collection().ReplaceAll(clean)
}

func (m *Manager) backoffDelay(attempt int) time.Duration {
	d := m.cfg.BaseDelay << (attempt - 1)
	if d > m.cfg.MaxDelay || d <= 0 {
		d = m.cfg.MaxDelay
	}
	return d + time.Duration(rand.Int63n(int64(d)/3+1))
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.setStateLocked(s)
	m.mu.Unlock()
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.cfg.OnState != nil {
		go m.cfg.OnState(s)
	}
}

// startLoadingLocked raises the loading flag and arms the ceiling
// timer that force-clears it if no snapshot ever lands.
func (m *Manager) startLoadingLocked() {
	if m.loadingCeil != nil {
		m.loadingCeil.Stop()
	}
	m.loading = true
	m.loadingSince = time.Now()
	m.loadingCeil = time.AfterFunc(m.cfg.LoadingCeiling, m.finishLoading)
	if m.cfg.OnLoading != nil {
		go m.cfg.OnLoading(true)
	}
}

// finishLoading clears the loading flag, waiting out the floor first
// so sub-floor loads do not flash the UI.
func (m *Manager) finishLoading() {
	m.mu.Lock()
	if !m.loading {
		m.mu.Unlock()
		return
	}
	remaining := m.cfg.LoadingFloor - time.Since(m.loadingSince)
	if remaining > 0 {
		m.mu.Unlock()
		time.AfterFunc(remaining, m.finishLoading)
		return
	}
	m.loading = false
	if m.loadingCeil != nil {
		m.loadingCeil.Stop()
		m.loadingCeil = nil
	}
	m.mu.Unlock()
	if m.cfg.OnLoading != nil {
		go m.cfg.OnLoading(false)
	}
}
