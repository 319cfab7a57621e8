package engine

import (
	"context"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/satchelhq/satchel/internal/retry"
	"github.com/satchelhq/satchel/internal/schema"
)

// PeripheralConfig assembles a Peripheral.
type PeripheralConfig struct {
	Engine *Engine

	// Debounce is how long local edits coalesce before one remote
	// write. Zero means 300ms.
	Debounce time.Duration
	// EchoWindow is how long after our own write an incoming meta
	// snapshot is treated as an echo and dropped. Zero means 2s.
	EchoWindow time.Duration

	// OnChange observes the merged peripheral state. Optional.
	OnChange func(schema.Meta)

	Logger *log.Logger
}

// Peripheral syncs the small non-item state, the tag list and user
// settings, alongside the item feed. Rapid local edits coalesce into
// one debounced remote write, and the snapshot our own write triggers
// is suppressed for a short window so it cannot ping-pong stale state
// back over fresher local edits.
type Peripheral struct {
	cfg    PeripheralConfig
	logger *log.Logger

	mu            sync.Mutex
	tags          []string
	settings      map[string]string
	timer         *time.Timer
	suppressUntil time.Time
}

// NewPeripheral creates a peripheral syncer. Wire HandleRemote into
// ManagerConfig.OnMeta to receive the remote feed.
func NewPeripheral(cfg PeripheralConfig) *Peripheral {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[peripheral] ", log.LstdFlags)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.EchoWindow <= 0 {
		cfg.EchoWindow = 2 * time.Second
	}
	return &Peripheral{
		cfg:      cfg,
		logger:   cfg.Logger,
		settings: map[string]string{},
	}
}

// Meta returns the current peripheral state.
func (p *Peripheral) Meta() schema.Meta {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// SetTags replaces the tag list and schedules a debounced sync.
func (p *Peripheral) SetTags(tags []string) {
	p.mu.Lock()
	p.tags = slices.Clone(tags)
	p.scheduleLocked()
	meta := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(meta)
}

// SetSetting updates one settings key and schedules a debounced sync.
// An empty value removes the key.
func (p *Peripheral) SetSetting(key, value string) {
	p.mu.Lock()
	if value == "" {
		delete(p.settings, key)
	} else {
		p.settings[key] = value
	}
	p.scheduleLocked()
	meta := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(meta)
}

// HandleRemote applies an incoming meta snapshot unless it lands
// inside the echo window of our own write.
func (p *Peripheral) HandleRemote(meta schema.Meta) {
	p.mu.Lock()
	if time.Now().Before(p.suppressUntil) {
		p.mu.Unlock()
		return
	}
	p.tags = slices.Clone(meta.Tags)
	p.settings = map[string]string{}
	for k, v := range meta.Settings {
		p.settings[k] = v
	}
	out := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(out)
}

// Flush pushes any pending state immediately, skipping the debounce.
func (p *Peripheral) Flush(ctx context.Context) {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	meta := p.snapshotLocked()
	p.mu.Unlock()
	p.push(ctx, meta)
}

func (p *Peripheral) scheduleLocked() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.cfg.Debounce, func() {
		p.mu.Lock()
		p.timer = nil
		meta := p.snapshotLocked()
		p.mu.Unlock()
		p.push(context.Background(), meta)
	})
}

func (p *Peripheral) push(ctx context.Context, meta schema.Meta) {
	r, owner := p.cfg.Engine.activeRemote()
	if r == nil {
		return
	}
	p.mu.Lock()
	p.suppressUntil = time.Now().Add(p.cfg.EchoWindow)
	p.mu.Unlock()

	err := retry.Do(ctx, p.cfg.Engine.retry, "put meta", func(ctx context.Context) error {
		return r.PutMeta(ctx, owner, meta)
	})
	if err != nil {
		// Losing a tag-list write is recoverable: the next edit or the
		// next remote snapshot converges the state.
		p.logger.Printf("meta sync failed: %v", err)
	}
}

func (p *Peripheral) notify(meta schema.Meta) {
	if p.cfg.OnChange != nil {
		p.cfg.OnChange(meta)
	}
}

func (p *Peripheral) snapshotLocked() schema.Meta {
	return schema.Meta{
		Tags:      slices.Clone(p.tags),
		Settings:  cloneSettings(p.settings),
		UpdatedAt: schema.NowMillis(),
	}
}

func cloneSettings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
