// Package file implements the local store backend as a single JSON
// blob on disk, with fsnotify supplying the cross-process change
// events that keep a second open client convergent.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/satchelhq/satchel/internal/schema"
	"github.com/satchelhq/satchel/internal/store"
)

const (
	// BlobName is the fixed key under which the collection lives.
	BlobName = "items.json"

	// VersionName is the schema-version marker written next to the blob.
	VersionName = "schema_version"
)

func init() {
	store.Register("file", func(dir string, cfg store.Config) (store.Local, error) {
		return Open(dir, cfg)
	})
}

// Store is the file-backed local persistence adapter.
type Store struct {
	dir    string
	cfg    store.Config
	logger *log.Logger

	watcher *fsnotify.Watcher
	changes chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	lastWrite [sha256.Size]byte // hash of our own latest blob, to drop echo events
}

// Open creates the directory if needed, writes the schema-version
// marker, and starts the change watcher.
func Open(dir string, cfg store.Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[store/file] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	versionPath := filepath.Join(dir, VersionName)
	if _, err := os.Stat(versionPath); os.IsNotExist(err) {
		if err := os.WriteFile(versionPath, []byte(store.SchemaVersion), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write schema version: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch store directory: %w", err)
	}

	s := &Store{
		dir:     dir,
		cfg:     cfg,
		logger:  cfg.Logger,
		watcher: watcher,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.watchEvents()

	return s, nil
}

// Load implements store.Local. A corrupt blob is moved aside and an
// empty collection returned; load never fails.
func (s *Store) Load(ctx context.Context) []schema.Item {
	path := s.blobPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Printf("failed to read %s: %v", path, err)
		}
		return nil
	}

	var items []schema.Item
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger.Printf("discarding corrupt blob %s: %v (%v)", path, err, store.ErrCorrupt)
		if renameErr := os.Rename(path, path+".corrupt"); renameErr != nil {
			s.logger.Printf("failed to move corrupt blob aside: %v", renameErr)
		}
		return nil
	}

	for i := range items {
		items[i] = schema.Normalize(items[i])
	}
	return items
}

// Save implements store.Local. The write is atomic (temp file plus
// rename) and verified by reading the blob back. Quota overruns and
// verification failures get one compaction-and-retry pass.
func (s *Store) Save(ctx context.Context, items []schema.Item) bool {
	firstErr := s.saveOnce(items)
	if firstErr == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	compacted, dropped := store.Compact(s.cfg, items)
	s.logger.Printf("save failed (%v), retrying after compaction (dropped %d archived items)", firstErr, dropped)

	if err := s.saveOnce(compacted); err != nil {
		s.logger.Printf("save failed after compaction: %v", err)
		return false
	}
	return true
}

func (s *Store) saveOnce(items []schema.Item) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal collection: %w", err)
	}
	if s.cfg.MaxBytes > 0 && int64(len(data)) > s.cfg.MaxBytes {
		return fmt.Errorf("%w: blob is %d bytes, budget is %d", store.ErrQuotaExceeded, len(data), s.cfg.MaxBytes)
	}

	path := s.blobPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit blob: %w", err)
	}

	// Read back what was just written.
	readBack, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrVerifyFailed, err)
	}
	if string(readBack) != string(data) {
		return store.ErrVerifyFailed
	}

	s.mu.Lock()
	s.lastWrite = sha256.Sum256(data)
	s.mu.Unlock()
	return nil
}

// Changes implements store.Local.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Close stops the watcher.
func (s *Store) Close() error {
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

func (s *Store) blobPath() string {
	return filepath.Join(s.dir, BlobName)
}

// watchEvents forwards external writes of the blob into the change
// channel. Events caused by our own Save are recognized by content
// hash and dropped, so a client never reacts to its own write echo.
func (s *Store) watchEvents() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != BlobName {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if s.isOwnWrite() {
				continue
			}
			select {
			case s.changes <- struct{}{}:
			default:
				// A notification is already pending; coalesce.
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Printf("watcher error: %v", err)
		}
	}
}

func (s *Store) isOwnWrite() bool {
	data, err := os.ReadFile(s.blobPath())
	if err != nil {
		return false
	}
	sum := sha256.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	return sum == s.lastWrite
}
