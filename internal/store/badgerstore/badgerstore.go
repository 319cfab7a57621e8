// Package badgerstore implements the local store backend on BadgerDB.
// The collection still lives as one blob under a fixed key — the
// adapter contract, not the engine's access pattern, decides the
// layout — but Badger's Subscribe stream supplies change events
// natively, where the file backend needs a filesystem watcher.
package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"

	"github.com/satchelhq/satchel/internal/schema"
	"github.com/satchelhq/satchel/internal/store"
)

const (
	// BlobKey is the fixed key under which the collection lives.
	BlobKey = "items"

	// VersionKey is the schema-version marker.
	VersionKey = "schema_version"
)

func init() {
	store.Register("badger", func(dir string, cfg store.Config) (store.Local, error) {
		return Open(dir, cfg)
	})
}

// Store is the Badger-backed local persistence adapter.
type Store struct {
	db     *badger.DB
	cfg    store.Config
	logger *log.Logger

	changes chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	lastWrite uint64 // version of our own latest set, to drop echo events
}

// Open opens (or creates) the database at dir and writes the
// schema-version key if missing. An empty dir opens an in-memory
// database, which tests use.
func Open(dir string, cfg store.Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[store/badger] ", log.LstdFlags)
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithNumVersionsToKeep(1)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts = opts.WithSyncWrites(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", dir, err)
	}

	err = db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(VersionKey)); err == badger.ErrKeyNotFound {
			return txn.Set([]byte(VersionKey), []byte(store.SchemaVersion))
		} else if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to write schema version: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:      db,
		cfg:     cfg,
		logger:  cfg.Logger,
		changes: make(chan struct{}, 1),
		cancel:  cancel,
	}

	s.wg.Add(1)
	go s.subscribe(ctx)

	return s, nil
}

// Load implements store.Local. A corrupt blob is deleted and an empty
// collection returned; load never fails.
func (s *Store) Load(ctx context.Context) []schema.Item {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get([]byte(BlobKey))
		if err != nil {
			return err
		}
		data, err = entry.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil
	}
	if err != nil {
		s.logger.Printf("failed to read blob: %v", err)
		return nil
	}

	var items []schema.Item
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger.Printf("discarding corrupt blob: %v (%v)", err, store.ErrCorrupt)
		if delErr := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(BlobKey))
		}); delErr != nil {
			s.logger.Printf("failed to drop corrupt blob: %v", delErr)
		}
		return nil
	}

	for i := range items {
		items[i] = schema.Normalize(items[i])
	}
	return items
}

// Save implements store.Local. Quota overruns and verification
// failures get one compaction-and-retry pass.
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

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(BlobKey), data)
	}); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}

	// Read back what was just written and remember its version so the
	// subscription can drop the echo.
	var readBack []byte
	var version uint64
	err = s.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get([]byte(BlobKey))
		if err != nil {
			return err
		}
		version = entry.Version()
		readBack, err = entry.ValueCopy(nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrVerifyFailed, err)
	}
	if string(readBack) != string(data) {
		return store.ErrVerifyFailed
	}

	s.mu.Lock()
	s.lastWrite = version
	s.mu.Unlock()
	return nil
}

// Changes implements store.Local.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Close stops the subscription and closes the database.
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()
	return s.db.Close()
}

// subscribe forwards blob-key updates from other openers of the same
// database into the change channel.
func (s *Store) subscribe(ctx context.Context) {
	defer s.wg.Done()

	match := []pb.Match{{Prefix: []byte(BlobKey)}}
	err := s.db.Subscribe(ctx, func(kvs *badger.KVList) error {
		foreign := false
		s.mu.Lock()
		for _, kv := range kvs.Kv {
			if kv.Version > s.lastWrite {
				foreign = true
			}
		}
		s.mu.Unlock()
		if !foreign {
			return nil
		}
		select {
		case s.changes <- struct{}{}:
		default:
		}
		return nil
	}, match)
	if err != nil && ctx.Err() == nil {
		s.logger.Printf("change subscription ended: %v", err)
	}
}
