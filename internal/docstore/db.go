// Package docstore implements the networked document store that backs
// remote mode: one flat collection of item documents keyed by id,
// queried by owner and ordered by last modification, served over
// WebSocket with live per-owner snapshot pushes.
//
// The store runs on embedded SQLite (ncruces/go-sqlite3) with WAL for
// concurrent reads. Documents are stored as JSON; owner_id and
// updated_at are lifted into columns for the subscription query.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/satchelhq/satchel/internal/schema"
)

// ErrNotFound is returned when an item or meta document does not exist.
var ErrNotFound = errors.New("document not found")

// DB wraps the SQLite connection holding the document collections.
type DB struct {
	conn *sql.DB
	path string
}

// OpenDB opens or creates the database at path and initializes the
// schema. The caller must Close() it.
func OpenDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	err := db.conn.Close()
	db.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (db *DB) initSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS items (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		doc        TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		owner_id   TEXT PRIMARY KEY,
		updated_at INTEGER NOT NULL,
		doc        TEXT NOT NULL
	);

	-- The subscription query: owner_id == X ORDER BY updated_at DESC.
	CREATE INDEX IF NOT EXISTS idx_items_owner_updated
	    ON items(owner_id, updated_at DESC);
	`
	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// PutItem inserts or replaces an item document.
func (db *DB) PutItem(ctx context.Context, item schema.Item) error {
	doc, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item %s: %w", item.ID, err)
	}

	query := `
	INSERT INTO items (id, owner_id, updated_at, doc)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id   = excluded.owner_id,
		updated_at = excluded.updated_at,
		doc        = excluded.doc
	`
	if _, err := db.conn.ExecContext(ctx, query, item.ID, item.OwnerID, item.UpdatedAt, string(doc)); err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
	}
	return nil
}

// ApplyPatch applies set/delete markers to a stored document and
// returns the owner of the patched item for snapshot broadcasting.
// Returns ErrNotFound if no document has this id.
func (db *DB) ApplyPatch(ctx context.Context, id string, patch schema.Patch) (string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM items WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read item %s: %w", id, err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("failed to decode item %s: %w", id, err)
	}

	patched := patch.Apply(doc)
	item, _ := schema.Sanitize(patched)
	item.ID = id // the patch may not rewrite identity

	out, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("failed to encode item %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE items SET owner_id = ?, updated_at = ?, doc = ? WHERE id = ?`,
		item.OwnerID, item.UpdatedAt, string(out), id)
	if err != nil {
		return "", fmt.Errorf("failed to update item %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit patch for %s: %w", id, err)
	}
	return item.OwnerID, nil
}

// DeleteItem removes an item document, returning its owner. Deleting a
// missing item returns ErrNotFound so the server can answer the caller
// precisely; the engine treats that as a no-op.
func (db *DB) DeleteItem(ctx context.Context, id string) (string, error) {
	var owner string
	err := db.conn.QueryRowContext(ctx, `SELECT owner_id FROM items WHERE id = ?`, id).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read item %s: %w", id, err)
	}

	if _, err := db.conn.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return owner, nil
}

// GetItem retrieves one item document by id.
func (db *DB) GetItem(ctx context.Context, id string) (*schema.Item, error) {
	var raw string
	err := db.conn.QueryRowContext(ctx, `SELECT doc FROM items WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read item %s: %w", id, err)
	}

	var item schema.Item
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("failed to decode item %s: %w", id, err)
	}
	return &item, nil
}

// ListByOwner returns every item owned by owner, newest first. This is
// the snapshot query: each result fully replaces the subscriber's view.
func (db *DB) ListByOwner(ctx context.Context, owner string) ([]schema.Item, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT doc FROM items WHERE owner_id = ? ORDER BY updated_at DESC, id ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query items for %s: %w", owner, err)
	}
	defer rows.Close()

	items := []schema.Item{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		var item schema.Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("failed to decode item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

// ApplyBatch writes several item documents in one transaction. Either
// all documents commit or none do; the bidirectional link operation
// depends on this to never leave one side of a pair updated.
func (db *DB) ApplyBatch(ctx context.Context, items []schema.Item) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO items (id, owner_id, updated_at, doc)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id   = excluded.owner_id,
		updated_at = excluded.updated_at,
		doc        = excluded.doc
	`
	for _, item := range items {
		doc, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item %s: %w", item.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query, item.ID, item.OwnerID, item.UpdatedAt, string(doc)); err != nil {
			return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// PutMeta replaces the peripheral-state document for an owner.
func (db *DB) PutMeta(ctx context.Context, owner string, meta schema.Meta) error {
	doc, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal meta for %s: %w", owner, err)
	}

	query := `
	INSERT INTO meta (owner_id, updated_at, doc)
	VALUES (?, ?, ?)
	ON CONFLICT(owner_id) DO UPDATE SET
		updated_at = excluded.updated_at,
		doc        = excluded.doc
	`
	if _, err := db.conn.ExecContext(ctx, query, owner, meta.UpdatedAt, string(doc)); err != nil {
		return fmt.Errorf("failed to upsert meta for %s: %w", owner, err)
	}
	return nil
}

// GetMeta retrieves the peripheral-state document for an owner.
func (db *DB) GetMeta(ctx context.Context, owner string) (*schema.Meta, error) {
	var raw string
	err := db.conn.QueryRowContext(ctx, `SELECT doc FROM meta WHERE owner_id = ?`, owner).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("meta for %s: %w", owner, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read meta for %s: %w", owner, err)
	}

	var meta schema.Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode meta for %s: %w", owner, err)
	}
	return &meta, nil
}

// ItemCount returns the total number of stored item documents.
func (db *DB) ItemCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}
