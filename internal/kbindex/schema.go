// Package kbindex is the embedded SQLite index: a disposable projection of
// the Markdown item tree, rebuildable at any time from component A/B (spec
// §4.C). It owns the schema, transaction boundary, sequence allocator, and
// the read queries the search and list operations run against.
package kbindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// currentSchemaVersion is stored in SQLite's user_version pragma. Bumping it
// forces a full rebuild on next Open, since the index is never migrated in
// place — it is always reconstructed from the authoritative file tree.
const currentSchemaVersion = 1

const defaultBusyTimeoutMS = 10000

// Options controls the pool and busy-timeout behavior of Open, sourced from
// the engine's configuration (spec §5 "the index connection pool is owned
// by the index store (min/max connections configurable)").
type Options struct {
	// ConnectionPoolMin sets db.SetMaxIdleConns. Zero defaults to 1.
	ConnectionPoolMin int
	// ConnectionPoolMax sets db.SetMaxOpenConns. Zero defaults to 1.
	ConnectionPoolMax int
	// BusyTimeoutMS is applied via the connection DSN so every pooled
	// connection — not just the one Open happens to provision first —
	// carries the same busy_timeout. Zero defaults to 10000.
	BusyTimeoutMS int
}

// DefaultOptions returns the Options Open uses when none are given.
func DefaultOptions() Options {
	return Options{ConnectionPoolMin: 1, ConnectionPoolMax: 1, BusyTimeoutMS: defaultBusyTimeoutMS}
}

func (o Options) withDefaults() Options {
	if o.ConnectionPoolMin <= 0 {
		o.ConnectionPoolMin = 1
	}

	if o.ConnectionPoolMax <= 0 {
		o.ConnectionPoolMax = 1
	}

	if o.BusyTimeoutMS <= 0 {
		o.BusyTimeoutMS = defaultBusyTimeoutMS
	}

	return o
}

// Store owns the SQLite connection backing the index.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the engine's pragmas and pool bounds from opts. It does not itself decide
// whether a rebuild is needed; callers compare Version against
// currentSchemaVersion.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("kbindex: open: path is empty")
	}

	opts = opts.withDefaults()

	dsn := fmt.Sprintf(
		"file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=FULL&_foreign_keys=ON&_temp_store=MEMORY",
		path, opts.BusyTimeoutMS,
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("kbindex: open: %w", err)
	}

	db.SetMaxOpenConns(opts.ConnectionPoolMax)
	db.SetMaxIdleConns(opts.ConnectionPoolMin)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("kbindex: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Version reads the schema version recorded by the last rebuild.
func (s *Store) Version(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, "PRAGMA user_version")

	var v int

	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("kbindex: read user_version: %w", err)
	}

	return v, nil
}

// NeedsRebuild reports whether the stored schema version is stale.
func (s *Store) NeedsRebuild(ctx context.Context) (bool, error) {
	v, err := s.Version(ctx)
	if err != nil {
		return false, err
	}

	return v != currentSchemaVersion, nil
}

// DropAndRecreateSchema wipes every table and virtual table and recreates
// them empty, stamping the current schema version. It runs inside tx so the
// caller can pair it with the full repopulation pass of a rebuild (spec
// §4.K) as one atomic unit.
func DropAndRecreateSchema(ctx context.Context, tx *sql.Tx) error {
	statements := []string{
		"DROP TRIGGER IF EXISTS items_fts_insert",
		"DROP TRIGGER IF EXISTS items_fts_update",
		"DROP TRIGGER IF EXISTS items_fts_delete",
		"DROP TABLE IF EXISTS items_fts",
		"DROP TABLE IF EXISTS related_items",
		"DROP TABLE IF EXISTS item_tags",
		"DROP TABLE IF EXISTS items",
		"DROP TABLE IF EXISTS tags",
		"DROP TABLE IF EXISTS statuses",
		"DROP TABLE IF EXISTS sequences",
		"DROP TABLE IF EXISTS type_registry",

		`CREATE TABLE type_registry (
			name TEXT PRIMARY KEY,
			base_kind TEXT NOT NULL,
			description TEXT NOT NULL,
			built_in INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE sequences (
			type TEXT PRIMARY KEY,
			current_value INTEGER NOT NULL DEFAULT 0,
			base_kind TEXT NOT NULL
		)`,

		`CREATE TABLE statuses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			is_closed INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,

		`CREATE TABLE items (
			type TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			start_date TEXT NOT NULL DEFAULT '',
			end_date TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (type, id)
		)`,
		"CREATE INDEX idx_items_status ON items(type, status)",
		"CREATE INDEX idx_items_updated_at ON items(type, updated_at)",

		`CREATE TABLE item_tags (
			type TEXT NOT NULL,
			id TEXT NOT NULL,
			tag_id INTEGER NOT NULL,
			PRIMARY KEY (type, id, tag_id)
		)`,
		"CREATE INDEX idx_item_tags_tag ON item_tags(tag_id)",

		`CREATE TABLE related_items (
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (source_type, source_id, position)
		)`,
		"CREATE INDEX idx_related_target ON related_items(target_type, target_id)",

		`CREATE VIRTUAL TABLE items_fts USING fts5(
			type UNINDEXED,
			id UNINDEXED,
			title,
			description,
			content,
			tags_joined
		)`,

		`CREATE TRIGGER items_fts_insert AFTER INSERT ON items
		BEGIN
			DELETE FROM items_fts WHERE type = NEW.type AND id = NEW.id;
			INSERT INTO items_fts(type, id, title, description, content, tags_joined)
			VALUES (NEW.type, NEW.id, NEW.title, NEW.description, NEW.content, '');
		END`,

		`CREATE TRIGGER items_fts_update AFTER UPDATE OF title, description, content ON items
		BEGIN
			DELETE FROM items_fts WHERE type = OLD.type AND id = OLD.id;
			INSERT INTO items_fts(type, id, title, description, content, tags_joined)
			VALUES (NEW.type, NEW.id, NEW.title, NEW.description, NEW.content,
				(SELECT COALESCE(GROUP_CONCAT(tags.name, ' '), '')
				 FROM item_tags JOIN tags ON tags.id = item_tags.tag_id
				 WHERE item_tags.type = NEW.type AND item_tags.id = NEW.id));
		END`,

		`CREATE TRIGGER items_fts_delete AFTER DELETE ON items
		BEGIN
			DELETE FROM items_fts WHERE type = OLD.type AND id = OLD.id;
		END`,
	}

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("kbindex: schema statement %d: %w", i+1, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("kbindex: stamp user_version: %w", err)
	}

	return nil
}

// RefreshTagsJoined recomputes items_fts.tags_joined for one item, used
// after tag-edge reconciliation since the insert trigger cannot see the
// item_tags rows written later in the same transaction.
func RefreshTagsJoined(ctx context.Context, tx *sql.Tx, typ, id string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE items_fts SET tags_joined = (
			SELECT COALESCE(GROUP_CONCAT(tags.name, ' '), '')
			FROM item_tags JOIN tags ON tags.id = item_tags.tag_id
			WHERE item_tags.type = ? AND item_tags.id = ?
		) WHERE type = ? AND id = ?`, typ, id, typ, id)
	if err != nil {
		return fmt.Errorf("kbindex: refresh tags_joined: %w", err)
	}

	return nil
}
