package kbindex

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx wraps a *sql.Tx with the item-model write helpers the repository needs.
// Item writes are committed by internal/kb; internal/currentstate,
// internal/rebuild and internal/protocol's tag/type handlers also commit
// their own Tx for registry writes.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a SQLite transaction. The caller must Commit or Rollback.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("kbindex: begin: %w", err)
	}

	return &Tx{tx: tx}, nil
}

// Unwrap exposes the underlying *sql.Tx for schema setup (DropAndRecreateSchema)
// during open/rebuild. Item-model code should use Tx's own methods instead.
func (t *Tx) Unwrap() *sql.Tx {
	return t.tx
}

// Commit commits the underlying transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("kbindex: commit: %w", err)
	}

	return nil
}

// Rollback aborts the underlying transaction. Calling it after a successful
// Commit is a no-op error from database/sql, which callers may ignore via
// defer.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// ItemRow is the full physical row for one item.
type ItemRow struct {
	Type        string
	ID          string
	Title       string
	Description string
	Content     string
	Priority    string
	Status      string
	StartDate   string
	EndDate     string
	CreatedAt   string
	UpdatedAt   string
}

// UpsertItem inserts or replaces the items row.
func (t *Tx) UpsertItem(ctx context.Context, row ItemRow) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO items (type, id, title, description, content, priority, status, start_date, end_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			content = excluded.content,
			priority = excluded.priority,
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		row.Type, row.ID, row.Title, row.Description, row.Content,
		row.Priority, row.Status, row.StartDate, row.EndDate, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("kbindex: upsert item %s-%s: %w", row.Type, row.ID, err)
	}

	return nil
}

// DeleteItem removes the items row. Edge tables must be cleared by the
// caller first (ClearItemTags, ClearRelated) to honor FK-less referential
// cleanup order.
func (t *Tx) DeleteItem(ctx context.Context, typ, id string) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM items WHERE type = ? AND id = ?", typ, id)
	if err != nil {
		return fmt.Errorf("kbindex: delete item %s-%s: %w", typ, id, err)
	}

	return nil
}

// GetItem reads one physical row, or (ItemRow{}, false, nil) if absent.
func (t *Tx) GetItem(ctx context.Context, typ, id string) (ItemRow, bool, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT type, id, title, description, content, priority, status, start_date, end_date, created_at, updated_at
		FROM items WHERE type = ? AND id = ?`, typ, id)

	var r ItemRow

	err := row.Scan(&r.Type, &r.ID, &r.Title, &r.Description, &r.Content,
		&r.Priority, &r.Status, &r.StartDate, &r.EndDate, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ItemRow{}, false, nil
		}

		return ItemRow{}, false, fmt.Errorf("kbindex: get item %s-%s: %w", typ, id, err)
	}

	return r, true, nil
}

// ClearItemTags removes every item_tags edge for (typ, id).
func (t *Tx) ClearItemTags(ctx context.Context, typ, id string) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM item_tags WHERE type = ? AND id = ?", typ, id)
	if err != nil {
		return fmt.Errorf("kbindex: clear item_tags %s-%s: %w", typ, id, err)
	}

	return nil
}

// InsertItemTag adds one item_tags edge.
func (t *Tx) InsertItemTag(ctx context.Context, typ, id string, tagID int64) error {
	_, err := t.tx.ExecContext(ctx, "INSERT OR IGNORE INTO item_tags (type, id, tag_id) VALUES (?, ?, ?)", typ, id, tagID)
	if err != nil {
		return fmt.Errorf("kbindex: insert item_tags %s-%s: %w", typ, id, err)
	}

	return nil
}

// ClearRelated removes every related_items edge sourced from (typ, id).
func (t *Tx) ClearRelated(ctx context.Context, typ, id string) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM related_items WHERE source_type = ? AND source_id = ?", typ, id)
	if err != nil {
		return fmt.Errorf("kbindex: clear related %s-%s: %w", typ, id, err)
	}

	return nil
}

// InsertRelated adds one related_items edge at position.
func (t *Tx) InsertRelated(ctx context.Context, sourceType, sourceID, targetType, targetID string, position int) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO related_items (source_type, source_id, target_type, target_id, position)
		VALUES (?, ?, ?, ?, ?)`, sourceType, sourceID, targetType, targetID, position)
	if err != nil {
		return fmt.Errorf("kbindex: insert related %s-%s -> %s-%s: %w", sourceType, sourceID, targetType, targetID, err)
	}

	return nil
}

// RetargetRelated repoints every edge whose target is (fromType, fromID) to
// (toType, toID), for change_item_type (spec §4.H).
func (t *Tx) RetargetRelated(ctx context.Context, fromType, fromID, toType, toID string) ([]struct{ SourceType, SourceID string }, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT DISTINCT source_type, source_id FROM related_items
		WHERE target_type = ? AND target_id = ?`, fromType, fromID)
	if err != nil {
		return nil, fmt.Errorf("kbindex: select referrers of %s-%s: %w", fromType, fromID, err)
	}

	defer rows.Close()

	var referrers []struct{ SourceType, SourceID string }

	for rows.Next() {
		var r struct{ SourceType, SourceID string }
		if err := rows.Scan(&r.SourceType, &r.SourceID); err != nil {
			return nil, fmt.Errorf("kbindex: scan referrer: %w", err)
		}

		referrers = append(referrers, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kbindex: iterate referrers: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE related_items SET target_type = ?, target_id = ?
		WHERE target_type = ? AND target_id = ?`, toType, toID, fromType, fromID)
	if err != nil {
		return nil, fmt.Errorf("kbindex: retarget related %s-%s -> %s-%s: %w", fromType, fromID, toType, toID, err)
	}

	return referrers, nil
}

// RelatedOf returns the ordered "type-id" reference strings for (typ, id).
func (t *Tx) RelatedOf(ctx context.Context, typ, id string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT target_type, target_id FROM related_items
		WHERE source_type = ? AND source_id = ? ORDER BY position`, typ, id)
	if err != nil {
		return nil, fmt.Errorf("kbindex: related of %s-%s: %w", typ, id, err)
	}

	defer rows.Close()

	var refs []string

	for rows.Next() {
		var targetType, targetID string
		if err := rows.Scan(&targetType, &targetID); err != nil {
			return nil, fmt.Errorf("kbindex: scan related: %w", err)
		}

		refs = append(refs, targetType+"-"+targetID)
	}

	return refs, rows.Err()
}

// TagsOf returns the tag names attached to (typ, id), ordered by tag id
// (insertion order for interning).
func (t *Tx) TagsOf(ctx context.Context, typ, id string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT tags.name FROM item_tags
		JOIN tags ON tags.id = item_tags.tag_id
		WHERE item_tags.type = ? AND item_tags.id = ?
		ORDER BY tags.id`, typ, id)
	if err != nil {
		return nil, fmt.Errorf("kbindex: tags of %s-%s: %w", typ, id, err)
	}

	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("kbindex: scan tag: %w", err)
		}

		names = append(names, name)
	}

	return names, rows.Err()
}
