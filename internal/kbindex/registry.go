package kbindex

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureTags interns every name in names, returning their ids in the same
// order. Already-registered names are left untouched (spec §4.E).
func (t *Tx) EnsureTags(ctx context.Context, names []string) ([]int64, error) {
	ids := make([]int64, len(names))

	for i, name := range names {
		id, err := t.ensureTag(ctx, name)
		if err != nil {
			return nil, err
		}

		ids[i] = id
	}

	return ids, nil
}

func (t *Tx) ensureTag(ctx context.Context, name string) (int64, error) {
	_, err := t.tx.ExecContext(ctx, "INSERT OR IGNORE INTO tags (name) VALUES (?)", name)
	if err != nil {
		return 0, fmt.Errorf("kbindex: ensure tag %q: %w", name, err)
	}

	var id int64

	err = t.tx.QueryRowContext(ctx, "SELECT id FROM tags WHERE name = ?", name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("kbindex: read tag id %q: %w", name, err)
	}

	return id, nil
}

// TagByName returns the tag row for name, or (Tag{}, false, nil) if unknown.
func (t *Tx) TagByName(ctx context.Context, name string) (id int64, found bool, err error) {
	row := t.tx.QueryRowContext(ctx, "SELECT id FROM tags WHERE name = ?", name)

	err = row.Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("kbindex: tag by name %q: %w", name, err)
	}

	return id, true, nil
}

// TagReferenced reports whether any item_tags row references tagID.
func (t *Tx) TagReferenced(ctx context.Context, tagID int64) (bool, error) {
	var n int

	err := t.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM item_tags WHERE tag_id = ?", tagID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("kbindex: tag referenced %d: %w", tagID, err)
	}

	return n > 0, nil
}

// DeleteTag removes a tag and, if force, its item_tags edges first.
func (t *Tx) DeleteTag(ctx context.Context, tagID int64, force bool) error {
	if force {
		if _, err := t.tx.ExecContext(ctx, "DELETE FROM item_tags WHERE tag_id = ?", tagID); err != nil {
			return fmt.Errorf("kbindex: delete tag edges %d: %w", tagID, err)
		}
	}

	if _, err := t.tx.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", tagID); err != nil {
		return fmt.Errorf("kbindex: delete tag %d: %w", tagID, err)
	}

	return nil
}

// SearchTags returns tag names containing pattern, case-insensitively.
func (t *Tx) SearchTags(ctx context.Context, pattern string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, "SELECT name FROM tags WHERE name LIKE ? ESCAPE '\\' ORDER BY name", "%"+escapeLike(pattern)+"%")
	if err != nil {
		return nil, fmt.Errorf("kbindex: search tags %q: %w", pattern, err)
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

func escapeLike(s string) string {
	r := make([]byte, 0, len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}

		r = append(r, c)
	}

	return string(r)
}

// AllTags returns every registered tag.
func (t *Tx) AllTags(ctx context.Context) ([]struct {
	ID   int64
	Name string
}, error) {
	rows, err := t.tx.QueryContext(ctx, "SELECT id, name FROM tags ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("kbindex: all tags: %w", err)
	}

	defer rows.Close()

	var out []struct {
		ID   int64
		Name string
	}

	for rows.Next() {
		var row struct {
			ID   int64
			Name string
		}
		if err := rows.Scan(&row.ID, &row.Name); err != nil {
			return nil, fmt.Errorf("kbindex: scan tag: %w", err)
		}

		out = append(out, row)
	}

	return out, rows.Err()
}

// UpsertType inserts or updates a type_registry row.
func (t *Tx) UpsertType(ctx context.Context, name, baseKind, description string, builtIn bool) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO type_registry (name, base_kind, description, built_in) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET description = excluded.description`,
		name, baseKind, description, boolToInt(builtIn))
	if err != nil {
		return fmt.Errorf("kbindex: upsert type %q: %w", name, err)
	}

	return nil
}

// TypeByName returns one type_registry row.
func (t *Tx) TypeByName(ctx context.Context, name string) (baseKind, description string, builtIn, found bool, err error) {
	row := t.tx.QueryRowContext(ctx, "SELECT base_kind, description, built_in FROM type_registry WHERE name = ?", name)

	var builtInInt int

	err = row.Scan(&baseKind, &description, &builtInInt)
	if err == sql.ErrNoRows {
		return "", "", false, false, nil
	}

	if err != nil {
		return "", "", false, false, fmt.Errorf("kbindex: type by name %q: %w", name, err)
	}

	return baseKind, description, builtInInt != 0, true, nil
}

// AllTypes returns every registered type.
func (t *Tx) AllTypes(ctx context.Context) ([]struct {
	Name, BaseKind, Description string
	BuiltIn                    bool
}, error) {
	rows, err := t.tx.QueryContext(ctx, "SELECT name, base_kind, description, built_in FROM type_registry ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("kbindex: all types: %w", err)
	}

	defer rows.Close()

	var out []struct {
		Name, BaseKind, Description string
		BuiltIn                    bool
	}

	for rows.Next() {
		var row struct {
			Name, BaseKind, Description string
			BuiltIn                    bool
		}

		var builtInInt int

		if err := rows.Scan(&row.Name, &row.BaseKind, &row.Description, &builtInInt); err != nil {
			return nil, fmt.Errorf("kbindex: scan type: %w", err)
		}

		row.BuiltIn = builtInInt != 0
		out = append(out, row)
	}

	return out, rows.Err()
}

// DeleteType removes a type_registry row.
func (t *Tx) DeleteType(ctx context.Context, name string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM type_registry WHERE name = ?", name); err != nil {
		return fmt.Errorf("kbindex: delete type %q: %w", name, err)
	}

	return nil
}

// TypeItemCount reports how many items exist of the given type, used to
// reject deletion of a non-empty type.
func (t *Tx) TypeItemCount(ctx context.Context, name string) (int, error) {
	var n int

	err := t.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE type = ?", name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("kbindex: type item count %q: %w", name, err)
	}

	return n, nil
}

// UpsertStatus inserts a status row if absent.
func (t *Tx) UpsertStatus(ctx context.Context, name string, isClosed bool) error {
	_, err := t.tx.ExecContext(ctx, "INSERT OR IGNORE INTO statuses (name, is_closed) VALUES (?, ?)", name, boolToInt(isClosed))
	if err != nil {
		return fmt.Errorf("kbindex: upsert status %q: %w", name, err)
	}

	return nil
}

// StatusByName returns one status row.
func (t *Tx) StatusByName(ctx context.Context, name string) (isClosed, found bool, err error) {
	row := t.tx.QueryRowContext(ctx, "SELECT is_closed FROM statuses WHERE name = ?", name)

	var closedInt int

	err = row.Scan(&closedInt)
	if err == sql.ErrNoRows {
		return false, false, nil
	}

	if err != nil {
		return false, false, fmt.Errorf("kbindex: status by name %q: %w", name, err)
	}

	return closedInt != 0, true, nil
}

// AllStatuses returns every registered status.
func (t *Tx) AllStatuses(ctx context.Context) ([]struct {
	Name     string
	IsClosed bool
}, error) {
	rows, err := t.tx.QueryContext(ctx, "SELECT name, is_closed FROM statuses ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("kbindex: all statuses: %w", err)
	}

	defer rows.Close()

	var out []struct {
		Name     string
		IsClosed bool
	}

	for rows.Next() {
		var row struct {
			Name     string
			IsClosed bool
		}

		var closedInt int

		if err := rows.Scan(&row.Name, &closedInt); err != nil {
			return nil, fmt.Errorf("kbindex: scan status: %w", err)
		}

		row.IsClosed = closedInt != 0
		out = append(out, row)
	}

	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
