package kbindex

import (
	"context"
	"fmt"
	"strings"
)

// ListFilter mirrors model.ListFilter at the physical-query level; internal/kb
// translates between the two so kbindex stays free of the model package's
// base-kind logic.
type ListFilter struct {
	Statuses  []string
	StartDate string
	EndDate   string
	Limit     int
	OrderBy   string // "id_asc", "id_desc", "date_asc", "date_desc"
	DateKind  string // "numeric_id" or "text_id" selects id vs updated_at filtering
}

// SummaryRow is one row of a list query, with tags attached.
type SummaryRow struct {
	ItemRow
	Tags []string
}

// ListItems runs the Store.List query for one type against the items table
// (spec §4.H "list"). It never touches files.
func (s *Store) ListItems(ctx context.Context, typ string, f ListFilter) ([]SummaryRow, error) {
	clauses := []string{"type = ?"}
	args := []any{typ}

	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))

		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}

		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	dateColumn := "updated_at"
	if f.DateKind == "numeric_id" {
		dateColumn = "id"
	}

	if f.StartDate != "" {
		clauses = append(clauses, dateColumn+" >= ?")
		args = append(args, f.StartDate)
	}

	if f.EndDate != "" {
		clauses = append(clauses, dateColumn+" <= ?")
		args = append(args, f.EndDate)
	}

	var q strings.Builder

	q.WriteString(`
		SELECT type, id, title, description, '', priority, status, start_date, end_date, created_at, updated_at
		FROM items WHERE `)
	q.WriteString(strings.Join(clauses, " AND "))

	switch f.OrderBy {
	case "id_desc":
		q.WriteString(" ORDER BY CAST(id AS INTEGER) DESC")
	case "date_asc":
		q.WriteString(" ORDER BY id ASC")
	case "date_desc":
		q.WriteString(" ORDER BY id DESC")
	default:
		q.WriteString(" ORDER BY CAST(id AS INTEGER) ASC")
	}

	if f.Limit > 0 {
		q.WriteString(" LIMIT ?")

		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("kbindex: list items %q: %w", typ, err)
	}

	defer rows.Close()

	var out []SummaryRow

	for rows.Next() {
		var r ItemRow
		if err := rows.Scan(&r.Type, &r.ID, &r.Title, &r.Description, &r.Content,
			&r.Priority, &r.Status, &r.StartDate, &r.EndDate, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("kbindex: scan item row: %w", err)
		}

		out = append(out, SummaryRow{ItemRow: r})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Tags are fetched after the rows are closed so the follow-up queries
	// do not need a second pooled connection.
	_ = rows.Close()

	for i := range out {
		tags, err := s.tagsOf(ctx, out[i].Type, out[i].ID)
		if err != nil {
			return nil, err
		}

		out[i].Tags = tags
	}

	return out, nil
}

func (s *Store) tagsOf(ctx context.Context, typ, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
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

// ItemsByTag returns every item summary tagged with name.
func (s *Store) ItemsByTag(ctx context.Context, name string) ([]SummaryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT items.type, items.id, items.title, items.description, items.priority,
			items.status, items.start_date, items.end_date, items.created_at, items.updated_at
		FROM items
		JOIN item_tags ON item_tags.type = items.type AND item_tags.id = items.id
		JOIN tags ON tags.id = item_tags.tag_id
		WHERE tags.name = ?
		ORDER BY items.type, CAST(items.id AS INTEGER)`, name)
	if err != nil {
		return nil, fmt.Errorf("kbindex: items by tag %q: %w", name, err)
	}

	defer rows.Close()

	var out []SummaryRow

	for rows.Next() {
		var r ItemRow
		if err := rows.Scan(&r.Type, &r.ID, &r.Title, &r.Description,
			&r.Priority, &r.Status, &r.StartDate, &r.EndDate, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("kbindex: scan tag item row: %w", err)
		}

		out = append(out, SummaryRow{ItemRow: r})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	_ = rows.Close()

	for i := range out {
		tags, err := s.tagsOf(ctx, out[i].Type, out[i].ID)
		if err != nil {
			return nil, err
		}

		out[i].Tags = tags
	}

	return out, nil
}

// FTSHit is one full-text match, ranked by SQLite's bm25.
type FTSHit struct {
	Type    string
	ID      string
	Title   string
	Snippet string
	Rank    float64
}

// SearchFullText runs query (already translated to FTS5 match syntax by
// internal/search's boolean parser) against items_fts, optionally restricted
// to types (type is UNINDEXED in items_fts so it's filtered with a plain
// WHERE rather than inside the MATCH expression), limited to limit hits
// starting at offset, ranked best-first.
func (s *Store) SearchFullText(ctx context.Context, query string, types []string, limit, offset int) ([]FTSHit, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT type, id, title, snippet(items_fts, 4, '[', ']', '...', 10), bm25(items_fts)
		FROM items_fts WHERE items_fts MATCH ?`
	args := []any{query}

	if len(types) > 0 {
		placeholders := make([]string, len(types))

		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}

		q += " AND type IN (" + strings.Join(placeholders, ", ") + ")"
	}

	q += " ORDER BY bm25(items_fts) LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("kbindex: search full text %q: %w", query, err)
	}

	defer rows.Close()

	var hits []FTSHit

	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.Type, &h.ID, &h.Title, &h.Snippet, &h.Rank); err != nil {
			return nil, fmt.Errorf("kbindex: scan fts hit: %w", err)
		}

		hits = append(hits, h)
	}

	return hits, rows.Err()
}

// SuggestTitles returns items whose title starts with prefix, for
// autocomplete (spec §4.J "suggest").
func (s *Store) SuggestTitles(ctx context.Context, prefix string, limit int) ([]struct{ Type, ID, Title string }, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, id, title FROM items WHERE title LIKE ? ESCAPE '\' ORDER BY title LIMIT ?`,
		escapeLike(prefix)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("kbindex: suggest titles %q: %w", prefix, err)
	}

	defer rows.Close()

	var out []struct{ Type, ID, Title string }

	for rows.Next() {
		var row struct{ Type, ID, Title string }
		if err := rows.Scan(&row.Type, &row.ID, &row.Title); err != nil {
			return nil, fmt.Errorf("kbindex: scan suggestion: %w", err)
		}

		out = append(out, row)
	}

	return out, rows.Err()
}

// AllItemRefs returns every "type-id" pair in the index, used by the
// dangling-reference scan (spec §7).
func (s *Store) AllItemRefs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT type, id FROM items")
	if err != nil {
		return nil, fmt.Errorf("kbindex: all item refs: %w", err)
	}

	defer rows.Close()

	refs := map[string]struct{}{}

	for rows.Next() {
		var typ, id string
		if err := rows.Scan(&typ, &id); err != nil {
			return nil, fmt.Errorf("kbindex: scan ref: %w", err)
		}

		refs[typ+"-"+id] = struct{}{}
	}

	return refs, rows.Err()
}

// AllRelatedTargets returns every distinct target "type-id" referenced by
// any related_items edge.
func (s *Store) AllRelatedTargets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT target_type, target_id FROM related_items")
	if err != nil {
		return nil, fmt.Errorf("kbindex: all related targets: %w", err)
	}

	defer rows.Close()

	var refs []string

	for rows.Next() {
		var typ, id string
		if err := rows.Scan(&typ, &id); err != nil {
			return nil, fmt.Errorf("kbindex: scan related target: %w", err)
		}

		refs = append(refs, typ+"-"+id)
	}

	return refs, rows.Err()
}
