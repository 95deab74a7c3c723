// Package tags implements the tag registry (spec §4.E): idempotent
// interning, guarded deletion, and substring search, all scoped to a single
// kbindex transaction so the caller (internal/kb) can commit tag changes
// atomically with the item they belong to.
package tags

import (
	"context"
	"strings"

	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/model"
)

// Ensure interns every name in names and returns their ids, preserving the
// input order. Duplicate names in the input collapse to one id each but
// still occupy their positions in the returned slice.
func Ensure(ctx context.Context, tx *kbindex.Tx, names []string) ([]int64, error) {
	return tx.EnsureTags(ctx, names)
}

// Delete removes a tag by name. Unless force is set, it fails with a
// ConflictFault if any item still references the tag.
func Delete(ctx context.Context, tx *kbindex.Tx, name string, force bool) error {
	id, found, err := tx.TagByName(ctx, name)
	if err != nil {
		return kbfault.Internal("tags_lookup_failed", err)
	}

	if !found {
		return kbfault.NotFoundf("tag_not_found", "tag %q is not registered", name)
	}

	if !force {
		referenced, err := tx.TagReferenced(ctx, id)
		if err != nil {
			return kbfault.Internal("tags_reference_check_failed", err)
		}

		if referenced {
			return kbfault.Conflictf("tag_in_use", "tag %q is still referenced by one or more items", name)
		}
	}

	if err := tx.DeleteTag(ctx, id, force); err != nil {
		return kbfault.Internal("tags_delete_failed", err)
	}

	return nil
}

// Search returns tags whose name contains pattern, case-insensitively
// (spec §4.E).
func Search(ctx context.Context, tx *kbindex.Tx, pattern string) ([]model.Tag, error) {
	names, err := tx.SearchTags(ctx, strings.ToLower(pattern))
	if err != nil {
		return nil, kbfault.Internal("tags_search_failed", err)
	}

	out := make([]model.Tag, len(names))
	for i, n := range names {
		out[i] = model.Tag{Name: n}
	}

	return out, nil
}

// All returns every registered tag.
func All(ctx context.Context, tx *kbindex.Tx) ([]model.Tag, error) {
	rows, err := tx.AllTags(ctx)
	if err != nil {
		return nil, kbfault.Internal("tags_list_failed", err)
	}

	out := make([]model.Tag, len(rows))
	for i, r := range rows {
		out[i] = model.Tag{ID: r.ID, Name: r.Name}
	}

	return out, nil
}
