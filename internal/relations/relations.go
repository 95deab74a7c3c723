// Package relations implements the relation resolver (spec §4.I): parsing
// "type-id" reference strings, rejecting self-references, and reconciling
// the related_items edge set for one item within a kbindex transaction.
package relations

import (
	"context"
	"strings"

	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
)

// Ref is a parsed "type-id" reference.
type Ref struct {
	Type string
	ID   string
}

// String renders the reference back to "type-id" form.
func (r Ref) String() string {
	return r.Type + "-" + r.ID
}

// Parse splits a "type-id" reference string. The id itself may contain
// hyphens (sessions ids and dates do), so Parse splits on the first hyphen
// only and requires both halves to be non-empty.
func Parse(ref string) (Ref, error) {
	idx := strings.Index(ref, "-")
	if idx <= 0 || idx == len(ref)-1 {
		return Ref{}, kbfault.Validationf("invalid_reference", "%q is not a valid type-id reference", ref)
	}

	return Ref{Type: ref[:idx], ID: ref[idx+1:]}, nil
}

// ParseAll parses and validates every reference in refs, rejecting any that
// resolve to (selfType, selfID) (spec §3: "must not reference the item
// itself"). Duplicates are dropped, preserving first-occurrence order.
func ParseAll(refs []string, selfType, selfID string) ([]Ref, error) {
	seen := make(map[string]struct{}, len(refs))

	out := make([]Ref, 0, len(refs))

	for _, raw := range refs {
		r, err := Parse(raw)
		if err != nil {
			return nil, err
		}

		if r.Type == selfType && r.ID == selfID {
			return nil, kbfault.Validationf("self_reference", "item %s-%s cannot reference itself", selfType, selfID)
		}

		key := r.String()
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, r)
	}

	return out, nil
}

// Replace drops every existing related_items edge for (typ, id) and inserts
// refs in order, re-packing positions 0..n-1 (spec §4.I "on rewrites,
// positions are re-packed").
func Replace(ctx context.Context, tx *kbindex.Tx, typ, id string, refs []Ref) error {
	if err := tx.ClearRelated(ctx, typ, id); err != nil {
		return kbfault.Internal("relations_clear_failed", err)
	}

	for i, r := range refs {
		if err := tx.InsertRelated(ctx, typ, id, r.Type, r.ID, i); err != nil {
			return kbfault.Internal("relations_insert_failed", err)
		}
	}

	return nil
}

// Of returns the ordered reference strings for (typ, id).
func Of(ctx context.Context, tx *kbindex.Tx, typ, id string) ([]string, error) {
	refs, err := tx.RelatedOf(ctx, typ, id)
	if err != nil {
		return nil, kbfault.Internal("relations_read_failed", err)
	}

	return refs, nil
}

// Retarget repoints every edge whose target is (fromType, fromID) to
// (toType, toID), returning the distinct set of referring items so the
// caller can rewrite their file bodies to match (spec §4.H change_type:
// "rewrite the file bodies of referring items to keep file and index
// aligned").
func Retarget(ctx context.Context, tx *kbindex.Tx, fromType, fromID, toType, toID string) ([]Ref, error) {
	referrers, err := tx.RetargetRelated(ctx, fromType, fromID, toType, toID)
	if err != nil {
		return nil, kbfault.Internal("relations_retarget_failed", err)
	}

	out := make([]Ref, len(referrers))
	for i, r := range referrers {
		out[i] = Ref{Type: r.SourceType, ID: r.SourceID}
	}

	return out, nil
}
