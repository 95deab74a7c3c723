package kb

import (
	"context"
	"log/slog"

	"github.com/kbeng/kb/internal/fsx"
	"github.com/kbeng/kb/internal/itemcodec"
	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/kbpath"
	"github.com/kbeng/kb/internal/model"
)

// Get reads the file for (typ, id) — authoritative — and cross-checks it
// against the index row; on mismatch the file wins (spec §4.H "get").
func (r *Repository) Get(ctx context.Context, typ, id string) (model.Item, error) {
	relPath, err := kbpath.ItemPath(typ, id)
	if err != nil {
		return model.Item{}, kbfault.Validationf("invalid_id", "%v", err)
	}

	absPath := kbpath.AbsPath(r.root, relPath)

	data, err := fsx.ReadFileIfExists(absPath)
	if err != nil {
		return model.Item{}, kbfault.Storage("read_item_file", err, false)
	}

	if data == nil {
		return model.Item{}, kbfault.NotFoundf("item_not_found", "item %s-%s does not exist", typ, id)
	}

	it, err := itemcodec.Decode(typ, id, data)
	if err != nil {
		return model.Item{}, err
	}

	// The index row is consulted only to detect drift for diagnostics; the
	// file is authoritative regardless of the outcome (spec §4.H "get").
	if tx, txErr := r.index.Begin(ctx); txErr == nil {
		if row, found, lookupErr := tx.GetItem(ctx, typ, id); lookupErr == nil && found {
			reportIndexDrift(typ, id, it, row)
		}

		_ = tx.Rollback()
	}

	return it, nil
}

// reportIndexDrift compares the authoritative file-decoded item against its
// index row and logs any field-level disagreement. The file always wins;
// this exists purely so drift is observable instead of silently discarded
// (spec §4.H "validates against the index; mismatches are reported").
func reportIndexDrift(typ, id string, it model.Item, row kbindex.ItemRow) {
	var diffs []string

	if it.Title != row.Title {
		diffs = append(diffs, "title")
	}

	if it.Priority != row.Priority {
		diffs = append(diffs, "priority")
	}

	if it.Status != row.Status {
		diffs = append(diffs, "status")
	}

	if itemcodec.FormatTime(it.UpdatedAt) != row.UpdatedAt {
		diffs = append(diffs, "updated_at")
	}

	if len(diffs) == 0 {
		return
	}

	slog.Default().Warn("index drift detected on get, file wins",
		"type", typ, "id", id, "fields", diffs)
}

// DanglingRefs returns the subset of refs (already "type-id" strings) that
// do not resolve to an existing item, computed lazily and never failing a
// read (spec §9 "Relation dangling").
func (r *Repository) DanglingRefs(ctx context.Context, refs []string) ([]string, error) {
	tx, err := r.index.Begin(ctx)
	if err != nil {
		return nil, kbfault.Storage("begin_tx", err, true)
	}

	defer func() { _ = tx.Rollback() }()

	var dangling []string

	for _, ref := range refs {
		parsed, parseErr := parseRefLoose(ref)
		if parseErr != nil {
			continue
		}

		_, found, lookupErr := tx.GetItem(ctx, parsed.typ, parsed.id)
		if lookupErr != nil {
			return nil, kbfault.Storage("lookup_item", lookupErr, false)
		}

		if !found {
			dangling = append(dangling, ref)
		}
	}

	return dangling, nil
}

type loosRef struct{ typ, id string }

func parseRefLoose(ref string) (loosRef, error) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '-' && i > 0 && i < len(ref)-1 {
			return loosRef{typ: ref[:i], id: ref[i+1:]}, nil
		}
	}

	return loosRef{}, kbfault.Validationf("invalid_reference", "%q is not a valid reference", ref)
}
