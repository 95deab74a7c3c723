package kb

import (
	"context"

	"github.com/kbeng/kb/internal/fsx"
	"github.com/kbeng/kb/internal/itemcodec"
	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/kbpath"
	"github.com/kbeng/kb/internal/model"
	"github.com/kbeng/kb/internal/relations"
)

// UpdatePatch carries field-present semantics: a nil pointer means "leave
// unchanged", a non-nil pointer (even to an empty value) means "set to this
// value" (spec §4.H "update").
type UpdatePatch struct {
	Title       *string
	Description *string
	Content     *string
	Priority    *string
	Status      *string
	Tags        *[]string
	StartDate   *string
	EndDate     *string
	Related     *[]string
}

// Update applies patch to the item at (typ, id), revalidating I5, bumping
// updated_at, and rewriting the file and index edges atomically.
func (r *Repository) Update(ctx context.Context, typ, id string, patch UpdatePatch) (model.Item, error) {
	lock, err := r.lockExclusive(ctx)
	if err != nil {
		return model.Item{}, kbfault.Storage("acquire_lock", err, true)
	}

	defer func() { _ = lock.Close() }()

	var result model.Item

	err = withRetry(ctx, func() error {
		it, innerErr := r.updateLocked(ctx, typ, id, patch)
		if innerErr != nil {
			return innerErr
		}

		result = it

		return nil
	})

	return result, err
}

func (r *Repository) updateLocked(ctx context.Context, typ, id string, patch UpdatePatch) (model.Item, error) {
	relPath, err := kbpath.ItemPath(typ, id)
	if err != nil {
		return model.Item{}, kbfault.Validationf("invalid_id", "%v", err)
	}

	absPath := kbpath.AbsPath(r.root, relPath)

	current, err := r.readFile(typ, id, absPath)
	if err != nil {
		return model.Item{}, err
	}

	var baseKind model.BaseKind

	txErr := r.withTx(ctx, func(tx *kbindex.Tx) error {
		bk, _, _, found, err := tx.TypeByName(ctx, typ)
		if err != nil {
			return kbfault.Storage("lookup_type", err, false)
		}

		if !found {
			return kbfault.NotFoundf("type_not_found", "type %q is not registered", typ)
		}

		baseKind = model.BaseKind(bk)

		return nil
	})
	if txErr != nil {
		return model.Item{}, txErr
	}

	applyPatch(&current, patch)

	if err := validatePatchedBaseKindFields(baseKind, current); err != nil {
		return model.Item{}, err
	}

	current.Tags = dedupePreserveOrder(current.Tags)

	if _, err := relations.ParseAll(current.Related, current.Type, current.ID); err != nil {
		return model.Item{}, err
	}

	current.UpdatedAt = r.clock.Now()

	encoded, err := itemcodec.Encode(current)
	if err != nil {
		return model.Item{}, kbfault.Internal("encode_item", err)
	}

	if err := writeWAL(r.walPath, walRecord{Op: walOpWrite, Type: typ, ID: id, Path: relPath, Content: encoded}); err != nil {
		return model.Item{}, kbfault.Storage("write_wal", err, true)
	}

	previousBytes, readErr := fsx.ReadFileIfExists(absPath)
	if readErr != nil {
		return model.Item{}, kbfault.Storage("read_previous_item", readErr, false)
	}

	if err := fsx.WriteFileAtomic(absPath, []byte(encoded), 0o644); err != nil {
		return model.Item{}, kbfault.Storage("write_item_file", err, true)
	}

	if err := r.withTx(ctx, func(tx *kbindex.Tx) error {
		return r.indexUpsertItem(ctx, tx, current)
	}); err != nil {
		if previousBytes != nil {
			_ = fsx.WriteFileAtomic(absPath, previousBytes, 0o644)
		}

		_ = clearWAL(r.walPath)

		return model.Item{}, err
	}

	if err := clearWAL(r.walPath); err != nil {
		return model.Item{}, kbfault.Storage("clear_wal", err, false)
	}

	return current, nil
}

func (r *Repository) readFile(typ, id, absPath string) (model.Item, error) {
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

	return it, nil
}

func applyPatch(it *model.Item, patch UpdatePatch) {
	if patch.Title != nil {
		it.Title = *patch.Title
	}

	if patch.Description != nil {
		it.Description = *patch.Description
	}

	if patch.Content != nil {
		it.Content = *patch.Content
	}

	if patch.Priority != nil {
		it.Priority = *patch.Priority
	}

	if patch.Status != nil {
		it.Status = *patch.Status
	}

	if patch.Tags != nil {
		it.Tags = *patch.Tags
	}

	if patch.StartDate != nil {
		it.StartDate = *patch.StartDate
	}

	if patch.EndDate != nil {
		it.EndDate = *patch.EndDate
	}

	if patch.Related != nil {
		it.Related = *patch.Related
	}
}

func validatePatchedBaseKindFields(baseKind model.BaseKind, it model.Item) error {
	switch baseKind {
	case model.BaseKindTasks:
		if it.Status == "" {
			return kbfault.Validationf("missing_status", "status is required for tasks-kind type %q", it.Type)
		}

		if it.Priority != model.PriorityHigh && it.Priority != model.PriorityMedium && it.Priority != model.PriorityLow {
			return kbfault.Validationf("invalid_priority", "priority must be one of high, medium, low")
		}

		if it.StartDate != "" && it.EndDate != "" && it.EndDate < it.StartDate {
			return kbfault.Validationf("invalid_date_range", "end_date must be >= start_date")
		}
	default:
		if it.Status != "" || it.Priority != "" {
			return kbfault.Validationf("fields_forbidden", "status/priority are forbidden for non-tasks-kind type %q", it.Type)
		}
	}

	return nil
}
