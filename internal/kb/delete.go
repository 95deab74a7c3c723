package kb

import (
	"context"

	"github.com/kbeng/kb/internal/fsx"
	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/kbpath"
)

// Delete removes the item's edges, index row, and file. IDs are never
// reused (I6): the sequence counter is left untouched.
func (r *Repository) Delete(ctx context.Context, typ, id string) error {
	lock, err := r.lockExclusive(ctx)
	if err != nil {
		return kbfault.Storage("acquire_lock", err, true)
	}

	defer func() { _ = lock.Close() }()

	return withRetry(ctx, func() error {
		return r.deleteLocked(ctx, typ, id)
	})
}

func (r *Repository) deleteLocked(ctx context.Context, typ, id string) error {
	relPath, err := kbpath.ItemPath(typ, id)
	if err != nil {
		return kbfault.Validationf("invalid_id", "%v", err)
	}

	absPath := kbpath.AbsPath(r.root, relPath)

	data, err := fsx.ReadFileIfExists(absPath)
	if err != nil {
		return kbfault.Storage("read_item_file", err, false)
	}

	if data == nil {
		return kbfault.NotFoundf("item_not_found", "item %s-%s does not exist", typ, id)
	}

	if err := r.withTx(ctx, func(tx *kbindex.Tx) error {
		_, found, lookupErr := tx.GetItem(ctx, typ, id)
		if lookupErr != nil {
			return kbfault.Storage("lookup_item", lookupErr, false)
		}

		if !found {
			return kbfault.NotFoundf("item_not_found", "item %s-%s does not exist", typ, id)
		}

		return r.indexDeleteItem(ctx, tx, typ, id)
	}); err != nil {
		return err
	}

	if err := writeWAL(r.walPath, walRecord{Op: walOpDelete, Type: typ, ID: id, Path: relPath}); err != nil {
		return kbfault.Storage("write_wal", err, true)
	}

	if err := fsx.RemoveFile(absPath); err != nil {
		return kbfault.Storage("remove_item_file", err, true)
	}

	return clearWAL(r.walPath)
}
