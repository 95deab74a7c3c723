// Package kb implements the Item repository (spec §4.H), the single
// mutation gateway for the knowledge base: it validates input, allocates
// IDs, writes item files atomically, and keeps the SQLite index in lock
// step within one logical transaction per operation.
package kb

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kbeng/kb/internal/clock"
	"github.com/kbeng/kb/internal/fsx"
	"github.com/kbeng/kb/internal/itemcodec"
	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/model"
	"github.com/kbeng/kb/internal/relations"
	"github.com/kbeng/kb/internal/statuses"
	"github.com/kbeng/kb/internal/types"
)

// Repository is the heart of the engine: every create/update/delete/get/list
// and change-type call goes through it (spec §4.H).
type Repository struct {
	root     string
	index    *kbindex.Store
	clock    clock.Clock
	lockPath string
	walPath  string
}

// Open prepares a Repository rooted at dataRoot, backed by the SQLite
// database at indexPath, with the index connection pool sized and timed out
// per idxOpts (spec §5 "the index connection pool is owned by the index
// store (min/max connections configurable)"). It replays any pending
// write-ahead record left by a prior crash before returning (spec §9 "Dual
// store coherence").
func Open(ctx context.Context, dataRoot, indexPath string, clk clock.Clock, idxOpts kbindex.Options) (*Repository, error) {
	if err := fsx.EnsureDir(dataRoot); err != nil {
		return nil, kbfault.Storage("open_data_root", err, false)
	}

	idx, err := kbindex.Open(ctx, indexPath, idxOpts)
	if err != nil {
		return nil, kbfault.Storage("open_index", err, false)
	}

	repo := &Repository{
		root:     dataRoot,
		index:    idx,
		clock:    clk,
		lockPath: filepath.Join(dataRoot, ".kb-lock"),
		walPath:  filepath.Join(dataRoot, ".kb-wal"),
	}

	if err := repo.recoverOnOpen(ctx); err != nil {
		_ = idx.Close()

		return nil, err
	}

	return repo, nil
}

// Close releases the index connection.
func (r *Repository) Close() error {
	return r.index.Close()
}

// Index returns the SQLite index backing this repository, so that other
// components (search, rebuild, current-state) can share the same
// connection rather than opening the database a second time.
func (r *Repository) Index() *kbindex.Store {
	return r.index
}

// recoverOnOpen replays a pending WAL record (if the process crashed between
// a file write and its index commit) and ensures the schema and built-in
// registries exist.
func (r *Repository) recoverOnOpen(ctx context.Context) error {
	lock, err := fsx.LockExclusive(r.lockPath)
	if err != nil {
		return kbfault.Storage("acquire_lock", err, true)
	}

	defer func() { _ = lock.Close() }()

	rec, pending, err := readWAL(r.walPath)
	if err != nil {
		return kbfault.Storage("read_wal", err, false)
	}

	if pending {
		if err := r.replayWALLocked(ctx, rec); err != nil {
			return err
		}
	}

	needsInit, err := r.index.NeedsRebuild(ctx)
	if err != nil {
		return kbfault.Storage("check_schema_version", err, false)
	}

	if needsInit {
		if err := r.initSchemaLocked(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (r *Repository) initSchemaLocked(ctx context.Context) error {
	tx, err := r.index.Begin(ctx)
	if err != nil {
		return kbfault.Storage("begin_init_schema", err, true)
	}

	defer func() { _ = tx.Rollback() }()

	if err := kbindex.DropAndRecreateSchema(ctx, tx.Unwrap()); err != nil {
		return kbfault.Storage("init_schema", err, false)
	}

	if err := types.EnsureBuiltins(ctx, tx); err != nil {
		return err
	}

	if err := statuses.EnsureDefaults(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return kbfault.Storage("commit_init_schema", err, true)
	}

	return nil
}

// replayWALLocked re-applies a pending file op and redoes its index
// transaction, then clears the WAL record. The caller must hold the
// exclusive lock.
func (r *Repository) replayWALLocked(ctx context.Context, rec walRecord) error {
	abs := filepath.Join(r.root, rec.Path)

	switch rec.Op {
	case walOpWrite:
		if err := fsx.WriteFileAtomic(abs, []byte(rec.Content), 0o644); err != nil {
			return kbfault.Storage("wal_replay_write", err, false)
		}
	case walOpDelete:
		if err := fsx.RemoveFile(abs); err != nil {
			return kbfault.Storage("wal_replay_delete", err, false)
		}
	default:
		return kbfault.Internal("wal_replay_unknown_op", fmt.Errorf("unknown wal op %q", rec.Op))
	}

	it, err := itemcodec.Decode(rec.Type, rec.ID, []byte(rec.Content))
	if rec.Op == walOpWrite && err == nil {
		if txErr := r.withTx(ctx, func(tx *kbindex.Tx) error {
			return r.indexUpsertItem(ctx, tx, it)
		}); txErr != nil {
			return txErr
		}
	}

	if rec.Op == walOpDelete {
		if txErr := r.withTx(ctx, func(tx *kbindex.Tx) error {
			return r.indexDeleteItem(ctx, tx, rec.Type, rec.ID)
		}); txErr != nil {
			return txErr
		}
	}

	return clearWAL(r.walPath)
}

// lockExclusive acquires the coarse write lock, bounding the wait by ctx's
// deadline when one is set (spec §5 "a configurable per-operation deadline
// aborts and rolls back"). With no deadline it blocks indefinitely, same as
// a bare fsx.LockExclusive.
func (r *Repository) lockExclusive(ctx context.Context) (*fsx.Lock, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return fsx.LockExclusive(r.lockPath)
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, fsx.ErrLockTimeout
	}

	return fsx.LockExclusiveTimeout(r.lockPath, remaining)
}

// withTx runs fn inside a committed kbindex transaction, translating low
// level errors into Faults if fn did not already.
func (r *Repository) withTx(ctx context.Context, fn func(tx *kbindex.Tx) error) error {
	tx, err := r.index.Begin(ctx)
	if err != nil {
		return kbfault.Storage("begin_tx", err, true)
	}

	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return kbfault.Storage("commit_tx", err, true)
	}

	return nil
}

// withRetry wraps a storage operation with the capped exponential backoff
// the spec requires for transient StorageFaults (spec §7, default 3
// attempts).
func withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}

		if kbfault.IsRetryable(err) {
			return err
		}

		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))
}

var numericIDRE = regexp.MustCompile(`^\d+$`)

// indexUpsertItem writes the full physical projection (row, tags, related)
// for it, assuming the file has already been written.
func (r *Repository) indexUpsertItem(ctx context.Context, tx *kbindex.Tx, it model.Item) error {
	if _, err := tx.EnsureTags(ctx, it.Tags); err != nil {
		return kbfault.Storage("index_ensure_tags", err, false)
	}

	row := kbindex.ItemRow{
		Type: it.Type, ID: it.ID, Title: it.Title, Description: it.Description,
		Content: it.Content, Priority: it.Priority, Status: it.Status,
		StartDate: it.StartDate, EndDate: it.EndDate,
		CreatedAt: itemcodec.FormatTime(it.CreatedAt),
		UpdatedAt: itemcodec.FormatTime(it.UpdatedAt),
	}

	if err := tx.UpsertItem(ctx, row); err != nil {
		return kbfault.Storage("index_upsert_item", err, false)
	}

	if err := tx.ClearItemTags(ctx, it.Type, it.ID); err != nil {
		return kbfault.Storage("index_clear_tags", err, false)
	}

	tagIDs, err := tx.EnsureTags(ctx, it.Tags)
	if err != nil {
		return kbfault.Storage("index_ensure_tags", err, false)
	}

	for _, tagID := range tagIDs {
		if err := tx.InsertItemTag(ctx, it.Type, it.ID, tagID); err != nil {
			return kbfault.Storage("index_insert_item_tag", err, false)
		}
	}

	refs, err := relations.ParseAll(it.Related, it.Type, it.ID)
	if err != nil {
		return err
	}

	if err := relations.Replace(ctx, tx, it.Type, it.ID, refs); err != nil {
		return err
	}

	if err := kbindex.RefreshTagsJoined(ctx, tx.Unwrap(), it.Type, it.ID); err != nil {
		return kbfault.Storage("index_refresh_fts_tags", err, false)
	}

	return nil
}

func (r *Repository) indexDeleteItem(ctx context.Context, tx *kbindex.Tx, typ, id string) error {
	if err := tx.ClearItemTags(ctx, typ, id); err != nil {
		return kbfault.Storage("index_clear_tags", err, false)
	}

	if err := tx.ClearRelated(ctx, typ, id); err != nil {
		return kbfault.Storage("index_clear_related", err, false)
	}

	if err := tx.DeleteItem(ctx, typ, id); err != nil {
		return kbfault.Storage("index_delete_item", err, false)
	}

	return nil
}
