// Package rebuild implements component K: the crash-safe reconstruction of
// the SQLite index from the Markdown file tree, the only authoritative
// store (spec §4.K). Every step is idempotent so a rebuild interrupted at
// any point can simply be re-run.
package rebuild

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kbeng/kb/internal/fsx"
	"github.com/kbeng/kb/internal/itemcodec"
	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/kbpath"
	"github.com/kbeng/kb/internal/model"
	"github.com/kbeng/kb/internal/statuses"
	"github.com/kbeng/kb/internal/tags"
	"github.com/kbeng/kb/internal/types"
)

// reservedEntries are top-level data-root entries that are never themselves
// item types.
var reservedEntries = map[string]bool{
	"current_state.md": true,
	".kb-lock":          true,
	".kb-wal":           true,
}

// Coordinator runs rebuilds against one data root and index.
type Coordinator struct {
	root      string
	index     *kbindex.Store
	lockPath  string
	writeBack bool
}

// New builds a Coordinator. writeBack, when true, re-marshals every file
// through the canonical codec as it is re-inserted (spec §4.K step 6).
func New(root string, index *kbindex.Store, lockPath string, writeBack bool) *Coordinator {
	return &Coordinator{root: root, index: index, lockPath: lockPath, writeBack: writeBack}
}

// Run executes the seven steps of spec §4.K and returns a report.
func (c *Coordinator) Run(ctx context.Context) (model.RebuildReport, error) {
	lock, err := fsx.LockExclusive(c.lockPath)
	if err != nil {
		return model.RebuildReport{}, kbfault.Storage("acquire_lock", err, true)
	}

	defer func() { _ = lock.Close() }()

	started := time.Now()

	report := model.RebuildReport{
		RunID:           uuid.NewString(),
		Started:         started,
		PerTypeCounts:   map[string]int{},
		SequencesByType: map[string]int64{},
	}

	tx, err := c.index.Begin(ctx)
	if err != nil {
		return report, kbfault.Storage("begin_tx", err, true)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Steps 1-2: drop and recreate the schema, reseed static registries.
	if err := kbindex.DropAndRecreateSchema(ctx, tx.Unwrap()); err != nil {
		return report, kbfault.Storage("recreate_schema", err, false)
	}

	if err := types.EnsureBuiltins(ctx, tx); err != nil {
		return report, err
	}

	if err := statuses.EnsureDefaults(ctx, tx); err != nil {
		return report, err
	}

	// Step 3: discover directory entries and register unknown types.
	typeNames, err := c.discoverTypes(ctx, tx)
	if err != nil {
		return report, err
	}

	// Step 4: parse, validate and insert every file under each type.
	allRefs := map[string]bool{}

	for _, typ := range typeNames {
		count, maxNumericID, anomalies, refs, err := c.scanType(ctx, tx, typ)
		if err != nil {
			return report, err
		}

		report.PerTypeCounts[typ] = count
		report.Anomalies = append(report.Anomalies, anomalies...)

		for ref := range refs {
			allRefs[ref] = true
		}

		// Step 5: reconcile the sequence upward from the files' own ids.
		// sessions/dailies derive ids from timestamps/dates, not the
		// allocator, so they carry no sequence row.
		if typ != model.TypeSessions && typ != model.TypeDailies {
			if err := tx.ReconcileSequence(ctx, typ, maxNumericID); err != nil {
				return report, kbfault.Storage("reconcile_sequence", err, false)
			}
		}
	}

	sequences, err := tx.AllSequences(ctx)
	if err != nil {
		return report, kbfault.Storage("list_sequences", err, false)
	}

	report.SequencesByType = sequences

	if err := tx.Commit(); err != nil {
		return report, kbfault.Storage("commit_tx", err, false)
	}

	committed = true

	// Step 7 (dangling references): compare every related_items target
	// against the set of refs actually present. This reads through the
	// store, so it runs once the rebuild transaction has released its
	// connection.
	targets, err := c.index.AllRelatedTargets(ctx)
	if err == nil {
		for _, ref := range targets {
			if !allRefs[ref] {
				report.DanglingRefs = append(report.DanglingRefs, ref)
			}
		}
	}

	report.Duration = time.Since(started)

	return report, nil
}

// discoverTypes lists top-level data-root directories, registering any
// unknown one by sampling a file for priority+status presence (spec §4.K
// step 3), and returns every currently-registered type name.
func (c *Coordinator) discoverTypes(ctx context.Context, tx *kbindex.Tx) ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, kbfault.Storage("read_data_root", err, false)
	}

	for _, e := range entries {
		if !e.IsDir() || reservedEntries[e.Name()] {
			continue
		}

		name := e.Name()
		if name == "sessions" {
			if err := c.ensureSessionTypesRegistered(ctx, tx); err != nil {
				return nil, err
			}

			continue
		}

		_, _, _, found, err := tx.TypeByName(ctx, name)
		if err != nil {
			return nil, kbfault.Storage("lookup_type", err, false)
		}

		if found {
			continue
		}

		baseKind := c.sampleBaseKind(filepath.Join(c.root, name))
		if _, err := types.Create(ctx, tx, name, baseKind, "discovered during rebuild"); err != nil {
			return nil, err
		}
	}

	rows, err := tx.AllTypes(ctx)
	if err != nil {
		return nil, kbfault.Storage("list_types", err, false)
	}

	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Name
	}

	return names, nil
}

func (c *Coordinator) ensureSessionTypesRegistered(ctx context.Context, tx *kbindex.Tx) error {
	_, _, _, found, err := tx.TypeByName(ctx, model.TypeSessions)
	if err != nil {
		return kbfault.Storage("lookup_type", err, false)
	}

	if !found {
		if err := tx.UpsertType(ctx, model.TypeSessions, string(model.BaseKindSessions), "Work sessions", true); err != nil {
			return kbfault.Internal("register_sessions", err)
		}
	}

	_, _, _, found, err = tx.TypeByName(ctx, model.TypeDailies)
	if err != nil {
		return kbfault.Storage("lookup_type", err, false)
	}

	if !found {
		if err := tx.UpsertType(ctx, model.TypeDailies, string(model.BaseKindDocuments), "Daily notes", true); err != nil {
			return kbfault.Internal("register_dailies", err)
		}
	}

	return nil
}

// sampleBaseKind samples one file under dir: presence of both priority and
// status implies tasks, otherwise documents (spec §4.K step 3).
func (c *Coordinator) sampleBaseKind(dir string) model.BaseKind {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return model.BaseKindDocuments
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}

		it, err := itemcodec.Decode("", "sample", data)
		if err != nil {
			continue
		}

		if it.Priority != "" && it.Status != "" {
			return model.BaseKindTasks
		}

		return model.BaseKindDocuments
	}

	return model.BaseKindDocuments
}

// scanType parses and inserts every file of typ, tolerating corrupt files by
// skipping and recording them as anomalies (spec §4.K step 4).
func (c *Coordinator) scanType(ctx context.Context, tx *kbindex.Tx, typ string) (count int, maxNumericID int64, anomalies []string, refs map[string]bool, err error) {
	ids, listErr := kbpath.List(c.root, typ)
	if listErr != nil {
		return 0, 0, nil, nil, kbfault.Storage("list_type_files", listErr, false)
	}

	refs = map[string]bool{}

	for _, id := range ids {
		relPath, pathErr := kbpath.ItemPath(typ, id)
		if pathErr != nil {
			anomalies = append(anomalies, typ+"-"+id+": "+pathErr.Error())
			continue
		}

		absPath := kbpath.AbsPath(c.root, relPath)

		data, readErr := os.ReadFile(absPath)
		if readErr != nil {
			anomalies = append(anomalies, typ+"-"+id+": "+readErr.Error())
			continue
		}

		it, decodeErr := itemcodec.Decode(typ, id, data)
		if decodeErr != nil {
			anomalies = append(anomalies, typ+"-"+id+": "+decodeErr.Error())
			continue
		}

		if c.writeBack {
			encoded, encodeErr := itemcodec.Encode(it)
			if encodeErr == nil {
				_ = fsx.WriteFileAtomic(absPath, []byte(encoded), 0o644)
			}
		}

		if err := c.insertItem(ctx, tx, it); err != nil {
			anomalies = append(anomalies, typ+"-"+id+": "+err.Error())
			continue
		}

		count++
		refs[typ+"-"+id] = true

		if n, numErr := toNumeric(id); numErr == nil && n > maxNumericID {
			maxNumericID = n
		}
	}

	return count, maxNumericID, anomalies, refs, nil
}

func (c *Coordinator) insertItem(ctx context.Context, tx *kbindex.Tx, it model.Item) error {
	if _, err := tags.Ensure(ctx, tx, it.Tags); err != nil {
		return err
	}

	row := kbindex.ItemRow{
		Type: it.Type, ID: it.ID, Title: it.Title, Description: it.Description,
		Content: it.Content, Priority: it.Priority, Status: it.Status,
		StartDate: it.StartDate, EndDate: it.EndDate,
		CreatedAt: itemcodec.FormatTime(it.CreatedAt), UpdatedAt: itemcodec.FormatTime(it.UpdatedAt),
	}

	if err := tx.UpsertItem(ctx, row); err != nil {
		return kbfault.Storage("upsert_item", err, false)
	}

	if err := tx.ClearItemTags(ctx, it.Type, it.ID); err != nil {
		return kbfault.Storage("clear_item_tags", err, false)
	}

	for _, name := range it.Tags {
		tagID, _, err := tx.TagByName(ctx, name)
		if err != nil {
			return kbfault.Storage("lookup_tag", err, false)
		}

		if err := tx.InsertItemTag(ctx, it.Type, it.ID, tagID); err != nil {
			return kbfault.Storage("insert_item_tag", err, false)
		}
	}

	if err := tx.ClearRelated(ctx, it.Type, it.ID); err != nil {
		return kbfault.Storage("clear_related", err, false)
	}

	for pos, ref := range it.Related {
		targetType, targetID, splitErr := splitRef(ref)
		if splitErr != nil {
			continue
		}

		if err := tx.InsertRelated(ctx, it.Type, it.ID, targetType, targetID, pos); err != nil {
			return kbfault.Storage("insert_related", err, false)
		}
	}

	if err := kbindex.RefreshTagsJoined(ctx, tx.Unwrap(), it.Type, it.ID); err != nil {
		return kbfault.Storage("refresh_tags_joined", err, false)
	}

	return nil
}

func splitRef(ref string) (typ, id string, err error) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '-' && i > 0 && i < len(ref)-1 {
			return ref[:i], ref[i+1:], nil
		}
	}

	return "", "", kbfault.Validationf("invalid_reference", "%q is not a valid reference", ref)
}

func toNumeric(id string) (int64, error) {
	var n int64

	for _, r := range id {
		if r < '0' || r > '9' {
			return 0, kbfault.Validationf("not_numeric", "id %q is not numeric", id)
		}

		n = n*10 + int64(r-'0')
	}

	if id == "" {
		return 0, kbfault.Validationf("not_numeric", "empty id")
	}

	return n, nil
}
