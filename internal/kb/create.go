package kb

import (
	"context"
	"regexp"
	"strconv"

	"github.com/kbeng/kb/internal/fsx"
	"github.com/kbeng/kb/internal/itemcodec"
	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/kbpath"
	"github.com/kbeng/kb/internal/model"
	"github.com/kbeng/kb/internal/relations"
)

// CreateParams is the input to Create (spec §6.1 create_item). Fields left
// at their zero value are omitted from the written item.
type CreateParams struct {
	Type        string
	Title       string
	Description string
	Content     string
	Priority    string
	Status      string
	Tags        []string
	StartDate   string
	EndDate     string
	Related     []string

	// Date supplies the dailies date (YYYY-MM-DD) in lieu of an allocated id.
	Date string
	// ID supplies an explicit id (used for sessions/dailies callers that
	// already know the identity, e.g. replay or import).
	ID string
	// Datetime supplies the session timestamp id; if empty, Create derives
	// one from the clock.
	Datetime string
}

var sessionIDRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-\d{2}\.\d{2}\.\d{2}\.\d{3}$`)
var dailyIDRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const sessionTimeLayout = "2006-01-02-15.04.05.000"
const dateLayout = "2006-01-02"

// Create validates p, allocates an id, and commits the new item to the file
// tree and index as one logical transaction (spec §4.H "create").
func (r *Repository) Create(ctx context.Context, p CreateParams) (model.Item, error) {
	if p.Type == "" {
		return model.Item{}, kbfault.Validationf("missing_type", "type is required")
	}

	if p.Title == "" {
		return model.Item{}, kbfault.Validationf("missing_title", "title is required")
	}

	lock, err := r.lockExclusive(ctx)
	if err != nil {
		return model.Item{}, kbfault.Storage("acquire_lock", err, true)
	}

	defer func() { _ = lock.Close() }()

	var result model.Item

	err = withRetry(ctx, func() error {
		it, innerErr := r.createLocked(ctx, p)
		if innerErr != nil {
			return innerErr
		}

		result = it

		return nil
	})

	return result, err
}

func (r *Repository) createLocked(ctx context.Context, p CreateParams) (model.Item, error) {
	var typeInfo model.TypeInfo

	var id string

	txErr := r.withTx(ctx, func(tx *kbindex.Tx) error {
		baseKind, description, _, found, err := tx.TypeByName(ctx, p.Type)
		if err != nil {
			return kbfault.Storage("lookup_type", err, false)
		}

		if !found {
			return kbfault.NotFoundf("type_not_found", "type %q is not registered", p.Type)
		}

		typeInfo = model.TypeInfo{Name: p.Type, BaseKind: model.BaseKind(baseKind), Description: description}

		if err := validateBaseKindFields(typeInfo.BaseKind, p); err != nil {
			return err
		}

		allocated, err := r.allocateID(ctx, tx, typeInfo, p)
		if err != nil {
			return err
		}

		id = allocated

		return nil
	})
	if txErr != nil {
		return model.Item{}, txErr
	}

	now := r.clock.Now()

	it := model.Item{
		Type: p.Type, ID: id, Title: p.Title, Description: p.Description, Content: p.Content,
		Tags: dedupePreserveOrder(p.Tags), Status: p.Status, Priority: p.Priority,
		StartDate: p.StartDate, EndDate: p.EndDate, Related: p.Related,
		CreatedAt: now, UpdatedAt: now,
	}

	if _, err := relations.ParseAll(it.Related, it.Type, it.ID); err != nil {
		return model.Item{}, err
	}

	relPath, err := kbpath.ItemPath(it.Type, it.ID)
	if err != nil {
		return model.Item{}, kbfault.Validationf("invalid_id", "%v", err)
	}

	encoded, err := itemcodec.Encode(it)
	if err != nil {
		return model.Item{}, kbfault.Internal("encode_item", err)
	}

	if err := writeWAL(r.walPath, walRecord{Op: walOpWrite, Type: it.Type, ID: it.ID, Path: relPath, Content: encoded}); err != nil {
		return model.Item{}, kbfault.Storage("write_wal", err, true)
	}

	absPath := kbpath.AbsPath(r.root, relPath)

	if err := fsx.WriteFileAtomic(absPath, []byte(encoded), 0o644); err != nil {
		return model.Item{}, kbfault.Storage("write_item_file", err, true)
	}

	if err := r.withTx(ctx, func(tx *kbindex.Tx) error {
		return r.indexUpsertItem(ctx, tx, it)
	}); err != nil {
		// On failure after the file write, the file is removed before
		// rollback propagates (spec §4.H "create"), and the WAL record is
		// cleared so the next Open does not replay the write.
		_ = fsx.RemoveFile(absPath)
		_ = clearWAL(r.walPath)

		return model.Item{}, err
	}

	if err := clearWAL(r.walPath); err != nil {
		return model.Item{}, kbfault.Storage("clear_wal", err, false)
	}

	return it, nil
}

// validateBaseKindFields enforces I5: tasks-kind items carry status and
// priority, non-tasks items carry neither.
func validateBaseKindFields(baseKind model.BaseKind, p CreateParams) error {
	switch baseKind {
	case model.BaseKindTasks:
		if p.Status == "" {
			return kbfault.Validationf("missing_status", "status is required for tasks-kind type %q", p.Type)
		}

		if p.Priority != model.PriorityHigh && p.Priority != model.PriorityMedium && p.Priority != model.PriorityLow {
			return kbfault.Validationf("invalid_priority", "priority must be one of high, medium, low")
		}

		if p.StartDate != "" && p.EndDate != "" && p.EndDate < p.StartDate {
			return kbfault.Validationf("invalid_date_range", "end_date must be >= start_date")
		}
	default:
		if p.Status != "" || p.Priority != "" {
			return kbfault.Validationf("fields_forbidden", "status/priority are forbidden for non-tasks-kind type %q", p.Type)
		}
	}

	return nil
}

// allocateID derives the new item's id according to its base kind (spec
// §4.H "create": "allocates id (allocator for numeric types; caller-supplied
// or derived timestamp/date for sessions/dailies; dailies rejects duplicate
// date)").
func (r *Repository) allocateID(ctx context.Context, tx *kbindex.Tx, typeInfo model.TypeInfo, p CreateParams) (string, error) {
	switch p.Type {
	case model.TypeDailies:
		date := p.Date
		if date == "" {
			date = r.clock.Now().UTC().Format(dateLayout)
		}

		if !dailyIDRE.MatchString(date) {
			return "", kbfault.Validationf("invalid_date", "date %q must match YYYY-MM-DD", date)
		}

		_, found, err := tx.GetItem(ctx, model.TypeDailies, date)
		if err != nil {
			return "", kbfault.Storage("check_daily_exists", err, false)
		}

		if found {
			return "", kbfault.Conflictf("duplicate_daily", "a daily entry already exists for %s", date)
		}

		return date, nil
	case model.TypeSessions:
		id := p.ID
		if id == "" {
			id = p.Datetime
		}

		if id == "" {
			id = r.clock.Now().UTC().Format(sessionTimeLayout)
		}

		if !sessionIDRE.MatchString(id) {
			return "", kbfault.Validationf("invalid_session_id", "session id %q must match YYYY-MM-DD-HH.MM.SS.mmm", id)
		}

		_, found, err := tx.GetItem(ctx, model.TypeSessions, id)
		if err != nil {
			return "", kbfault.Storage("check_session_exists", err, false)
		}

		if found {
			return "", kbfault.Conflictf("duplicate_session", "a session already exists with id %s", id)
		}

		return id, nil
	default:
		if p.ID != "" {
			if !numericIDRE.MatchString(p.ID) {
				return "", kbfault.Validationf("invalid_id", "id %q must be numeric", p.ID)
			}

			_, found, err := tx.GetItem(ctx, p.Type, p.ID)
			if err != nil {
				return "", kbfault.Storage("check_item_exists", err, false)
			}

			if found {
				return "", kbfault.Conflictf("duplicate_id", "item %s-%s already exists", p.Type, p.ID)
			}

			if err := tx.ReconcileSequence(ctx, p.Type, mustAtoi(p.ID)); err != nil {
				return "", kbfault.Storage("reconcile_sequence", err, false)
			}

			return p.ID, nil
		}

		next, err := tx.NextID(ctx, p.Type)
		if err != nil {
			return "", kbfault.Storage("allocate_id", err, false)
		}

		return strconv.FormatInt(next, 10), nil
	}
}

func mustAtoi(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)

	return n
}

func dedupePreserveOrder(items []string) []string {
	if items == nil {
		return nil
	}

	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))

	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}

		seen[it] = struct{}{}
		out = append(out, it)
	}

	return out
}
