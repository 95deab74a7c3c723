package kb

import (
	"context"

	"github.com/kbeng/kb/internal/itemcodec"
	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/model"
)

// List pulls item summaries from the index (never files) for typ, applying
// filter (spec §4.H "list").
func (r *Repository) List(ctx context.Context, typ string, filter model.ListFilter) ([]model.Summary, error) {
	tx, err := r.index.Begin(ctx)
	if err != nil {
		return nil, kbfault.Storage("begin_tx", err, true)
	}

	baseKind, _, _, found, err := tx.TypeByName(ctx, typ)
	// The lookup transaction is released before openStatuses and ListItems
	// run, since each of them draws its own pooled connection.
	_ = tx.Rollback()
	if err != nil {
		return nil, kbfault.Storage("lookup_type", err, false)
	}

	if !found {
		return nil, kbfault.NotFoundf("type_not_found", "type %q is not registered", typ)
	}

	idxFilter := kbindex.ListFilter{
		StartDate: filter.StartDate,
		EndDate:   filter.EndDate,
		Limit:     filter.Limit,
	}

	if !filter.IncludeClosedStatuses && model.BaseKind(baseKind) == model.BaseKindTasks {
		statusRows, statusErr := r.openStatuses(ctx)
		if statusErr != nil {
			return nil, statusErr
		}

		idxFilter.Statuses = openStatusNames(statusRows, filter.Statuses)
		if len(idxFilter.Statuses) == 0 {
			return []model.Summary{}, nil
		}
	} else if len(filter.Statuses) > 0 {
		idxFilter.Statuses = filter.Statuses
	}

	switch {
	case typ == model.TypeSessions:
		idxFilter.OrderBy = "id_desc"
		idxFilter.DateKind = "numeric_id"
	case typ == model.TypeDailies:
		idxFilter.OrderBy = "date_desc"
		idxFilter.DateKind = "numeric_id"
	case filter.Limit > 0:
		idxFilter.OrderBy = "id_desc"
	default:
		idxFilter.OrderBy = "id_asc"
	}

	rows, err := r.index.ListItems(ctx, typ, idxFilter)
	if err != nil {
		return nil, kbfault.Storage("list_items", err, false)
	}

	summaries := make([]model.Summary, len(rows))
	for i, row := range rows {
		summaries[i] = toSummary(row)
	}

	return summaries, nil
}

func (r *Repository) openStatuses(ctx context.Context) ([]struct {
	Name     string
	IsClosed bool
}, error) {
	tx, err := r.index.Begin(ctx)
	if err != nil {
		return nil, kbfault.Storage("begin_tx", err, true)
	}

	defer func() { _ = tx.Rollback() }()

	rows, err := tx.AllStatuses(ctx)
	if err != nil {
		return nil, kbfault.Storage("list_statuses", err, false)
	}

	return rows, nil
}

// openStatusNames narrows requested (or all) statuses down to the
// non-closed subset, since tasks-kind listings default to excluding closed
// items (spec §4.H "list": include_closed_statuses default false).
func openStatusNames(all []struct {
	Name     string
	IsClosed bool
}, requested []string) []string {
	open := map[string]bool{}

	for _, s := range all {
		if !s.IsClosed {
			open[s.Name] = true
		}
	}

	if len(requested) == 0 {
		names := make([]string, 0, len(open))
		for name := range open {
			names = append(names, name)
		}

		return names
	}

	names := make([]string, 0, len(requested))

	for _, name := range requested {
		if open[name] {
			names = append(names, name)
		}
	}

	return names
}

func toSummary(row kbindex.SummaryRow) model.Summary {
	createdAt, _ := itemcodec.ParseTime(row.CreatedAt)
	updatedAt, _ := itemcodec.ParseTime(row.UpdatedAt)

	return model.Summary{
		Type: row.Type, ID: row.ID, Title: row.Title, Status: row.Status,
		Priority: row.Priority, StartDate: row.StartDate, EndDate: row.EndDate,
		Tags: row.Tags, CreatedAt: createdAt, UpdatedAt: updatedAt,
	}
}
