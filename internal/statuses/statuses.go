// Package statuses implements the status registry (spec §4.G): a fixed set
// loaded at initialization and addressable by name. The public surface never
// mutates it; only EnsureDefaults (startup) writes.
package statuses

import (
	"context"

	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/model"
)

// Defaults is the minimum status set every repository ships with (spec
// §4.G): Open, In Progress, and On Hold are active; Closed is terminal.
var Defaults = []model.Status{
	{Name: "Open", IsClosed: false},
	{Name: "In Progress", IsClosed: false},
	{Name: "On Hold", IsClosed: false},
	{Name: "Closed", IsClosed: true},
}

// EnsureDefaults seeds the default statuses if absent. Idempotent.
func EnsureDefaults(ctx context.Context, tx *kbindex.Tx) error {
	for _, s := range Defaults {
		if err := tx.UpsertStatus(ctx, s.Name, s.IsClosed); err != nil {
			return kbfault.Internal("statuses_seed_failed", err)
		}
	}

	return nil
}

// Get returns one status by name.
func Get(ctx context.Context, tx *kbindex.Tx, name string) (model.Status, bool, error) {
	isClosed, found, err := tx.StatusByName(ctx, name)
	if err != nil {
		return model.Status{}, false, kbfault.Internal("statuses_lookup_failed", err)
	}

	if !found {
		return model.Status{}, false, nil
	}

	return model.Status{Name: name, IsClosed: isClosed}, true, nil
}

// All returns every registered status, in insertion order.
func All(ctx context.Context, tx *kbindex.Tx) ([]model.Status, error) {
	rows, err := tx.AllStatuses(ctx)
	if err != nil {
		return nil, kbfault.Internal("statuses_list_failed", err)
	}

	out := make([]model.Status, len(rows))
	for i, r := range rows {
		out[i] = model.Status{Name: r.Name, IsClosed: r.IsClosed}
	}

	return out, nil
}
