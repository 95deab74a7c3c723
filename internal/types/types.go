// Package types implements the type registry (spec §4.F): built-in type
// seeding at startup, creation/deletion of user types, and base-kind lookup
// used throughout internal/kb to decide which fields an item requires.
package types

import (
	"context"
	"regexp"

	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/model"
)

// Built-ins is the set of types guaranteed to exist after EnsureBuiltins:
// sessions and dailies are structurally special (spec §3); issues, plans,
// docs, and knowledge are the conventional defaults a fresh repository
// ships with (spec §4.F).
var Builtins = []model.TypeInfo{
	{Name: model.TypeSessions, BaseKind: model.BaseKindSessions, Description: "Work sessions", BuiltIn: true},
	{Name: model.TypeDailies, BaseKind: model.BaseKindDocuments, Description: "Daily notes", BuiltIn: true},
	{Name: "issues", BaseKind: model.BaseKindTasks, Description: "Tracked issues", BuiltIn: true},
	{Name: "plans", BaseKind: model.BaseKindTasks, Description: "Plans of work", BuiltIn: true},
	{Name: "docs", BaseKind: model.BaseKindDocuments, Description: "Reference documents", BuiltIn: true},
	{Name: "knowledge", BaseKind: model.BaseKindDocuments, Description: "Knowledge notes", BuiltIn: true},
}

var nameRE = regexp.MustCompile(`^[a-z0-9_]+$`)

// EnsureBuiltins seeds the built-in types and their sequence rows if absent.
// Called once when a store is opened or rebuilt.
func EnsureBuiltins(ctx context.Context, tx *kbindex.Tx) error {
	for _, b := range Builtins {
		if err := tx.UpsertType(ctx, b.Name, string(b.BaseKind), b.Description, true); err != nil {
			return kbfault.Internal("types_seed_failed", err)
		}

		if b.BaseKind == model.BaseKindTasks || b.BaseKind == model.BaseKindDocuments {
			if err := tx.EnsureSequence(ctx, b.Name, string(b.BaseKind), 0); err != nil {
				return kbfault.Internal("types_seed_sequence_failed", err)
			}
		}
	}

	return nil
}

// Create registers a new type. It rejects duplicate, reserved, and
// malformed names (spec §4.F).
func Create(ctx context.Context, tx *kbindex.Tx, name string, baseKind model.BaseKind, description string) (model.TypeInfo, error) {
	if !nameRE.MatchString(name) {
		return model.TypeInfo{}, kbfault.Validationf("invalid_type_name", "type name %q must match [a-z0-9_]+", name)
	}

	switch baseKind {
	case model.BaseKindTasks, model.BaseKindDocuments, model.BaseKindSessions:
	default:
		return model.TypeInfo{}, kbfault.Validationf("invalid_base_kind", "unknown base kind %q", baseKind)
	}

	_, _, _, found, err := tx.TypeByName(ctx, name)
	if err != nil {
		return model.TypeInfo{}, kbfault.Internal("types_lookup_failed", err)
	}

	if found {
		return model.TypeInfo{}, kbfault.Conflictf("type_exists", "type %q is already registered", name)
	}

	if err := tx.UpsertType(ctx, name, string(baseKind), description, false); err != nil {
		return model.TypeInfo{}, kbfault.Internal("types_create_failed", err)
	}

	if baseKind == model.BaseKindTasks {
		if err := tx.EnsureSequence(ctx, name, string(baseKind), 0); err != nil {
			return model.TypeInfo{}, kbfault.Internal("types_create_sequence_failed", err)
		}
	} else if baseKind == model.BaseKindDocuments {
		// Documents-kind regular types still allocate numeric IDs (only
		// sessions/dailies use derived ids), so they need a sequence too.
		if err := tx.EnsureSequence(ctx, name, string(baseKind), 0); err != nil {
			return model.TypeInfo{}, kbfault.Internal("types_create_sequence_failed", err)
		}
	}

	return model.TypeInfo{Name: name, BaseKind: baseKind, Description: description}, nil
}

// Delete removes a user-defined type. Built-ins and non-empty types are
// rejected.
func Delete(ctx context.Context, tx *kbindex.Tx, name string) error {
	_, _, builtIn, found, err := tx.TypeByName(ctx, name)
	if err != nil {
		return kbfault.Internal("types_lookup_failed", err)
	}

	if !found {
		return kbfault.NotFoundf("type_not_found", "type %q is not registered", name)
	}

	if builtIn {
		return kbfault.Conflictf("type_builtin", "type %q is built in and cannot be deleted", name)
	}

	count, err := tx.TypeItemCount(ctx, name)
	if err != nil {
		return kbfault.Internal("types_count_failed", err)
	}

	if count > 0 {
		return kbfault.Conflictf("type_not_empty", "type %q still has %d item(s)", name, count)
	}

	if err := tx.DeleteType(ctx, name); err != nil {
		return kbfault.Internal("types_delete_failed", err)
	}

	return nil
}

// Get returns one type's metadata.
func Get(ctx context.Context, tx *kbindex.Tx, name string) (model.TypeInfo, bool, error) {
	baseKind, description, builtIn, found, err := tx.TypeByName(ctx, name)
	if err != nil {
		return model.TypeInfo{}, false, kbfault.Internal("types_lookup_failed", err)
	}

	if !found {
		return model.TypeInfo{}, false, nil
	}

	return model.TypeInfo{Name: name, BaseKind: model.BaseKind(baseKind), Description: description, BuiltIn: builtIn}, true, nil
}

// All returns every registered type.
func All(ctx context.Context, tx *kbindex.Tx) ([]model.TypeInfo, error) {
	rows, err := tx.AllTypes(ctx)
	if err != nil {
		return nil, kbfault.Internal("types_list_failed", err)
	}

	out := make([]model.TypeInfo, len(rows))
	for i, r := range rows {
		out[i] = model.TypeInfo{Name: r.Name, BaseKind: model.BaseKind(r.BaseKind), Description: r.Description, BuiltIn: r.BuiltIn}
	}

	return out, nil
}

// UpdateDescription is the only permitted metadata edit on an existing type
// (spec §4.F: "Type metadata edits are limited to description").
func UpdateDescription(ctx context.Context, tx *kbindex.Tx, name, description string) error {
	baseKind, _, builtIn, found, err := tx.TypeByName(ctx, name)
	if err != nil {
		return kbfault.Internal("types_lookup_failed", err)
	}

	if !found {
		return kbfault.NotFoundf("type_not_found", "type %q is not registered", name)
	}

	if err := tx.UpsertType(ctx, name, baseKind, description, builtIn); err != nil {
		return kbfault.Internal("types_update_failed", err)
	}

	return nil
}
