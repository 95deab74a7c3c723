package kbindex

import (
	"context"
	"database/sql"
	"fmt"
)

// NextID increments and returns sequences[typ].current_value, atomic with the
// surrounding transaction (spec §4.D). The row must already exist; callers
// ensure sequence rows are seeded when a type is registered.
func (t *Tx) NextID(ctx context.Context, typ string) (int64, error) {
	_, err := t.tx.ExecContext(ctx, "UPDATE sequences SET current_value = current_value + 1 WHERE type = ?", typ)
	if err != nil {
		return 0, fmt.Errorf("kbindex: advance sequence %q: %w", typ, err)
	}

	var v int64

	err = t.tx.QueryRowContext(ctx, "SELECT current_value FROM sequences WHERE type = ?", typ).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("kbindex: sequence %q is not registered", typ)
	}

	if err != nil {
		return 0, fmt.Errorf("kbindex: read sequence %q: %w", typ, err)
	}

	return v, nil
}

// EnsureSequence seeds a sequence row at floor if missing, for types newly
// registered at startup or rebuild time.
func (t *Tx) EnsureSequence(ctx context.Context, typ, baseKind string, floor int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sequences (type, current_value, base_kind) VALUES (?, ?, ?)
		ON CONFLICT(type) DO NOTHING`, typ, floor, baseKind)
	if err != nil {
		return fmt.Errorf("kbindex: ensure sequence %q: %w", typ, err)
	}

	return nil
}

// ReconcileSequence raises sequences[typ].current_value to at least floor,
// never lowering it (spec I4: "sequences[type] ≥ max(id) over all items ...
// and over any historically allocated IDs still present on disk").
func (t *Tx) ReconcileSequence(ctx context.Context, typ string, floor int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sequences SET current_value = MAX(current_value, ?) WHERE type = ?`, floor, typ)
	if err != nil {
		return fmt.Errorf("kbindex: reconcile sequence %q: %w", typ, err)
	}

	return nil
}

// SequenceValue reads the current value without advancing it.
func (t *Tx) SequenceValue(ctx context.Context, typ string) (int64, bool, error) {
	var v int64

	err := t.tx.QueryRowContext(ctx, "SELECT current_value FROM sequences WHERE type = ?", typ).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("kbindex: sequence value %q: %w", typ, err)
	}

	return v, true, nil
}

// AllSequences returns every type's current sequence value.
func (t *Tx) AllSequences(ctx context.Context) (map[string]int64, error) {
	rows, err := t.tx.QueryContext(ctx, "SELECT type, current_value FROM sequences")
	if err != nil {
		return nil, fmt.Errorf("kbindex: all sequences: %w", err)
	}

	defer rows.Close()

	out := map[string]int64{}

	for rows.Next() {
		var typ string

		var v int64

		if err := rows.Scan(&typ, &v); err != nil {
			return nil, fmt.Errorf("kbindex: scan sequence: %w", err)
		}

		out[typ] = v
	}

	return out, rows.Err()
}
