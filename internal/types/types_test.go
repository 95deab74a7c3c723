package types_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/model"
	"github.com/kbeng/kb/internal/types"
)

func openTx(t *testing.T) (*kbindex.Store, *kbindex.Tx) {
	t.Helper()

	ctx := context.Background()
	s, err := kbindex.Open(ctx, filepath.Join(t.TempDir(), "index.sqlite3"), kbindex.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	setupTx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, kbindex.DropAndRecreateSchema(ctx, setupTx.Unwrap()))
	require.NoError(t, setupTx.Commit())

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	return s, tx
}

func Test_EnsureBuiltins_RegistersSessionsAndDailies(t *testing.T) {
	ctx := context.Background()
	_, tx := openTx(t)

	require.NoError(t, types.EnsureBuiltins(ctx, tx))

	info, found, err := types.Get(ctx, tx, model.TypeSessions)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, model.BaseKindSessions, info.BaseKind)
	require.True(t, info.BuiltIn)
}

func Test_Create_RejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	_, tx := openTx(t)

	_, err := types.Create(ctx, tx, "notes", model.BaseKindDocuments, "")
	require.NoError(t, err)

	_, err = types.Create(ctx, tx, "notes", model.BaseKindDocuments, "")
	require.Error(t, err)
	require.True(t, kbfault.Is(err, kbfault.KindConflict))
}

func Test_Create_RejectsInvalidName(t *testing.T) {
	ctx := context.Background()
	_, tx := openTx(t)

	_, err := types.Create(ctx, tx, "Invalid Name!", model.BaseKindDocuments, "")
	require.Error(t, err)
	require.True(t, kbfault.Is(err, kbfault.KindValidation))
}

func Test_Delete_RejectsBuiltin(t *testing.T) {
	ctx := context.Background()
	_, tx := openTx(t)

	require.NoError(t, types.EnsureBuiltins(ctx, tx))

	err := types.Delete(ctx, tx, model.TypeSessions)
	require.Error(t, err)
	require.True(t, kbfault.Is(err, kbfault.KindConflict))
}
