package currentstate_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbeng/kb/internal/clock"
	"github.com/kbeng/kb/internal/currentstate"
	"github.com/kbeng/kb/internal/kbindex"
)

func openStore(t *testing.T) (*currentstate.Store, string) {
	t.Helper()

	ctx := context.Background()
	root := t.TempDir()

	index, err := kbindex.Open(ctx, filepath.Join(root, "search.db"), kbindex.DefaultOptions())
	require.NoError(t, err)

	tx, err := index.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, kbindex.DropAndRecreateSchema(ctx, tx.Unwrap()))
	require.NoError(t, tx.Commit())

	t.Cleanup(func() { _ = index.Close() })

	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	return currentstate.New(root, index, clk), root
}

func Test_Get_ReturnsZeroValue_When_NeverWritten(t *testing.T) {
	store, _ := openStore(t)

	cs, err := store.Get(context.Background())
	require.NoError(t, err)
	require.Empty(t, cs.Content)
}

func Test_Update_ThenGet_RoundTrips(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)

	written, err := store.Update(ctx, currentstate.UpdatePatch{
		Content: "project is on track", Tags: []string{"status"}, UpdatedBy: "alice",
	})
	require.NoError(t, err)
	require.Equal(t, "project is on track", written.Content)

	read, err := store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "project is on track", read.Content)
	require.Equal(t, []string{"status"}, read.Tags)
	require.Equal(t, "alice", read.UpdatedBy)
}

func Test_Update_OverwritesWithoutHistory(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)

	_, err := store.Update(ctx, currentstate.UpdatePatch{Content: "first"})
	require.NoError(t, err)

	_, err = store.Update(ctx, currentstate.UpdatePatch{Content: "second"})
	require.NoError(t, err)

	read, err := store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", read.Content)
}
