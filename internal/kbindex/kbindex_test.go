package kbindex_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbeng/kb/internal/kbindex"
)

func openTestStore(t *testing.T) *kbindex.Store {
	t.Helper()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.sqlite3")

	s, err := kbindex.Open(ctx, path, kbindex.DefaultOptions())
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, kbindex.DropAndRecreateSchema(ctx, tx.Unwrap()))
	require.NoError(t, tx.Commit())

	return s
}

func Test_Open_AppliesConfiguredPoolBounds(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.sqlite3")

	s, err := kbindex.Open(ctx, path, kbindex.Options{
		ConnectionPoolMin: 2, ConnectionPoolMax: 4, BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Version(ctx)
	require.NoError(t, err)
}

func Test_Open_ZeroOptions_FallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.sqlite3")

	s, err := kbindex.Open(ctx, path, kbindex.Options{})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Version(ctx)
	require.NoError(t, err)
}

func Test_UpsertAndGetItem_RoundTrips(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	row := kbindex.ItemRow{
		Type: "issues", ID: "1", Title: "Fix login",
		Status: "Open", Priority: "high",
		CreatedAt: "2026-01-01T00:00:00.000Z", UpdatedAt: "2026-01-01T00:00:00.000Z",
	}
	require.NoError(t, tx.UpsertItem(ctx, row))
	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)

	got, found, err := tx2.GetItem(ctx, "issues", "1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Fix login", got.Title)
	require.NoError(t, tx2.Rollback())
}

func Test_NextID_IncrementsMonotonically(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.EnsureSequence(ctx, "issues", "tasks", 0))

	id1, err := tx.NextID(ctx, "issues")
	require.NoError(t, err)
	require.Equal(t, int64(1), id1)

	id2, err := tx.NextID(ctx, "issues")
	require.NoError(t, err)
	require.Equal(t, int64(2), id2)

	require.NoError(t, tx.Commit())
}

func Test_ListItems_FiltersByStatus(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertItem(ctx, kbindex.ItemRow{
		Type: "issues", ID: "1", Title: "Open one", Status: "Open", Priority: "high",
		CreatedAt: "2026-01-01T00:00:00.000Z", UpdatedAt: "2026-01-01T00:00:00.000Z",
	}))
	require.NoError(t, tx.UpsertItem(ctx, kbindex.ItemRow{
		Type: "issues", ID: "2", Title: "Closed one", Status: "Closed", Priority: "low",
		CreatedAt: "2026-01-01T00:00:00.000Z", UpdatedAt: "2026-01-01T00:00:00.000Z",
	}))
	require.NoError(t, tx.Commit())

	rows, err := s.ListItems(ctx, "issues", kbindex.ListFilter{Statuses: []string{"Open"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "1", rows[0].ID)
}

func Test_SearchFullText_FindsByTitle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertItem(ctx, kbindex.ItemRow{
		Type: "docs", ID: "1", Title: "SSO login guide", Description: "describes single sign-on",
		CreatedAt: "2026-01-01T00:00:00.000Z", UpdatedAt: "2026-01-01T00:00:00.000Z",
	}))
	require.NoError(t, tx.Commit())

	hits, err := s.SearchFullText(ctx, "login", nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "1", hits[0].ID)
}
