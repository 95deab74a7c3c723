package rebuild_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbeng/kb/internal/clock"
	"github.com/kbeng/kb/internal/kb"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/rebuild"
)

func Test_Rebuild_ReindexesFilesAndReconcilesSequence(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	indexPath := filepath.Join(root, "search.db")

	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	repo, err := kb.Open(ctx, root, indexPath, clk, kbindex.DefaultOptions())
	require.NoError(t, err)

	_, err = repo.Create(ctx, kb.CreateParams{Type: "docs", Title: "Doc one", Content: "body one"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, kb.CreateParams{Type: "docs", Title: "Doc two", Content: "body two"})
	require.NoError(t, err)

	require.NoError(t, repo.Close())

	require.NoError(t, os.Remove(indexPath))

	index, err := kbindex.Open(ctx, indexPath, kbindex.DefaultOptions())
	require.NoError(t, err)

	defer index.Close()

	coord := rebuild.New(root, index, filepath.Join(root, ".kb-lock"), false)

	report, err := coord.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.PerTypeCounts["docs"])
	require.Empty(t, report.Anomalies)
	require.Equal(t, int64(2), report.SequencesByType["docs"])
}
