package kb_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbeng/kb/internal/clock"
	"github.com/kbeng/kb/internal/kb"
	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/model"
)

func openRepo(t *testing.T) *kb.Repository {
	t.Helper()

	ctx := context.Background()
	root := t.TempDir()
	indexPath := filepath.Join(root, "search.db")

	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	repo, err := kb.Open(ctx, root, indexPath, clk, kbindex.DefaultOptions())
	require.NoError(t, err)

	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func Test_CreateListUpdate_ExcludesClosedByDefault(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	it, err := repo.Create(ctx, kb.CreateParams{
		Type: "issues", Title: "Fix login", Content: "...",
		Priority: "high", Status: "Open", Tags: []string{"bug", "auth"},
	})
	require.NoError(t, err)
	require.Equal(t, "1", it.ID)

	list, err := repo.List(ctx, "issues", model.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "1", list[0].ID)

	closedStatus := "Closed"
	_, err = repo.Update(ctx, "issues", "1", kb.UpdatePatch{Status: &closedStatus})
	require.NoError(t, err)

	list, err = repo.List(ctx, "issues", model.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, list)

	list, err = repo.List(ctx, "issues", model.ListFilter{IncludeClosedStatuses: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func Test_Create_Dailies_RejectsDuplicateDate(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	_, err := repo.Create(ctx, kb.CreateParams{Type: "dailies", Title: "t", Content: "c", Date: "2025-07-24"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, kb.CreateParams{Type: "dailies", Title: "t2", Content: "c2", Date: "2025-07-24"})
	require.Error(t, err)
	require.True(t, kbfault.Is(err, kbfault.KindConflict))
}

func Test_ChangeType_RewritesReferrers(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	doc, err := repo.Create(ctx, kb.CreateParams{Type: "docs", Title: "Doc one", Content: "body"})
	require.NoError(t, err)

	note, err := repo.Create(ctx, kb.CreateParams{
		Type: "docs", Title: "Referring doc", Content: "body",
		Related: []string{"docs-" + doc.ID},
	})
	require.NoError(t, err)

	newID, err := repo.ChangeType(ctx, "docs", doc.ID, "knowledge")
	require.NoError(t, err)
	require.Equal(t, "1", newID)

	list, err := repo.List(ctx, "docs", model.ListFilter{})
	require.NoError(t, err)

	for _, s := range list {
		require.NotEqual(t, doc.ID, s.ID)
	}

	updatedNote, err := repo.Get(ctx, "docs", note.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"knowledge-" + newID}, updatedNote.Related)
}

func Test_Create_AllocatesMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	it1, err := repo.Create(ctx, kb.CreateParams{Type: "docs", Title: "A", Content: "a"})
	require.NoError(t, err)

	it2, err := repo.Create(ctx, kb.CreateParams{Type: "docs", Title: "B", Content: "b"})
	require.NoError(t, err)

	require.Equal(t, "1", it1.ID)
	require.Equal(t, "2", it2.ID)
}

func Test_List_WithLimit_OrdersIDsNumericallyNotLexicographically(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	var lastID string

	for i := 0; i < 11; i++ {
		it, err := repo.Create(ctx, kb.CreateParams{Type: "docs", Title: "A", Content: "a"})
		require.NoError(t, err)

		lastID = it.ID
	}

	require.Equal(t, "11", lastID)

	list, err := repo.List(ctx, "docs", model.ListFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, list, 3)

	require.Equal(t, []string{"11", "10", "9"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func Test_Delete_DoesNotReuseID(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	it1, err := repo.Create(ctx, kb.CreateParams{Type: "docs", Title: "A", Content: "a"})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "docs", it1.ID))

	it2, err := repo.Create(ctx, kb.CreateParams{Type: "docs", Title: "B", Content: "b"})
	require.NoError(t, err)

	require.Equal(t, "2", it2.ID)
}
