package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbeng/kb/internal/model"
)

func Test_RenderTable_GetItems_RendersColumns(t *testing.T) {
	rendered, ok := renderTable("get_items", []model.Summary{
		{Type: "issues", ID: "1", Title: "Fix login", Status: "Open", Priority: "high", Tags: []string{"bug"}},
	})
	require.True(t, ok)
	require.True(t, strings.Contains(rendered, "TITLE"))
	require.True(t, strings.Contains(rendered, "Fix login"))
}

func Test_RenderTable_SearchItems_RendersColumns(t *testing.T) {
	rendered, ok := renderTable("search_items", []model.Hit{
		{Type: "docs", ID: "1", Title: "Auth guide", Snippet: "...auth...", Score: 1.5},
	})
	require.True(t, ok)
	require.True(t, strings.Contains(rendered, "SCORE"))
	require.True(t, strings.Contains(rendered, "Auth guide"))
}

func Test_RenderTable_UnknownOp_FallsBackToJSON(t *testing.T) {
	_, ok := renderTable("get_tags", []string{"urgent"})
	require.False(t, ok)
}
