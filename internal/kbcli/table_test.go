package kbcli_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbeng/kb/internal/kbcli"
	"github.com/kbeng/kb/internal/model"
)

func Test_Items_AlignsColumnsByDisplayWidth(t *testing.T) {
	out := kbcli.Items([]model.Summary{
		{Type: "issues", ID: "1", Title: "Fix login", Status: "Open", Priority: "high", Tags: []string{"bug", "auth"}},
		{Type: "docs", ID: "42", Title: "设计文档", Status: "Draft", Priority: "low", Tags: nil},
	})

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "TYPE")
	require.Contains(t, lines[1], "issues")
	require.Contains(t, lines[2], "设计文档")
}

func Test_Items_EmptyInput_RendersHeaderOnly(t *testing.T) {
	out := kbcli.Items(nil)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 1)
}

func Test_Hits_FormatsScoreWithoutTrailingZeros(t *testing.T) {
	out := kbcli.Hits([]model.Hit{
		{Type: "issues", ID: "1", Title: "Fix login", Snippet: "...login fails...", Score: 1.5},
	})

	require.Contains(t, out, "1.5")
}
