package itemcodec_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbeng/kb/internal/itemcodec"
	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/model"
)

func sampleItem() model.Item {
	created := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 1, 3, 11, 30, 0, 0, time.UTC)

	return model.Item{
		Type:        "issues",
		ID:          "1",
		Title:       "Fix login bug",
		Description: "Users cannot log in with SSO",
		Content:     "## Repro\n\n1. Visit /login\n2. ...\n",
		Tags:        []string{"bug", "auth"},
		Status:      "Open",
		Priority:    "high",
		StartDate:   "2026-01-02",
		EndDate:     "2026-01-10",
		Related:     []string{"docs-3"},
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
}

func Test_EncodeThenDecode_RoundTrips(t *testing.T) {
	it := sampleItem()

	encoded, err := itemcodec.Encode(it)
	require.NoError(t, err)

	decoded, err := itemcodec.Decode(it.Type, it.ID, []byte(encoded))
	require.NoError(t, err)

	require.Equal(t, it.Title, decoded.Title)
	require.Equal(t, it.Description, decoded.Description)
	require.Equal(t, it.Content, decoded.Content)
	require.Equal(t, it.Tags, decoded.Tags)
	require.Equal(t, it.Status, decoded.Status)
	require.Equal(t, it.Priority, decoded.Priority)
	require.Equal(t, it.StartDate, decoded.StartDate)
	require.Equal(t, it.EndDate, decoded.EndDate)
	require.Equal(t, it.Related, decoded.Related)
	require.True(t, it.CreatedAt.Equal(decoded.CreatedAt))
	require.True(t, it.UpdatedAt.Equal(decoded.UpdatedAt))
}

func Test_Encode_UsesCanonicalKeyOrder(t *testing.T) {
	it := sampleItem()

	encoded, err := itemcodec.Encode(it)
	require.NoError(t, err)

	require.Regexp(t, `(?s)id:.*title:.*priority:.*status:.*tags:.*start_date:.*end_date:.*related:.*created_at:.*updated_at:`, encoded)
}

func Test_Decode_MergesLegacyRelatedAliases(t *testing.T) {
	src := "---\n" +
		"id: 7\n" +
		"title: Legacy doc\n" +
		"related_tasks: [issues-1]\n" +
		"related_documents: [docs-2, issues-1]\n" +
		"created_at: \"2026-01-01T00:00:00.000Z\"\n" +
		"updated_at: \"2026-01-01T00:00:00.000Z\"\n" +
		"---\n" +
		"body\n"

	it, err := itemcodec.Decode("docs", "7", []byte(src))
	require.NoError(t, err)
	require.Equal(t, []string{"issues-1", "docs-2"}, it.Related)
}

func Test_Decode_ReturnsCorruptItemFault_When_TitleMissing(t *testing.T) {
	src := "---\n" +
		"id: 1\n" +
		"created_at: \"2026-01-01T00:00:00.000Z\"\n" +
		"updated_at: \"2026-01-01T00:00:00.000Z\"\n" +
		"---\n"

	_, err := itemcodec.Decode("issues", "1", []byte(src))
	require.Error(t, err)
	require.True(t, kbfault.Is(err, kbfault.KindCorruptItem))
}

func Test_Decode_ReturnsCorruptItemFault_When_FrontmatterUnparsable(t *testing.T) {
	_, err := itemcodec.Decode("issues", "1", []byte("no frontmatter here"))
	require.Error(t, err)
	require.True(t, kbfault.Is(err, kbfault.KindCorruptItem))
}
