package frontmatter_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbeng/kb/internal/frontmatter"
)

func Test_Parse_ReturnsFields_When_SubsetValid(t *testing.T) {
	t.Parallel()

	src := strings.Join([]string{
		"---",
		"id: 42",
		"title: Fix login bug",
		`description: "has: a colon"`,
		"tags: [bug, auth, \"on-call\"]",
		"related: []",
		"---",
		"# Fix login bug",
		"",
		"Body text.",
	}, "\n")

	fm, body, err := frontmatter.Parse([]byte(src))
	require.NoError(t, err)

	id, ok := fm.GetInt("id")
	require.True(t, ok)
	require.Equal(t, int64(42), id)

	title, ok := fm.GetString("title")
	require.True(t, ok)
	require.Equal(t, "Fix login bug", title)

	desc, ok := fm.GetString("description")
	require.True(t, ok)
	require.Equal(t, "has: a colon", desc)

	tags, ok := fm.GetList("tags")
	require.True(t, ok)
	require.Equal(t, []string{"bug", "auth", "on-call"}, tags)

	related, ok := fm.GetList("related")
	require.True(t, ok)
	require.Empty(t, related)

	require.Equal(t, "# Fix login bug\n\nBody text.", body)
}

func Test_Parse_ReturnsError_When_DelimiterMissing(t *testing.T) {
	t.Parallel()

	_, _, err := frontmatter.Parse([]byte("title: x\n"))
	require.ErrorIs(t, err, frontmatter.ErrMissingDelimiter)
}

func Test_Parse_ReturnsError_When_ClosingFenceMissing(t *testing.T) {
	t.Parallel()

	_, _, err := frontmatter.Parse([]byte("---\ntitle: x\n"))
	require.ErrorIs(t, err, frontmatter.ErrMissingDelimiter)
}

func Test_MarshalThenParse_RoundTrips(t *testing.T) {
	t.Parallel()

	fm := frontmatter.Frontmatter{
		"id":      frontmatter.Int(7),
		"title":   frontmatter.String("needs quoting: yes"),
		"tags":    frontmatter.List([]string{"a", "b c", ""}),
		"related": frontmatter.List(nil),
	}

	out, err := frontmatter.Marshal(fm, "body here", frontmatter.MarshalOptions{
		KeyOrder: []string{"id", "title", "tags", "related"},
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "---\n"))

	parsed, body, err := frontmatter.Parse([]byte(out))
	require.NoError(t, err)
	require.Equal(t, "body here", body)

	id, _ := parsed.GetInt("id")
	require.Equal(t, int64(7), id)

	title, _ := parsed.GetString("title")
	require.Equal(t, "needs quoting: yes", title)

	tags, _ := parsed.GetList("tags")
	require.Equal(t, []string{"a", "b c", ""}, tags)
}

func Test_Marshal_OmitsKeysNotPresent(t *testing.T) {
	t.Parallel()

	fm := frontmatter.Frontmatter{"id": frontmatter.Int(1)}

	out, err := frontmatter.Marshal(fm, "", frontmatter.MarshalOptions{
		KeyOrder: []string{"id", "title"},
	})
	require.NoError(t, err)
	require.NotContains(t, out, "title")
}
