package relations_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/relations"
)

func Test_Parse_SplitsTypeAndID(t *testing.T) {
	r, err := relations.Parse("issues-42")
	require.NoError(t, err)
	require.Equal(t, relations.Ref{Type: "issues", ID: "42"}, r)
}

func Test_Parse_HandlesHyphenatedIDs(t *testing.T) {
	r, err := relations.Parse("sessions-2026-01-02-10.00.00.000")
	require.NoError(t, err)
	require.Equal(t, "sessions", r.Type)
	require.Equal(t, "2026-01-02-10.00.00.000", r.ID)
}

func Test_Parse_ReturnsError_When_Malformed(t *testing.T) {
	_, err := relations.Parse("noHyphenHere")
	require.Error(t, err)
	require.True(t, kbfault.Is(err, kbfault.KindValidation))
}

func Test_ParseAll_RejectsSelfReference(t *testing.T) {
	_, err := relations.ParseAll([]string{"issues-1"}, "issues", "1")
	require.Error(t, err)
	require.True(t, kbfault.Is(err, kbfault.KindValidation))
}

func Test_ParseAll_DropsDuplicatesPreservingOrder(t *testing.T) {
	refs, err := relations.ParseAll([]string{"issues-1", "docs-2", "issues-1"}, "issues", "99")
	require.NoError(t, err)
	require.Equal(t, []relations.Ref{{Type: "issues", ID: "1"}, {Type: "docs", ID: "2"}}, refs)
}
