package protocol_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbeng/kb/internal/clock"
	"github.com/kbeng/kb/internal/currentstate"
	"github.com/kbeng/kb/internal/kb"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/model"
	"github.com/kbeng/kb/internal/protocol"
	"github.com/kbeng/kb/internal/rebuild"
	"github.com/kbeng/kb/internal/search"
)

func newServer(t *testing.T) *protocol.Server {
	t.Helper()

	return newServerWith(t, nil, 0)
}

func newServerWith(t *testing.T, logger *slog.Logger, requestDeadline time.Duration) *protocol.Server {
	t.Helper()

	ctx := context.Background()
	root := t.TempDir()
	indexPath := filepath.Join(root, "search.db")
	lockPath := filepath.Join(root, ".kb-lock")

	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	repo, err := kb.Open(ctx, root, indexPath, clk, kbindex.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	srch := search.New(repo.Index())
	cs := currentstate.New(root, repo.Index(), clk)
	rb := rebuild.New(root, repo.Index(), lockPath, true)

	return protocol.New(repo, repo.Index(), srch, cs, rb, logger, requestDeadline)
}

func do(t *testing.T, s *protocol.Server, op string, params any) protocol.Response {
	t.Helper()

	var raw json.RawMessage

	if params != nil {
		encoded, err := json.Marshal(params)
		require.NoError(t, err)

		raw = encoded
	}

	return s.Handle(context.Background(), protocol.Request{ID: "1", Op: op, Params: raw})
}

func Test_Handle_UnknownOp_ReturnsValidationFault(t *testing.T) {
	s := newServer(t)

	resp := do(t, s, "nonsense", nil)
	require.Nil(t, resp.Result)
	require.NotNil(t, resp.Fault)
	require.Equal(t, "validation", resp.Fault.Kind)
}

func Test_Handle_CreateThenGetItemDetail_RoundTrips(t *testing.T) {
	s := newServer(t)

	createResp := do(t, s, "create_item", map[string]any{
		"type": "issues", "title": "Fix login", "content": "...",
		"priority": "high", "status": "Open", "tags": []string{"bug"},
	})
	require.Nil(t, createResp.Fault)

	created, ok := createResp.Result.(model.Item)
	require.True(t, ok)
	require.Equal(t, "Fix login", created.Title)

	detailResp := do(t, s, "get_item_detail", map[string]any{
		"type": "issues", "id": created.ID,
	})
	require.Nil(t, detailResp.Fault)
}

func Test_Handle_CreateTagThenSearchTags(t *testing.T) {
	s := newServer(t)

	createResp := do(t, s, "create_tag", map[string]any{"name": "urgent"})
	require.Nil(t, createResp.Fault)

	searchResp := do(t, s, "search_tags", map[string]any{"pattern": "urg"})
	require.Nil(t, searchResp.Fault)
	require.NotNil(t, searchResp.Result)
}

func Test_Handle_UpdateCurrentStateThenGet(t *testing.T) {
	s := newServer(t)

	updateResp := do(t, s, "update_current_state", map[string]any{
		"content": "working on the auth rewrite", "updated_by": "agent-1",
	})
	require.Nil(t, updateResp.Fault)

	getResp := do(t, s, "get_current_state", nil)
	require.Nil(t, getResp.Fault)
}

func Test_Handle_Rebuild_Succeeds(t *testing.T) {
	s := newServer(t)

	resp := do(t, s, "rebuild", nil)
	require.Nil(t, resp.Fault)
	require.NotNil(t, resp.Result)
}

func Test_Handle_CreateItem_InvalidParams_ReturnsValidationFault(t *testing.T) {
	s := newServer(t)

	resp := s.Handle(context.Background(), protocol.Request{
		ID: "1", Op: "create_item", Params: json.RawMessage(`{"tags": "not-a-list"}`),
	})
	require.NotNil(t, resp.Fault)
	require.Equal(t, "validation", resp.Fault.Kind)
}

func Test_Handle_Fault_IsLoggedServerSide(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := newServerWith(t, logger, 0)

	resp := do(t, s, "nonsense", nil)
	require.NotNil(t, resp.Fault)

	logged := buf.String()
	require.Contains(t, logged, "request failed")
	require.Contains(t, logged, "fault_kind=validation")
}

func Test_Handle_ExpiredRequestDeadline_ReturnsFault(t *testing.T) {
	s := newServerWith(t, nil, time.Nanosecond)

	time.Sleep(time.Millisecond)

	resp := do(t, s, "get_items", map[string]any{"type": "issues"})
	require.NotNil(t, resp.Fault)
}
