// Package protocol implements the line-oriented request/response transport
// of spec §6.1: one JSON object per line in, one JSON object per line out.
// Every operation named in §6.1 is dispatched here; encoding details beyond
// "one JSON value per line" are this package's own concern, not the
// engine's.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kbeng/kb/internal/currentstate"
	"github.com/kbeng/kb/internal/kb"
	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/kblog"
	"github.com/kbeng/kb/internal/rebuild"
	"github.com/kbeng/kb/internal/search"
	"github.com/kbeng/kb/internal/statuses"
	"github.com/kbeng/kb/internal/tags"
	"github.com/kbeng/kb/internal/types"
)

// Request is one line of input: an operation name plus its JSON params.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one line of output: either Result or Fault is set, never
// both (spec §7 "No operation returns partial success").
type Response struct {
	ID     string    `json:"id,omitempty"`
	Result any       `json:"result,omitempty"`
	Fault  *FaultDTO `json:"fault,omitempty"`
}

// FaultDTO is the wire shape of a kbfault.Fault.
type FaultDTO struct {
	Kind      string            `json:"kind"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Retryable bool              `json:"retryable"`
}

// Server dispatches protocol requests against one repository's components.
type Server struct {
	repo            *kb.Repository
	index           *kbindex.Store
	search          *search.Service
	currentState    *currentstate.Store
	rebuild         *rebuild.Coordinator
	logger          *slog.Logger
	requestDeadline time.Duration
}

// New wires a Server from its component dependencies. logger receives one
// LogFault line per request that returns a fault (spec §7 "faults are
// observable"); requestDeadline bounds each dispatch via context.WithTimeout
// when positive (spec §5 "a configurable per-operation deadline aborts and
// rolls back").
func New(
	repo *kb.Repository, index *kbindex.Store, srch *search.Service, cs *currentstate.Store,
	rb *rebuild.Coordinator, logger *slog.Logger, requestDeadline time.Duration,
) *Server {
	if logger == nil {
		logger = kblog.New("info")
	}

	return &Server{
		repo: repo, index: index, search: srch, currentState: cs, rebuild: rb,
		logger: logger, requestDeadline: requestDeadline,
	}
}

// Handle executes one request and always returns a Response — errors are
// carried in Response.Fault, never as a Go error, since the transport must
// still emit a line per request.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	if s.requestDeadline > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.requestDeadline)
		defer cancel()
	}

	result, err := s.dispatch(ctx, req)
	if err != nil {
		dto := toFaultDTO(err)
		kblog.LogFault(ctx, s.logger, "request failed", dto.Kind, dto.Code, dto.Retryable, err)

		return Response{ID: req.ID, Fault: dto}
	}

	return Response{ID: req.ID, Result: result}
}

func (s *Server) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Op {
	case "get_items":
		return s.getItems(ctx, req.Params)
	case "get_item_detail":
		return s.getItemDetail(ctx, req.Params)
	case "create_item":
		return s.createItem(ctx, req.Params)
	case "update_item":
		return s.updateItem(ctx, req.Params)
	case "delete_item":
		return s.deleteItem(ctx, req.Params)
	case "search_items_by_tag":
		return s.searchItemsByTag(ctx, req.Params)
	case "search_items":
		return s.searchItems(ctx, req.Params)
	case "search_suggest":
		return s.searchSuggest(ctx, req.Params)
	case "related_files":
		return s.relatedFiles(ctx, req.Params)
	case "get_tags":
		return s.withTx(ctx, func(tx *kbindex.Tx) (any, error) { return tags.All(ctx, tx) })
	case "create_tag":
		return s.createTag(ctx, req.Params)
	case "delete_tag":
		return s.deleteTag(ctx, req.Params)
	case "search_tags":
		return s.searchTags(ctx, req.Params)
	case "get_statuses":
		return s.withTx(ctx, func(tx *kbindex.Tx) (any, error) { return statuses.All(ctx, tx) })
	case "get_types":
		return s.withTx(ctx, func(tx *kbindex.Tx) (any, error) { return types.All(ctx, tx) })
	case "create_type":
		return s.createType(ctx, req.Params)
	case "update_type":
		return s.updateType(ctx, req.Params)
	case "delete_type":
		return s.deleteType(ctx, req.Params)
	case "get_current_state":
		return s.currentState.Get(ctx)
	case "update_current_state":
		return s.updateCurrentState(ctx, req.Params)
	case "change_item_type":
		return s.changeItemType(ctx, req.Params)
	case "rebuild":
		return s.rebuild.Run(ctx)
	default:
		return nil, kbfault.Validationf("unknown_op", "unknown operation %q", req.Op)
	}
}

func (s *Server) withTx(ctx context.Context, fn func(tx *kbindex.Tx) (any, error)) (any, error) {
	tx, err := s.index.Begin(ctx)
	if err != nil {
		return nil, kbfault.Storage("begin_tx", err, true)
	}

	defer func() { _ = tx.Rollback() }()

	result, err := fn(tx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, kbfault.Storage("commit_tx", err, false)
	}

	return result, nil
}

func unmarshalParams[T any](raw json.RawMessage) (T, error) {
	var v T

	if len(raw) == 0 {
		return v, nil
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		return v, kbfault.Validationf("invalid_params", "%v", err)
	}

	return v, nil
}

func toFaultDTO(err error) *FaultDTO {
	var f *kbfault.Fault
	if !errors.As(err, &f) {
		return &FaultDTO{Kind: "internal", Code: "unexpected_error", Message: err.Error()}
	}

	return &FaultDTO{Kind: f.Kind.String(), Code: f.Code, Message: f.Message, Context: f.Context, Retryable: f.Retryable}
}
