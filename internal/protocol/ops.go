package protocol

import (
	"context"
	"encoding/json"

	"github.com/kbeng/kb/internal/currentstate"
	"github.com/kbeng/kb/internal/kb"
	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/model"
	"github.com/kbeng/kb/internal/tags"
	"github.com/kbeng/kb/internal/types"
)

type getItemsParams struct {
	Type                  string   `json:"type"`
	IncludeClosedStatuses bool     `json:"include_closed_statuses"`
	Statuses              []string `json:"statuses"`
	StartDate             string   `json:"start_date"`
	EndDate               string   `json:"end_date"`
	Limit                 int      `json:"limit"`
}

func (s *Server) getItems(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[getItemsParams](raw)
	if err != nil {
		return nil, err
	}

	return s.repo.List(ctx, p.Type, model.ListFilter{
		IncludeClosedStatuses: p.IncludeClosedStatuses, Statuses: p.Statuses,
		StartDate: p.StartDate, EndDate: p.EndDate, Limit: p.Limit,
	})
}

type itemRefParams struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (s *Server) getItemDetail(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[itemRefParams](raw)
	if err != nil {
		return nil, err
	}

	it, err := s.repo.Get(ctx, p.Type, p.ID)
	if err != nil {
		return nil, err
	}

	// Dangling references are reported beside the item; failing to resolve
	// them never fails the read.
	dangling, _ := s.repo.DanglingRefs(ctx, it.Related)

	return struct {
		model.Item
		DanglingRefs []string `json:"dangling_refs,omitempty"`
	}{Item: it, DanglingRefs: dangling}, nil
}

func (s *Server) createItem(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[kb.CreateParams](raw)
	if err != nil {
		return nil, err
	}

	return s.repo.Create(ctx, p)
}

type updateItemParams struct {
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Content     *string   `json:"content"`
	Priority    *string   `json:"priority"`
	Status      *string   `json:"status"`
	Tags        *[]string `json:"tags"`
	StartDate   *string   `json:"start_date"`
	EndDate     *string   `json:"end_date"`
	Related     *[]string `json:"related"`
}

func (s *Server) updateItem(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[updateItemParams](raw)
	if err != nil {
		return nil, err
	}

	return s.repo.Update(ctx, p.Type, p.ID, kb.UpdatePatch{
		Title: p.Title, Description: p.Description, Content: p.Content,
		Priority: p.Priority, Status: p.Status, Tags: p.Tags,
		StartDate: p.StartDate, EndDate: p.EndDate, Related: p.Related,
	})
}

func (s *Server) deleteItem(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[itemRefParams](raw)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Delete(ctx, p.Type, p.ID); err != nil {
		return nil, err
	}

	return struct{}{}, nil
}

type changeItemTypeParams struct {
	FromType string `json:"from_type"`
	FromID   string `json:"from_id"`
	ToType   string `json:"to_type"`
}

func (s *Server) changeItemType(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[changeItemTypeParams](raw)
	if err != nil {
		return nil, err
	}

	newID, err := s.repo.ChangeType(ctx, p.FromType, p.FromID, p.ToType)
	if err != nil {
		return nil, err
	}

	return struct {
		NewID string `json:"new_id"`
	}{NewID: newID}, nil
}

type searchByTagParams struct {
	Tag                   string   `json:"tag"`
	Types                 []string `json:"types"`
	IncludeClosedStatuses bool     `json:"include_closed_statuses"`
}

func (s *Server) searchItemsByTag(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[searchByTagParams](raw)
	if err != nil {
		return nil, err
	}

	return s.search.ByTag(ctx, p.Tag, p.Types, p.IncludeClosedStatuses)
}

type searchItemsParams struct {
	Query  string   `json:"query"`
	Types  []string `json:"types"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

func (s *Server) searchItems(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[searchItemsParams](raw)
	if err != nil {
		return nil, err
	}

	return s.search.FullText(ctx, p.Query, p.Types, p.Limit, p.Offset)
}

type searchSuggestParams struct {
	Query string   `json:"query"`
	Types []string `json:"types"`
	Limit int      `json:"limit"`
}

func (s *Server) searchSuggest(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[searchSuggestParams](raw)
	if err != nil {
		return nil, err
	}

	return s.search.Suggest(ctx, p.Query, p.Types, p.Limit)
}

type relatedFilesParams struct {
	Reference string `json:"reference"`
	Depth     int    `json:"depth"`
}

func (s *Server) relatedFiles(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[relatedFilesParams](raw)
	if err != nil {
		return nil, err
	}

	return s.search.RelatedFiles(ctx, p.Reference, p.Depth)
}

type createTagParams struct {
	Name string `json:"name"`
}

func (s *Server) createTag(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[createTagParams](raw)
	if err != nil {
		return nil, err
	}

	if p.Name == "" {
		return nil, kbfault.Validationf("invalid_tag_name", "tag name must not be empty")
	}

	return s.withTx(ctx, func(tx *kbindex.Tx) (any, error) {
		ids, err := tags.Ensure(ctx, tx, []string{p.Name})
		if err != nil {
			return nil, err
		}

		return model.Tag{ID: ids[0], Name: p.Name}, nil
	})
}

type deleteTagParams struct {
	Name  string `json:"name"`
	Force bool   `json:"force"`
}

func (s *Server) deleteTag(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[deleteTagParams](raw)
	if err != nil {
		return nil, err
	}

	_, err = s.withTx(ctx, func(tx *kbindex.Tx) (any, error) {
		return struct{}{}, tags.Delete(ctx, tx, p.Name, p.Force)
	})

	return struct{}{}, err
}

type searchTagsParams struct {
	Pattern string `json:"pattern"`
}

func (s *Server) searchTags(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[searchTagsParams](raw)
	if err != nil {
		return nil, err
	}

	return s.withTx(ctx, func(tx *kbindex.Tx) (any, error) { return tags.Search(ctx, tx, p.Pattern) })
}

type createTypeParams struct {
	Name        string `json:"name"`
	BaseType    string `json:"base_type"`
	Description string `json:"description"`
}

func (s *Server) createType(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[createTypeParams](raw)
	if err != nil {
		return nil, err
	}

	return s.withTx(ctx, func(tx *kbindex.Tx) (any, error) {
		return types.Create(ctx, tx, p.Name, model.BaseKind(p.BaseType), p.Description)
	})
}

type updateTypeParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) updateType(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[updateTypeParams](raw)
	if err != nil {
		return nil, err
	}

	_, err = s.withTx(ctx, func(tx *kbindex.Tx) (any, error) {
		return struct{}{}, types.UpdateDescription(ctx, tx, p.Name, p.Description)
	})

	return struct{}{}, err
}

type deleteTypeParams struct {
	Name string `json:"name"`
}

func (s *Server) deleteType(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[deleteTypeParams](raw)
	if err != nil {
		return nil, err
	}

	_, err = s.withTx(ctx, func(tx *kbindex.Tx) (any, error) {
		return struct{}{}, types.Delete(ctx, tx, p.Name)
	})

	return struct{}{}, err
}

type updateCurrentStateParams struct {
	Content   string   `json:"content"`
	Related   []string `json:"related"`
	Tags      []string `json:"tags"`
	UpdatedBy string   `json:"updated_by"`
}

func (s *Server) updateCurrentState(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := unmarshalParams[updateCurrentStateParams](raw)
	if err != nil {
		return nil, err
	}

	return s.currentState.Update(ctx, currentstate.UpdatePatch{
		Content: p.Content, Related: p.Related, Tags: p.Tags, UpdatedBy: p.UpdatedBy,
	})
}
