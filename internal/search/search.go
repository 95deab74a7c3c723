// Package search implements the read-only query surface of component J:
// tag lookups, the boolean full-text query language, title autocomplete,
// and a bounded related_items walk. Every method reads exclusively from the
// index (never the file tree), matching the item repository's own
// file-wins-on-conflict rule for mutating operations (spec §4.H, §4.J).
package search

import (
	"context"
	"sort"

	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/model"
)

// Service is the search component over one index Store.
type Service struct {
	index *kbindex.Store
}

// New wraps index for search queries.
func New(index *kbindex.Store) *Service {
	return &Service{index: index}
}

// ByTag groups tagged items by type, excluding closed-status tasks-kind
// items by default, matching List's own closed-status policy (spec §4.J
// "by_tag", §4.H "list").
func (s *Service) ByTag(ctx context.Context, tag string, types []string, includeClosed bool) (map[string][]model.Summary, error) {
	// The tagged rows are read before the transaction below takes the
	// pooled connection.
	rows, err := s.index.ItemsByTag(ctx, tag)
	if err != nil {
		return nil, kbfault.Storage("items_by_tag", err, false)
	}

	tx, err := s.index.Begin(ctx)
	if err != nil {
		return nil, kbfault.Storage("begin_tx", err, true)
	}

	defer func() { _ = tx.Rollback() }()

	_, found, err := tx.TagByName(ctx, tag)
	if err != nil {
		return nil, kbfault.Storage("lookup_tag", err, false)
	}

	if !found {
		return nil, kbfault.NotFoundf("tag_not_found", "tag %q does not exist", tag)
	}

	typeSet := toSet(types)

	grouped := map[string][]model.Summary{}

	for _, row := range rows {
		if len(typeSet) > 0 && !typeSet[row.Type] {
			continue
		}

		if !includeClosed && row.Status != "" {
			baseKind, _, _, found, err := tx.TypeByName(ctx, row.Type)
			if err == nil && found && model.BaseKind(baseKind) == model.BaseKindTasks {
				closed, statusErr := isClosedStatus(ctx, tx, row.Status)
				if statusErr == nil && closed {
					continue
				}
			}
		}

		grouped[row.Type] = append(grouped[row.Type], toSummary(row))
	}

	return grouped, nil
}

func isClosedStatus(ctx context.Context, tx *kbindex.Tx, name string) (bool, error) {
	statuses, err := tx.AllStatuses(ctx)
	if err != nil {
		return false, err
	}

	for _, st := range statuses {
		if st.Name == name {
			return st.IsClosed, nil
		}
	}

	return false, nil
}

// FullText runs the spec §4.J boolean query language against the FTS index.
func (s *Service) FullText(ctx context.Context, query string, types []string, limit, offset int) ([]model.Hit, error) {
	matchQuery, fieldTypes, err := translateQuery(query)
	if err != nil {
		return nil, err
	}

	effectiveTypes := types
	if len(fieldTypes) > 0 {
		effectiveTypes = intersectOrReplace(types, fieldTypes)
	}

	rows, err := s.index.SearchFullText(ctx, matchQuery, effectiveTypes, limit, offset)
	if err != nil {
		return nil, kbfault.Storage("search_full_text", err, false)
	}

	hits := make([]model.Hit, len(rows))
	for i, r := range rows {
		hits[i] = model.Hit{Type: r.Type, ID: r.ID, Title: r.Title, Snippet: r.Snippet, Score: r.Rank}
	}

	return hits, nil
}

// intersectOrReplace combines a caller-supplied type filter with type:
// tokens extracted from the query itself. When both are present, only
// types named by both survive.
func intersectOrReplace(requested, fromQuery []string) []string {
	if len(requested) == 0 {
		return fromQuery
	}

	reqSet := toSet(requested)

	var out []string

	for _, t := range fromQuery {
		if reqSet[t] {
			out = append(out, t)
		}
	}

	return out
}

// Suggest returns up to limit (capped at 20) titles beginning with prefix
// (spec §4.J "suggest").
func (s *Service) Suggest(ctx context.Context, prefix string, types []string, limit int) ([]model.Suggestion, error) {
	if limit <= 0 || limit > 20 {
		limit = 20
	}

	rows, err := s.index.SuggestTitles(ctx, prefix, limit*4)
	if err != nil {
		return nil, kbfault.Storage("suggest_titles", err, false)
	}

	typeSet := toSet(types)

	var out []model.Suggestion

	for _, r := range rows {
		if len(typeSet) > 0 && !typeSet[r.Type] {
			continue
		}

		out = append(out, model.Suggestion{Type: r.Type, ID: r.ID, Title: r.Title})

		if len(out) == limit {
			break
		}
	}

	return out, nil
}

// RelatedFiles walks related_items starting at reference ("type-id") up to
// depth hops, returning every reference reached, without duplicates and
// without the starting reference itself (spec §4.J "related_files").
func (s *Service) RelatedFiles(ctx context.Context, reference string, depth int) ([]string, error) {
	if depth < 1 {
		depth = 1
	}

	tx, err := s.index.Begin(ctx)
	if err != nil {
		return nil, kbfault.Storage("begin_tx", err, true)
	}

	defer func() { _ = tx.Rollback() }()

	seen := map[string]bool{reference: true}
	frontier := []string{reference}

	var collected []string

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []string

		for _, ref := range frontier {
			typ, id, err := splitRef(ref)
			if err != nil {
				continue
			}

			refs, err := tx.RelatedOf(ctx, typ, id)
			if err != nil {
				return nil, kbfault.Storage("related_of", err, false)
			}

			for _, r := range refs {
				if seen[r] {
					continue
				}

				seen[r] = true
				collected = append(collected, r)
				next = append(next, r)
			}
		}

		frontier = next
	}

	sort.Strings(collected)

	return collected, nil
}

func splitRef(ref string) (typ, id string, err error) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '-' && i > 0 && i < len(ref)-1 {
			return ref[:i], ref[i+1:], nil
		}
	}

	return "", "", kbfault.Validationf("invalid_reference", "%q is not a valid reference", ref)
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}

	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}

	return set
}

func toSummary(row kbindex.SummaryRow) model.Summary {
	return model.Summary{
		Type: row.Type, ID: row.ID, Title: row.Title, Status: row.Status,
		Priority: row.Priority, StartDate: row.StartDate, EndDate: row.EndDate,
		Tags: row.Tags,
	}
}
