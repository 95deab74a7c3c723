// Package itemcodec binds model.Item to the frontmatter codec: the fixed key
// order, legacy alias handling, and required-key validation of spec §4.B.
package itemcodec

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kbeng/kb/internal/frontmatter"
	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/model"
)

// KeyOrder is the canonical front-matter key order every written item file
// uses, regardless of base kind (spec §6.2).
var KeyOrder = []string{
	"id", "title", "description", "priority", "status", "tags",
	"start_date", "end_date", "related", "created_at", "updated_at",
}

const timeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the fixed-width ISO-8601-with-milliseconds layout
// used both in item file front-matter and in the index's text timestamp
// columns, so lexicographic and chronological ordering agree.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a timestamp previously rendered by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Encode renders it as a complete item file: frontmatter block plus body.
func Encode(it model.Item) (string, error) {
	fm := frontmatter.Frontmatter{
		"id":    frontmatter.String(it.ID),
		"title": frontmatter.String(it.Title),
		"tags":  frontmatter.List(it.Tags),
	}

	if it.Description != "" {
		fm["description"] = frontmatter.String(it.Description)
	}

	if it.Priority != "" {
		fm["priority"] = frontmatter.String(it.Priority)
	}

	if it.Status != "" {
		fm["status"] = frontmatter.String(it.Status)
	}

	if it.StartDate != "" {
		fm["start_date"] = frontmatter.String(it.StartDate)
	}

	if it.EndDate != "" {
		fm["end_date"] = frontmatter.String(it.EndDate)
	}

	fm["related"] = frontmatter.List(it.Related)
	fm["created_at"] = frontmatter.String(it.CreatedAt.UTC().Format(timeLayout))
	fm["updated_at"] = frontmatter.String(it.UpdatedAt.UTC().Format(timeLayout))

	return frontmatter.Marshal(fm, it.Content, frontmatter.MarshalOptions{KeyOrder: KeyOrder})
}

// Decode parses src into an Item of the given type and id. It merges legacy
// related_tasks/related_documents aliases into related (spec §4.B, §9
// "Schema evolution") and returns a CorruptItemFault if the file parses
// structurally but is missing a field required for its row shape.
func Decode(typ, id string, src []byte) (model.Item, error) {
	fm, body, err := frontmatter.Parse(src)
	if err != nil {
		return model.Item{}, kbfault.CorruptItemf("frontmatter_parse", "%s-%s: %v", typ, id, err)
	}

	it := model.Item{
		Type:    typ,
		ID:      id,
		Content: body,
	}

	title, ok := fm.GetString("title")
	if !ok || title == "" {
		return model.Item{}, kbfault.CorruptItemf("missing_title", "%s-%s: missing required key %q", typ, id, "title")
	}

	it.Title = title

	if v, ok := fm.GetString("description"); ok {
		it.Description = v
	}

	if v, ok := fm.GetString("priority"); ok {
		it.Priority = v
	}

	if v, ok := fm.GetString("status"); ok {
		it.Status = v
	}

	if v, ok := fm.GetString("start_date"); ok {
		it.StartDate = v
	}

	if v, ok := fm.GetString("end_date"); ok {
		it.EndDate = v
	}

	it.Tags = mergeList(fm, "tags")
	it.Related = mergeRelated(fm)

	createdAt, err := parseTimeField(fm, "created_at")
	if err != nil {
		return model.Item{}, kbfault.CorruptItemf("bad_created_at", "%s-%s: %v", typ, id, err)
	}

	it.CreatedAt = createdAt

	updatedAt, err := parseTimeField(fm, "updated_at")
	if err != nil {
		return model.Item{}, kbfault.CorruptItemf("bad_updated_at", "%s-%s: %v", typ, id, err)
	}

	it.UpdatedAt = updatedAt

	return it, nil
}

func mergeList(fm frontmatter.Frontmatter, key string) []string {
	v, ok := fm.GetList(key)
	if !ok {
		return nil
	}

	return dedupe(v)
}

// mergeRelated combines the canonical related key with the legacy
// related_tasks/related_documents aliases, preserving insertion order and
// removing duplicates (spec §4.B, §9).
func mergeRelated(fm frontmatter.Frontmatter) []string {
	var merged []string

	for _, key := range []string{"related", "related_tasks", "related_documents"} {
		if v, ok := fm.GetList(key); ok {
			merged = append(merged, v...)
		}
	}

	return dedupe(merged)
}

func dedupe(items []string) []string {
	if items == nil {
		return nil
	}

	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))

	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}

		seen[it] = struct{}{}
		out = append(out, it)
	}

	return out
}

func parseTimeField(fm frontmatter.Frontmatter, key string) (time.Time, error) {
	s, ok := fm.GetString(key)
	if !ok || s == "" {
		return time.Time{}, fmt.Errorf("missing required key %q", key)
	}

	t, err := time.Parse(timeLayout, s)
	if err != nil {
		if n, nerr := strconv.ParseInt(s, 10, 64); nerr == nil {
			return time.Unix(n, 0).UTC(), nil
		}

		return time.Time{}, fmt.Errorf("key %q: invalid timestamp %q: %w", key, s, err)
	}

	return t.UTC(), nil
}
