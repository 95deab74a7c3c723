// Package currentstate implements component L: the single free-form
// "current_state.md" artifact every data root carries, with no history
// retained across updates (spec §4.L).
package currentstate

import (
	"context"

	"github.com/kbeng/kb/internal/clock"
	"github.com/kbeng/kb/internal/fsx"
	"github.com/kbeng/kb/internal/frontmatter"
	"github.com/kbeng/kb/internal/itemcodec"
	"github.com/kbeng/kb/internal/kbfault"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/kbpath"
	"github.com/kbeng/kb/internal/model"
	"github.com/kbeng/kb/internal/tags"
)

var keyOrder = []string{"related", "tags", "updated_by", "updated_at"}

// Store manages the current-state artifact for one data root.
type Store struct {
	root  string
	index *kbindex.Store
	clock clock.Clock
}

// New builds a Store rooted at root, using index for tag existence checks.
func New(root string, index *kbindex.Store, clk clock.Clock) *Store {
	return &Store{root: root, index: index, clock: clk}
}

func (s *Store) path() string {
	return kbpath.AbsPath(s.root, kbpath.CurrentStatePath())
}

// Get reads the artifact, returning a zero-value CurrentState if it has
// never been written (spec §4.L "get").
func (s *Store) Get(_ context.Context) (model.CurrentState, error) {
	data, err := fsx.ReadFileIfExists(s.path())
	if err != nil {
		return model.CurrentState{}, kbfault.Storage("read_current_state", err, false)
	}

	if data == nil {
		return model.CurrentState{}, nil
	}

	fm, body, err := frontmatter.Parse(data)
	if err != nil {
		return model.CurrentState{}, kbfault.CorruptItemf("current_state_parse", "%v", err)
	}

	cs := model.CurrentState{Content: body}

	if related, ok := fm.GetList("related"); ok {
		cs.Related = related
	}

	if tagsList, ok := fm.GetList("tags"); ok {
		cs.Tags = tagsList
	}

	if updatedBy, ok := fm.GetString("updated_by"); ok {
		cs.UpdatedBy = updatedBy
	}

	if updatedAt, ok := fm.GetString("updated_at"); ok {
		if t, err := itemcodec.ParseTime(updatedAt); err == nil {
			cs.UpdatedAt = t
		}
	}

	return cs, nil
}

// UpdatePatch carries the optional fields of an update (spec §4.L "update":
// related?, tags?, updated_by? are all optional; content is required).
type UpdatePatch struct {
	Content   string
	Related   []string
	Tags      []string
	UpdatedBy string
}

// Update overwrites the artifact atomically, ensuring every referenced tag
// exists first. No history of the previous content is retained.
func (s *Store) Update(ctx context.Context, patch UpdatePatch) (model.CurrentState, error) {
	tx, err := s.index.Begin(ctx)
	if err != nil {
		return model.CurrentState{}, kbfault.Storage("begin_tx", err, true)
	}

	if _, err := tags.Ensure(ctx, tx, patch.Tags); err != nil {
		_ = tx.Rollback()

		return model.CurrentState{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.CurrentState{}, kbfault.Storage("commit_tx", err, false)
	}

	cs := model.CurrentState{
		Content: patch.Content, Related: patch.Related, Tags: patch.Tags,
		UpdatedBy: patch.UpdatedBy, UpdatedAt: s.clock.Now(),
	}

	encoded, err := encode(cs)
	if err != nil {
		return model.CurrentState{}, kbfault.Internal("encode_current_state", err)
	}

	if err := fsx.WriteFileAtomic(s.path(), []byte(encoded), 0o644); err != nil {
		return model.CurrentState{}, kbfault.Storage("write_current_state", err, true)
	}

	return cs, nil
}

func encode(cs model.CurrentState) (string, error) {
	fm := frontmatter.Frontmatter{
		"related":    frontmatter.List(cs.Related),
		"tags":       frontmatter.List(cs.Tags),
		"updated_by": frontmatter.String(cs.UpdatedBy),
		"updated_at": frontmatter.String(itemcodec.FormatTime(cs.UpdatedAt)),
	}

	return frontmatter.Marshal(fm, cs.Content, frontmatter.MarshalOptions{KeyOrder: keyOrder})
}
