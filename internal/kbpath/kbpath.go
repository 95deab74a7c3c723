// Package kbpath computes canonical on-disk locations for items (spec §4.A)
// and enumerates the files of a type.
package kbpath

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kbeng/kb/internal/model"
)

// ItemPath returns the canonical relative path (relative to the data root)
// for an item of typ with id i.
//
//	regular:  <T>/<T>-<i>.md
//	sessions: sessions/<YYYY-MM-DD>/sessions-<id>.md
//	dailies:  sessions/dailies/dailies-<YYYY-MM-DD>.md
func ItemPath(typ, id string) (string, error) {
	switch typ {
	case model.TypeSessions:
		if len(id) < len("2006-01-02") {
			return "", fmt.Errorf("kbpath: session id %q too short to derive date", id)
		}

		date := id[:len("2006-01-02")]

		return filepath.Join("sessions", date, fmt.Sprintf("sessions-%s.md", id)), nil
	case model.TypeDailies:
		return filepath.Join("sessions", "dailies", fmt.Sprintf("dailies-%s.md", id)), nil
	default:
		if typ == "" || id == "" {
			return "", fmt.Errorf("kbpath: type and id are required")
		}

		return filepath.Join(typ, fmt.Sprintf("%s-%s.md", typ, id)), nil
	}
}

// CurrentStatePath returns the fixed path of the singleton current-state
// artifact, relative to the data root.
func CurrentStatePath() string {
	return "current_state.md"
}

// AbsPath joins root with a relative item path.
func AbsPath(root, relPath string) string {
	return filepath.Join(root, relPath)
}

// List enumerates the ids of every file under root matching "<typ>-*.md" in
// the type's directory, filtering out names that do not match the expected
// "<typ>-<id>.md" shape (spec §4.A: "filtering out non-matching names").
func List(root, typ string) ([]string, error) {
	var dir string

	switch typ {
	case model.TypeSessions:
		return listSessions(root)
	case model.TypeDailies:
		dir = filepath.Join(root, "sessions", "dailies")
	default:
		dir = filepath.Join(root, typ)
	}

	return listFlatDir(dir, typ)
}

func listFlatDir(dir, typ string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("kbpath: list %s: %w", typ, err)
	}

	prefix := typ + "-"

	var ids []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".md") {
			continue
		}

		id := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".md")
		if id == "" {
			continue
		}

		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids, nil
}

// listSessions walks every date subdirectory under "sessions/" (skipping
// "dailies", which holds a different item type) and collects session ids.
func listSessions(root string) ([]string, error) {
	base := filepath.Join(root, "sessions")

	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("kbpath: list sessions: %w", err)
	}

	var ids []string

	for _, e := range entries {
		if !e.IsDir() || e.Name() == "dailies" {
			continue
		}

		dateIDs, err := listFlatDir(filepath.Join(base, e.Name()), model.TypeSessions)
		if err != nil {
			return nil, err
		}

		ids = append(ids, dateIDs...)
	}

	sort.Strings(ids)

	return ids, nil
}
