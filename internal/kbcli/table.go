// Package kbcli renders listing output for interactive and scripted
// callers of the engine: get_items and search_items results as aligned
// columns, matching the liner/runewidth rendering width the protocol's
// own REPL depends on for prompt display.
package kbcli

import (
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/kbeng/kb/internal/model"
)

// Column is one named table column with its cell values already
// stringified, in row order matching every other Column in the Table.
type Column struct {
	Header string
	Cells  []string
}

// Table is a set of equal-length columns, rendered left-aligned with a
// two-space gutter, widths measured in display cells rather than bytes
// or runes so CJK and combining titles still line up.
type Table struct {
	Columns []Column
}

// Render returns the table as a single string, header row included, with
// no trailing newline after the last data row.
func (t Table) Render() string {
	if len(t.Columns) == 0 {
		return ""
	}

	widths := make([]int, len(t.Columns))
	for i, col := range t.Columns {
		widths[i] = runewidth.StringWidth(col.Header)

		for _, cell := range col.Cells {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder

	writeRow := func(cells []string) {
		for i, cell := range cells {
			b.WriteString(cell)

			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-runewidth.StringWidth(cell)+2))
			}
		}

		b.WriteByte('\n')
	}

	headers := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		headers[i] = col.Header
	}

	writeRow(headers)

	rows := 0
	if len(t.Columns) > 0 {
		rows = len(t.Columns[0].Cells)
	}

	for r := 0; r < rows; r++ {
		cells := make([]string, len(t.Columns))
		for i, col := range t.Columns {
			cells[i] = col.Cells[r]
		}

		writeRow(cells)
	}

	return strings.TrimRight(b.String(), "\n")
}

// Items renders a get_items-style listing: type, id, title, status,
// priority, tags.
func Items(summaries []model.Summary) string {
	typeCol := Column{Header: "TYPE"}
	idCol := Column{Header: "ID"}
	titleCol := Column{Header: "TITLE"}
	statusCol := Column{Header: "STATUS"}
	priorityCol := Column{Header: "PRIORITY"}
	tagsCol := Column{Header: "TAGS"}

	for _, s := range summaries {
		typeCol.Cells = append(typeCol.Cells, s.Type)
		idCol.Cells = append(idCol.Cells, s.ID)
		titleCol.Cells = append(titleCol.Cells, s.Title)
		statusCol.Cells = append(statusCol.Cells, s.Status)
		priorityCol.Cells = append(priorityCol.Cells, s.Priority)
		tagsCol.Cells = append(tagsCol.Cells, strings.Join(s.Tags, ","))
	}

	return Table{Columns: []Column{typeCol, idCol, titleCol, statusCol, priorityCol, tagsCol}}.Render()
}

// Hits renders a search_items-style listing: type, id, title, score,
// snippet.
func Hits(hits []model.Hit) string {
	typeCol := Column{Header: "TYPE"}
	idCol := Column{Header: "ID"}
	titleCol := Column{Header: "TITLE"}
	scoreCol := Column{Header: "SCORE"}
	snippetCol := Column{Header: "SNIPPET"}

	for _, h := range hits {
		typeCol.Cells = append(typeCol.Cells, h.Type)
		idCol.Cells = append(idCol.Cells, h.ID)
		titleCol.Cells = append(titleCol.Cells, h.Title)
		scoreCol.Cells = append(scoreCol.Cells, formatScore(h.Score))
		snippetCol.Cells = append(snippetCol.Cells, h.Snippet)
	}

	return Table{Columns: []Column{typeCol, idCol, titleCol, scoreCol, snippetCol}}.Render()
}

func formatScore(score float64) string {
	return strings.TrimRight(strings.TrimRight(
		strconv.FormatFloat(score, 'f', 2, 64), "0"), ".")
}
