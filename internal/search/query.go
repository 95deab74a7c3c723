package search

import (
	"strings"

	"github.com/kbeng/kb/internal/kbfault"
)

// fields maps the query language's field prefixes to items_fts column names
// (spec §4.J "full_text"). type is handled separately since it is UNINDEXED
// in items_fts and can't participate in a MATCH expression.
var fields = map[string]string{
	"title":       "title",
	"content":     "content",
	"description": "description",
	"tags":        "tags_joined",
}

// translateQuery turns the small query language of spec §4.J into an FTS5
// MATCH expression plus an extracted set of type: filters (applied as a
// plain SQL WHERE, not inside MATCH). FTS5's own query grammar already gives
// us AND/OR/NOT with NOT tightest and OR loosest, parenthesization, and quoted
// phrases; tokenize rewrites "-term" to NOT term — so translation mostly
// means renaming field prefixes and pulling type: tokens out.
func translateQuery(raw string) (matchQuery string, types []string, err error) {
	toks, err := tokenize(raw)
	if err != nil {
		return "", nil, err
	}

	var out []string

	for _, tok := range toks {
		if tok.kind != tokWord {
			// FTS5's NOT is binary ("a NOT b" already means a and not b),
			// so "a AND NOT b" is collapsed to that form.
			if tok.text == "NOT" && len(out) > 0 && out[len(out)-1] == "AND" {
				out[len(out)-1] = "NOT"
				continue
			}

			out = append(out, tok.text)
			continue
		}

		field, rest, hasField := splitField(tok.text)
		if hasField && field == "type" {
			types = append(types, strings.Trim(rest, `"`))
			continue
		}

		if hasField {
			if mapped, ok := fields[field]; ok {
				out = append(out, mapped+":"+rest)
				continue
			}

			return "", nil, kbfault.Validationf("invalid_search_field", "unknown search field %q", field)
		}

		out = append(out, tok.text)
	}

	matchQuery = strings.Join(out, " ")
	if strings.TrimSpace(matchQuery) == "" {
		matchQuery = "*"
	}

	return matchQuery, dedupe(types), nil
}

type tokKind int

const (
	tokWord tokKind = iota
	tokOperator
)

type token struct {
	kind tokKind
	text string
}

// tokenize splits raw into words, quoted phrases (kept intact with their
// quotes and any leading '-'), parentheses, and bare AND/OR/NOT/- operators.
func tokenize(raw string) ([]token, error) {
	var toks []token

	r := []rune(raw)
	i := 0

	for i < len(r) {
		c := r[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')':
			toks = append(toks, token{kind: tokOperator, text: string(c)})
			i++
		case c == '"':
			start := i
			i++

			for i < len(r) && r[i] != '"' {
				i++
			}

			if i >= len(r) {
				return nil, kbfault.Validationf("invalid_search_query", "unterminated quote in search query")
			}

			i++
			toks = append(toks, token{kind: tokWord, text: string(r[start:i])})
		default:
			start := i
			for i < len(r) && r[i] != ' ' && r[i] != '\t' && r[i] != '\n' && r[i] != '(' && r[i] != ')' {
				i++
			}

			word := string(r[start:i])

			switch strings.ToUpper(word) {
			case "AND", "OR", "NOT":
				toks = append(toks, token{kind: tokOperator, text: strings.ToUpper(word)})
			default:
				if strings.HasPrefix(word, "-") && len(word) > 1 {
					toks = append(toks, token{kind: tokOperator, text: "NOT"}, token{kind: tokWord, text: word[1:]})
				} else {
					toks = append(toks, token{kind: tokWord, text: word})
				}
			}
		}
	}

	return toks, nil
}

// splitField reports whether tok is of the form field:value, ignoring a
// leading quote (a quoted phrase never carries a field prefix).
func splitField(tok string) (field, rest string, ok bool) {
	if strings.HasPrefix(tok, `"`) {
		return "", "", false
	}

	idx := strings.Index(tok, ":")
	if idx <= 0 {
		return "", "", false
	}

	return tok[:idx], tok[idx+1:], true
}

func dedupe(items []string) []string {
	if len(items) == 0 {
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
