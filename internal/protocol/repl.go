package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/kbeng/kb/internal/kbcli"
	"github.com/kbeng/kb/internal/model"
)

var replCommands = []string{
	"ls", "show", "delete", "mv",
	"tag", "tags", "rmtag",
	"search", "suggest", "related",
	"types", "statuses",
	"state", "setstate",
	"rebuild",
	"help", "exit", "quit", "q",
}

// REPL is the interactive command loop over a Server, grounded on the
// teacher's readline-style command shell.
type REPL struct {
	server *Server
	liner  *liner.State
}

// NewREPL builds a REPL dispatching commands against server.
func NewREPL(server *Server) *REPL {
	return &REPL{server: server}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".kb_history")
}

// Run starts the interactive loop, reading from stdin and writing to
// stdout until the user exits or EOF/Ctrl-C is seen.
func (r *REPL) Run(ctx context.Context) error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("kb - knowledge base shell")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("kb> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		r.dispatch(ctx, line)
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		r.liner.WriteHistory(f)
		f.Close()
	}
}

func (r *REPL) completer(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range replCommands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) dispatch(ctx context.Context, line string) {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		r.saveHistory()
		os.Exit(0)
	case "help", "?":
		r.printHelp()
	case "ls":
		r.callAndPrint(ctx, "get_items", map[string]any{"type": arg(args, 0)})
	case "show":
		r.callAndPrint(ctx, "get_item_detail", map[string]any{"type": arg(args, 0), "id": arg(args, 1)})
	case "delete":
		r.callAndPrint(ctx, "delete_item", map[string]any{"type": arg(args, 0), "id": arg(args, 1)})
	case "mv":
		r.callAndPrint(ctx, "change_item_type", map[string]any{
			"from_type": arg(args, 0), "from_id": arg(args, 1), "to_type": arg(args, 2),
		})
	case "tag":
		r.callAndPrint(ctx, "create_tag", map[string]any{"name": arg(args, 0)})
	case "rmtag":
		r.callAndPrint(ctx, "delete_tag", map[string]any{"name": arg(args, 0)})
	case "tags":
		r.callAndPrint(ctx, "get_tags", nil)
	case "search":
		r.callAndPrint(ctx, "search_items", map[string]any{"query": strings.Join(args, " ")})
	case "suggest":
		r.callAndPrint(ctx, "search_suggest", map[string]any{"query": strings.Join(args, " ")})
	case "related":
		r.callAndPrint(ctx, "related_files", map[string]any{"reference": arg(args, 0), "depth": 2})
	case "types":
		r.callAndPrint(ctx, "get_types", nil)
	case "statuses":
		r.callAndPrint(ctx, "get_statuses", nil)
	case "state":
		r.callAndPrint(ctx, "get_current_state", nil)
	case "setstate":
		r.callAndPrint(ctx, "update_current_state", map[string]any{"content": strings.Join(args, " ")})
	case "rebuild":
		r.callAndPrint(ctx, "rebuild", nil)
	default:
		fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}

	return ""
}

func (r *REPL) callAndPrint(ctx context.Context, op string, params map[string]any) {
	var raw json.RawMessage

	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			fmt.Printf("error: %v\n", err)

			return
		}

		raw = encoded
	}

	resp := r.server.Handle(ctx, Request{Op: op, Params: raw})

	if resp.Fault != nil {
		fmt.Printf("error [%s/%s]: %s\n", resp.Fault.Kind, resp.Fault.Code, resp.Fault.Message)

		return
	}

	if rendered, ok := renderTable(op, resp.Result); ok {
		fmt.Println(rendered)

		return
	}

	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Println(string(out))
}

// renderTable formats ls/search results as aligned columns instead of raw
// JSON, for humans at the interactive shell.
func renderTable(op string, result any) (string, bool) {
	switch op {
	case "get_items":
		summaries, ok := result.([]model.Summary)
		if !ok {
			return "", false
		}

		return kbcli.Items(summaries), true
	case "search_items":
		hits, ok := result.([]model.Hit)
		if !ok {
			return "", false
		}

		return kbcli.Hits(hits), true
	default:
		return "", false
	}
}

func (r *REPL) printHelp() {
	fmt.Println(`Commands:
  ls <type>                    list items of a type
  show <type> <id>             show one item's full detail
  delete <type> <id>           delete an item
  mv <type> <id> <to_type>     change an item's type
  tag <name>                   create a tag
  rmtag <name>                 delete a tag
  tags                         list all tags
  search <query>                full-text search
  suggest <prefix>              suggest titles for a prefix
  related <type-id>             related files by reference, e.g. tasks-42
  types                          list registered types
  statuses                       list registered statuses
  state                          show current_state.md
  setstate <content>             overwrite current_state.md
  rebuild                        rebuild the index from files
  help                            show this help
  exit, quit, q                   leave the shell`)
}
