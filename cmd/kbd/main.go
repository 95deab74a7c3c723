// Package main provides kbd, the knowledge-base engine's entry point: it
// wires configuration, storage, and the request dispatcher together, then
// either serves line-oriented JSON requests (for scripted/agent callers)
// or drops into an interactive shell (for humans at a TTY).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kbeng/kb/internal/clock"
	"github.com/kbeng/kb/internal/config"
	"github.com/kbeng/kb/internal/currentstate"
	"github.com/kbeng/kb/internal/kb"
	"github.com/kbeng/kb/internal/kbindex"
	"github.com/kbeng/kb/internal/kblog"
	"github.com/kbeng/kb/internal/protocol"
	"github.com/kbeng/kb/internal/rebuild"
	"github.com/kbeng/kb/internal/search"
)

func main() {
	os.Exit(run(os.Args, os.Environ(), os.Stdin, os.Stdout, os.Stderr))
}

func run(args, environ []string, stdin *os.File, stdout, stderr *os.File) int {
	flags := flag.NewFlagSet("kbd", flag.ContinueOnError)
	flags.SetOutput(&strings.Builder{})

	flagCwd := flags.StringP("cwd", "C", "", "run as if started in `dir`")
	flagConfig := flags.StringP("config", "c", "", "use specified config `file`")
	flagDataRoot := flags.String("data-root", "", "override the data root directory")
	flagIndexPath := flags.String("index-path", "", "override the SQLite index path")
	flagLogLevel := flags.String("log-level", "", "override the log level (debug|info|warn|error)")
	flagServe := flags.Bool("serve", false, "serve line-oriented JSON requests on stdin/stdout instead of the interactive shell")
	flagRebuild := flags.Bool("rebuild", false, "rebuild the index from files and exit")
	flagHelp := flags.BoolP("help", "h", false, "show help")

	if err := flags.Parse(args[1:]); err != nil {
		fmt.Fprintln(stderr, "error:", err)

		return 1
	}

	if *flagHelp {
		printUsage(stdout)

		return 0
	}

	workDir := *flagCwd
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(stderr, "error:", err)

			return 1
		}

		workDir = wd
	}

	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	cfg, _, err := config.Load(workDir, *flagConfig, config.Config{
		DataRoot: *flagDataRoot, IndexPath: *flagIndexPath, LogLevel: *flagLogLevel,
	}, environ)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)

		return 1
	}

	logger := kblog.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	dataRoot := cfg.DataRoot
	if !strings.HasPrefix(dataRoot, "/") {
		dataRoot = workDir + string(os.PathSeparator) + dataRoot
	}

	indexPath := cfg.IndexPath
	if !strings.HasPrefix(indexPath, "/") {
		indexPath = workDir + string(os.PathSeparator) + indexPath
	}

	clk := clock.Real{}

	idxOpts := kbindex.Options{
		ConnectionPoolMin: cfg.ConnectionPoolMin,
		ConnectionPoolMax: cfg.ConnectionPoolMax,
		BusyTimeoutMS:     cfg.BusyTimeoutMS,
	}

	repo, err := kb.Open(ctx, dataRoot, indexPath, clk, idxOpts)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)

		return 1
	}

	defer repo.Close()

	srch := search.New(repo.Index())
	cs := currentstate.New(dataRoot, repo.Index(), clk)
	rb := rebuild.New(dataRoot, repo.Index(), dataRoot+"/.kb-lock", true)

	requestDeadline := time.Duration(cfg.RequestDeadlineMS) * time.Millisecond

	server := protocol.New(repo, repo.Index(), srch, cs, rb, logger, requestDeadline)

	if *flagRebuild {
		report, err := rb.Run(ctx)
		if err != nil {
			fmt.Fprintln(stderr, "error:", err)

			return 1
		}

		logger.Info("rebuild complete", "run_id", report.RunID, "per_type_counts", report.PerTypeCounts)

		return 0
	}

	if *flagServe {
		if err := protocol.ServeLines(ctx, server, stdin, stdout); err != nil {
			fmt.Fprintln(stderr, "error:", err)

			return 1
		}

		return 0
	}

	if err := protocol.NewREPL(server).Run(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)

		return 1
	}

	return 0
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, "kbd - knowledge base engine")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: kbd [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -h, --help               Show help")
	fmt.Fprintln(w, "  -C, --cwd <dir>          Run as if started in <dir>")
	fmt.Fprintln(w, "  -c, --config <file>      Use specified config file")
	fmt.Fprintln(w, "  --data-root <dir>        Override the data root directory")
	fmt.Fprintln(w, "  --index-path <file>      Override the SQLite index path")
	fmt.Fprintln(w, "  --log-level <level>      Override the log level (debug|info|warn|error)")
	fmt.Fprintln(w, "  --serve                  Serve line-oriented JSON requests on stdin/stdout")
	fmt.Fprintln(w, "  --rebuild                Rebuild the index from files and exit")
}
