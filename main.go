// repoindex indexes a Python repository and answers structural questions
// about it: maps, references, dependencies, search and condensed views.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phobologic/repoindex/internal/config"
	"github.com/phobologic/repoindex/internal/discover"
	"github.com/phobologic/repoindex/internal/index"
	"github.com/phobologic/repoindex/internal/logging"
	"github.com/phobologic/repoindex/internal/model"
	"github.com/phobologic/repoindex/internal/query"
	"github.com/phobologic/repoindex/internal/store"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the persistent flags and output streams shared by every
// subcommand.
type app struct {
	stdout, stderr io.Writer

	configPath  string
	verbosity   int
	quiet       bool
	indexPath   string
	root        string
	maxFileSize int64
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr}
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repoindex",
		Short: "Index a Python repository and explore its structure",
		Long: `repoindex parses every Python file in a repository, resolves calls and
imports between them and ranks modules and classes by importance. The other
commands answer questions against that index.

Query commands build the index on the fly unless --index points at one saved
by "repoindex build" that is still fresh.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default: .repoindex.yaml, .yml or .toml in the repository root)")
	pf.CountVarP(&a.verbosity, "verbose", "v", "log more (-v info, -vv debug)")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "disable logging")
	pf.StringVar(&a.indexPath, "index", "", "saved index to query instead of re-indexing")
	pf.StringVarP(&a.root, "root", "C", ".", "repository root")
	pf.Int64Var(&a.maxFileSize, "max-file-size", 0, "skip files larger than this many bytes (0 keeps the configured limit)")

	cmd.AddCommand(
		a.buildCmd(),
		a.mapCmd(),
		a.overviewCmd(),
		a.showCmd(),
		a.relationCmd("refs", "List what references an entity", (*query.Explorer).FindReferences),
		a.relationCmd("deps", "List what an entity depends on", (*query.Explorer).FindDependencies),
		a.relationCmd("relations", "Show references and dependencies of an entity", (*query.Explorer).ViewReferenceRelationships),
		a.searchCmd(),
		a.filesCmd(),
		a.treeCmd(),
		a.serveCmd(),
		a.initCmd(),
	)
	return cmd
}

// rootArg returns the repository root: the first positional argument when
// the command takes one, else --root.
func (a *app) rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return a.root
}

// settings loads the configuration for root and builds the logger.
func (a *app) settings(root string) (config.Config, *slog.Logger, error) {
	path := a.configPath
	if path == "" {
		path = config.Discover(root)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	if a.maxFileSize > 0 {
		cfg.Scan.MaxFileSize = a.maxFileSize
	}

	level := logging.LevelFromVerbosity(a.verbosity, a.quiet)
	if a.verbosity == 0 && !a.quiet && cfg.LogLevel != "" {
		level = logging.LevelFromString(cfg.LogLevel)
	}
	return cfg, logging.New(a.stderr, level), nil
}

// loadIndex returns the index of root. A saved index named by cachePath
// is reused while its fingerprint matches the files on disk; otherwise the
// repository is indexed again and, when save is set, written back.
func (a *app) loadIndex(ctx context.Context, root, cachePath string, save bool) (*model.Index, config.Config, error) {
	cfg, logger, err := a.settings(root)
	if err != nil {
		return nil, cfg, err
	}

	if cachePath != "" {
		if idx, ok := fresh(root, cachePath, cfg, logger); ok {
			return idx, cfg, nil
		}
	}

	idx, err := index.Build(ctx, root, cfg, index.Options{Logger: logger})
	if err != nil {
		return nil, cfg, err
	}
	if save && cachePath != "" {
		if err := saveIndex(cachePath, idx); err != nil {
			return nil, cfg, err
		}
		logger.Info("saved index", "path", cachePath)
	}
	return idx, cfg, nil
}

func saveIndex(path string, idx *model.Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	return store.Save(path, idx)
}

func fresh(root, cachePath string, cfg config.Config, logger *slog.Logger) (*model.Index, bool) {
	idx, err := store.Load(cachePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("ignoring saved index", "path", cachePath, "err", err)
		}
		return nil, false
	}
	abs, err := filepath.Abs(root)
	if err != nil || abs != idx.Root {
		logger.Info("saved index belongs to another root", "path", cachePath, "root", idx.Root)
		return nil, false
	}
	_, fp, err := index.Scan(abs, cfg.Scan)
	if err != nil || fp != idx.Fingerprint {
		logger.Info("saved index is stale", "path", cachePath)
		return nil, false
	}
	logger.Debug("using saved index", "path", cachePath, "build", idx.BuildID)
	return idx, true
}

// explorer opens the index for the query commands.
func (a *app) explorer(ctx context.Context) (*query.Explorer, error) {
	idx, cfg, err := a.loadIndex(ctx, a.root, a.indexPath, false)
	if err != nil {
		return nil, err
	}
	rules, err := discover.NewRules(idx.Root, cfg.Scan)
	if err != nil {
		return nil, fmt.Errorf("scan config: %w", err)
	}
	return query.New(idx, cfg.Budgets, rules), nil
}

func (a *app) print(s string) {
	_, _ = fmt.Fprintln(a.stdout, s)
}
