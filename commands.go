package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/phobologic/repoindex/internal/mcpserver"
	"github.com/phobologic/repoindex/internal/model"
	"github.com/phobologic/repoindex/internal/query"
	"github.com/phobologic/repoindex/internal/ranking"
	"github.com/phobologic/repoindex/internal/toon"
)

const defaultIndexPath = ".repoindex/index.json.zst"

// mapHeader tells an agent how to read the map. --raw omits it.
const mapHeader = `# Repository Map
# modules are ranked by importance, most central first. symbols lists every
# definition with its line. dependencies and calls show how modules connect.
`

func (a *app) buildCmd() *cobra.Command {
	var (
		output string
		reuse  bool
	)
	cmd := &cobra.Command{
		Use:   "build [path]",
		Short: "Index a repository and save the index",
		Long: `Index a repository and save the index to a file. Paths ending in .zst are
zstd compressed, .s2 are S2 compressed, anything else is plain JSON.

With --cache an existing index whose fingerprint still matches the files on
disk is kept as is.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := a.rootArg(args)
			if output == "" {
				output = filepath.Join(root, defaultIndexPath)
			}
			var idx *model.Index
			var err error
			if reuse {
				idx, _, err = a.loadIndex(cmd.Context(), root, output, true)
			} else {
				idx, _, err = a.loadIndex(cmd.Context(), root, "", false)
				if err == nil {
					err = saveIndex(output, idx)
				}
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.stdout, "indexed %d modules, %d classes, %d functions (%d failures) -> %s\n",
				idx.Stats.TotalModules, idx.Stats.TotalClasses, idx.Stats.TotalFunctions, len(idx.Failures), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "index file (default <path>/"+defaultIndexPath+")")
	cmd.Flags().BoolVar(&reuse, "cache", false, "keep the existing index file when it is still fresh")
	return cmd
}

func (a *app) mapCmd() *cobra.Command {
	var (
		maxFiles  int
		symbol    string
		file      string
		raw       bool
		cachePath string
	)
	cmd := &cobra.Command{
		Use:   "map [path]",
		Short: "Print a ranked map of modules, symbols, dependencies and calls",
		Long: `Print the repository map in TOON format: modules ranked by importance,
their symbols, module dependencies and resolved calls.

--symbol keeps the classes and functions whose name contains the given text,
plus their direct callers and callees. --file keeps modules whose path
contains the given text. -n keeps only the highest ranked modules.`,
		Example: `  repoindex map
  repoindex map /path/to/repo -n 20
  repoindex map --symbol Session --file auth
  repoindex map --cache .repoindex/index.json.zst`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := a.rootArg(args)
			idx, _, err := a.loadIndex(cmd.Context(), root, cachePath, true)
			if err != nil {
				return err
			}
			if file != "" {
				idx = ranking.FilterByFile(idx, file)
			}
			if symbol != "" {
				idx = ranking.FilterBySymbol(idx, symbol)
			}
			if maxFiles > 0 {
				idx = ranking.SelectTop(idx, maxFiles)
			}

			abs, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolving root: %w", err)
			}
			if !raw {
				_, _ = fmt.Fprint(a.stdout, mapHeader)
			}
			a.print(toon.Encode(idx, filepath.Base(abs)))
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVarP(&maxFiles, "max-files", "n", 0, "keep only the N highest ranked modules")
	f.StringVar(&symbol, "symbol", "", "keep symbols whose name contains this text")
	f.StringVar(&file, "file", "", "keep modules whose path contains this text")
	f.BoolVar(&raw, "raw", false, "omit the explanatory header")
	f.StringVar(&cachePath, "cache", "", "index file to reuse while fresh, and to write otherwise")
	return cmd
}

func (a *app) overviewCmd() *cobra.Command {
	var maxTokens int
	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Summarize statistics, key modules, key components and import cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.explorer(cmd.Context())
			if err != nil {
				return err
			}
			a.print(e.Overview(maxTokens))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "token budget (0 uses the configured budget)")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a class, function, module outline or file",
	}

	view := func(use, short string, fn func(*query.Explorer, string, int) string) *cobra.Command {
		var maxTokens int
		c := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := a.explorer(cmd.Context())
				if err != nil {
					return err
				}
				a.print(fn(e, args[0], maxTokens))
				return nil
			},
		}
		c.Flags().IntVar(&maxTokens, "max-tokens", 0, "token budget (0 uses the configured budget)")
		return c
	}

	module := &cobra.Command{
		Use:   "module <path>",
		Short: "Show the outline of a Python module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.explorer(cmd.Context())
			if err != nil {
				return err
			}
			a.print(e.ViewModuleStructure(args[0]))
			return nil
		},
	}

	var intent string
	file := view("file <path>", "Show a file, condensed to the token budget", func(e *query.Explorer, p string, maxTokens int) string {
		return e.ViewFileContent(p, intent, maxTokens)
	})
	file.Flags().StringVar(&intent, "intent", "", "what you are looking for; matching lines survive condensing")

	cmd.AddCommand(
		view("class <name>", "Show a class with its methods, bases and source", (*query.Explorer).ViewClassDetails),
		view("function <name>", "Show a function or method with its calls and callers", (*query.Explorer).ViewFunctionDetails),
		module,
		file,
	)
	return cmd
}

func (a *app) relationCmd(use, short string, fn func(*query.Explorer, string, string) string) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.explorer(cmd.Context())
			if err != nil {
				return err
			}
			a.print(fn(e, args[0], kind))
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "function", "entity kind: function, class or module")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var (
		intent    string
		maxTokens int
	)
	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Find lines containing a keyword in every indexed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.explorer(cmd.Context())
			if err != nil {
				return err
			}
			a.print(e.SearchKeyword(args[0], intent, maxTokens))
			return nil
		},
	}
	cmd.Flags().StringVar(&intent, "intent", "", "why you are searching, echoed in the result header")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "token budget before the result degrades to a file list (0 uses the configured budget)")
	return cmd
}

func (a *app) filesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files <pattern>",
		Short: "List indexed files whose path contains a pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.explorer(cmd.Context())
			if err != nil {
				return err
			}
			a.print(e.SearchFiles(args[0]))
			return nil
		},
	}
}

func (a *app) treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree [dir]",
		Short: "Show the directory tree of the repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.explorer(cmd.Context())
			if err != nil {
				return err
			}
			dir := ""
			if len(args) > 0 {
				dir = args[0]
			}
			a.print(e.ListRepositoryStructure(dir))
			return nil
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the query tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.explorer(cmd.Context())
			if err != nil {
				return err
			}
			_, logger, err := a.settings(a.root)
			if err != nil {
				return err
			}
			return mcpserver.New(e, version, logger).Run(cmd.Context())
		},
	}
}
