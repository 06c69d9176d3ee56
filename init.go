package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/cobra"
)

const (
	sentinelStart = "<!-- repoindex:start -->"
	sentinelEnd   = "<!-- repoindex:end -->"

	// indexDir holds what build writes by default.
	indexDir = ".repoindex/"
)

// fileEdit rewrites one file. A missing file reads as empty.
type fileEdit struct {
	path    string
	rewrite func(string) string
}

// initCmd writes (or updates) a repoindex usage section in a CLAUDE.md
// file and keeps the index directory out of git.
func (a *app) initCmd() *cobra.Command {
	var dryRun, noGitignore bool
	cmd := &cobra.Command{
		Use:   "init [path-to-CLAUDE.md]",
		Short: "Write a repoindex usage section to CLAUDE.md",
		Long: `Write a repoindex usage section to a CLAUDE.md file. The section is wrapped in
sentinel comments so later runs replace it in place without touching the rest
of the file. The file is created if it does not exist.

The .gitignore next to CLAUDE.md gets a ` + indexDir + ` entry unless it already
ignores that directory or --no-gitignore is given.

path-to-CLAUDE.md defaults to ./CLAUDE.md.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			section := generateSection(cmd.Root().Commands())

			// --dry-run with no path: just print the section itself.
			if dryRun && len(args) == 0 {
				a.print(section)
				return nil
			}

			path := "CLAUDE.md"
			if len(args) > 0 {
				path = args[0]
			}
			edits := []fileEdit{{
				path:    path,
				rewrite: func(s string) string { return upsertSection(s, section) },
			}}
			if !noGitignore {
				edits = append(edits, fileEdit{
					path:    filepath.Join(filepath.Dir(path), ".gitignore"),
					rewrite: ignoreIndexDir,
				})
			}
			for _, e := range edits {
				if err := a.applyEdit(e, dryRun); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying any file")
	cmd.Flags().BoolVar(&noGitignore, "no-gitignore", false, "leave .gitignore alone")
	return cmd
}

func (a *app) applyEdit(e fileEdit, dryRun bool) error {
	existing, err := os.ReadFile(e.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", e.path, err)
	}
	updated := e.rewrite(string(existing))
	if updated == string(existing) {
		_, _ = fmt.Fprintf(a.stderr, "%s is up to date\n", e.path)
		return nil
	}
	if dryRun {
		_, _ = fmt.Fprintf(a.stdout, "==> %s <==\n%s", e.path, updated)
		return nil
	}
	if err := os.WriteFile(e.path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", e.path, err)
	}
	_, _ = fmt.Fprintf(a.stderr, "updated %s\n", e.path)
	return nil
}

// generateSection returns the sentinel-wrapped repoindex documentation
// block. The command reference lists cmds, so it follows the CLI.
func generateSection(cmds []*cobra.Command) string {
	var ref strings.Builder
	for _, c := range cmds {
		switch {
		case !c.IsAvailableCommand(), c.Name() == "init", c.Name() == "completion":
			continue
		}
		fmt.Fprintf(&ref, "- `repoindex %s`: %s\n", c.Name(), c.Short)
	}

	body := `## repoindex: Repository Index

Run ` + "`repoindex`" + ` via the Bash tool at the start of any task on an unfamiliar
Python codebase. It indexes modules, classes, functions, calls and imports, and
ranks them by importance, so you can explore structure instead of grepping.

**Availability:** Check with ` + "`repoindex --version`" + ` first; skip gracefully if
not found.

**Build the index once, then query it:**
` + "```" + `bash
repoindex build                                  # writes ` + defaultIndexPath + `
repoindex overview --index ` + defaultIndexPath + `
repoindex map -n 20                              # ranked map of the top 20 modules
repoindex map --symbol Session                   # one symbol, its callers and callees
repoindex show class Session --max-tokens 800    # methods, bases, source
repoindex show function login                    # signature, calls, callers
repoindex show file app/auth.py --intent token   # condensed to the token budget
repoindex refs login                             # who calls login
repoindex deps app.auth --kind module            # what app.auth imports
repoindex search "retry" --intent "find backoff"
repoindex tree app
` + "```" + `

Pass ` + "`--index " + defaultIndexPath + "`" + ` to query commands to skip re-indexing; a
stale index is rebuilt automatically. ` + "`" + indexDir + "`" + ` belongs in ` + "`.gitignore`" + `.

**Commands:**

` + ref.String() + `
Flags of any command: ` + "`repoindex <command> --help`" + `

**How to use the output:**

1. **Start with the overview.** Key modules and key components are ranked by
   usage, centrality, complexity and documentation. Read them first.

2. **Use ` + "`show`" + ` instead of reading whole files.** Class and function views
   include the source; file views are condensed around your intent. Lower
   ` + "`--max-tokens`" + ` when you only need the outline.

3. **Use ` + "`refs`" + ` and ` + "`deps`" + ` to trace call chains** before opening files to find
   callers or callees.

4. **Names can be short.** An exact id always wins; an ambiguous name lists
   the candidates to pick from.

5. **Only fall back to Glob/Grep for things repoindex cannot answer**, such as
   non-Python code structure.`

	return sentinelStart + "\n" + body + "\n" + sentinelEnd
}

// upsertSection replaces the sentinel block in content with section, or
// appends section after a blank line when there is none. A start sentinel
// whose end was deleted by hand claims the rest of the file.
func upsertSection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	if start < 0 {
		content = strings.TrimRight(content, "\n")
		if content == "" {
			return section + "\n"
		}
		return content + "\n\n" + section + "\n"
	}
	tail := "\n"
	if end := strings.Index(content[start:], sentinelEnd); end >= 0 {
		tail = content[start+end+len(sentinelEnd):]
	}
	return content[:start] + section + tail
}

// ignoreIndexDir appends the index directory to a .gitignore unless its
// patterns already cover the default index file.
func ignoreIndexDir(content string) string {
	lines := strings.Split(content, "\n")
	if ignore.CompileIgnoreLines(lines...).MatchesPath(defaultIndexPath) {
		return content
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "# repoindex build output\n" + indexDir + "\n"
}
