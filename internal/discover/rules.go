package discover

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/repoindex/internal/config"
)

// Rules is a compiled, read-only ScanConfig. One Rules value is shared by
// the scanner and the query layer so both apply the same ignore logic.
type Rules struct {
	cfg      config.ScanConfig
	dirs     map[string]struct{}
	exts     map[string]struct{}
	patterns []*regexp.Regexp
	gi       *ignore.GitIgnore
}

// NewRules compiles cfg. The root's .gitignore is loaded when
// cfg.UseGitignore is set and the file exists.
func NewRules(root string, cfg config.ScanConfig) (*Rules, error) {
	r := &Rules{
		cfg:  cfg,
		dirs: make(map[string]struct{}, len(cfg.IgnoredDirs)),
		exts: make(map[string]struct{}, len(cfg.IgnoredExtensions)),
	}
	for _, d := range cfg.IgnoredDirs {
		r.dirs[d] = struct{}{}
	}
	for _, e := range cfg.IgnoredExtensions {
		r.exts[strings.ToLower(e)] = struct{}{}
	}
	for _, p := range cfg.IgnoredFilePatterns {
		// Patterns are anchored at the start of the file name.
		re, err := regexp.Compile(`^(?:` + p + `)`)
		if err != nil {
			return nil, fmt.Errorf("ignored file pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	for _, g := range append(append([]string(nil), cfg.Include...), cfg.Exclude...) {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("invalid glob %q", g)
		}
	}
	if cfg.UseGitignore && root != "" {
		r.gi = loadGitignore(root)
	}
	return r, nil
}

// Config returns the configuration the rules were compiled from.
func (r *Rules) Config() config.ScanConfig {
	return r.cfg
}

// SkipDir reports whether a directory with this name is never entered.
func (r *Rules) SkipDir(name string) bool {
	if _, ok := r.dirs[name]; ok {
		return true
	}
	return strings.HasPrefix(name, ".")
}

// ShouldIgnore reports whether a relative, slash separated file path is
// excluded from indexing and listings.
func (r *Rules) ShouldIgnore(rel string) bool {
	rel = ToSlash(rel)
	parts := strings.Split(rel, "/")
	inIgnoredDir := false
	for _, p := range parts[:len(parts)-1] {
		if _, ok := r.dirs[p]; ok {
			inIgnoredDir = true
			break
		}
	}

	// Notebooks are indexed unless they sit in an ignored directory.
	if strings.HasSuffix(strings.ToLower(rel), ".ipynb") {
		return inIgnoredDir
	}
	if inIgnoredDir {
		return true
	}

	base := parts[len(parts)-1]
	if strings.HasPrefix(rel, ".") {
		return true
	}
	if strings.HasPrefix(rel, "__") && base != "__init__.py" && base != "__main__.py" {
		return true
	}
	if _, ok := r.dirs[base]; ok {
		return true
	}
	if _, ok := r.exts[strings.ToLower(path.Ext(base))]; ok {
		return true
	}
	for _, re := range r.patterns {
		if re.MatchString(base) {
			return true
		}
	}
	if r.ignoredByGit(rel) {
		return true
	}
	for _, g := range r.cfg.Exclude {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	if len(r.cfg.Include) > 0 {
		for _, g := range r.cfg.Include {
			if ok, _ := doublestar.Match(g, rel); ok {
				return false
			}
		}
		return true
	}
	return false
}

func (r *Rules) ignoredByGit(rel string) bool {
	return r.gi != nil && r.gi.MatchesPath(rel)
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
