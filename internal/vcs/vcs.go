// Package vcs provides per-file commit metadata for the importance
// analyzer. Every provider is optional: a missing repository, a missing
// git binary or a timeout all report "unavailable", never an error.
package vcs

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/phobologic/repoindex/internal/config"
	"github.com/phobologic/repoindex/internal/logging"
	"github.com/phobologic/repoindex/internal/model"
)

// Stats is the commit history of one file.
type Stats struct {
	Commits  int
	LastUnix int64
}

// MetadataProvider answers commit-count and last-modified queries for
// paths relative to the repository root. ok is false when no metadata is
// available.
type MetadataProvider interface {
	CommitStats(ctx context.Context, relPath string) (stats Stats, ok bool)
}

// None never has metadata.
type None struct{}

// CommitStats implements MetadataProvider.
func (None) CommitStats(context.Context, string) (Stats, bool) { return Stats{}, false }

// Static serves fixed stats, keyed by relative path.
type Static map[string]Stats

// CommitStats implements MetadataProvider.
func (s Static) CommitStats(_ context.Context, relPath string) (Stats, bool) {
	st, ok := s[relPath]
	return st, ok
}

type entry struct {
	stats Stats
	ok    bool
}

// runFunc executes git with args in dir and returns stdout.
type runFunc func(ctx context.Context, dir string, args ...string) ([]byte, error)

func runGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	return cmd.Output()
}

// Git shells out to the git binary, one `git log` per file, and caches
// answers in an expiring LRU. It is safe for concurrent use.
type Git struct {
	root    string
	timeout time.Duration
	logger  *slog.Logger
	cache   *expirable.LRU[string, entry]
	run     runFunc

	once   sync.Once
	isRepo bool
}

// NewGit returns a provider for the repository at root.
func NewGit(root string, cfg config.GitConfig, logger *slog.Logger) *Git {
	size := cfg.CacheSize
	if size <= 0 {
		size = 4096
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Git{
		root:    root,
		timeout: timeout,
		logger:  logging.OrDiscard(logger),
		cache:   expirable.NewLRU[string, entry](size, nil, cfg.CacheTTL.Std()),
		run:     runGit,
	}
}

// available reports whether root is inside a work tree. Checked once.
func (g *Git) available(ctx context.Context) bool {
	g.once.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		out, err := g.run(ctx, g.root, "rev-parse", "--is-inside-work-tree")
		g.isRepo = err == nil && strings.TrimSpace(string(out)) == "true"
		if !g.isRepo {
			g.logger.Info("git history disabled", "root", g.root, "err", err)
		}
	})
	return g.isRepo
}

// CommitStats implements MetadataProvider. A tracked file with no commits
// reports ok with zero stats.
func (g *Git) CommitStats(ctx context.Context, relPath string) (Stats, bool) {
	if e, ok := g.cache.Get(relPath); ok {
		return e.stats, e.ok
	}
	if !g.available(ctx) {
		return Stats{}, false
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	out, err := g.run(cctx, g.root, "log", "--format=%at", "--", relPath)
	if err != nil {
		g.logger.Debug("commit stats unavailable", "err", &model.GitUnavailableError{Path: relPath, Err: err})
		// A canceled build is not a property of the file.
		if ctx.Err() == nil {
			g.cache.Add(relPath, entry{})
		}
		return Stats{}, false
	}

	stats := ParseLog(out)
	g.cache.Add(relPath, entry{stats: stats, ok: true})
	return stats, true
}

// ParseLog reads `git log --format=%at` output: one unix timestamp per
// commit, newest first.
func ParseLog(out []byte) Stats {
	var st Stats
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		st.Commits++
		if st.Commits == 1 {
			if ts, err := strconv.ParseInt(line, 10, 64); err == nil {
				st.LastUnix = ts
			}
		}
	}
	return st
}
