// Package index builds a repository index: scan, parse in parallel,
// resolve calls and imports, then score importance.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phobologic/repoindex/internal/config"
	"github.com/phobologic/repoindex/internal/discover"
	"github.com/phobologic/repoindex/internal/graph"
	"github.com/phobologic/repoindex/internal/logging"
	"github.com/phobologic/repoindex/internal/model"
	"github.com/phobologic/repoindex/internal/parse"
	"github.com/phobologic/repoindex/internal/ranking"
	"github.com/phobologic/repoindex/internal/store"
	"github.com/phobologic/repoindex/internal/vcs"
)

// Options are optional collaborators of Build.
type Options struct {
	Logger *slog.Logger
	// VCS supplies commit statistics. When nil, git is used if enabled in
	// the configuration and the history signal carries weight.
	VCS vcs.MetadataProvider
	// Now stamps CreatedAt and dates commit recency. Defaults to time.Now.
	Now func() time.Time
}

// Build indexes the repository at root. Files that cannot be read or
// parsed are recorded in the index's Failures and skipped. Only an
// unusable root, an invalid scan configuration or a canceled ctx return
// an error.
func Build(ctx context.Context, root string, cfg config.Config, opts Options) (*model.Index, error) {
	logger := logging.OrDiscard(opts.Logger)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	start := time.Now()

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", root)
	}

	rules, err := discover.NewRules(root, cfg.Scan)
	if err != nil {
		return nil, fmt.Errorf("scan config: %w", err)
	}
	var files []discover.FileEntry
	for entry, err := range discover.Walk(root, rules) {
		if err != nil {
			return nil, fmt.Errorf("discovering files: %w", err)
		}
		files = append(files, entry)
	}
	logger.Debug("discovered files", "root", root, "count", len(files))

	results, err := parseFilesConcurrent(ctx, files, cfg.Workers, logger)
	if err != nil {
		return nil, err
	}

	idx := model.NewIndex(root)
	idx.BuildID = uuid.NewString()
	idx.CreatedAt = now().UTC()
	idx.Fingerprint = store.Fingerprint(root, relPaths(files))
	merge(idx, results, logger)

	graph.Resolve(idx)
	idx.ComputeStats()

	analyzer := ranking.NewAnalyzer(cfg, provider(root, cfg, opts, logger), logger)
	analyzer.Now = now
	if err := analyzer.Analyze(ctx, idx); err != nil {
		return nil, err
	}

	logger.Info("indexed repository",
		"root", root,
		"modules", idx.Stats.TotalModules,
		"classes", idx.Stats.TotalClasses,
		"functions", idx.Stats.TotalFunctions,
		"failures", len(idx.Failures),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return idx, nil
}

// Scan lists the files Build would index under root, relative and slash
// separated, along with their fingerprint. Callers use it to decide whether
// a saved index is still fresh.
func Scan(root string, cfg config.ScanConfig) ([]string, string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, "", fmt.Errorf("resolving root: %w", err)
	}
	files, err := discover.Files(root, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("discovering files: %w", err)
	}
	paths := relPaths(files)
	return paths, store.Fingerprint(root, paths), nil
}

func relPaths(files []discover.FileEntry) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}

func provider(root string, cfg config.Config, opts Options, logger *slog.Logger) vcs.MetadataProvider {
	switch {
	case opts.VCS != nil:
		return opts.VCS
	case cfg.Git.Enabled && cfg.Weights.GitHistory > 0:
		return vcs.NewGit(root, cfg.Git, logger)
	}
	return vcs.None{}
}

// fileResult is the outcome for one discovered file: either an extraction
// result or a failure.
type fileResult struct {
	res     *parse.Result
	failure *model.Failure
}

// parseFilesConcurrent reads and extracts files on a bounded pool of
// workers, each with its own parser. Results keep the input order.
func parseFilesConcurrent(ctx context.Context, files []discover.FileEntry, workers int, logger *slog.Logger) ([]fileResult, error) {
	type result struct {
		index int
		out   fileResult
	}

	numWorkers := workers
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int)
	results := make(chan result, len(files))

	var wg sync.WaitGroup
	var initErr error
	var initOnce sync.Once

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Each goroutine gets its own parser
			ex, err := parse.NewExtractor()
			if err != nil {
				initOnce.Do(func() { initErr = err })
				for range work {
				}
				return
			}

			for i := range work {
				out, ok := parseOne(ctx, ex, files[i], logger)
				if !ok {
					continue
				}
				results <- result{index: i, out: out}
			}
		}()
	}

	func() {
		defer close(work)
		for i := range files {
			select {
			case work <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results in original order
	indexed := make([]fileResult, len(files))
	for r := range results {
		indexed[r.index] = r.out
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if initErr != nil {
		return nil, fmt.Errorf("creating parser: %w", initErr)
	}
	return indexed, nil
}

// parseOne extracts a single file. ok is false when ctx was canceled.
func parseOne(ctx context.Context, ex *parse.Extractor, f discover.FileEntry, logger *slog.Logger) (fileResult, bool) {
	if ctx.Err() != nil {
		return fileResult{}, false
	}
	content, err := os.ReadFile(f.Abs)
	if err != nil {
		ioErr := &model.IOError{Path: f.Path, Err: err}
		logger.Warn("skipping file", "path", f.Path, "err", ioErr)
		return fileResult{failure: &model.Failure{Path: f.Path, Kind: model.FailureIO, Message: ioErr.Error()}}, true
	}

	res, err := ex.Extract(ctx, f.Path, content)
	if err != nil {
		if ctx.Err() != nil {
			return fileResult{}, false
		}
		var pe *model.ParseError
		kind := model.FailureIO
		if errors.As(err, &pe) {
			kind = model.FailureParse
		}
		logger.Warn("skipping file", "path", f.Path, "err", err)
		return fileResult{failure: &model.Failure{Path: f.Path, Kind: kind, Message: err.Error()}}, true
	}
	return fileResult{res: res}, true
}

// merge adds results to idx. Python modules claim their ids first; an
// opaque file whose id is taken falls back to its qualified id.
func merge(idx *model.Index, results []fileResult, logger *slog.Logger) {
	var opaque []*parse.Result
	for _, r := range results {
		switch {
		case r.failure != nil:
			idx.Failures = append(idx.Failures, *r.failure)
		case r.res == nil:
		case r.res.Module.Opaque:
			opaque = append(opaque, r.res)
		default:
			if _, taken := idx.Modules[r.res.Module.ID]; taken {
				msg := fmt.Sprintf("module id %s is already used by another file", r.res.Module.ID)
				logger.Warn("skipping file", "path", r.res.Module.Path, "err", msg)
				idx.Failures = append(idx.Failures, model.Failure{Path: r.res.Module.Path, Kind: model.FailureParse, Message: msg})
				continue
			}
			add(idx, r.res)
		}
	}
	for _, r := range opaque {
		if _, taken := idx.Modules[r.Module.ID]; taken {
			r.Module.ID = parse.QualifiedOpaqueID(r.Module.Path)
		}
		if _, taken := idx.Modules[r.Module.ID]; taken {
			logger.Warn("skipping file", "path", r.Module.Path, "err", "duplicate module id")
			continue
		}
		add(idx, r)
	}
}

func add(idx *model.Index, r *parse.Result) {
	idx.Modules[r.Module.ID] = r.Module
	for _, c := range r.Classes {
		idx.Classes[c.ID] = c
	}
	for _, f := range r.Functions {
		idx.Functions[f.ID] = f
	}
}
