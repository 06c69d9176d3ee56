// Package ranking scores modules, classes and packages by importance and
// selects the parts of an index worth showing first.
package ranking

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phobologic/repoindex/internal/config"
	"github.com/phobologic/repoindex/internal/graph"
	"github.com/phobologic/repoindex/internal/logging"
	"github.com/phobologic/repoindex/internal/model"
	"github.com/phobologic/repoindex/internal/vcs"
)

const (
	pageRankAlpha   = 0.85
	docstringHeadSz = 200
)

// Analyzer computes importance scores. The zero value is not usable; start
// from NewAnalyzer.
type Analyzer struct {
	Weights config.Weights
	Package config.PackageBlend
	VCS     vcs.MetadataProvider
	Now     func() time.Time

	// MaxCentralityModules disables PageRank and betweenness above this
	// many modules. Degrees still count.
	MaxCentralityModules int
	BetweennessSamples   int
	KeyModules           int
	KeyComponents        int
	Workers              int
	Logger               *slog.Logger
}

// NewAnalyzer returns an analyzer configured from cfg.
func NewAnalyzer(cfg config.Config, provider vcs.MetadataProvider, logger *slog.Logger) *Analyzer {
	if provider == nil {
		provider = vcs.None{}
	}
	return &Analyzer{
		Weights:              cfg.Weights,
		Package:              cfg.Package,
		VCS:                  provider,
		Now:                  time.Now,
		MaxCentralityModules: cfg.Analysis.MaxCentralityModules,
		BetweennessSamples:   cfg.Analysis.BetweennessSamples,
		KeyModules:           cfg.Analysis.KeyModules,
		KeyComponents:        cfg.Analysis.KeyComponents,
		Workers:              cfg.Workers,
		Logger:               logging.OrDiscard(logger),
	}
}

// Analyze fills the score maps and key lists of idx. It fails only when
// ctx is canceled.
func (a *Analyzer) Analyze(ctx context.Context, idx *model.Index) error {
	logger := logging.OrDiscard(a.Logger)
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}

	var structured []string
	for _, id := range idx.SortedModuleIDs() {
		if !idx.Modules[id].Opaque {
			structured = append(structured, id)
		}
	}

	gitScores, err := a.gitScores(ctx, idx, structured, now)
	if err != nil {
		return err
	}

	centrality := a.centrality(idx, logger)

	idx.ModuleScores = make(map[string]model.Score, len(structured))
	for _, id := range structured {
		m := idx.Modules[id]
		signals := map[string]float64{
			config.SignalUsage:         usageScore(idx, m),
			config.SignalCentrality:    centralityScore(centrality[id]),
			config.SignalComplexity:    complexityScore(m.Content),
			config.SignalSemantic:      semanticScore(m.Name(), m.ID),
			config.SignalGitHistory:    gitScores[id],
			config.SignalDocumentation: documentationScore(m.Docstring),
			config.SignalSize:          sizeScore(m.Lines),
		}
		idx.ModuleScores[id] = a.score(signals)
	}

	classRanks := a.classScores(idx, gitScores)
	idx.PackageScores = a.packageScores(idx, structured)
	idx.KeyModules = a.keyModules(idx, structured)
	idx.KeyComponents = a.keyComponents(idx, classRanks)

	logger.Info("importance analysis finished",
		"modules", len(idx.ModuleScores),
		"classes", len(idx.ClassScores),
		"packages", len(idx.PackageScores))
	return nil
}

// score applies the weights and clamps the total to [0, 10].
func (a *Analyzer) score(signals map[string]float64) model.Score {
	names := make([]string, 0, len(signals))
	for name := range signals {
		names = append(names, name)
	}
	// Fixed order keeps totals bit-identical across runs.
	sort.Strings(names)
	var total float64
	for _, name := range names {
		total += signals[name] * a.Weights.Get(name)
	}
	return model.Score{Total: clamp(total, 0, 10), Signals: signals}
}

// gitScores asks the metadata provider about every module concurrently.
// Nothing is asked when the git weight is zero.
func (a *Analyzer) gitScores(ctx context.Context, idx *model.Index, ids []string, now time.Time) (map[string]float64, error) {
	out := make(map[string]float64, len(ids))
	if a.Weights.GitHistory == 0 || a.VCS == nil || len(ids) == 0 {
		return out, nil
	}

	workers := a.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	scores := make([]float64, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range ids {
		path := idx.Modules[id].Path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st, ok := a.VCS.CommitStats(gctx, path)
			scores[i] = gitScore(st, ok, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		out[id] = scores[i]
	}
	return out, nil
}

func (a *Analyzer) centrality(idx *model.Index, logger *slog.Logger) map[string]centralityInputs {
	g := graph.ModuleGraph(idx)
	out := make(map[string]centralityInputs, g.Len())
	for _, id := range g.Nodes() {
		out[id] = centralityInputs{In: g.InDegree(id), Out: g.OutDegree(id)}
	}
	if g.Len() == 0 {
		return out
	}
	if a.MaxCentralityModules > 0 && g.Len() > a.MaxCentralityModules {
		logger.Info("skipping pagerank and betweenness",
			"modules", g.Len(), "limit", a.MaxCentralityModules)
		return out
	}

	samples := a.BetweennessSamples
	if samples <= 0 {
		samples = 20
	}
	btw := g.Betweenness(samples)
	for _, id := range g.Nodes() {
		c := out[id]
		c.PageRank = g.PersonalizedPageRank(id, pageRankAlpha)
		c.Betweenness = btw[id]
		out[id] = c
	}
	return out
}

// classScores fills idx.ClassScores and returns the class PageRank values.
func (a *Analyzer) classScores(idx *model.Index, gitScores map[string]float64) map[string]float64 {
	ranks := graph.ClassGraph(idx).PageRank(pageRankAlpha)
	var maxRank float64
	for _, r := range ranks {
		if r > maxRank {
			maxRank = r
		}
	}

	idx.ClassScores = make(map[string]model.Score, len(idx.Classes))
	for id, c := range idx.Classes {
		var centrality float64
		if maxRank > 0 {
			centrality = ranks[id] / maxRank
		}
		signals := map[string]float64{
			config.SignalUsage:         capped(float64(classUsage(idx, c)) / 10),
			config.SignalCentrality:    centrality,
			config.SignalComplexity:    complexityScore(c.Source),
			config.SignalSemantic:      semanticScore(c.Name, c.ID),
			config.SignalGitHistory:    gitScores[c.Module],
			config.SignalDocumentation: documentationScore(c.Docstring),
			config.SignalSize:          sizeScore(c.EndLine - c.StartLine + 1),
		}
		idx.ClassScores[id] = a.score(signals)
	}
	return ranks
}

// packageScores scores every dotted prefix of a structured module id.
// Children of a package are the modules and packages directly inside it.
func (a *Analyzer) packageScores(idx *model.Index, structured []string) map[string]model.Score {
	children := make(map[string]map[string]bool)
	isPackage := make(map[string]bool)
	for _, id := range structured {
		parts := strings.Split(id, ".")
		child := id
		for i := len(parts) - 1; i > 0; i-- {
			pkg := strings.Join(parts[:i], ".")
			isPackage[pkg] = true
			if children[pkg] == nil {
				children[pkg] = make(map[string]bool)
			}
			children[pkg][child] = true
			child = pkg
		}
	}

	bonus := make(map[string]bool, len(a.Package.BonusNames))
	for _, n := range a.Package.BonusNames {
		bonus[n] = true
	}

	scores := make(map[string]model.Score, len(isPackage))
	var visit func(pkg string) float64
	visit = func(pkg string) float64 {
		if s, ok := scores[pkg]; ok {
			return s.Total
		}
		name := model.LastPart(pkg)
		semantic := nameScore(name)
		total := semantic * a.Weights.Semantic

		var maxChild, sum float64
		var n int
		kids := make([]string, 0, len(children[pkg]))
		for child := range children[pkg] {
			kids = append(kids, child)
		}
		sort.Strings(kids)
		for _, child := range kids {
			var s float64
			if isPackage[child] {
				s = visit(child)
			} else {
				s = idx.ModuleScores[child].Total
			}
			sum += s
			maxChild = max(maxChild, s)
			n++
		}
		var aggregate float64
		if n > 0 {
			aggregate = (maxChild*a.Package.MaxShare + sum/float64(n)*a.Package.MeanShare) * a.Package.Scale
		}
		total += aggregate

		var nameBonus float64
		if bonus[name] {
			nameBonus = a.Package.NameBonus
		}
		total += nameBonus

		scores[pkg] = model.Score{
			Total: clamp(total, 0, 10),
			Signals: map[string]float64{
				config.SignalSemantic: semantic,
				"children":            aggregate,
				"name_bonus":          nameBonus,
			},
		}
		return scores[pkg].Total
	}

	pkgs := make([]string, 0, len(isPackage))
	for p := range isPackage {
		pkgs = append(pkgs, p)
	}
	sort.Strings(pkgs)
	for _, p := range pkgs {
		visit(p)
	}
	return scores
}

func (a *Analyzer) keyModules(idx *model.Index, structured []string) []model.KeyModule {
	ids := append([]string(nil), structured...)
	sortByScore(ids, idx.ModuleScores)
	if a.KeyModules > 0 && len(ids) > a.KeyModules {
		ids = ids[:a.KeyModules]
	}

	out := make([]model.KeyModule, 0, len(ids))
	for _, id := range ids {
		m := idx.Modules[id]
		out = append(out, model.KeyModule{
			ID:             id,
			Name:           m.Name(),
			Path:           m.Path,
			Score:          idx.ModuleScores[id].Total,
			ClassesCount:   len(m.Classes),
			FunctionsCount: len(m.Functions),
			Lines:          m.Lines,
			Docstring:      head(m.Docstring, docstringHeadSz),
		})
	}
	return out
}

func (a *Analyzer) keyComponents(idx *model.Index, ranks map[string]float64) []model.KeyComponent {
	ids := idx.SortedClassIDs()
	sortByScore(ids, idx.ClassScores)
	if a.KeyComponents > 0 && len(ids) > a.KeyComponents {
		ids = ids[:a.KeyComponents]
	}

	out := make([]model.KeyComponent, 0, len(ids))
	for _, id := range ids {
		c := idx.Classes[id]
		var path string
		if m, ok := idx.Modules[c.Module]; ok {
			path = m.Path
		}
		out = append(out, model.KeyComponent{
			ID:            id,
			Name:          c.Name,
			Module:        c.Module,
			Path:          path,
			Score:         idx.ClassScores[id].Total,
			PageRank:      ranks[id],
			MethodsCount:  len(c.Methods),
			CalledByCount: classUsage(idx, c),
			Lines:         c.EndLine - c.StartLine + 1,
			Docstring:     head(c.Docstring, docstringHeadSz),
		})
	}
	return out
}

// sortByScore orders ids by descending total, ties broken by id.
func sortByScore(ids []string, scores map[string]model.Score) {
	sort.SliceStable(ids, func(i, j int) bool {
		si, sj := scores[ids[i]].Total, scores[ids[j]].Total
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
