package ranking

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/phobologic/repoindex/internal/model"
	"github.com/phobologic/repoindex/internal/vcs"
)

// importantKeywords mark names that usually carry architecture.
var importantKeywords = []string{
	"main", "core", "engine", "api", "service", "controller", "manager",
	"handler", "processor", "factory", "builder", "provider", "repository",
	"executor", "scheduler", "config", "security",
}

var conventionalNames = map[string]bool{
	"__init__": true, "app": true, "settings": true,
	"config": true, "utils": true, "constants": true,
}

var (
	branchPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bif\b`),
		regexp.MustCompile(`\bfor\b`),
		regexp.MustCompile(`\bwhile\b`),
		regexp.MustCompile(`\bexcept\b`),
	}
	defIndent = regexp.MustCompile(`(?m)^([ \t]*)def\s+`)
)

func capped(v float64) float64 {
	return math.Min(v, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

// nameScore rates a single name: keyword hits, entry points and
// conventional file names.
func nameScore(name string) float64 {
	var score float64
	lower := strings.ToLower(name)
	for _, kw := range importantKeywords {
		if strings.Contains(lower, kw) {
			score += 0.3
			break
		}
	}
	if name == "__main__" || name == "main" {
		score += 0.7
	}
	if conventionalNames[name] {
		score += 0.5
	}
	return capped(score)
}

// semanticScore combines the short name with every dotted part of id at
// half weight.
func semanticScore(name, id string) float64 {
	score := nameScore(name)
	for _, part := range strings.Split(id, ".") {
		score += nameScore(part) * 0.5
	}
	return capped(score)
}

// complexityScore counts lines with branch keywords and adds a term for
// the deepest def indentation, assuming four spaces per level.
func complexityScore(source string) float64 {
	var branches int
	for _, line := range strings.Split(source, "\n") {
		for _, re := range branchPatterns {
			if re.MatchString(line) {
				branches++
			}
		}
	}
	score := capped(float64(branches) / 50)

	maxIndent := -1
	for _, m := range defIndent.FindAllStringSubmatch(source, -1) {
		if len(m[1]) > maxIndent {
			maxIndent = len(m[1])
		}
	}
	if maxIndent >= 0 {
		score += capped(float64(maxIndent)/4/5) * 0.3
	}
	return capped(score)
}

func documentationScore(doc string) float64 {
	if doc == "" {
		return 0
	}
	score := capped(float64(len(doc))/200) * 0.7
	if strings.Contains(doc, "Args:") || strings.Contains(doc, "Parameters:") {
		score += 0.15
	}
	if strings.Contains(doc, "Returns:") || strings.Contains(doc, "Return:") {
		score += 0.15
	}
	if strings.Contains(doc, "Example:") || strings.Contains(doc, "Examples:") {
		score += 0.1
	}
	return capped(score)
}

func sizeScore(lines int) float64 {
	return capped(float64(lines) / 500)
}

// gitScore blends commit count with recency. A file without commits scores
// the same as one without metadata.
func gitScore(st vcs.Stats, ok bool, now time.Time) float64 {
	if !ok || st.Commits == 0 {
		return 0
	}
	score := capped(float64(st.Commits)/20) * 0.7
	if st.LastUnix > 0 {
		days := now.Sub(time.Unix(st.LastUnix, 0)).Hours() / 24
		score += math.Max(0, 1-days/365) * 0.3
	}
	return score
}

// importCount is the number of import records in other modules naming id.
func importCount(idx *model.Index, id string) int {
	var n int
	for mid, m := range idx.Modules {
		if mid == id {
			continue
		}
		for _, imp := range m.Imports {
			if imp.Module == id {
				n++
			}
		}
	}
	return n
}

// classUsage counts instantiations plus callers of the class's methods.
func classUsage(idx *model.Index, c *model.Class) int {
	n := len(c.Instantiators)
	for _, mid := range c.Methods {
		if fn, ok := idx.Functions[mid]; ok {
			n += len(fn.Callers)
		}
	}
	return n
}

func usageScore(idx *model.Index, m *model.Module) float64 {
	score := capped(float64(importCount(idx, m.ID)) / 5)

	var fnCallers int
	for _, fid := range m.Functions {
		if fn, ok := idx.Functions[fid]; ok {
			fnCallers += len(fn.Callers)
		}
	}
	score += capped(float64(fnCallers)/10) * 0.5

	var classCallers int
	for _, cid := range m.Classes {
		if c, ok := idx.Classes[cid]; ok {
			classCallers += classUsage(idx, c)
		}
	}
	score += capped(float64(classCallers)/10) * 0.5
	return capped(score)
}

// centralityInputs are the graph measurements behind the centrality signal.
// PageRank and Betweenness are zero when they were not computed.
type centralityInputs struct {
	In, Out     int
	PageRank    float64
	Betweenness float64
}

func centralityScore(c centralityInputs) float64 {
	score := (capped(float64(c.In)/5)*0.5 +
		capped(float64(c.Out)/10)*0.2 +
		capped(c.PageRank*10)*0.6 +
		capped(c.Betweenness*10)*0.4) / 1.7
	if c.In > 2 && c.Out <= 1 {
		score += 0.3
	}
	if c.In > 2 && c.Out > 2 {
		score += 0.2
	}
	return capped(score)
}
