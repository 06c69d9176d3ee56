package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/phobologic/repoindex/internal/condense"
	"github.com/phobologic/repoindex/internal/model"
)

type fileHits struct {
	path  string
	lines []string
	count int
}

// SearchKeyword finds lines containing pattern, case-insensitively, in
// every indexed file. Results are grouped per file with matching lines
// marked ">>> ". When the report exceeds maxTokens, or the configured
// search budget if maxTokens is not positive, it degrades to a list of
// files ranked by match count.
func (e *Explorer) SearchKeyword(pattern, intent string, maxTokens int) string {
	needle := strings.ToLower(strings.TrimSpace(pattern))
	if needle == "" {
		return "search keyword is empty"
	}

	var hits []fileHits
	for _, m := range e.modulesByPath() {
		h := fileHits{path: m.Path}
		for _, line := range strings.Split(m.Content, "\n") {
			if !strings.Contains(strings.ToLower(line), needle) {
				continue
			}
			h.count++
			if e.budgets.SearchLines <= 0 || len(h.lines) < e.budgets.SearchLines {
				h.lines = append(h.lines, ">>> "+strings.TrimRight(line, "\r"))
			}
		}
		if h.count > 0 {
			hits = append(hits, h)
		}
	}
	if len(hits) == 0 {
		return fmt.Sprintf("No matches for %q", pattern)
	}

	var b strings.Builder
	if intent != "" {
		fmt.Fprintf(&b, "# Search intent: %s\n# Keyword: %s\n\n", intent, pattern)
	}
	for _, h := range hits {
		fmt.Fprintf(&b, "```## %s\n%s\n", h.path, strings.Join(h.lines, "\n"))
		if h.count > len(h.lines) {
			fmt.Fprintf(&b, "... %d more matching lines\n", h.count-len(h.lines))
		}
		b.WriteString("```\n\n")
	}
	out := b.String()
	budget := e.budget(maxTokens, e.budgets.Search)
	if condense.Fits(out, budget) {
		return out
	}
	return hitSummary(pattern, hits, budget)
}

func hitSummary(pattern string, hits []fileHits, budget int) string {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].count > hits[j].count })
	var b strings.Builder
	fmt.Fprintf(&b, "%d files contain %q, too many to show in full. View one of them:\n", len(hits), pattern)
	for _, h := range hits {
		fmt.Fprintf(&b, "%s: %d matching lines\n", h.path, h.count)
	}
	return condense.HeadTail(b.String(), budget)
}

// SearchFiles lists indexed paths containing pattern, case-insensitively.
func (e *Explorer) SearchFiles(pattern string) string {
	needle := strings.ToLower(strings.TrimSpace(pattern))
	var b strings.Builder
	for _, m := range e.modulesByPath() {
		if strings.Contains(strings.ToLower(m.Path), needle) {
			fmt.Fprintf(&b, ">>> %s\n", m.Path)
		}
	}
	if b.Len() == 0 {
		return fmt.Sprintf("No files matching %q", pattern)
	}
	return b.String()
}

func (e *Explorer) modulesByPath() []*model.Module {
	mods := make([]*model.Module, 0, len(e.idx.Modules))
	for _, m := range e.idx.Modules {
		mods = append(mods, m)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Path < mods[j].Path })
	return mods
}
