package query

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/phobologic/repoindex/internal/condense"
	"github.com/phobologic/repoindex/internal/graph"
	"github.com/phobologic/repoindex/internal/toon"
)

// Overview summarizes the repository for a first look: totals, key
// modules and components, packages and import cycles as TOON tables,
// followed by outlines of the key modules while they fit maxTokens. A
// non-positive maxTokens uses the configured overview budget.
func (e *Explorer) Overview(maxTokens int) string {
	maxTokens = e.budget(maxTokens, e.budgets.Overview)
	summary := toon.EncodeSummary(e.idx, filepath.Base(e.idx.Root), graph.ImportCycles(e.idx))
	if !condense.Fits(summary, maxTokens) {
		return condense.HeadTail(summary, maxTokens)
	}

	var b strings.Builder
	b.WriteString(summary)
	b.WriteString("\n")
	for _, k := range e.idx.KeyModules {
		m, ok := e.idx.Modules[k.ID]
		if !ok || m.Opaque {
			continue
		}
		section := fmt.Sprintf("\n%s", e.moduleOutline(m))
		if !condense.Fits(b.String()+section, maxTokens) {
			break
		}
		b.WriteString(section)
	}
	return b.String()
}
