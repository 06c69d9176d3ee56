package query

import (
	"fmt"
	"os"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/phobologic/repoindex/internal/condense"
	"github.com/phobologic/repoindex/internal/model"
)

// ViewFileContent returns a file's content within maxTokens, or within
// the configured file budget when maxTokens is not positive. Python
// modules go through the full degrade chain; other files keep their head
// and tail. path may be relative, absolute, a dotted module id or a
// unique part of one. Words of intent mark the lines the outline must
// keep.
func (e *Explorer) ViewFileContent(p, intent string, maxTokens int) string {
	rel, ok := e.relPath(p)
	if !ok {
		return fmt.Sprintf("path is outside the repository: %s", p)
	}
	if rel == "" {
		return "a file path is required, use list_repository_structure to browse directories"
	}
	if e.rules.ShouldIgnore(rel) {
		return fmt.Sprintf("%s is an ignored file type and is not shown, try search_keyword or list_repository_structure instead", rel)
	}

	if m, ok := e.idx.ModuleForPath(rel); ok {
		return e.renderModule(m, intent, maxTokens)
	}
	if text, ok := e.readUnindexed(rel, maxTokens); ok {
		return text
	}
	m, msg := e.findModule(p)
	if m == nil {
		return fmt.Sprintf("file not found: %s\n%s", p, msg)
	}
	return e.renderModule(m, intent, maxTokens)
}

const (
	fenceOpen   = "\n```python\n"
	fenceClose  = "\n```\n"
	contentLost = "\nContent omitted, the header alone fills the token budget.\n"
)

func (e *Explorer) renderModule(m *model.Module, intent string, maxTokens int) string {
	if m.Opaque {
		return e.renderText(m.Path, m.Content, maxTokens)
	}
	budget := e.budget(maxTokens, e.budgets.File)

	head := fmt.Sprintf("### Module: %s\nFile: %s\nLines: %d\n", m.ID, e.absPath(m.Path), m.Lines)

	room := 0
	if budget > 0 {
		// The stage line is counted at its longest.
		room = budget - condense.EstimateTokens(head+stageLine(condense.StageTruncate)+fenceOpen+fenceClose)
		if room <= 0 {
			return clip(head+contentLost, budget)
		}
	}
	fitted := condense.Fit(m.Content, room, condense.Options{
		Python:          true,
		LinesOfInterest: intentLines(m.Content, intent),
	})

	var b strings.Builder
	b.WriteString(head)
	if fitted.Stage != condense.StageFull {
		b.WriteString(stageLine(fitted.Stage))
	}
	b.WriteString(fenceOpen)
	b.WriteString(strings.TrimRight(fitted.Text, "\n"))
	b.WriteString(fenceClose)
	return clip(b.String(), budget)
}

func stageLine(s condense.Stage) string {
	return fmt.Sprintf("Shown: %s\n", s)
}

func (e *Explorer) renderText(rel, content string, maxTokens int) string {
	budget := e.budgets.TextFile
	switch strings.ToLower(path.Ext(rel)) {
	case ".py", ".ipynb", ".md", "":
		budget = e.budgets.DocFile
	}
	budget = e.budget(maxTokens, budget)

	head := fmt.Sprintf("### File: %s\n\n", e.absPath(rel))
	if budget <= 0 {
		return head + content
	}
	room := budget - condense.EstimateTokens(head)
	if room <= 0 {
		return clip(head+contentLost, budget)
	}
	return clip(head+condense.HeadTail(content, room), budget)
}

// readUnindexed reads a file inside the root that the index does not
// hold, such as one beyond the scan limits.
func (e *Explorer) readUnindexed(rel string, maxTokens int) (string, bool) {
	if !e.rootAvailable() {
		return "", false
	}
	abs := e.absPath(rel)
	fi, err := os.Stat(abs)
	if err != nil || fi.IsDir() {
		return "", false
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Sprintf("cannot read %s: %v", rel, err), true
	}
	if !utf8.Valid(data) {
		return fmt.Sprintf("%s is not a text file", rel), true
	}
	return e.renderText(rel, string(data), maxTokens), true
}

// intentLines returns the 1-based lines that mention a word of intent.
// Words shorter than three letters are ignored.
func intentLines(content, intent string) []int {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(intent)) {
		w = strings.Trim(w, `.,;:!?"'()`)
		if len(w) >= 3 {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil
	}
	var out []int
	for i, line := range strings.Split(content, "\n") {
		lower := strings.ToLower(line)
		for _, w := range words {
			if strings.Contains(lower, w) {
				out = append(out, i+1)
				break
			}
		}
	}
	return out
}
