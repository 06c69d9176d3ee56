package query

import (
	"fmt"
	"strings"

	"github.com/phobologic/repoindex/internal/condense"
	"github.com/phobologic/repoindex/internal/model"
)

// ViewClassDetails describes one class: where it lives, its docstring,
// bases, methods and its source. The answer fits maxTokens; a
// non-positive maxTokens uses the configured detail budget.
func (e *Explorer) ViewClassDetails(nameOrID string, maxTokens int) string {
	id, msg, ok := e.resolveText(nameOrID, model.KindClass)
	if !ok {
		return msg
	}
	c := e.idx.Classes[id]
	budget := e.budget(maxTokens, e.budgets.Detail)
	limit := listLimit(budget)

	var b strings.Builder
	fmt.Fprintf(&b, "# Class: %s\n", c.Name)
	fmt.Fprintf(&b, "ID: %s\n", c.ID)
	e.writeLocation(&b, c.Module)
	if doc := formatDocstring(c.Docstring); doc != "" {
		fmt.Fprintf(&b, "\nDocstring:\n%s\n", doc)
	}
	if len(c.Bases) > 0 {
		fmt.Fprintf(&b, "\nInherits from: %s\n", strings.Join(c.Bases, ", "))
	}
	var methods []string
	for _, mid := range c.Methods {
		m, ok := e.idx.Functions[mid]
		if !ok {
			continue
		}
		line := fmt.Sprintf("%s(%s)", m.Name, paramNames(m.Params))
		if m.Returns != "" {
			line += " -> " + m.Returns
		}
		methods = append(methods, line)
	}
	writeList(&b, "Methods", methods, limit)
	writeList(&b, "Instantiated by", c.Instantiators, limit)
	return withSource(&b, c.Source, budget)
}

// ViewFunctionDetails describes one function or method: signature parts,
// calls, callers and source. The answer fits maxTokens; a non-positive
// maxTokens uses the configured detail budget.
func (e *Explorer) ViewFunctionDetails(nameOrID string, maxTokens int) string {
	id, msg, ok := e.resolveText(nameOrID, model.KindFunction)
	if !ok {
		return msg
	}
	f := e.idx.Functions[id]
	budget := e.budget(maxTokens, e.budgets.Detail)
	limit := listLimit(budget)

	var b strings.Builder
	heading := "Function"
	if f.IsMethod() {
		heading = "Method"
	}
	fmt.Fprintf(&b, "# %s: %s\n", heading, f.Name)
	fmt.Fprintf(&b, "ID: %s\n", f.ID)
	e.writeLocation(&b, f.Module)
	if f.IsMethod() {
		fmt.Fprintf(&b, "Class: %s\n", f.Class)
	}
	if f.Parent != "" {
		fmt.Fprintf(&b, "Defined in: %s\n", f.Parent)
	}
	if f.Signature != "" {
		fmt.Fprintf(&b, "Signature: %s\n", f.Signature)
	}
	if len(f.Decorators) > 0 {
		fmt.Fprintf(&b, "Decorators: %s\n", strings.Join(f.Decorators, ", "))
	}
	if doc := formatDocstring(f.Docstring); doc != "" {
		fmt.Fprintf(&b, "\nDocstring:\n%s\n", doc)
	}

	params := []string{"none"}
	if len(f.Params) > 0 {
		params = params[:0]
	}
	for _, p := range f.Params {
		if p.Type != "" {
			params = append(params, p.Name+": "+p.Type)
		} else {
			params = append(params, p.Name)
		}
	}
	writeList(&b, "Parameters", params, limit)
	if f.Returns != "" {
		fmt.Fprintf(&b, "\nReturns: %s\n", f.Returns)
	}
	calls := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		calls[i] = c.String()
	}
	writeList(&b, "Calls", calls, limit)
	writeList(&b, "Called by", f.Callers, limit)
	return withSource(&b, f.Source, budget)
}

func (e *Explorer) writeLocation(b *strings.Builder, moduleID string) {
	fmt.Fprintf(b, "Module: %s\n", moduleID)
	if m, ok := e.idx.Modules[moduleID]; ok {
		fmt.Fprintf(b, "File: %s\n", e.absPath(m.Path))
	}
}

const (
	sourceOpen    = "\nSource:\n```python\n"
	sourceClose   = "\n```\n"
	sourceOmitted = "\nSource omitted to stay within the token budget, use view_file_content to read it.\n"

	// minSourceTokens is the least room worth spending on a source excerpt.
	minSourceTokens = 16
)

// listLimit is the share of budget that the lists of a detail view may
// fill before the rest is counted instead of shown. The remainder is left
// for the source.
func listLimit(budget int) int {
	return budget * 3 / 4
}

// writeList writes a titled list, one "- item" line per item, while the
// answer stays within limit tokens. Items that do not fit are summarized
// as "... N more". A non-positive limit writes every item.
func writeList(b *strings.Builder, title string, items []string, limit int) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	reserve := moreLine(len(items))
	for i, item := range items {
		line := "- " + item + "\n"
		if limit > 0 && !condense.Fits(b.String()+line+reserve, limit) {
			b.WriteString(moreLine(len(items) - i))
			return
		}
		b.WriteString(line)
	}
}

func moreLine(n int) string {
	return fmt.Sprintf("- ... %d more\n", n)
}

// withSource appends source to the answer in b, fitted into whatever the
// answer leaves of budget, and returns the whole answer.
func withSource(b *strings.Builder, source string, budget int) string {
	if source == "" {
		return clip(b.String(), budget)
	}
	src := dedent(source)
	room := 0
	if budget > 0 {
		room = budget - condense.EstimateTokens(b.String()+sourceOpen+sourceClose)
		if room < minSourceTokens {
			b.WriteString(sourceOmitted)
			return clip(b.String(), budget)
		}
	}
	fitted := condense.Fit(src, room, condense.Options{Python: true})
	b.WriteString(sourceOpen)
	b.WriteString(strings.TrimRight(fitted.Text, "\n"))
	b.WriteString(sourceClose)
	return clip(b.String(), budget)
}

// clip is the last resort for an answer that is still over budget after
// its parts were fitted, such as one with a very long docstring.
func clip(out string, budget int) string {
	if condense.Fits(out, budget) {
		return out
	}
	return condense.HeadTail(out, budget)
}

// dedent strips the indentation shared by every non-blank line so that
// method sources parse on their own.
func dedent(s string) string {
	lines := strings.Split(s, "\n")
	common := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if common < 0 || n < common {
			common = n
		}
	}
	if common <= 0 {
		return s
	}
	for i, l := range lines {
		if len(l) >= common {
			lines[i] = l[common:]
		} else {
			lines[i] = strings.TrimLeft(l, " \t")
		}
	}
	return strings.Join(lines, "\n")
}

// ViewModuleStructure renders a simplified outline of a Python module from
// the index: classes with their methods and functions with first docstring
// lines.
func (e *Explorer) ViewModuleStructure(pathOrID string) string {
	m, msg := e.findModule(pathOrID)
	if m == nil {
		return msg
	}
	if m.Opaque {
		return fmt.Sprintf("%s is not a Python module, use view_file_content to read it", m.Path)
	}
	return e.moduleOutline(m)
}

func (e *Explorer) moduleOutline(m *model.Module) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Module: %s\n", m.ID)
	fmt.Fprintf(&b, "Path: %s\n", m.Path)
	if m.Docstring != "" {
		fmt.Fprintf(&b, "# %s\n", firstLine(m.Docstring))
	}

	for _, cid := range m.Classes {
		c, ok := e.idx.Classes[cid]
		if !ok {
			continue
		}
		sig := c.Signature
		if sig == "" {
			sig = c.Name
		}
		fmt.Fprintf(&b, "\nclass %s:\n", sig)
		if c.Docstring != "" {
			fmt.Fprintf(&b, "    # %s\n", firstLine(c.Docstring))
		}
		for _, mid := range c.Methods {
			fn, ok := e.idx.Functions[mid]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "    def %s(%s):\n", fn.Name, paramNames(fn.Params))
			if fn.Docstring != "" {
				fmt.Fprintf(&b, "        # %s\n", firstLine(fn.Docstring))
			}
		}
	}

	var top []*model.Function
	for _, fid := range m.Functions {
		if fn, ok := e.idx.Functions[fid]; ok && !fn.IsMethod() && fn.Parent == "" {
			top = append(top, fn)
		}
	}
	if len(top) > 0 {
		b.WriteByte('\n')
	}
	for _, fn := range top {
		fmt.Fprintf(&b, "def %s(%s):\n", fn.Name, paramNames(fn.Params))
		if fn.Docstring != "" {
			fmt.Fprintf(&b, "    # %s\n", firstLine(fn.Docstring))
		}
	}
	return b.String()
}

// findModule locates a module by relative or absolute path, dotted id or
// unique partial id. A nil module comes with the text explaining why.
func (e *Explorer) findModule(pathOrID string) (*model.Module, string) {
	if rel, ok := e.relPath(pathOrID); ok && rel != "" {
		if m, ok := e.idx.ModuleForPath(rel); ok {
			return m, ""
		}
		pathOrID = model.ModuleID(rel)
	}
	id, err := e.Resolve(pathOrID, model.KindModule)
	if err != nil {
		return nil, errorText(err)
	}
	return e.idx.Modules[id], ""
}
