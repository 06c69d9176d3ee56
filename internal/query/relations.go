package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/phobologic/repoindex/internal/model"
)

// FindReferences lists what points at an entity: callers of a function,
// subclasses and users of a class, importers of a module.
func (e *Explorer) FindReferences(nameOrID, kind string) string {
	k, err := kindFor(kind)
	if err != nil {
		return errorText(err)
	}
	id, msg, ok := e.resolveText(nameOrID, k)
	if !ok {
		return msg
	}
	return e.references(id, k)
}

// FindDependencies lists what an entity points at: calls of a function,
// bases and method calls of a class, imports of a module.
func (e *Explorer) FindDependencies(nameOrID, kind string) string {
	k, err := kindFor(kind)
	if err != nil {
		return errorText(err)
	}
	id, msg, ok := e.resolveText(nameOrID, k)
	if !ok {
		return msg
	}
	return e.dependencies(id, k)
}

// ViewReferenceRelationships reports both directions for one entity.
func (e *Explorer) ViewReferenceRelationships(nameOrID, kind string) string {
	k, err := kindFor(kind)
	if err != nil {
		return errorText(err)
	}
	id, msg, ok := e.resolveText(nameOrID, k)
	if !ok {
		return msg
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Relationships of %s %s\n\n", k, id)
	b.WriteString("## Referenced by\n")
	b.WriteString(e.references(id, k))
	b.WriteString("\n## Depends on\n")
	b.WriteString(e.dependencies(id, k))
	return b.String()
}

func (e *Explorer) references(id string, k model.EntityKind) string {
	var b strings.Builder
	switch k {
	case model.KindFunction:
		f := e.idx.Functions[id]
		if len(f.Callers) == 0 {
			return fmt.Sprintf("Function %s is not called by any other function\n", id)
		}
		fmt.Fprintf(&b, "Function %s is called by:\n", id)
		for _, c := range f.Callers {
			fmt.Fprintf(&b, "- %s()\n", c)
		}

	case model.KindClass:
		c := e.idx.Classes[id]
		var lines []string
		for _, sub := range e.idx.Subclasses(id) {
			lines = append(lines, fmt.Sprintf("- class %s inherits from this class", sub))
		}
		for _, f := range c.Instantiators {
			lines = append(lines, fmt.Sprintf("- instantiated in %s()", f))
		}
		for _, mid := range c.Methods {
			m, ok := e.idx.Functions[mid]
			if !ok {
				continue
			}
			for _, caller := range m.Callers {
				lines = append(lines, fmt.Sprintf("- method %s is called by %s()", m.Name, caller))
			}
		}
		if len(lines) == 0 {
			return fmt.Sprintf("Class %s is not referenced by other code\n", id)
		}
		fmt.Fprintf(&b, "Class %s is referenced by:\n", id)
		b.WriteString(strings.Join(lines, "\n") + "\n")

	case model.KindModule:
		importers := uniqueSorted(e.idx.Importers(id))
		if len(importers) == 0 {
			return fmt.Sprintf("Module %s is not imported by other modules\n", id)
		}
		fmt.Fprintf(&b, "Module %s is imported by:\n", id)
		for _, m := range importers {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	return b.String()
}

func (e *Explorer) dependencies(id string, k model.EntityKind) string {
	var b strings.Builder
	switch k {
	case model.KindFunction:
		f := e.idx.Functions[id]
		if len(f.Calls) == 0 {
			return fmt.Sprintf("Function %s does not call other functions\n", id)
		}
		fmt.Fprintf(&b, "Function %s calls:\n", id)
		for _, c := range f.Calls {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		if edges := e.idx.Callees(id); len(edges) > 0 {
			b.WriteString("Resolved to:\n")
			for _, edge := range edges {
				fmt.Fprintf(&b, "- %s (%s)\n", edge.Callee, edge.Confidence)
			}
		}

	case model.KindClass:
		c := e.idx.Classes[id]
		var lines []string
		for _, base := range c.Bases {
			lines = append(lines, fmt.Sprintf("- inherits from %s", base))
		}
		for _, mid := range c.Methods {
			m, ok := e.idx.Functions[mid]
			if !ok {
				continue
			}
			for _, call := range m.Calls {
				lines = append(lines, fmt.Sprintf("- method %s calls %s", m.Name, call))
			}
		}
		if len(lines) == 0 {
			return fmt.Sprintf("Class %s has no dependencies\n", id)
		}
		fmt.Fprintf(&b, "Class %s depends on:\n", id)
		b.WriteString(strings.Join(lines, "\n") + "\n")

	case model.KindModule:
		m := e.idx.Modules[id]
		if len(m.Imports) == 0 {
			return fmt.Sprintf("Module %s has no imports\n", id)
		}
		fmt.Fprintf(&b, "Module %s imports:\n", id)
		for _, imp := range m.Imports {
			fmt.Fprintf(&b, "- %s\n", imp)
		}
		if deps := uniqueSorted(e.idx.Imported(id)); len(deps) > 0 {
			b.WriteString("Indexed modules:\n")
			for _, d := range deps {
				fmt.Fprintf(&b, "- %s\n", d)
			}
		}
	}
	return b.String()
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
