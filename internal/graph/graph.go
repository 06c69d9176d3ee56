// Package graph resolves call descriptors and imports into the call graph
// and the module dependency graph, and computes centrality over them.
package graph

import (
	"sort"
	"strings"

	"github.com/phobologic/repoindex/internal/model"
)

// target is what a call expression resolved to.
type target struct {
	id         string
	class      bool // id names a class: the call instantiates it
	confidence model.Confidence
}

type resolver struct {
	idx      *model.Index
	classIDs []string
	funcIDs  []string
	imports  map[string][]model.ImportRecord
}

func newResolver(idx *model.Index) *resolver {
	r := &resolver{
		idx:      idx,
		classIDs: idx.SortedClassIDs(),
		funcIDs:  idx.SortedFunctionIDs(),
		imports:  make(map[string][]model.ImportRecord, len(idx.Modules)),
	}
	for id, m := range idx.Modules {
		r.imports[id] = m.Imports
	}
	return r
}

// Resolve builds idx.CallEdges and idx.DepEdges and fills the Callers and
// Instantiators back-references. Any previous resolution is discarded, so
// Resolve is idempotent. Unresolved calls stay on their function and
// produce no edge.
func Resolve(idx *model.Index) {
	r := newResolver(idx)

	type edgeKey struct{ caller, callee string }
	edges := make(map[edgeKey]model.Confidence)
	callers := make(map[string]map[string]struct{})
	instantiators := make(map[string]map[string]struct{})

	for _, fid := range r.funcIDs {
		fn := idx.Functions[fid]
		for _, call := range fn.Calls {
			t, ok := r.resolveCall(call, fn)
			if !ok {
				continue
			}
			if t.class {
				addTo(instantiators, t.id, fid)
				continue
			}
			key := edgeKey{fid, t.id}
			// An edge found both ways keeps exact.
			if prev, seen := edges[key]; !seen || prev == model.Heuristic {
				edges[key] = t.confidence
			}
			addTo(callers, t.id, fid)
		}
	}

	idx.CallEdges = idx.CallEdges[:0]
	for k, conf := range edges {
		idx.CallEdges = append(idx.CallEdges, model.CallEdge{Caller: k.caller, Callee: k.callee, Confidence: conf})
	}
	sort.Slice(idx.CallEdges, func(i, j int) bool {
		if idx.CallEdges[i].Caller != idx.CallEdges[j].Caller {
			return idx.CallEdges[i].Caller < idx.CallEdges[j].Caller
		}
		return idx.CallEdges[i].Callee < idx.CallEdges[j].Callee
	})

	for id, fn := range idx.Functions {
		fn.Callers = sortedSet(callers[id])
	}
	for id, c := range idx.Classes {
		c.Instantiators = sortedSet(instantiators[id])
	}

	idx.DepEdges = r.dependencies()
}

func (r *resolver) resolveCall(call model.CallDescriptor, fn *model.Function) (target, bool) {
	switch call.Kind {
	case model.CallSimple:
		return r.resolveSimple(call.Name, fn)
	case model.CallAttr:
		return r.resolveAttr(call.Object, call.Attribute, fn)
	case model.CallNested:
		return r.resolveNested(call.Path, fn)
	}
	return target{}, false
}

func (r *resolver) resolveSimple(name string, fn *model.Function) (target, bool) {
	// Same module.
	if t, ok := r.lookup(fn.Module + "." + name); ok {
		return t, true
	}

	// Same class, then its bases.
	if fn.Class != "" {
		if id, ok := r.lookupMethod(fn.Class, name, fn.Module); ok {
			return target{id: id, confidence: model.Exact}, true
		}
	}

	// Names bound by from-imports.
	for _, imp := range r.imports[fn.Module] {
		if imp.Kind != model.ImportFrom || imp.LocalName() != name {
			continue
		}
		if t, ok := r.lookup(imp.Module + "." + imp.Name); ok {
			return t, true
		}
	}
	return target{}, false
}

func (r *resolver) resolveAttr(obj, attr string, fn *model.Function) (target, bool) {
	if (obj == "self" || obj == "cls") && fn.Class != "" {
		if id, ok := r.lookupMethod(fn.Class, attr, fn.Module); ok {
			return target{id: id, confidence: model.Exact}, true
		}
	}

	// Any class whose id ends in .obj. Low precision by construction.
	suffix := "." + obj
	for _, cid := range r.classIDs {
		if !strings.HasSuffix(cid, suffix) {
			continue
		}
		if _, ok := r.idx.Functions[cid+"."+attr]; ok {
			return target{id: cid + "." + attr, confidence: model.Heuristic}, true
		}
	}

	for _, imp := range r.imports[fn.Module] {
		switch {
		case imp.Kind == model.ImportPlain && (imp.Module == obj || imp.Alias == obj):
			if t, ok := r.lookup(imp.Module + "." + attr); ok {
				return t, true
			}
		case imp.Kind == model.ImportFrom && imp.LocalName() == obj:
			if t, ok := r.lookup(imp.Module + "." + imp.Name + "." + attr); ok {
				return t, true
			}
		}
	}
	return target{}, false
}

func (r *resolver) resolveNested(path string, fn *model.Function) (target, bool) {
	if t, ok := r.lookup(path); ok {
		return t, true
	}

	// Expand an aliased plain import: np.linalg.norm -> numpy.linalg.norm.
	if head, rest, found := strings.Cut(path, "."); found {
		for _, imp := range r.imports[fn.Module] {
			if imp.Kind == model.ImportPlain && imp.Alias == head {
				if t, ok := r.lookup(imp.Module + "." + rest); ok {
					return t, true
				}
			}
		}
	}

	suffix := "." + path
	for _, id := range r.funcIDs {
		if strings.HasSuffix(id, suffix) {
			return target{id: id, confidence: model.Heuristic}, true
		}
	}
	return target{}, false
}

// lookup matches id exactly against functions, then classes.
func (r *resolver) lookup(id string) (target, bool) {
	if _, ok := r.idx.Functions[id]; ok {
		return target{id: id, confidence: model.Exact}, true
	}
	if _, ok := r.idx.Classes[id]; ok {
		return target{id: id, class: true, confidence: model.Exact}, true
	}
	return target{}, false
}

// lookupMethod finds name on classID or one of its direct bases. A simple
// base name is looked up in the class's module; a dotted base is taken as
// a qualified id.
func (r *resolver) lookupMethod(classID, name, moduleID string) (string, bool) {
	if _, ok := r.idx.Functions[classID+"."+name]; ok {
		return classID + "." + name, true
	}
	c, ok := r.idx.Classes[classID]
	if !ok {
		return "", false
	}
	for _, base := range c.Bases {
		baseID := base
		if !strings.Contains(base, ".") {
			baseID = moduleID + "." + base
			if _, ok := r.idx.Classes[baseID]; !ok {
				continue
			}
		}
		if _, ok := r.idx.Functions[baseID+"."+name]; ok {
			return baseID + "." + name, true
		}
	}
	return "", false
}

// dependencies builds importer -> imported edges. Plain imports target the
// named module; from-imports target the source module and, when the
// imported name is itself a module, that module too. A package id P also
// matches P.__init__.
func (r *resolver) dependencies() []model.DepEdge {
	seen := make(map[model.DepEdge]struct{})
	var deps []model.DepEdge
	add := func(from, to string) {
		if to == "" || to == from {
			return
		}
		e := model.DepEdge{From: from, To: to}
		if _, dup := seen[e]; dup {
			return
		}
		seen[e] = struct{}{}
		deps = append(deps, e)
	}

	for _, mid := range r.idx.SortedModuleIDs() {
		for _, imp := range r.imports[mid] {
			add(mid, r.moduleTarget(imp.Module))
			if imp.Kind == model.ImportFrom && imp.Name != "*" {
				add(mid, r.moduleTarget(imp.Module+"."+imp.Name))
			}
		}
	}

	sort.Slice(deps, func(i, j int) bool {
		if deps[i].From != deps[j].From {
			return deps[i].From < deps[j].From
		}
		return deps[i].To < deps[j].To
	})
	return deps
}

func (r *resolver) moduleTarget(name string) string {
	if m, ok := r.idx.Modules[name]; ok && !m.Opaque {
		return name
	}
	if m, ok := r.idx.Modules[name+".__init__"]; ok && !m.Opaque {
		return name + ".__init__"
	}
	return ""
}

func addTo(m map[string]map[string]struct{}, key, value string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[value] = struct{}{}
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
