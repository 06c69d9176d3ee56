package ranking

import (
	"strings"

	"github.com/phobologic/repoindex/internal/model"
)

// SelectTop returns a view of idx restricted to the maxModules highest
// scoring structured modules, their classes and functions, and the edges
// among them. idx itself is returned when no trimming is needed.
func SelectTop(idx *model.Index, maxModules int) *model.Index {
	var ranked []string
	for _, id := range idx.SortedModuleIDs() {
		if !idx.Modules[id].Opaque {
			ranked = append(ranked, id)
		}
	}
	if maxModules <= 0 || maxModules >= len(ranked) {
		return idx
	}
	sortByScore(ranked, idx.ModuleScores)

	keep := make(map[string]bool, maxModules)
	for _, id := range ranked[:maxModules] {
		keep[id] = true
	}
	return subset(idx, keep, nil, func(e model.DepEdge) bool {
		return keep[e.From] && keep[e.To]
	})
}

// FilterBySymbol returns a view containing the classes and functions whose
// name contains substr (case-insensitive), their direct callers and
// callees, the modules defining any of them, and the edges that connect
// them.
func FilterBySymbol(idx *model.Index, substr string) *model.Index {
	lower := strings.ToLower(substr)

	matched := make(map[string]bool)
	for id, fn := range idx.Functions {
		if strings.Contains(strings.ToLower(fn.Name), lower) {
			matched[id] = true
		}
	}
	for id, c := range idx.Classes {
		if strings.Contains(strings.ToLower(c.Name), lower) {
			matched[id] = true
			for _, m := range c.Methods {
				matched[m] = true
			}
		}
	}

	symbols := make(map[string]bool, len(matched))
	for id := range matched {
		symbols[id] = true
	}
	for _, e := range idx.CallEdges {
		if matched[e.Caller] {
			symbols[e.Callee] = true
		}
		if matched[e.Callee] {
			symbols[e.Caller] = true
		}
	}

	modules := make(map[string]bool)
	for id := range symbols {
		if fn, ok := idx.Functions[id]; ok {
			modules[fn.Module] = true
		}
		if c, ok := idx.Classes[id]; ok {
			modules[c.Module] = true
		}
	}

	view := subset(idx, modules, symbols, func(e model.DepEdge) bool {
		return modules[e.From] || modules[e.To]
	})
	var edges []model.CallEdge
	for _, e := range idx.CallEdges {
		if matched[e.Caller] || matched[e.Callee] {
			edges = append(edges, e)
		}
	}
	view.CallEdges = edges
	return view
}

// FilterByFile returns a view containing the modules whose path contains
// substr (case-insensitive), every dependency edge touching them and the
// call edges from functions they define.
func FilterByFile(idx *model.Index, substr string) *model.Index {
	lower := strings.ToLower(substr)
	keep := make(map[string]bool)
	for id, m := range idx.Modules {
		if strings.Contains(strings.ToLower(m.Path), lower) {
			keep[id] = true
		}
	}
	return subset(idx, keep, nil, func(e model.DepEdge) bool {
		return keep[e.From] || keep[e.To]
	})
}

// subset copies the parts of idx belonging to the kept modules. When
// symbols is non-nil only those classes and functions are kept. Call edges
// are kept when their caller is; scores and key lists are filtered to the
// kept entities. Entity records are shared, not copied.
func subset(idx *model.Index, modules, symbols map[string]bool, keepDep func(model.DepEdge) bool) *model.Index {
	view := model.NewIndex(idx.Root)
	view.BuildID = idx.BuildID
	view.CreatedAt = idx.CreatedAt

	for id, m := range idx.Modules {
		if modules[id] {
			view.Modules[id] = m
			if s, ok := idx.ModuleScores[id]; ok {
				view.ModuleScores[id] = s
			}
		}
	}
	for id, c := range idx.Classes {
		if modules[c.Module] && (symbols == nil || symbols[id]) {
			view.Classes[id] = c
			if s, ok := idx.ClassScores[id]; ok {
				view.ClassScores[id] = s
			}
		}
	}
	for id, fn := range idx.Functions {
		if modules[fn.Module] && (symbols == nil || symbols[id]) {
			view.Functions[id] = fn
		}
	}

	for _, e := range idx.CallEdges {
		if _, ok := view.Functions[e.Caller]; ok {
			view.CallEdges = append(view.CallEdges, e)
		}
	}
	for _, e := range idx.DepEdges {
		if keepDep(e) {
			view.DepEdges = append(view.DepEdges, e)
		}
	}
	for _, km := range idx.KeyModules {
		if modules[km.ID] {
			view.KeyModules = append(view.KeyModules, km)
		}
	}
	for _, kc := range idx.KeyComponents {
		if _, ok := view.Classes[kc.ID]; ok {
			view.KeyComponents = append(view.KeyComponents, kc)
		}
	}
	view.ComputeStats()
	return view
}
