package graph

import (
	"math"
	"reflect"
	"testing"

	"github.com/phobologic/repoindex/internal/model"
)

// fixture builds an index by hand. Functions are registered on their
// module or class automatically.
type fixture struct{ idx *model.Index }

func newFixture() *fixture { return &fixture{idx: model.NewIndex("/repo")} }

func (f *fixture) module(id string, imports ...model.ImportRecord) *fixture {
	for i := range imports {
		imports[i].Owner = id
	}
	f.idx.Modules[id] = &model.Module{ID: id, Path: id + ".py", Language: model.LangPython, Imports: imports}
	return f
}

func (f *fixture) class(id, module string, bases ...string) *fixture {
	f.idx.Classes[id] = &model.Class{ID: id, Name: model.LastPart(id), Module: module, Bases: bases}
	m := f.idx.Modules[module]
	m.Classes = append(m.Classes, id)
	return f
}

func (f *fixture) fn(id, module, class string, calls ...model.CallDescriptor) *fixture {
	f.idx.Functions[id] = &model.Function{ID: id, Name: model.LastPart(id), Module: module, Class: class, Calls: calls}
	if class != "" {
		c := f.idx.Classes[class]
		c.Methods = append(c.Methods, id)
	} else {
		m := f.idx.Modules[module]
		m.Functions = append(m.Functions, id)
	}
	return f
}

func simple(name string) model.CallDescriptor {
	return model.CallDescriptor{Kind: model.CallSimple, Name: name}
}

func attr(obj, a string) model.CallDescriptor {
	return model.CallDescriptor{Kind: model.CallAttr, Object: obj, Attribute: a}
}

func nested(path string) model.CallDescriptor {
	return model.CallDescriptor{Kind: model.CallNested, Path: path}
}

func fromImport(module, name, alias string) model.ImportRecord {
	return model.ImportRecord{Kind: model.ImportFrom, Module: module, Name: name, Alias: alias}
}

func plainImport(module, alias string) model.ImportRecord {
	return model.ImportRecord{Kind: model.ImportPlain, Module: module, Name: module, Alias: alias}
}

func edge(idx *model.Index, caller, callee string) (model.CallEdge, bool) {
	for _, e := range idx.CallEdges {
		if e.Caller == caller && e.Callee == callee {
			return e, true
		}
	}
	return model.CallEdge{}, false
}

func TestResolveImportedFunction(t *testing.T) {
	t.Parallel()

	f := newFixture().
		module("pkg.a", fromImport("pkg.b", "bar", "")).
		module("pkg.b").
		fn("pkg.a.foo", "pkg.a", "", simple("bar")).
		fn("pkg.b.bar", "pkg.b", "")
	Resolve(f.idx)

	e, ok := edge(f.idx, "pkg.a.foo", "pkg.b.bar")
	if !ok {
		t.Fatalf("missing edge, got %+v", f.idx.CallEdges)
	}
	if e.Confidence != model.Exact {
		t.Errorf("confidence = %s", e.Confidence)
	}
	if got := f.idx.Functions["pkg.b.bar"].Callers; !reflect.DeepEqual(got, []string{"pkg.a.foo"}) {
		t.Errorf("callers = %v", got)
	}
	if !reflect.DeepEqual(f.idx.DepEdges, []model.DepEdge{{From: "pkg.a", To: "pkg.b"}}) {
		t.Errorf("deps = %+v", f.idx.DepEdges)
	}
}

func TestResolveStrategyOrder(t *testing.T) {
	t.Parallel()

	f := newFixture().
		module("m", fromImport("other", "helper", "h"), plainImport("util", "u")).
		module("other").
		module("util").
		module("far").
		class("m.Base", "m").
		class("m.Child", "m", "Base").
		class("far.Client", "far").
		fn("m.helper", "m", "").
		fn("m.Base.run", "m", "m.Base").
		fn("m.Child.go", "m", "m.Child",
			simple("helper"),       // same module wins over the import
			simple("run"),          // inherited from Base
			attr("self", "run"),    // self call through the base
			attr("Client", "send"), // suffix heuristic
			attr("u", "tool"),      // aliased plain import
			simple("h"),            // aliased from-import
			simple("missing"),
		).
		fn("other.helper", "other", "").
		fn("util.tool", "util", "").
		fn("far.Client.send", "far", "far.Client")
	Resolve(f.idx)

	want := map[string]model.Confidence{
		"m.helper":        model.Exact,
		"m.Base.run":      model.Exact,
		"far.Client.send": model.Heuristic,
		"util.tool":       model.Exact,
		"other.helper":    model.Exact,
	}
	got := map[string]model.Confidence{}
	for _, e := range f.idx.Callees("m.Child.go") {
		got[e.Callee] = e.Confidence
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("callees = %v, want %v", got, want)
	}
	if len(f.idx.Functions["m.Child.go"].Calls) != 7 {
		t.Error("unresolved calls must stay on the function")
	}
}

func TestResolveNestedAttribute(t *testing.T) {
	t.Parallel()

	f := newFixture().
		module("app", plainImport("numpy", "np")).
		module("numpy.linalg").
		module("svc").
		fn("numpy.linalg.norm", "numpy.linalg", "").
		fn("svc.api.handle", "svc", "").
		fn("app.main", "app", "",
			nested("numpy.linalg.norm"),
			nested("np.linalg.norm"),
			nested("api.handle"),
		)
	// svc.api.handle registered directly under the module for the test.
	Resolve(f.idx)

	callees := f.idx.Callees("app.main")
	if len(callees) != 2 {
		t.Fatalf("callees = %+v", callees)
	}
	if callees[0].Callee != "numpy.linalg.norm" || callees[0].Confidence != model.Exact {
		t.Errorf("exact nested = %+v", callees[0])
	}
	if callees[1].Callee != "svc.api.handle" || callees[1].Confidence != model.Heuristic {
		t.Errorf("suffix nested = %+v", callees[1])
	}
}

func TestResolveInstantiation(t *testing.T) {
	t.Parallel()

	f := newFixture().
		module("a", fromImport("b", "Widget", "")).
		module("b").
		class("b.Widget", "b").
		class("a.Local", "a").
		fn("a.build", "a", "", simple("Widget"), simple("Local"))
	Resolve(f.idx)

	if len(f.idx.CallEdges) != 0 {
		t.Errorf("instantiation should not add call edges: %+v", f.idx.CallEdges)
	}
	for _, cid := range []string{"b.Widget", "a.Local"} {
		if got := f.idx.Classes[cid].Instantiators; !reflect.DeepEqual(got, []string{"a.build"}) {
			t.Errorf("%s instantiators = %v", cid, got)
		}
	}
}

func TestResolveExactBeatsHeuristic(t *testing.T) {
	t.Parallel()

	f := newFixture().
		module("m").
		module("x").
		class("x.m", "x").
		fn("m.f", "m", "").
		fn("x.m.f", "x", "x.m").
		fn("m.g", "m", "", nested("m.f"), nested("x.m.f"), attr("m", "f"))
	Resolve(f.idx)

	e, ok := edge(f.idx, "m.g", "x.m.f")
	if !ok || e.Confidence != model.Exact {
		t.Errorf("edge = %+v, %v", e, ok)
	}
	if len(f.idx.Functions["x.m.f"].Callers) != 1 {
		t.Errorf("callers should be deduplicated: %v", f.idx.Functions["x.m.f"].Callers)
	}
}

func TestDependencies(t *testing.T) {
	t.Parallel()

	f := newFixture().
		module("app",
			plainImport("pkg", ""),
			fromImport("pkg", "models", ""),
			fromImport("pkg.models", "User", ""),
			plainImport("os", ""),
			plainImport("app", ""),
		).
		module("pkg.__init__").
		module("pkg.models")
	f.idx.Modules["README"] = &model.Module{ID: "README", Opaque: true}
	f.idx.Modules["app"].Imports = append(f.idx.Modules["app"].Imports, plainImport("README", ""))
	Resolve(f.idx)

	want := []model.DepEdge{
		{From: "app", To: "pkg.__init__"},
		{From: "app", To: "pkg.models"},
	}
	if !reflect.DeepEqual(f.idx.DepEdges, want) {
		t.Errorf("deps = %+v, want %+v", f.idx.DepEdges, want)
	}
}

func TestResolveIdempotentAndSound(t *testing.T) {
	t.Parallel()

	f := newFixture().
		module("a", fromImport("b", "g", "")).
		module("b").
		fn("a.f", "a", "", simple("g"), simple("f")).
		fn("b.g", "b", "")
	Resolve(f.idx)
	first := append([]model.CallEdge(nil), f.idx.CallEdges...)
	firstDeps := append([]model.DepEdge(nil), f.idx.DepEdges...)
	Resolve(f.idx)

	if !reflect.DeepEqual(first, f.idx.CallEdges) || !reflect.DeepEqual(firstDeps, f.idx.DepEdges) {
		t.Error("second Resolve changed the graphs")
	}
	if got := f.idx.Functions["b.g"].Callers; len(got) != 1 {
		t.Errorf("callers accumulated across runs: %v", got)
	}
	for _, e := range f.idx.CallEdges {
		if !f.idx.Has(model.KindFunction, e.Caller) || !f.idx.Has(model.KindFunction, e.Callee) {
			t.Errorf("dangling call edge %+v", e)
		}
	}
	for _, e := range f.idx.DepEdges {
		if !f.idx.Has(model.KindModule, e.From) || !f.idx.Has(model.KindModule, e.To) {
			t.Errorf("dangling dep edge %+v", e)
		}
	}
}

func TestPageRankSumsToOne(t *testing.T) {
	t.Parallel()

	out := [][]int{{1}, {2}, {0}, {}}
	ranks := pageRank(out, 0.85, 100, 1e-6, []float64{1, 1, 1, 1})
	var sum float64
	for _, r := range ranks {
		sum += r
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("sum = %f, want 1.0", sum)
	}
}

func TestPersonalizedPageRankFavorsTarget(t *testing.T) {
	t.Parallel()

	g := New([]string{"a", "b", "c"})
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "a")

	// A symmetric cycle: plain rank is uniform, so the bias is visible.
	got := g.PersonalizedPageRank("a", 0.85)
	if got <= 1.0/3 {
		t.Errorf("personalized rank of a = %f, want > 1/3", got)
	}
	if g.PersonalizedPageRank("missing", 0.85) != 0 {
		t.Error("unknown node should rank 0")
	}
}

func TestBetweennessPath(t *testing.T) {
	t.Parallel()

	g := New([]string{"a", "b", "c"})
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	bc := g.Betweenness(20)

	if math.Abs(bc["b"]-0.5) > 1e-9 {
		t.Errorf("betweenness(b) = %f, want 0.5", bc["b"])
	}
	if bc["a"] != 0 || bc["c"] != 0 {
		t.Errorf("endpoints should be 0: %v", bc)
	}
	if len(New(nil).Betweenness(20)) != 0 {
		t.Error("empty graph should produce no scores")
	}
}

func TestDegreesIgnoreSelfLoops(t *testing.T) {
	t.Parallel()

	g := New([]string{"a", "b"})
	g.AddEdge("a", "a")
	g.AddEdge("a", "b")
	g.AddEdge("a", "b")
	g.AddEdge("a", "zzz")
	if g.OutDegree("a") != 1 || g.InDegree("b") != 1 || g.InDegree("a") != 0 {
		t.Errorf("degrees: out(a)=%d in(b)=%d in(a)=%d", g.OutDegree("a"), g.InDegree("b"), g.InDegree("a"))
	}
}

func TestImportCycles(t *testing.T) {
	t.Parallel()

	idx := model.NewIndex("/repo")
	for _, id := range []string{"a", "b", "c", "d"} {
		idx.Modules[id] = &model.Module{ID: id}
	}
	idx.DepEdges = []model.DepEdge{{From: "b", To: "a"}, {From: "a", To: "b"}, {From: "c", To: "d"}}

	cycles := ImportCycles(idx)
	if !reflect.DeepEqual(cycles, [][]string{{"a", "b"}}) {
		t.Errorf("cycles = %v", cycles)
	}
}

func TestClassGraphPageRank(t *testing.T) {
	t.Parallel()

	f := newFixture().
		module("m").
		class("m.A", "m").
		class("m.B", "m").
		class("m.C", "m").
		fn("m.A.x", "m", "m.A", attr("self", "y")).
		fn("m.A.y", "m", "m.A").
		fn("m.B.x", "m", "m.B").
		fn("m.C.x", "m", "m.C")
	f.idx.CallEdges = []model.CallEdge{
		{Caller: "m.A.x", Callee: "m.B.x"},
		{Caller: "m.C.x", Callee: "m.B.x"},
		{Caller: "m.A.x", Callee: "m.A.y"},
	}
	g := ClassGraph(f.idx)
	if g.OutDegree("m.A") != 1 || g.InDegree("m.B") != 2 {
		t.Fatalf("class graph degrees wrong: out(A)=%d in(B)=%d", g.OutDegree("m.A"), g.InDegree("m.B"))
	}
	pr := g.PageRank(0.85)
	if pr["m.B"] <= pr["m.A"] || pr["m.B"] <= pr["m.C"] {
		t.Errorf("B should rank highest: %v", pr)
	}
}
