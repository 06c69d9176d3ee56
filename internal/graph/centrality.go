package graph

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/network"
	gsimple "gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/phobologic/repoindex/internal/model"
)

// Graph is a directed graph over string ids. Node numbering follows the
// sorted id order, so every traversal is deterministic.
type Graph struct {
	g     *gsimple.DirectedGraph
	ids   []string
	index map[string]int64
	adj   [][]int // out-neighbours by node index, sorted; built lazily
}

// New returns a graph with the given nodes and no edges.
func New(nodes []string) *Graph {
	ids := append([]string(nil), nodes...)
	sort.Strings(ids)
	g := &Graph{
		g:     gsimple.NewDirectedGraph(),
		index: make(map[string]int64, len(ids)),
	}
	for _, id := range ids {
		if _, dup := g.index[id]; dup {
			continue
		}
		n := int64(len(g.ids))
		g.index[id] = n
		g.ids = append(g.ids, id)
		g.g.AddNode(gsimple.Node(n))
	}
	return g
}

// AddEdge adds from -> to. Unknown ids and self loops are ignored.
func (g *Graph) AddEdge(from, to string) {
	f, ok1 := g.index[from]
	t, ok2 := g.index[to]
	if !ok1 || !ok2 || f == t {
		return
	}
	g.g.SetEdge(gsimple.Edge{F: gsimple.Node(f), T: gsimple.Node(t)})
	g.adj = nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.ids) }

// Nodes returns the node ids in sorted order.
func (g *Graph) Nodes() []string { return g.ids }

// InDegree returns the number of distinct nodes with an edge to id.
func (g *Graph) InDegree(id string) int {
	n, ok := g.index[id]
	if !ok {
		return 0
	}
	return g.g.To(n).Len()
}

// OutDegree returns the number of distinct nodes id has an edge to.
func (g *Graph) OutDegree(id string) int {
	n, ok := g.index[id]
	if !ok {
		return 0
	}
	return g.g.From(n).Len()
}

// ModuleGraph builds the dependency graph over the structured modules of
// idx. Opaque modules are not nodes.
func ModuleGraph(idx *model.Index) *Graph {
	var nodes []string
	for id, m := range idx.Modules {
		if !m.Opaque {
			nodes = append(nodes, id)
		}
	}
	g := New(nodes)
	for _, e := range idx.DepEdges {
		g.AddEdge(e.From, e.To)
	}
	return g
}

func (g *Graph) adjacency() [][]int {
	if g.adj != nil {
		return g.adj
	}
	adj := make([][]int, len(g.ids))
	for i := range g.ids {
		it := g.g.From(int64(i))
		for it.Next() {
			adj[i] = append(adj[i], int(it.Node().ID()))
		}
		sort.Ints(adj[i])
	}
	g.adj = adj
	return adj
}

// PersonalizedPageRank returns the PageRank of id when the teleport
// distribution weighs id twice as much as every other node.
func (g *Graph) PersonalizedPageRank(id string, alpha float64) float64 {
	n, ok := g.index[id]
	if !ok {
		return 0
	}
	p := make([]float64, len(g.ids))
	for i := range p {
		p[i] = 1
	}
	p[n] = 2
	return pageRank(g.adjacency(), alpha, 100, 1e-6, p)[n]
}

// pageRank runs power iteration. personalization is the teleport
// distribution and also receives the mass of dangling nodes; it is
// normalized here. Convergence is an L1 change below n*tol.
func pageRank(out [][]int, alpha float64, maxIter int, tol float64, personalization []float64) []float64 {
	n := len(out)
	if n == 0 {
		return nil
	}

	p := make([]float64, n)
	var total float64
	for _, v := range personalization {
		total += v
	}
	for i := range p {
		if total > 0 {
			p[i] = personalization[i] / total
		} else {
			p[i] = 1 / float64(n)
		}
	}

	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1 / float64(n)
	}

	for iter := 0; iter < maxIter; iter++ {
		next := make([]float64, n)

		var danglingSum float64
		for i, targets := range out {
			if len(targets) == 0 {
				danglingSum += rank[i]
				continue
			}
			contrib := alpha * rank[i] / float64(len(targets))
			for _, t := range targets {
				next[t] += contrib
			}
		}
		for i := range next {
			next[i] += alpha*danglingSum*p[i] + (1-alpha)*p[i]
		}

		var diff float64
		for i := range next {
			diff += math.Abs(next[i] - rank[i])
		}
		rank = next
		if diff < float64(n)*tol {
			break
		}
	}
	return rank
}

// Betweenness approximates normalized betweenness centrality with Brandes'
// algorithm from k pivots spaced evenly through the sorted node list. The
// result is scaled by n/k to estimate the full sum.
func (g *Graph) Betweenness(k int) map[string]float64 {
	n := len(g.ids)
	out := make(map[string]float64, n)
	if n == 0 {
		return out
	}
	if k <= 0 || k > n {
		k = n
	}

	adj := g.adjacency()
	bc := make([]float64, n)
	for i := 0; i < k; i++ {
		brandes(adj, i*n/k, bc)
	}

	scale := 0.0
	if n > 2 {
		scale = 1 / float64((n-1)*(n-2)) * float64(n) / float64(k)
	}
	for i, id := range g.ids {
		out[id] = bc[i] * scale
	}
	return out
}

// brandes accumulates the dependencies of source s into bc.
func brandes(adj [][]int, s int, bc []float64) {
	n := len(adj)
	sigma := make([]float64, n)
	dist := make([]int, n)
	preds := make([][]int, n)
	for i := range dist {
		dist[i] = -1
	}
	sigma[s] = 1
	dist[s] = 0

	var order []int
	queue := []int{s}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		order = append(order, v)
		for _, w := range adj[v] {
			if dist[w] < 0 {
				dist[w] = dist[v] + 1
				queue = append(queue, w)
			}
			if dist[w] == dist[v]+1 {
				sigma[w] += sigma[v]
				preds[w] = append(preds[w], v)
			}
		}
	}

	delta := make([]float64, n)
	for i := len(order) - 1; i >= 0; i-- {
		w := order[i]
		for _, v := range preds[w] {
			delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
		}
		if w != s {
			bc[w] += delta[w]
		}
	}
}

// ImportCycles returns the strongly connected components of the module
// dependency graph that contain more than one module. Each component is
// sorted, and components are ordered by their first id.
func ImportCycles(idx *model.Index) [][]string {
	g := ModuleGraph(idx)
	var cycles [][]string
	for _, comp := range topo.TarjanSCC(g.g) {
		if len(comp) < 2 {
			continue
		}
		ids := make([]string, len(comp))
		for i, node := range comp {
			ids[i] = g.ids[node.ID()]
		}
		sort.Strings(ids)
		cycles = append(cycles, ids)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

// ClassGraph links class A to class B when a method of A has a resolved
// call to a method of B.
func ClassGraph(idx *model.Index) *Graph {
	g := New(idx.SortedClassIDs())
	for _, e := range idx.CallEdges {
		caller, ok1 := idx.Functions[e.Caller]
		callee, ok2 := idx.Functions[e.Callee]
		if !ok1 || !ok2 || caller.Class == "" || callee.Class == "" {
			continue
		}
		g.AddEdge(caller.Class, callee.Class)
	}
	return g
}

// PageRank computes plain PageRank over the graph with the given damping
// factor.
func (g *Graph) PageRank(damping float64) map[string]float64 {
	out := make(map[string]float64, len(g.ids))
	if len(g.ids) == 0 {
		return out
	}
	ranks := network.PageRankSparse(g.g, damping, 1e-6)
	for i, id := range g.ids {
		out[id] = ranks[int64(i)]
	}
	return out
}
