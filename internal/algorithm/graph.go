package algorithm

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"golang.org/x/exp/slices"

	"github.com/dreamware/graphscale/internal/edgefile"
	"github.com/dreamware/graphscale/internal/partition"
)

var (
	// ErrDeadEnd means a walker stands on a local vertex without edges.
	ErrDeadEnd = errors.New("vertex has no outgoing edges")
)

// ForeignVertexError signals that a walker stands on a vertex owned by
// another worker and must be handed off.
type ForeignVertexError struct {
	Vertex int64
}

func (e *ForeignVertexError) Error() string {
	return fmt.Sprintf("foreign vertex %d reached", e.Vertex)
}

// Graph is the in-memory adjacency of one partition. Only edges whose source
// lies in the owned range are kept; targets may be foreign.
type Graph struct {
	owned   partition.Metadata
	adj     map[int64][]int64
	sources []int64
	edges   []edgefile.Edge
	index   map[edgefile.Edge]struct{}
}

// NewGraph loads partition lines for the worker described by owned.
func NewGraph(lines []string, owned partition.Metadata) (*Graph, error) {
	g := &Graph{
		owned: owned,
		adj:   make(map[int64][]int64),
		index: make(map[edgefile.Edge]struct{}, len(lines)),
	}
	for _, l := range lines {
		e, err := edgefile.ParseEdge(l)
		if err != nil {
			return nil, err
		}
		if !owned.HasVertex(e.Source) {
			continue
		}
		if _, dup := g.index[e]; dup {
			continue
		}
		g.index[e] = struct{}{}
		if _, ok := g.adj[e.Source]; !ok {
			g.sources = append(g.sources, e.Source)
		}
		g.adj[e.Source] = append(g.adj[e.Source], e.Target)
		g.edges = append(g.edges, e)
	}
	slices.Sort(g.sources)
	return g, nil
}

// Local reports whether v is owned by this partition.
func (g *Graph) Local(v int64) bool {
	return g.owned.HasVertex(v)
}

// EdgeCount is the number of local edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// VertexCount is the number of local vertices with outgoing edges.
func (g *Graph) VertexCount() int {
	return len(g.sources)
}

// Edge returns the i-th local edge in load order.
func (g *Graph) Edge(i int) edgefile.Edge {
	return g.edges[i]
}

// Has reports whether the directed edge exists locally.
func (g *Graph) Has(e edgefile.Edge) bool {
	_, ok := g.index[e]
	return ok
}

// Neighbors returns the targets of v's outgoing edges.
func (g *Graph) Neighbors(v int64) []int64 {
	return g.adj[v]
}

// RandomVertex picks a local vertex uniformly.
func (g *Graph) RandomVertex(rng *rand.Rand) (int64, bool) {
	if len(g.sources) == 0 {
		return 0, false
	}
	return g.sources[rng.IntN(len(g.sources))], true
}

// SampleEdge picks a local edge uniformly.
func (g *Graph) SampleEdge(rng *rand.Rand) (edgefile.Edge, bool) {
	if len(g.edges) == 0 {
		return edgefile.Edge{}, false
	}
	return g.edges[rng.IntN(len(g.edges))], true
}

// GrowEdge proposes an edge that is not in the partition: its source is drawn
// proportionally to out-degree and its target proportionally to in-degree
// among local edges. Returns false when the proposal is a self-loop or
// already exists.
func (g *Graph) GrowEdge(rng *rand.Rand) (edgefile.Edge, bool) {
	a, ok := g.SampleEdge(rng)
	if !ok {
		return edgefile.Edge{}, false
	}
	b, _ := g.SampleEdge(rng)
	e := edgefile.Edge{Source: a.Source, Target: b.Target}
	if e.Source == e.Target || g.Has(e) {
		return edgefile.Edge{}, false
	}
	return e, true
}

// Walker is a random walk work unit positioned on a vertex.
type Walker struct {
	Vertex int64
}

// Step moves w along a random outgoing edge and returns the edge taken.
// A walker standing on a foreign vertex gets a *ForeignVertexError and does
// not move; one on a vertex without edges gets ErrDeadEnd.
func (g *Graph) Step(w *Walker, rng *rand.Rand) (edgefile.Edge, error) {
	if !g.Local(w.Vertex) {
		return edgefile.Edge{}, &ForeignVertexError{Vertex: w.Vertex}
	}
	next := g.adj[w.Vertex]
	if len(next) == 0 {
		return edgefile.Edge{}, ErrDeadEnd
	}
	e := edgefile.Edge{Source: w.Vertex, Target: next[rng.IntN(len(next))]}
	w.Vertex = e.Target
	return e, nil
}

// RestartProbability is the chance a walker jumps back to a random local
// vertex instead of stepping. It keeps walks from stalling in a component
// that has been exhausted.
const RestartProbability = 0.15

// Restart moves w to a random local vertex. It reports false when the
// partition has no local edges.
func (g *Graph) Restart(w *Walker, rng *rand.Rand) bool {
	v, ok := g.RandomVertex(rng)
	if !ok {
		return false
	}
	w.Vertex = v
	return true
}
