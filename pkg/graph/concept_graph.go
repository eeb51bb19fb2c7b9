package graph

import (
	"cmp"
	"errors"
	"maps"
	"slices"

	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/concept"
)

// ErrFrozen is returned when inserting into a graph after Build returned it.
var ErrFrozen = errors.New("concept graph is frozen")

// ConceptIndex maps a concept to the ids of the fragments carrying it.
type ConceptIndex map[string]map[string]struct{}

// ConceptGraph is an undirected graph over fragments. Two fragments are
// adjacent when their concept sets intersect; the edge weight is the size
// of the intersection. Nodes and edges are only ever added.
//
// A ConceptGraph is not safe for concurrent mutation. Once frozen it is
// read-only and may be shared freely.
type ConceptGraph struct {
	nodes     map[string][]string
	order     []string
	index     ConceptIndex
	adj       map[string]map[string]int
	edgeCount int
	frozen    bool
}

// Ranked is a graph lookup hit.
type Ranked struct {
	FragmentID string
	Shared     int
}

// Neighbor is an adjacent fragment and the edge weight.
type Neighbor struct {
	FragmentID string
	Weight     int
}

func NewConceptGraph() *ConceptGraph {
	return &ConceptGraph{
		nodes: make(map[string][]string),
		index: make(ConceptIndex),
		adj:   make(map[string]map[string]int),
	}
}

// Insert adds f as a node and links it to every existing node sharing a
// concept. It reports false without error when f has no concepts or its id
// is already present.
func (g *ConceptGraph) Insert(f common.Fragment) (bool, error) {
	if g.frozen {
		return false, ErrFrozen
	}
	concepts := concept.Normalize(f.Concepts)
	if len(concepts) == 0 {
		return false, nil
	}
	if _, ok := g.nodes[f.ID]; ok {
		return false, nil
	}

	shared := make(map[string]int)
	for _, c := range concepts {
		for id := range g.index[c] {
			shared[id]++
		}
	}

	g.nodes[f.ID] = concepts
	g.order = append(g.order, f.ID)
	g.adj[f.ID] = make(map[string]int, len(shared))
	for id, w := range shared {
		g.adj[f.ID][id] = w
		g.adj[id][f.ID] = w
	}
	g.edgeCount += len(shared)

	for _, c := range concepts {
		ids, ok := g.index[c]
		if !ok {
			ids = make(map[string]struct{})
			g.index[c] = ids
		}
		ids[f.ID] = struct{}{}
	}
	return true, nil
}

// Freeze makes the graph read-only.
func (g *ConceptGraph) Freeze() { g.frozen = true }

func (g *ConceptGraph) Frozen() bool { return g.frozen }

func (g *ConceptGraph) NodeCount() int { return len(g.nodes) }

func (g *ConceptGraph) EdgeCount() int { return g.edgeCount }

func (g *ConceptGraph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Nodes returns fragment ids in insertion order.
func (g *ConceptGraph) Nodes() []string {
	return slices.Clone(g.order)
}

// Concepts returns the concept set of a node.
func (g *ConceptGraph) Concepts(id string) ([]string, bool) {
	c, ok := g.nodes[id]
	return slices.Clone(c), ok
}

// Edge returns the weight of the edge between a and b.
func (g *ConceptGraph) Edge(a, b string) (int, bool) {
	w, ok := g.adj[a][b]
	return w, ok
}

// Neighbors returns the nodes adjacent to id, heaviest edge first, ties by
// id ascending.
func (g *ConceptGraph) Neighbors(id string) []Neighbor {
	out := make([]Neighbor, 0, len(g.adj[id]))
	for n, w := range g.adj[id] {
		out = append(out, Neighbor{FragmentID: n, Weight: w})
	}
	slices.SortFunc(out, func(a, b Neighbor) int {
		return cmp.Or(cmp.Compare(b.Weight, a.Weight), cmp.Compare(a.FragmentID, b.FragmentID))
	})
	return out
}

// FragmentsFor returns the ids indexed under a concept, sorted.
func (g *ConceptGraph) FragmentsFor(c string) []string {
	norm := concept.Normalize([]string{c})
	if len(norm) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(g.index[norm[0]]))
}

// Index returns a copy of the concept index with sorted id lists.
func (g *ConceptGraph) Index() map[string][]string {
	out := make(map[string][]string, len(g.index))
	for c, ids := range g.index {
		out[c] = slices.Sorted(maps.Keys(ids))
	}
	return out
}

// Rank returns every fragment sharing at least one of concepts, ordered by
// the number of shared concepts descending, then id ascending.
func (g *ConceptGraph) Rank(concepts []string) []Ranked {
	shared := make(map[string]int)
	for _, c := range concept.Normalize(concepts) {
		for id := range g.index[c] {
			shared[id]++
		}
	}

	out := make([]Ranked, 0, len(shared))
	for id, n := range shared {
		out = append(out, Ranked{FragmentID: id, Shared: n})
	}
	slices.SortFunc(out, func(a, b Ranked) int {
		return cmp.Or(cmp.Compare(b.Shared, a.Shared), cmp.Compare(a.FragmentID, b.FragmentID))
	})
	return out
}

// FragmentsWithAny returns the sorted ids of fragments carrying any of
// concepts.
func (g *ConceptGraph) FragmentsWithAny(concepts []string) []string {
	ranked := g.Rank(concepts)
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.FragmentID
	}
	slices.Sort(ids)
	return ids
}
