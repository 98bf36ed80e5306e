// Package cluster resolves scored pairwise links into entity clusters via
// connected components over the above-threshold edges.
package cluster

import (
	"github.com/wilko77/splink/pkg/types"
)

// Forest is a union-find structure over string record ids, with path
// compression and union by rank. A Forest has a single writer until its
// ids are finalized; Merge folds partition-local forests together before
// that point.
type Forest struct {
	parent map[string]string
	rank   map[string]int
}

// NewForest creates an empty forest.
func NewForest() *Forest {
	return &Forest{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

// Add ensures an id exists as its own singleton set.
func (f *Forest) Add(id string) {
	if _, ok := f.parent[id]; !ok {
		f.parent[id] = id
		f.rank[id] = 0
	}
}

// Find returns the root of the set containing id, compressing the path.
// Unknown ids are added as singletons.
func (f *Forest) Find(id string) string {
	f.Add(id)
	root := id
	for f.parent[root] != root {
		root = f.parent[root]
	}
	for f.parent[id] != root {
		f.parent[id], id = root, f.parent[id]
	}
	return root
}

// Union joins the sets containing a and b.
func (f *Forest) Union(a, b string) {
	ra, rb := f.Find(a), f.Find(b)
	if ra == rb {
		return
	}
	if f.rank[ra] < f.rank[rb] {
		ra, rb = rb, ra
	}
	f.parent[rb] = ra
	if f.rank[ra] == f.rank[rb] {
		f.rank[ra]++
	}
}

// Merge folds another forest's sets into this one. Intended for
// partition-parallel builds: each partition unions its own edges, then the
// owner merges partition forests sequentially before reading any ids.
func (f *Forest) Merge(other *Forest) {
	for id := range other.parent {
		root := other.Find(id)
		if id != root {
			f.Union(id, root)
		} else {
			f.Add(id)
		}
	}
}

// Assignments labels every member with its cluster id: the
// lexicographically smallest id in its set. Smallest-member labeling makes
// cluster ids stable across runs and insertion orders.
func (f *Forest) Assignments() map[string]string {
	smallest := make(map[string]string)
	for id := range f.parent {
		root := f.Find(id)
		if cur, ok := smallest[root]; !ok || id < cur {
			smallest[root] = id
		}
	}
	out := make(map[string]string, len(f.parent))
	for id := range f.parent {
		out[id] = smallest[f.Find(id)]
	}
	return out
}

// Size returns the number of ids in the forest.
func (f *Forest) Size() int { return len(f.parent) }

// Cluster resolves scored pairs into entity clusters. Pairs scoring at or
// above threshold become edges; allIDs seeds singletons so records with no
// retained edge still receive a one-element cluster. The result maps every
// record id to its cluster id.
func Cluster(pairs []types.ScoredPair, threshold float64, allIDs []string) (map[string]string, error) {
	if threshold < 0 || threshold > 1 {
		return nil, types.NewSpecificationError("cluster", "threshold must be in [0, 1], got %g", threshold)
	}

	f := NewForest()
	for _, id := range allIDs {
		f.Add(id)
	}
	for i := range pairs {
		if pairs[i].MatchProbability >= threshold {
			f.Union(pairs[i].LeftID, pairs[i].RightID)
		}
	}
	return f.Assignments(), nil
}
