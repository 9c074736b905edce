// Package proctree links frozen process records into rooted trees by
// parent-PID reference. Nodes live in one arena and link by index, which
// keeps ownership singular while still letting relationship evaluation walk
// upward through a stable parent back-reference.
package proctree

import (
	"sort"

	"github.com/APrinceGPT/procbench/internal/model"
)

// NoParent marks a root node's parent index.
const NoParent = -1

// Node wraps one ProcessRecord in the arena. Children are ordered; Parent
// is a back-reference index, not an ownership edge.
type Node struct {
	Record   *model.ProcessRecord `json:"record"`
	Parent   int                  `json:"-"`
	Children []int                `json:"children,omitempty"`
	Depth    int                  `json:"depth"`
}

// Tree is the arena of all nodes plus its root set. Acyclic by
// construction: parent resolution only considers records finalized before
// the child, and a self-PID parent is always rejected.
type Tree struct {
	Nodes []Node `json:"nodes"`
	Roots []int  `json:"roots"`
}

// Build links records (in first-seen order) into rooted trees. A record
// whose parent PID does not resolve becomes a root.
func Build(records []*model.ProcessRecord) *Tree {
	t := &Tree{Nodes: make([]Node, len(records))}

	// Latest finalized arena index per PID, maintained in stream order so a
	// reused PID resolves to the version alive when the child appeared.
	latest := make(map[uint32]int, len(records))

	for i, rec := range records {
		t.Nodes[i] = Node{Record: rec, Parent: NoParent}

		if rec.HasParent && rec.ParentPID != rec.PID {
			if pi, ok := latest[rec.ParentPID]; ok {
				t.Nodes[i].Parent = pi
				t.Nodes[pi].Children = append(t.Nodes[pi].Children, i)
			}
		}
		if t.Nodes[i].Parent == NoParent {
			t.Roots = append(t.Roots, i)
		}
		latest[rec.PID] = i
	}

	t.assignDepths()
	return t
}

func (t *Tree) assignDepths() {
	var walk func(idx, depth int)
	walk = func(idx, depth int) {
		t.Nodes[idx].Depth = depth
		for _, c := range t.Nodes[idx].Children {
			walk(c, depth+1)
		}
	}
	for _, r := range t.Roots {
		walk(r, 0)
	}
}

// Len reports the number of nodes.
func (t *Tree) Len() int { return len(t.Nodes) }

// Node returns the node at arena index i.
func (t *Tree) Node(i int) *Node { return &t.Nodes[i] }

// ParentOf returns the parent node of index i, or nil for roots.
func (t *Tree) ParentOf(i int) *Node {
	p := t.Nodes[i].Parent
	if p == NoParent {
		return nil
	}
	return &t.Nodes[p]
}

// OrderByScore sorts the root set and every child list by descending score,
// ties broken by PID, so riskiest subtrees list first.
func (t *Tree) OrderByScore(score func(*model.ProcessRecord) int) {
	less := func(a, b int) bool {
		sa, sb := score(t.Nodes[a].Record), score(t.Nodes[b].Record)
		if sa != sb {
			return sa > sb
		}
		return t.Nodes[a].Record.PID < t.Nodes[b].Record.PID
	}
	sort.SliceStable(t.Roots, func(i, j int) bool { return less(t.Roots[i], t.Roots[j]) })
	for i := range t.Nodes {
		c := t.Nodes[i].Children
		sort.SliceStable(c, func(a, b int) bool { return less(c[a], c[b]) })
	}
}
