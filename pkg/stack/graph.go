package stack

import (
	"thoreinstein.com/fel/pkg/git"
	"thoreinstein.com/fel/pkg/identity"
)

// NodeID addresses a node inside a Graph.
type NodeID int

// NoParent marks a node whose parent is the merge base with upstream.
const NoParent NodeID = -1

// Kind distinguishes commits that already represent a stack entry from
// commits that do not yet.
type Kind int

const (
	// KindNew is a commit with no identity yet.
	KindNew Kind = iota
	// KindTracked is a commit resolved to an existing entry.
	KindTracked
)

func (k Kind) String() string {
	if k == KindTracked {
		return "tracked"
	}
	return "new"
}

// Node is one commit in the stack graph.
type Node struct {
	ID     NodeID
	Commit *git.Commit
	Kind   Kind
	// Identity is set only for KindTracked nodes. It is a snapshot taken at
	// build time.
	Identity *identity.Identity
	Parent   NodeID
	Children []NodeID
	// Stack is the first stack, in build order, that contains the node.
	Stack string
	// Position is the node's 1-based distance from its stack's merge base.
	Position int
	// Stacks lists every stack whose walk included the node.
	Stacks []string
}

// IsRoot reports whether the node sits directly on the merge base.
func (n *Node) IsRoot() bool {
	return n.Parent == NoParent
}

// Tracked returns the node's identity when it is tracked.
func (n *Node) Tracked() (*identity.Identity, bool) {
	if n.Kind != KindTracked || n.Identity == nil {
		return nil, false
	}
	return n.Identity, true
}

// Graph is a DAG of stack nodes stored in an arena. Nodes are kept in
// topological order: every parent precedes its children.
type Graph struct {
	upstream string
	nodes    []*Node
	byHash   map[string]NodeID
	stacks   map[string][]NodeID
	names    []string
	bases    map[string]string
	tips     map[string]string
}

func newGraph(upstream string) *Graph {
	return &Graph{
		upstream: upstream,
		byHash:   make(map[string]NodeID),
		stacks:   make(map[string][]NodeID),
		bases:    make(map[string]string),
		tips:     make(map[string]string),
	}
}

func (g *Graph) add(n *Node) NodeID {
	n.ID = NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.byHash[n.Commit.Hash] = n.ID
	if n.Parent != NoParent {
		p := g.nodes[n.Parent]
		p.Children = append(p.Children, n.ID)
	}
	return n.ID
}

// Upstream returns the upstream branch the graph was built against.
func (g *Graph) Upstream() string {
	return g.upstream
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns every node in topological order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Parent returns n's parent node, or nil for a root.
func (g *Graph) Parent(n *Node) *Node {
	if n.Parent == NoParent {
		return nil
	}
	return g.nodes[n.Parent]
}

// Children returns n's children in creation order.
func (g *Graph) Children(n *Node) []*Node {
	out := make([]*Node, 0, len(n.Children))
	for _, id := range n.Children {
		out = append(out, g.nodes[id])
	}
	return out
}

// Descendants returns every node below n in topological order.
func (g *Graph) Descendants(n *Node) []*Node {
	below := map[NodeID]bool{n.ID: true}
	var out []*Node
	for _, m := range g.nodes[n.ID+1:] {
		if m.Parent != NoParent && below[m.Parent] {
			below[m.ID] = true
			out = append(out, m)
		}
	}
	return out
}

// Lookup returns the node for a commit hash.
func (g *Graph) Lookup(hash string) (*Node, bool) {
	id, ok := g.byHash[hash]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// StackNames returns the stacks in build order.
func (g *Graph) StackNames() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// Stack returns a stack's nodes from root to tip. Nodes shared with other
// stacks are included.
func (g *Graph) Stack(name string) []*Node {
	ids := g.stacks[name]
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id])
	}
	return out
}

// MergeBase returns the merge base a stack was walked down to.
func (g *Graph) MergeBase(name string) string {
	return g.bases[name]
}

// Tip returns the commit a stack's branch pointed at when the graph was built.
func (g *Graph) Tip(name string) string {
	return g.tips[name]
}
